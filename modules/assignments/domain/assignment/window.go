package assignment

import (
	"errors"
	"time"
)

var ErrInvalidDateRange = errors.New("expiry date precedes effective date")

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Window is the inclusive date range an assignment is valid for. A nil
// Expiry is open-ended.
type Window struct {
	Effective time.Time
	Expiry    *time.Time
}

func NewWindow(effective time.Time, expiry *time.Time) (Window, error) {
	w := Window{Effective: DateOf(effective)}
	if expiry != nil {
		exp := DateOf(*expiry)
		if exp.Before(w.Effective) {
			return Window{}, ErrInvalidDateRange
		}
		w.Expiry = &exp
	}
	return w, nil
}

// Overlaps is false only when one window ends strictly before the other starts.
func (w Window) Overlaps(o Window) bool {
	if w.Expiry != nil && w.Expiry.Before(o.Effective) {
		return false
	}
	if o.Expiry != nil && o.Expiry.Before(w.Effective) {
		return false
	}
	return true
}

func (w Window) Contains(day time.Time) bool {
	day = DateOf(day)
	if day.Before(w.Effective) {
		return false
	}
	return w.Expiry == nil || !w.Expiry.Before(day)
}

// EndedBefore reports whether the window fully elapsed before day.
func (w Window) EndedBefore(day time.Time) bool {
	return w.Expiry != nil && w.Expiry.Before(DateOf(day))
}
