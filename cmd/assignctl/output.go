package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/iota-uz/iota-fleet/modules/assignments/services"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitRejected = 2
	exitSkipped  = 3
)

var errLockHeld = errors.New("another expire-due run holds the lock")

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode separates business rejections from infrastructure failures so
// schedulers can alert only on the latter.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errLockHeld):
		return exitSkipped
	}
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) && svcErr.Status < 500 {
		return exitRejected
	}
	return exitFailure
}
