package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-fleet/pkg/constants"
)

// WithLogger returns a new context carrying logger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger from the context.
// If the logger is not found, the second return value will be false.
func UseLogger(ctx context.Context) (*logrus.Entry, bool) {
	if ctx == nil {
		return nil, false
	}
	switch typed := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		return typed, true
	case *logrus.Logger:
		return logrus.NewEntry(typed), true
	default:
		return nil, false
	}
}
