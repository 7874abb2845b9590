package constants

import "github.com/go-playground/validator/v10"

type ContextKey string

const (
	TxKey        ContextKey = "tx"
	PoolKey      ContextKey = "pool"
	LoggerKey    ContextKey = "logger"
	RequestIDKey ContextKey = "request_id"
)

// Validate is shared by every DTO so struct metadata is cached once.
var Validate = validator.New(validator.WithRequiredStructEnabled())
