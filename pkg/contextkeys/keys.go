// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here to prevent
// typos and make key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions.
type Key string

const (
	// ActorKey contains the authenticated actor identity string.
	// Set by: middleware.Auth. Used by: handlers for mutation attribution.
	ActorKey Key = "actor_id"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: middleware.RequestLogging. Used by: logger, traces.
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger.
	// Set by: middleware.RequestLogging. Used by: handlers needing
	// request-scoped structured logging.
	LoggerKey Key = "logger"
)
