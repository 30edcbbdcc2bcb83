package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Set them once where a unit of work begins (a task loop, a login check, an HTTP request)
// and every log statement below picks them up.
type LogFields struct {
	AccountID      *string // Seller account ID
	ConversationID *string // Buyer conversation ID
	LoginSessionID *string // QR login session ID
	OwnerID        *int64  // Owning user ID
	Component      string  // Component name, e.g. "autoreply.orchestrator.task"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.AccountID != nil {
		result.AccountID = new.AccountID
	}
	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.LoginSessionID != nil {
		result.LoginSessionID = new.LoginSessionID
	}
	if new.OwnerID != nil {
		result.OwnerID = new.OwnerID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{AccountID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Buyer messages can be long; use this before logging them.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
