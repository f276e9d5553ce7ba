package core

import (
	"context"

	"github.com/google/uuid"
)

// messageIDKey is the context key for the inbound message ID
type messageIDKey struct{}

// WithMessageID adds a message ID to the context
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, messageID)
}

// GetMessageID retrieves the message ID from context
func GetMessageID(ctx context.Context) string {
	if id, ok := ctx.Value(messageIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewMessageID generates a new message ID
func NewMessageID() string {
	return uuid.New().String()
}
