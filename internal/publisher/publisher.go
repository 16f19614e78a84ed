// Package publisher defines the downstream notification contract.
package publisher

import "context"

// Publisher pushes a payload to a named topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}

// Nop discards every publish. Used when no topic is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any, map[string]string) (string, error) {
	return "", nil
}
