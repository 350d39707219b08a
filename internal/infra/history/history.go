// Package history implements the conversation history store on memory,
// Redis and MongoDB.
package history

import (
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("history")

// DefaultWindow is the number of messages kept per conversation.
const DefaultWindow = 20

// Sanitize drops messages without a role or content.
func Sanitize(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		role := strings.TrimSpace(m.Role)
		if role == "" || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, domain.Message{Role: role, Content: m.Content})
	}
	return out
}

// tail returns the last n messages, or all of them when n <= 0.
func tail(msgs []domain.Message, n int) []domain.Message {
	if n > 0 && len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

func window(n int) int {
	if n <= 0 {
		return DefaultWindow
	}
	return n
}
