package workflow

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"go.uber.org/zap"
)

func (r *run) complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	c, err := r.w.completer.Complete(ctx, req)
	if err != nil {
		r.w.metrics.IncrExternalError("llm")
		return nil, err
	}
	r.tokens.PromptTokens += c.TokensUsed.PromptTokens
	r.tokens.CompletionTokens += c.TokensUsed.CompletionTokens
	r.tokens.TotalTokens += c.TokensUsed.TotalTokens
	return c, nil
}

func (r *run) completeText(ctx context.Context, msgs []domain.Message) (string, error) {
	c, err := r.complete(ctx, domain.CompletionRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(c.Content), nil
}

// completeJSON asks for a JSON object and decodes it into out. A reply that
// is not a valid object leaves out at its zero value.
func (r *run) completeJSON(ctx context.Context, msgs []domain.Message, out any) error {
	c, err := r.complete(ctx, domain.CompletionRequest{Messages: msgs, JSON: true})
	if err != nil {
		return err
	}
	if !decodeObject(c.Content, out) {
		r.w.logger.Warn("completion returned malformed JSON", zap.Int("length", len(c.Content)))
	}
	return nil
}

// decodeObject decodes content into out only when the whole reply decodes
// cleanly, so a bad reply never leaves out half-filled.
func decodeObject(content string, out any) bool {
	cleaned := stripCodeFence(content)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		// Reset whatever a partial decode wrote.
		if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
			v.Elem().SetZero()
		}
		return false
	}
	return true
}

// stripCodeFence removes a surrounding ```json ... ``` fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
