package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
}

// NewGeminiClient creates a Gemini-backed completer.
func NewGeminiClient(ctx context.Context, apiKey, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &domain.ErrValidation{Field: "GEMINI_API_KEY", Message: "required when LLM_PROVIDER=gemini"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, cb: cb, cfg: cfg}, nil
}

// toGeminiContents splits system messages into a system instruction and maps
// the remaining turns onto user/model contents.
func toGeminiContents(msgs []domain.Message) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), contents
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// Complete generates a reply for the conversation.
func (c *GeminiClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	ctx, span := tracer.Start(ctx, "GeminiClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model), attribute.Bool("llm.json", req.JSON))

	system, contents := toGeminiContents(req.Messages)
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	result, err := c.cb.Execute(func() (any, error) {
		var resp *genai.GenerateContentResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var err error
			resp, err = c.client.Models.GenerateContent(ctx, c.model, contents, config)
			return err
		})
		if innerErr != nil {
			return nil, innerErr
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return nil, fmt.Errorf("gemini returned no candidates")
		}
		return resp, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, resilience.ServiceError("llm", err)
	}

	resp := result.(*genai.GenerateContentResponse)
	completion := &domain.Completion{Content: responseText(resp)}
	if u := resp.UsageMetadata; u != nil {
		completion.TokensUsed = domain.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return completion, nil
}
