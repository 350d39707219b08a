package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/analysis"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/intent"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// router resolves the flags and the intent. Transaction questions short-circuit
// to the query engine; otherwise heuristics run first and the completion
// service is only asked when none of them match.
func (r *run) router(ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	text := intent.Normalize(s.UserInput)
	signals := intent.Signals{Text: text, LastAssistant: s.LastAssistantMessage()}

	wantsLetter := signals.WantsLetter()
	legal := intent.IsLegalHelp(text)
	wantsRetrieval := legal || wantsLetter

	update := domain.StateUpdate{WantsLetter: &wantsLetter, WantsRetrieval: &wantsRetrieval}

	if q := r.w.queries.Parse(s.UserInput, s.Transactions); q != nil && !wantsLetter && !legal {
		resolved := domain.IntentTransactionQuery
		update.Intent = &resolved
		update.TransactionQuery = q
		r.w.metrics.IncrIntent(resolved)
		return update, nil
	}

	resolved, ok := intent.Classify(r.w.rules, signals)
	if !ok {
		classified, err := r.classify(ctx, s)
		if err != nil {
			return domain.StateUpdate{}, err
		}
		resolved = guardIntent(classified, wantsLetter, legal, len(s.Transactions) > 0)
		r.w.logger.Debug("intent from classifier",
			zap.String("classified", string(classified)),
			zap.String("resolved", string(resolved)),
		)
	}

	update.Intent = &resolved
	r.w.metrics.IncrIntent(resolved)
	return update, nil
}

// guardIntent never lets the classifier enable drafting or legal citation on
// its own.
func guardIntent(classified domain.Intent, wantsLetter, legal, hasTransactions bool) domain.Intent {
	switch classified {
	case domain.IntentDraftLetter:
		if !wantsLetter {
			return domain.IntentGeneralQuestion
		}
	case domain.IntentRetrieveLaws:
		if !legal && !wantsLetter {
			if hasTransactions {
				return domain.IntentAnalyzeTransactions
			}
			return domain.IntentGeneralQuestion
		}
	}
	return classified
}

func (r *run) classify(ctx context.Context, s domain.ConversationState) (domain.Intent, error) {
	msgs := append([]domain.Message{{Role: domain.RoleSystem, Content: routerPrompt}}, recentConversation(s, routerHistory)...)

	var out struct {
		Intent string `json:"intent"`
	}
	if err := r.completeJSON(ctx, msgs, &out); err != nil {
		return "", err
	}
	return domain.ParseIntent(strings.TrimSpace(out.Intent)), nil
}

// routerHistory bounds how much of the conversation the classifier sees.
const routerHistory = 6

// recentConversation returns the last n messages and guarantees the current
// user input is the final turn.
func recentConversation(s domain.ConversationState, n int) []domain.Message {
	msgs := s.Messages
	last := len(msgs) - 1
	if last < 0 || msgs[last].Role != domain.RoleUser || msgs[last].Content != s.UserInput {
		msgs = append(append([]domain.Message(nil), msgs...), domain.Message{Role: domain.RoleUser, Content: s.UserInput})
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

func (r *run) transactionQuery(_ context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	answer := analysis.ClarifyAnswer
	if s.TransactionQuery != nil {
		answer = r.w.queries.Answer(s.TransactionQuery, s.Transactions)
	}
	return domain.StateUpdate{FinalResponse: &answer}, nil
}

func (r *run) assistant(ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	msgs := append([]domain.Message{{Role: domain.RoleSystem, Content: assistantPrompt}}, recentConversation(s, 0)...)
	reply, err := r.completeText(ctx, msgs)
	if err != nil {
		return domain.StateUpdate{}, err
	}
	return domain.StateUpdate{AssistantReply: &reply}, nil
}

func (r *run) finalizeAssistant(_ context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	reply := s.AssistantReply
	return domain.StateUpdate{FinalResponse: &reply}, nil
}

// analyze runs the rule engine and falls back to the completion service when
// it finds nothing. Evidence is only needed when the user asked for it.
func (r *run) analyze(ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	issues := r.w.analyzer.Analyze(s.Transactions)
	if len(issues) == 0 {
		var err error
		if issues, err = r.classifierIssues(ctx, s); err != nil {
			return domain.StateUpdate{}, err
		}
	}
	needsEvidence := s.WantsRetrieval || s.WantsLetter

	r.w.metrics.RecordIssues(issues)
	r.w.logger.Debug("analysis complete", zap.Int("issues", len(issues)), zap.Bool("needs_evidence", needsEvidence))
	return domain.StateUpdate{Analysis: &issues, NeedsEvidence: &needsEvidence}, nil
}

type classifierIssue struct {
	Merchant string          `json:"merchant"`
	Issue    string          `json:"issue"`
	Amount   json.RawMessage `json:"amount"`
	Reason   string          `json:"reason"`
}

func (r *run) classifierIssues(ctx context.Context, s domain.ConversationState) ([]domain.Issue, error) {
	txJSON, err := json.MarshalIndent(s.Transactions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: analysisPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf("USER REQUEST:\n%s\n\nTRANSACTIONS:\n%s", s.UserInput, txJSON)},
	}

	var out struct {
		Issues []classifierIssue `json:"issues"`
	}
	if err := r.completeJSON(ctx, msgs, &out); err != nil {
		return nil, err
	}

	issues := make([]domain.Issue, 0, len(out.Issues))
	for _, ci := range out.Issues {
		merchant := strings.TrimSpace(ci.Merchant)
		if merchant == "" {
			merchant = domain.UnknownMerchant
		}
		issues = append(issues, domain.Issue{
			Merchant:    merchant,
			Kind:        domain.ParseIssueKind(ci.Issue),
			Description: strings.TrimSpace(ci.Issue),
			Amount:      domain.ParseAmount(ci.Amount),
			Reason:      ci.Reason,
		})
	}
	return issues, nil
}

func (r *run) retrieve(ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	empty := ""
	if r.w.retriever == nil {
		return domain.StateUpdate{RetrievalContext: &empty}, nil
	}

	issueText := ""
	if len(s.Analysis) > 0 {
		first := s.Analysis[0]
		issueText = fmt.Sprintf("%s - %s", first.Merchant, first.Title())
	}
	query := strings.TrimSpace(s.UserInput + "\n" + issueText)
	if query == "" {
		return domain.StateUpdate{RetrievalContext: &empty}, nil
	}

	merchant := retrievalMerchant(s)
	r.w.logger.Debug("retrieving evidence", zap.String("merchant", merchant))

	found, err := r.w.retriever.Search(ctx, query, merchant)
	if err != nil {
		return domain.StateUpdate{}, err
	}
	return domain.StateUpdate{RetrievalContext: &found}, nil
}

type letterSubject struct {
	Merchant string           `json:"merchant"`
	Issue    string           `json:"issue"`
	Amount   *decimal.Decimal `json:"amount"`
	Reason   string           `json:"reason"`
	Evidence string           `json:"evidence"`
}

// draftLetter drafts from the first detected issue, or from a merchant/issue
// pair extracted from the user's text when analysis found nothing.
func (r *run) draftLetter(ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	var subject letterSubject
	if len(s.Analysis) > 0 {
		first := s.Analysis[0]
		amount := first.Amount
		subject = letterSubject{Merchant: first.Merchant, Issue: first.Title(), Amount: &amount, Reason: first.Reason}
	} else {
		var extracted struct {
			Merchant string `json:"merchant"`
			Issue    string `json:"issue"`
		}
		msgs := []domain.Message{
			{Role: domain.RoleSystem, Content: extractPrompt},
			{Role: domain.RoleUser, Content: s.UserInput},
		}
		if err := r.completeJSON(ctx, msgs, &extracted); err != nil {
			return domain.StateUpdate{}, err
		}
		subject = letterSubject{Merchant: extracted.Merchant, Issue: extracted.Issue}
	}
	subject.Evidence = s.RetrievalContext

	payload, err := json.MarshalIndent(subject, "", "  ")
	if err != nil {
		return domain.StateUpdate{}, fmt.Errorf("encode letter request: %w", err)
	}
	letter, err := r.completeText(ctx, []domain.Message{
		{Role: domain.RoleSystem, Content: letterPrompt},
		{Role: domain.RoleUser, Content: string(payload)},
	})
	if err != nil {
		return domain.StateUpdate{}, err
	}
	return domain.StateUpdate{Letter: &letter}, nil
}

type composePayload struct {
	Intent           domain.Intent  `json:"intent"`
	AssistantReply   string         `json:"assistant_response"`
	Analysis         []domain.Issue `json:"analysis"`
	RetrievalContext string         `json:"retrieval_context"`
	Letter           string         `json:"letter"`
	WantsLetter      bool           `json:"wants_letter"`
	NeedsEvidence    bool           `json:"needs_evidence"`
}

func (r *run) compose(ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
	issues := s.Analysis
	if issues == nil {
		issues = []domain.Issue{}
	}
	payload, err := json.MarshalIndent(composePayload{
		Intent:           s.Intent,
		AssistantReply:   s.AssistantReply,
		Analysis:         issues,
		RetrievalContext: s.RetrievalContext,
		Letter:           s.Letter,
		WantsLetter:      s.WantsLetter,
		NeedsEvidence:    s.NeedsEvidence,
	}, "", "  ")
	if err != nil {
		return domain.StateUpdate{}, fmt.Errorf("encode compose payload: %w", err)
	}

	final, err := r.completeText(ctx, []domain.Message{
		{Role: domain.RoleSystem, Content: composerPrompt},
		{Role: domain.RoleUser, Content: string(payload)},
	})
	if err != nil {
		return domain.StateUpdate{}, err
	}
	return domain.StateUpdate{FinalResponse: &final}, nil
}
