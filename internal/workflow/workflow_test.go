package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/analysis"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/intent"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================
// Fakes
// ============================================================

// fakeCompleter answers by system prompt and records every request.
type fakeCompleter struct {
	mu       sync.Mutex
	replies  map[string]string
	err      error
	requests []domain.CompletionRequest
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{replies: map[string]string{
		routerPrompt:    `{"intent": "general_question"}`,
		assistantPrompt: "Happy to help.",
		analysisPrompt:  `{"issues": []}`,
		extractPrompt:   `{"merchant": "Netflix", "issue": "charged after cancelling"}`,
		letterPrompt:    "Dear Netflix,",
		composerPrompt:  "Here is what I found.",
	}}
}

func (f *fakeCompleter) Complete(_ context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	system := ""
	if len(req.Messages) > 0 && req.Messages[0].Role == domain.RoleSystem {
		system = req.Messages[0].Content
	}
	return &domain.Completion{
		Content:    f.replies[system],
		TokensUsed: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeCompleter) calls(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if len(r.Messages) > 0 && r.Messages[0].Content == prompt {
			n++
		}
	}
	return n
}

func (f *fakeCompleter) lastUserContent(prompt string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		msgs := f.requests[i].Messages
		if len(msgs) > 0 && msgs[0].Content == prompt {
			return msgs[len(msgs)-1].Content
		}
	}
	return ""
}

type fakeRetriever struct {
	result   string
	err      error
	query    string
	merchant string
	calls    int
}

func (f *fakeRetriever) Search(_ context.Context, query, merchant string) (string, error) {
	f.calls++
	f.query, f.merchant = query, merchant
	return f.result, f.err
}

// ============================================================
// Helpers
// ============================================================

func newTestWorkflow(c *fakeCompleter, r *fakeRetriever) *Workflow {
	var retriever port.Retriever
	if r != nil {
		retriever = r
	}
	return New(c, retriever, analysis.NewAnalyzer(), analysis.NewQueryEngine(nil, analysis.CurrencyConfig{}, nil),
		observability.NewMetrics(), zap.NewNop())
}

func tx(id, date, merchant, amount, notes string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		Date:         date,
		MerchantName: merchant,
		Amount:       decimal.RequireFromString(amount),
		Notes:        notes,
	}
}

func initialState(input string, txs []domain.Transaction, history ...domain.Message) domain.ConversationState {
	msgs := append(append([]domain.Message(nil), history...), domain.Message{Role: domain.RoleUser, Content: input})
	return domain.ConversationState{Messages: msgs, UserInput: input, Transactions: txs}
}

func duplicateNetflix() []domain.Transaction {
	return []domain.Transaction{
		tx("t1", "2024-03-01", "Netflix", "15.99", ""),
		tx("t2", "2024-03-01", "Netflix", "15.99", ""),
	}
}

// ============================================================
// Routing
// ============================================================

func TestRun_TransactionQueryNeedsNoCompletion(t *testing.T) {
	c := newFakeCompleter()
	w := newTestWorkflow(c, nil)

	txs := []domain.Transaction{
		tx("t1", "2024-03-01", "Whole Foods", "84.50", ""),
		tx("t2", "2024-03-05", "Equinox", "210.00", ""),
	}
	res, err := w.Run(context.Background(), initialState("What was my largest charge?", txs))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeTransactionQuery}, res.Path)
	assert.Equal(t, domain.IntentTransactionQuery, res.State.Intent)
	assert.Contains(t, res.State.FinalResponse, "Equinox")
	assert.Empty(t, c.requests)
	assert.Zero(t, res.Tokens.TotalTokens)
}

func TestRun_VagueTransactionQuestionAsksToClarify(t *testing.T) {
	c := newFakeCompleter()
	w := newTestWorkflow(c, nil)

	res, err := w.Run(context.Background(), initialState("analyze my transactions", duplicateNetflix()))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeTransactionQuery}, res.Path)
	require.NotNil(t, res.State.TransactionQuery)
	assert.Equal(t, domain.QueryClarify, res.State.TransactionQuery.Type)
	assert.Equal(t, analysis.ClarifyAnswer, res.State.FinalResponse)
	assert.Empty(t, c.requests)
}

func TestRun_LegalSignalBypassesTransactionQuery(t *testing.T) {
	c := newFakeCompleter()
	w := newTestWorkflow(c, nil)

	res, err := w.Run(context.Background(), initialState("is this fee on my transactions legal?", duplicateNetflix()))
	require.NoError(t, err)

	assert.NotEqual(t, domain.IntentTransactionQuery, res.State.Intent)
	assert.Nil(t, res.State.TransactionQuery)
}

func TestRun_GreetingGoesThroughAssistant(t *testing.T) {
	c := newFakeCompleter()
	w := newTestWorkflow(c, nil)

	res, err := w.Run(context.Background(), initialState("Hi!", nil))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeAssistant, NodeFinalizeAssistant}, res.Path)
	assert.Equal(t, domain.IntentGreeting, res.State.Intent)
	assert.Equal(t, "Happy to help.", res.State.FinalResponse)
	assert.Zero(t, c.calls(routerPrompt))
	assert.Equal(t, 15, res.Tokens.TotalTokens)
}

func TestRun_LetterContinuationSkipsClassifier(t *testing.T) {
	c := newFakeCompleter()
	r := &fakeRetriever{result: "---\nSOURCE: netflix_terms.pdf\n---\n"}
	w := newTestWorkflow(c, r)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "netflix charged me after I cancelled"},
		{Role: domain.RoleAssistant, Content: "That looks wrong. Want me to draft a dispute letter?"},
	}
	res, err := w.Run(context.Background(), initialState("yes please", nil, history...))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeRetrieve, NodeDraftLetter, NodeCompose}, res.Path)
	assert.Equal(t, domain.IntentDraftLetter, res.State.Intent)
	assert.True(t, res.State.WantsLetter)
	assert.Equal(t, "Dear Netflix,", res.State.Letter)
	assert.Equal(t, "Here is what I found.", res.State.FinalResponse)

	assert.Zero(t, c.calls(routerPrompt))
	assert.Equal(t, 1, c.calls(extractPrompt))
	assert.Contains(t, c.lastUserContent(letterPrompt), "netflix_terms.pdf")
	assert.Equal(t, 1, r.calls)
}

func TestRun_ExplicitLetterUsesDetectedIssue(t *testing.T) {
	c := newFakeCompleter()
	r := &fakeRetriever{result: "evidence"}
	w := newTestWorkflow(c, r)
	w.rules = []intent.Rule{{Name: "analysis", Intent: domain.IntentAnalyzeTransactions, Match: func(intent.Signals) bool { return true }}}

	res, err := w.Run(context.Background(), initialState("review these and draft a letter", duplicateNetflix()))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeAnalyze, NodeRetrieve, NodeDraftLetter, NodeCompose}, res.Path)
	assert.True(t, res.State.NeedsEvidence)
	assert.Equal(t, "netflix", r.merchant)
	assert.Contains(t, r.query, "Netflix - Possible duplicate charge")
	assert.Zero(t, c.calls(extractPrompt))
	assert.Contains(t, c.lastUserContent(letterPrompt), `"merchant": "Netflix"`)
}

func TestRun_AnalysisWithoutEvidenceComposesDirectly(t *testing.T) {
	c := newFakeCompleter()
	r := &fakeRetriever{}
	w := newTestWorkflow(c, r)

	res, err := w.Run(context.Background(), initialState("Please audit my account", duplicateNetflix()))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeAnalyze, NodeCompose}, res.Path)
	require.NotEmpty(t, res.State.Analysis)
	assert.Equal(t, domain.IssueDuplicateCharge, res.State.Analysis[0].Kind)
	assert.False(t, res.State.NeedsEvidence)
	assert.Zero(t, r.calls)
	assert.Zero(t, c.calls(analysisPrompt))

	payload := c.lastUserContent(composerPrompt)
	assert.Contains(t, payload, `"intent": "analyze_transactions"`)
	assert.Contains(t, payload, "duplicate_charge")
}

func TestRun_AnalysisWithRetrievalAndIssues(t *testing.T) {
	c := newFakeCompleter()
	r := &fakeRetriever{result: "context"}
	w := newTestWorkflow(c, r)
	// Legal phrasing that still routes to analysis.
	w.rules = []intent.Rule{{Name: "analysis", Intent: domain.IntentAnalyzeTransactions, Match: func(s intent.Signals) bool { return intent.IsAnalysisRequest(s.Text) }}}

	res, err := w.Run(context.Background(), initialState("audit my netflix charges, is it legal?", duplicateNetflix()))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeAnalyze, NodeRetrieve, NodeCompose}, res.Path)
	assert.True(t, res.State.WantsRetrieval)
	assert.True(t, res.State.NeedsEvidence)
	assert.Equal(t, "context", res.State.RetrievalContext)
}

func TestRun_AnalysisFallsBackToClassifier(t *testing.T) {
	c := newFakeCompleter()
	c.replies[analysisPrompt] = "```json\n{\"issues\": [{\"merchant\": \"Gym\", \"issue\": \"charged after cancel\", \"amount\": \"49.99\", \"reason\": \"cancelled last month\"}, {\"merchant\": \"\", \"issue\": \"duplicate_charge\", \"amount\": null}]}\n```"
	w := newTestWorkflow(c, nil)

	txs := []domain.Transaction{tx("t1", "2024-03-01", "Gym", "49.99", "")}
	res, err := w.Run(context.Background(), initialState("check my gym account", txs))
	require.NoError(t, err)

	require.Len(t, res.State.Analysis, 2)
	first := res.State.Analysis[0]
	assert.Equal(t, "Gym", first.Merchant)
	assert.Equal(t, domain.IssueOther, first.Kind)
	assert.Equal(t, "charged after cancel", first.Title())
	assert.True(t, decimal.RequireFromString("49.99").Equal(first.Amount))

	second := res.State.Analysis[1]
	assert.Equal(t, domain.UnknownMerchant, second.Merchant)
	assert.Equal(t, domain.IssueDuplicateCharge, second.Kind)
	assert.True(t, second.Amount.IsZero())
}

func TestRun_MalformedClassifierReplyRoutesToAssistant(t *testing.T) {
	c := newFakeCompleter()
	c.replies[routerPrompt] = "I think this is a general question"
	w := newTestWorkflow(c, nil)

	res, err := w.Run(context.Background(), initialState("what can you do for me?", nil))
	require.NoError(t, err)

	assert.Equal(t, domain.IntentOther, res.State.Intent)
	assert.Equal(t, []Node{NodeRouter, NodeAssistant, NodeFinalizeAssistant}, res.Path)
	assert.Equal(t, 1, c.calls(routerPrompt))
	assert.True(t, c.requests[0].JSON)
}

func TestRun_ClassifierCannotRequestLetter(t *testing.T) {
	c := newFakeCompleter()
	c.replies[routerPrompt] = `{"intent": "draft_letter"}`
	w := newTestWorkflow(c, nil)

	res, err := w.Run(context.Background(), initialState("what can you do for me?", nil))
	require.NoError(t, err)

	assert.Equal(t, domain.IntentGeneralQuestion, res.State.Intent)
	assert.Empty(t, res.State.Letter)
}

func TestRun_NilRetrieverYieldsEmptyContext(t *testing.T) {
	c := newFakeCompleter()
	w := newTestWorkflow(c, nil)

	res, err := w.Run(context.Background(), initialState("is this fee legal under ftc rules?", nil))
	require.NoError(t, err)

	assert.Equal(t, []Node{NodeRouter, NodeRetrieve, NodeCompose}, res.Path)
	assert.Empty(t, res.State.RetrievalContext)
	assert.NotEmpty(t, res.State.FinalResponse)
}

func TestRun_CompleterErrorAbortsRun(t *testing.T) {
	c := newFakeCompleter()
	c.err = &domain.ErrExternalService{Service: "llm", Err: errors.New("boom")}
	w := newTestWorkflow(c, nil)

	_, err := w.Run(context.Background(), initialState("hello", nil))
	require.Error(t, err)

	var extErr *domain.ErrExternalService
	assert.True(t, errors.As(err, &extErr))
	assert.Contains(t, err.Error(), "workflow assistant")
}

func TestRun_RetrieverErrorAbortsRun(t *testing.T) {
	c := newFakeCompleter()
	r := &fakeRetriever{err: &domain.ErrTimeout{Operation: "retrieval"}}
	w := newTestWorkflow(c, r)

	_, err := w.Run(context.Background(), initialState("what are my rights here?", nil))

	var timeout *domain.ErrTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Zero(t, c.calls(composerPrompt))
}

// ============================================================
// Guardrails and helpers
// ============================================================

func TestGuardIntent(t *testing.T) {
	tests := []struct {
		name            string
		classified      domain.Intent
		wantsLetter     bool
		legal           bool
		hasTransactions bool
		want            domain.Intent
	}{
		{"letter without request", domain.IntentDraftLetter, false, false, false, domain.IntentGeneralQuestion},
		{"letter with request", domain.IntentDraftLetter, true, false, false, domain.IntentDraftLetter},
		{"laws without legal ask and transactions", domain.IntentRetrieveLaws, false, false, true, domain.IntentAnalyzeTransactions},
		{"laws without legal ask", domain.IntentRetrieveLaws, false, false, false, domain.IntentGeneralQuestion},
		{"laws with legal ask", domain.IntentRetrieveLaws, false, true, false, domain.IntentRetrieveLaws},
		{"other passes through", domain.IntentOther, false, false, false, domain.IntentOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guardIntent(tt.classified, tt.wantsLetter, tt.legal, tt.hasTransactions))
		})
	}
}

func TestKnowledgeBaseKey(t *testing.T) {
	assert.Equal(t, "netflix", knowledgeBaseKey("NETFLIX.COM"))
	assert.Equal(t, "planet_fitness", knowledgeBaseKey("Planet Fitness #123"))
	assert.Empty(t, knowledgeBaseKey("Planet Hollywood"))
	assert.Equal(t, "amazon", knowledgeBaseKey("Amazon Prime"))
	assert.Empty(t, knowledgeBaseKey("Corner Deli"))
}

func TestRetrievalMerchant_FallsBackToUserText(t *testing.T) {
	s := initialState("spotify keeps billing me", nil)
	assert.Equal(t, "spotify", retrievalMerchant(s))

	s = initialState("my gym charged twice", []domain.Transaction{tx("t1", "2024-03-01", "Adobe Creative", "10", "")})
	assert.Empty(t, retrievalMerchant(s))
}

func TestDecodeObject(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	assert.True(t, decodeObject("```json\n{\"intent\": \"greeting\"}\n```", &out))
	assert.Equal(t, "greeting", out.Intent)

	out.Intent = ""
	assert.False(t, decodeObject(`["greeting"]`, &out))
	assert.False(t, decodeObject(`{"intent": 42}`, &out))
	assert.Empty(t, out.Intent)
}

func TestRecentConversation_EndsWithUserInput(t *testing.T) {
	s := domain.ConversationState{
		Messages:  []domain.Message{{Role: domain.RoleAssistant, Content: "hello"}},
		UserInput: "new question",
	}
	msgs := recentConversation(s, 6)
	require.Len(t, msgs, 2)
	assert.Equal(t, "new question", msgs[1].Content)
	assert.Len(t, s.Messages, 1)
}

// ============================================================
// Graph
// ============================================================

func TestValidate_RealGraph(t *testing.T) {
	require.NoError(t, Validate())
}

func cloneGraph() map[Node]nodeSpec {
	out := make(map[Node]nodeSpec, len(graph))
	for k, v := range graph {
		out[k] = v
	}
	return out
}

func TestValidate_RejectsBrokenGraphs(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		specs := cloneGraph()
		spec := specs[NodeCompose]
		spec.next = []Node{NodeRouter}
		specs[NodeCompose] = spec
		assert.ErrorContains(t, validate(specs, NodeRouter), "cycle")
	})
	t.Run("unknown target", func(t *testing.T) {
		specs := cloneGraph()
		spec := specs[NodeCompose]
		spec.next = []Node{"nowhere"}
		specs[NodeCompose] = spec
		assert.ErrorContains(t, validate(specs, NodeRouter), "unknown node")
	})
	t.Run("unreachable", func(t *testing.T) {
		specs := cloneGraph()
		spec := specs[NodeRouter]
		spec.next = []Node{NodeTransactionQuery, NodeAnalyze, NodeRetrieve}
		specs[NodeRouter] = spec
		assert.ErrorContains(t, validate(specs, NodeRouter), "unreachable")
	})
	t.Run("missing node", func(t *testing.T) {
		specs := cloneGraph()
		delete(specs, NodeDraftLetter)
		var wfErr *domain.ErrWorkflow
		require.ErrorAs(t, validate(specs, NodeRouter), &wfErr)
	})
}

func TestExecute_RevisitIsRejected(t *testing.T) {
	w := newTestWorkflow(newFakeCompleter(), nil)
	specs := cloneGraph()
	specs[NodeTransactionQuery] = nodeSpec{
		step:  (*run).transactionQuery,
		route: func(domain.ConversationState) Node { return NodeRouter },
		next:  []Node{NodeRouter},
	}

	_, err := w.execute(context.Background(), specs, initialState("how many charges?", nil))

	var wfErr *domain.ErrWorkflow
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, string(NodeRouter), wfErr.Node)
}

func TestExecute_UndeclaredTransitionIsRejected(t *testing.T) {
	w := newTestWorkflow(newFakeCompleter(), nil)
	specs := cloneGraph()
	spec := specs[NodeTransactionQuery]
	spec.route = func(domain.ConversationState) Node { return NodeCompose }
	specs[NodeTransactionQuery] = spec

	_, err := w.execute(context.Background(), specs, initialState("how many charges?", nil))
	assert.ErrorContains(t, err, "undeclared transition")
}

func TestExecute_SecondFinalResponseIsRejected(t *testing.T) {
	w := newTestWorkflow(newFakeCompleter(), nil)
	specs := cloneGraph()
	spec := specs[NodeTransactionQuery]
	spec.route = func(domain.ConversationState) Node { return NodeCompose }
	spec.next = []Node{NodeCompose}
	specs[NodeTransactionQuery] = spec

	_, err := w.execute(context.Background(), specs, initialState("how many charges?", nil))
	assert.ErrorContains(t, err, "final response already set")
}

func TestRun_ConcurrentRunsShareNothing(t *testing.T) {
	c := newFakeCompleter()
	w := newTestWorkflow(c, nil)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.Run(context.Background(), initialState("hi", nil))
			if err == nil {
				results[i] = res.State.FinalResponse
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.True(t, strings.HasPrefix(r, "Happy"))
	}
}
