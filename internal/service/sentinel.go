package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/analysis"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/history"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/port"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/workflow"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/sentinel")

// Sentinel orchestrates a chat turn: it loads history and transactions,
// runs the workflow and persists the new turn.
type Sentinel struct {
	workflow     *workflow.Workflow
	analyzer     *analysis.Analyzer
	queries      *analysis.QueryEngine
	history      port.HistoryStore
	transactions port.TransactionsFetcher
	cache        port.Cache[[]domain.Transaction]
	metrics      *observability.Metrics
	logger       *zap.Logger

	historyLimit int
	debug        bool
}

// Options tunes a Sentinel.
type Options struct {
	// HistoryLimit is the number of prior messages fed to the workflow.
	HistoryLimit int
	// Debug attaches routing diagnostics to every chat response.
	Debug bool
}

// NewSentinel creates the service with all dependencies injected.
// transactions may be nil when no ingestion collaborator is configured.
func NewSentinel(
	wf *workflow.Workflow,
	analyzer *analysis.Analyzer,
	queries *analysis.QueryEngine,
	historyStore port.HistoryStore,
	transactions port.TransactionsFetcher,
	cache port.Cache[[]domain.Transaction],
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *Sentinel {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = history.DefaultWindow
	}
	return &Sentinel{
		workflow:     wf,
		analyzer:     analyzer,
		queries:      queries,
		history:      historyStore,
		transactions: transactions,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		historyLimit: opts.HistoryLimit,
		debug:        opts.Debug,
	}
}

// Chat runs one conversational turn.
func (s *Sentinel) Chat(ctx context.Context, req *domain.ChatRequest) (resp *domain.ChatResponse, err error) {
	// Bail out early if the caller already cancelled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := strings.TrimSpace(req.Text())
	if input == "" {
		return nil, &domain.ErrValidation{Field: "user_input", Message: "must not be empty"}
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "Sentinel.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("chat", time.Since(start))
		if err != nil {
			s.metrics.IncrRequest("error")
			span.RecordError(err)
			return
		}
		s.metrics.IncrRequest("success")
	}()

	// --- Step 1: Load history + transactions concurrently ---
	var (
		prior        []domain.Message
		transactions = req.Transactions
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if len(req.History) > 0 {
			prior = history.Sanitize(req.History)
			return nil
		}
		msgs, err := s.history.Load(gCtx, conversationID, s.historyLimit)
		if err != nil {
			s.logger.Error("failed to load history",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			return fmt.Errorf("history load: %w", err)
		}
		prior = msgs
		return nil
	})

	if len(transactions) == 0 && req.AccountID != "" {
		g.Go(func() error {
			t, err := s.accountTransactions(gCtx, req.AccountID)
			if err != nil {
				return err
			}
			transactions = t
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(prior) > s.historyLimit {
		prior = prior[len(prior)-s.historyLimit:]
	}

	// --- Step 2: Run the workflow ---
	userMsg := domain.Message{Role: domain.RoleUser, Content: input}
	state := domain.ConversationState{
		Messages:     append(append([]domain.Message(nil), prior...), userMsg),
		UserInput:    input,
		Transactions: transactions,
	}

	result, err := s.workflow.Run(ctx, state)
	if err != nil {
		s.logger.Error("workflow failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.RecordTokens(result.Tokens.PromptTokens, result.Tokens.CompletionTokens)

	final := result.State.FinalResponse
	s.logger.Info("chat turn complete",
		zap.String("conversation_id", conversationID),
		zap.String("intent", string(result.State.Intent)),
		zap.Int("issues", len(result.State.Analysis)),
		zap.Int("tokens", result.Tokens.TotalTokens),
	)

	// --- Step 3: Persist the turn ---
	if err := s.history.Append(ctx, conversationID, userMsg, domain.Message{Role: domain.RoleAssistant, Content: final}); err != nil {
		return nil, fmt.Errorf("history append: %w", err)
	}

	resp = &domain.ChatResponse{ConversationID: conversationID, FinalResponse: final}
	if req.Debug || s.debug {
		resp.Debug = debugInfo(result)
	}
	return resp, nil
}

func debugInfo(result *workflow.Result) *domain.DebugInfo {
	st := result.State
	info := &domain.DebugInfo{
		Intent:         st.Intent,
		WantsLetter:    st.WantsLetter,
		WantsRetrieval: st.WantsRetrieval,
		NeedsEvidence:  st.NeedsEvidence,
		Issues:         len(st.Analysis),
		Path:           make([]string, 0, len(result.Path)),
	}
	if st.TransactionQuery != nil {
		info.QueryType = st.TransactionQuery.Type
	}
	for _, n := range result.Path {
		info.Path = append(info.Path, string(n))
	}
	return info
}

// Analyze runs the rule engine over the given or fetched transactions.
func (s *Sentinel) Analyze(ctx context.Context, req *domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	ctx, span := tracer.Start(ctx, "Sentinel.Analyze")
	defer span.End()

	txs, err := s.resolveTransactions(ctx, req.Transactions, req.AccountID)
	if err != nil {
		return nil, err
	}
	issues := s.analyzer.Analyze(txs)
	s.metrics.RecordIssues(issues)
	if issues == nil {
		issues = []domain.Issue{}
	}
	return &domain.AnalyzeResponse{Issues: issues}, nil
}

// Query parses a transaction question and answers it without the completion service.
func (s *Sentinel) Query(ctx context.Context, req *domain.QueryRequest) (*domain.QueryResponse, error) {
	ctx, span := tracer.Start(ctx, "Sentinel.Query")
	defer span.End()

	if strings.TrimSpace(req.Question) == "" {
		return nil, &domain.ErrValidation{Field: "question", Message: "must not be empty"}
	}
	txs, err := s.resolveTransactions(ctx, req.Transactions, req.AccountID)
	if err != nil {
		return nil, err
	}

	q := s.queries.Parse(req.Question, txs)
	if q == nil {
		return &domain.QueryResponse{}, nil
	}
	return &domain.QueryResponse{Query: q, Answer: s.queries.Answer(q, txs)}, nil
}

func (s *Sentinel) resolveTransactions(ctx context.Context, inline []domain.Transaction, accountID string) ([]domain.Transaction, error) {
	if len(inline) > 0 || accountID == "" {
		return inline, nil
	}
	return s.accountTransactions(ctx, accountID)
}

// accountTransactions fetches an account's transactions through the cache.
func (s *Sentinel) accountTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	if s.transactions == nil {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "no transactions source is configured"}
	}

	cacheKey := fmt.Sprintf("transactions:%s", accountID)
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("transactions")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("transactions")

	txs, err := s.transactions.GetTransactions(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to fetch transactions",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("transactions")
		return nil, fmt.Errorf("transactions fetch: %w", err)
	}
	s.cache.Set(cacheKey, txs)
	return txs, nil
}
