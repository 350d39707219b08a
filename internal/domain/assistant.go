package domain

// ============================================================
// Completion service
// ============================================================

// CompletionRequest is sent to the LLM completion collaborator.
// JSON asks for a single JSON object in the reply.
type CompletionRequest struct {
	Messages []Message
	JSON     bool
}

// Completion is the generated text plus token accounting.
type Completion struct {
	Content    string
	TokensUsed TokenUsage
}

// TokenUsage tracks LLM token consumption for cost monitoring.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ============================================================
// Chat API — request/response
// ============================================================

// ChatRequest is the body of POST /v1/chat.
// Query is accepted as an alias of UserInput.
type ChatRequest struct {
	UserInput      string        `json:"user_input"`
	Query          string        `json:"query,omitempty"`
	Transactions   []Transaction `json:"transactions,omitempty"`
	History        []Message     `json:"history,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	AccountID      string        `json:"account_id,omitempty"`
	Debug          bool          `json:"debug,omitempty"`
}

// Text returns the user's message, whichever field carried it.
func (r *ChatRequest) Text() string {
	if r.UserInput != "" {
		return r.UserInput
	}
	return r.Query
}

// ChatResponse is the body returned by POST /v1/chat.
type ChatResponse struct {
	ConversationID string     `json:"conversation_id"`
	FinalResponse  string     `json:"final_response"`
	Debug          *DebugInfo `json:"debug,omitempty"`
}

// DebugInfo exposes the router's decisions for diagnostics.
type DebugInfo struct {
	Intent         Intent    `json:"intent"`
	WantsLetter    bool      `json:"wants_letter"`
	WantsRetrieval bool      `json:"wants_retrieval"`
	NeedsEvidence  bool      `json:"needs_evidence"`
	QueryType      QueryType `json:"query_type,omitempty"`
	Issues         int       `json:"issues"`
	Path           []string  `json:"path"`
}

// AnalyzeRequest is the body of POST /v1/transactions/analyze.
type AnalyzeRequest struct {
	Transactions []Transaction `json:"transactions"`
	AccountID    string        `json:"account_id,omitempty"`
}

// AnalyzeResponse lists the issues found by the rule engine.
type AnalyzeResponse struct {
	Issues []Issue `json:"issues"`
}

// QueryRequest is the body of POST /v1/transactions/query.
type QueryRequest struct {
	Question     string        `json:"question"`
	Transactions []Transaction `json:"transactions"`
	AccountID    string        `json:"account_id,omitempty"`
}

// QueryResponse is the parsed query (nil when the question is not about
// transactions) and the rendered answer.
type QueryResponse struct {
	Query  *TransactionQuery `json:"query"`
	Answer string            `json:"answer,omitempty"`
}
