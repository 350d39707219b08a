package domain

// ============================================================
// Conversation
// ============================================================

// Message roles understood by the completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged chat turn. Order is significant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intent is the router's classification of what the user needs.
type Intent string

const (
	IntentGreeting            Intent = "greeting"
	IntentGeneralQuestion     Intent = "general_question"
	IntentAnalyzeTransactions Intent = "analyze_transactions"
	IntentRetrieveLaws        Intent = "retrieve_laws"
	IntentDraftLetter         Intent = "draft_letter"
	IntentTransactionQuery    Intent = "transaction_query"
	IntentOther               Intent = "other"
)

// ParseIntent maps classifier output onto a known intent, defaulting to IntentOther.
func ParseIntent(s string) Intent {
	switch i := Intent(s); i {
	case IntentGreeting, IntentGeneralQuestion, IntentAnalyzeTransactions,
		IntentRetrieveLaws, IntentDraftLetter, IntentTransactionQuery:
		return i
	}
	return IntentOther
}

// ConversationState is the per-request record threaded through the workflow.
// It is created fresh for every request and never shared.
type ConversationState struct {
	Messages         []Message         `json:"messages"`
	UserInput        string            `json:"user_input"`
	Transactions     []Transaction     `json:"transactions"`
	Intent           Intent            `json:"intent,omitempty"`
	WantsLetter      bool              `json:"wants_letter"`
	WantsRetrieval   bool              `json:"wants_retrieval"`
	TransactionQuery *TransactionQuery `json:"transaction_query,omitempty"`
	Analysis         []Issue           `json:"analysis,omitempty"`
	NeedsEvidence    bool              `json:"needs_evidence"`
	RetrievalContext string            `json:"retrieval_context,omitempty"`
	Letter           string            `json:"letter,omitempty"`
	AssistantReply   string            `json:"assistant_response,omitempty"`
	FinalResponse    string            `json:"final_response,omitempty"`
}

// LastAssistantMessage returns the content of the most recent assistant turn.
func (s ConversationState) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// StateUpdate carries the keys a single workflow step writes.
// A nil pointer means "not written by this step".
type StateUpdate struct {
	Intent           *Intent
	WantsLetter      *bool
	WantsRetrieval   *bool
	TransactionQuery *TransactionQuery
	Analysis         *[]Issue
	NeedsEvidence    *bool
	RetrievalContext *string
	Letter           *string
	AssistantReply   *string
	FinalResponse    *string
}

// Apply merges u into s and returns the result. The receiver is not mutated.
// A second write of FinalResponse is rejected.
func (s ConversationState) Apply(u StateUpdate) (ConversationState, error) {
	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.WantsLetter != nil {
		s.WantsLetter = *u.WantsLetter
	}
	if u.WantsRetrieval != nil {
		s.WantsRetrieval = *u.WantsRetrieval
	}
	if u.TransactionQuery != nil {
		s.TransactionQuery = u.TransactionQuery
	}
	if u.Analysis != nil {
		s.Analysis = append([]Issue(nil), (*u.Analysis)...)
	}
	if u.NeedsEvidence != nil {
		s.NeedsEvidence = *u.NeedsEvidence
	}
	if u.RetrievalContext != nil {
		s.RetrievalContext = *u.RetrievalContext
	}
	if u.Letter != nil {
		s.Letter = *u.Letter
	}
	if u.AssistantReply != nil {
		s.AssistantReply = *u.AssistantReply
	}
	if u.FinalResponse != nil {
		if s.FinalResponse != "" {
			return s, &ErrWorkflow{Reason: "final response already set"}
		}
		s.FinalResponse = *u.FinalResponse
	}
	return s, nil
}
