package workflow

import (
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/analysis"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/intent"
)

// knowledgeBaseMerchants maps a merchant keyword onto the key the knowledge
// base indexes its documents under. Order matters: the first hit wins.
var knowledgeBaseMerchants = []struct {
	key   string
	match func(string) bool
}{
	{"netflix", contains("netflix")},
	{"planet_fitness", func(s string) bool { return strings.Contains(s, "planet") && strings.Contains(s, "fitness") }},
	{"adobe", contains("adobe")},
	{"spotify", contains("spotify")},
	{"amazon", contains("amazon")},
}

func contains(needle string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, needle) }
}

// knowledgeBaseKey returns the knowledge base key for a merchant name, or ""
// when the merchant has no dedicated documents.
func knowledgeBaseKey(name string) string {
	n := intent.Normalize(name)
	for _, m := range knowledgeBaseMerchants {
		if m.match(n) {
			return m.key
		}
	}
	return ""
}

// retrievalMerchant picks the merchant filter for a search: the first detected
// issue, else a merchant named in the user's text, else the text itself.
func retrievalMerchant(s domain.ConversationState) string {
	candidate := ""
	if len(s.Analysis) > 0 {
		candidate = s.Analysis[0].Merchant
	}
	if candidate == "" {
		candidate = analysis.MatchMerchant(s.UserInput, s.Transactions)
	}
	if candidate == "" {
		candidate = s.UserInput
	}
	return knowledgeBaseKey(candidate)
}
