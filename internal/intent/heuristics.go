// Package intent classifies normalized user text into routing signals.
//
// Every signal is an independent predicate so it can be tested on its own;
// Classify walks an ordered rule list and returns the first tag that matches.
package intent

import (
	"regexp"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
)

var whitespace = regexp.MustCompile(`\s+`)

// Normalize lowercases text and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(text), " "))
}

var (
	greetingPattern    = regexp.MustCompile(`^(hi|hello|hey|hiya|good morning|good afternoon|good evening)( there)?[!. ]*$`)
	affirmativePattern = regexp.MustCompile(`^(yes|yeah|yep|yup|sure|ok|okay|please|please do|yes please|go ahead|do it|sounds good|absolutely|of course)[!. ]*(please)?[!. ]*$`)
)

var (
	letterKeywords = []string{
		"draft", "write a letter", "write me a letter", "letter",
	}
	legalKeywords = []string{
		"law", "legal", "regulation", "ftc", "is it legal", "can i fight",
		"consumer protection", "my rights",
	}
	analysisKeywords = []string{
		"analyze", "analyse", "analysis", "scan", "check", "review", "audit",
		"suspicious", "subscriptions", "transactions", "charges", "fees",
	}
)

// containsAny reports whether text contains one of the needles.
func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// IsGreeting matches a bare greeting such as "hi" or "good morning!".
func IsGreeting(text string) bool {
	return greetingPattern.MatchString(text)
}

// IsExplicitLetterRequest matches an explicit ask to draft or write a letter.
func IsExplicitLetterRequest(text string) bool {
	return containsAny(text, letterKeywords)
}

// IsAffirmative matches a short agreement such as "yes" or "go ahead".
func IsAffirmative(text string) bool {
	return affirmativePattern.MatchString(text)
}

// AssistantOfferedLetter reports whether an assistant message offered to draft a letter.
func AssistantOfferedLetter(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "draft") && strings.Contains(lower, "letter")
}

// IsLegalHelp matches questions about laws, regulations or consumer rights.
func IsLegalHelp(text string) bool {
	return containsAny(text, legalKeywords)
}

// IsAnalysisRequest matches a request to review transactions for problems.
func IsAnalysisRequest(text string) bool {
	return containsAny(text, analysisKeywords)
}

// Signals is the input every rule sees.
type Signals struct {
	// Text is the normalized user input.
	Text string
	// LastAssistant is the most recent assistant message, raw.
	LastAssistant string
}

// IsLetterContinuation is an affirmative reply to an offer to draft a letter.
func (s Signals) IsLetterContinuation() bool {
	return IsAffirmative(s.Text) && AssistantOfferedLetter(s.LastAssistant)
}

// WantsLetter is an explicit letter request or a letter continuation.
func (s Signals) WantsLetter() bool {
	return IsExplicitLetterRequest(s.Text) || s.IsLetterContinuation()
}

// Rule pairs a predicate with the intent it assigns.
type Rule struct {
	Name   string
	Intent domain.Intent
	Match  func(Signals) bool
}

// DefaultRules is the precedence order used by the router.
var DefaultRules = []Rule{
	{Name: "greeting", Intent: domain.IntentGreeting, Match: func(s Signals) bool { return IsGreeting(s.Text) }},
	{Name: "explicit_letter", Intent: domain.IntentDraftLetter, Match: func(s Signals) bool { return IsExplicitLetterRequest(s.Text) }},
	{Name: "letter_continuation", Intent: domain.IntentDraftLetter, Match: Signals.IsLetterContinuation},
	{Name: "legal_help", Intent: domain.IntentRetrieveLaws, Match: func(s Signals) bool { return IsLegalHelp(s.Text) }},
	{Name: "analysis", Intent: domain.IntentAnalyzeTransactions, Match: func(s Signals) bool { return IsAnalysisRequest(s.Text) }},
}

// Classify returns the intent of the first matching rule.
func Classify(rules []Rule, s Signals) (domain.Intent, bool) {
	for _, r := range rules {
		if r.Match(s) {
			return r.Intent, true
		}
	}
	return "", false
}
