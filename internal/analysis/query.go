package analysis

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/intent"
)

// FollowUpQuestion is returned verbatim when a question points at "this charge"
// without naming a merchant or a date.
const FollowUpQuestion = "Which transaction should I check (merchant, date, and amount)?"

var (
	transactionKeywords = []string{
		"transaction", "transactions", "charge", "charges", "debit", "credit",
		"payment", "purchase", "withdrawal", "deposit", "transfer", "spend",
		"spent", "fee", "fees", "subscription", "recurring",
	}
	debitWords  = []string{"debit", "charge", "spent", "spend", "purchase", "payment", "withdrawal", "money out", "outflow", "fee"}
	creditWords = []string{"credit", "deposit", "refund", "income", "money in", "inflow"}

	maxWords          = []string{"highest", "largest", "biggest", "maximum", "max", "most expensive"}
	minWords          = []string{"lowest", "smallest", "minimum", "min", "least expensive"}
	countWords        = []string{"how many", "count", "number of"}
	byCategoryWords   = []string{"by category", "category breakdown", "per category"}
	byMerchantWords   = []string{"by merchant", "merchant breakdown", "per merchant", "top merchant"}
	totalWords        = []string{"total", "sum", "how much"}
	spendVerbs        = []string{"spent", "spend", "paid", "income"}
	recentWords       = []string{"recent", "latest", "most recent", "last transaction"}
	subscriptionWords = []string{"subscription", "recurring"}

	ambiguousReferences = []string{
		"is this charge", "is that charge", "is this transaction", "is that transaction",
		"is this legit", "is that legit", "this charge", "that charge",
		"this transaction", "that transaction",
	}

	rangeConnectors  = []string{"from", "between", "to"}
	singleConnectors = []string{"on", "for", "during", "date"}

	lastNDaysPattern  = regexp.MustCompile(`\b(last|past)\s+(\d{1,3})\s+days\b`)
	isoDatePattern    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDatePattern  = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	explicitDateForms = []string{"2006-01-02", "1/2/2006", "1/2/06"}
)

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// hasTerm reports whether term occurs in text starting at a word boundary.
// With whole set, the occurrence must also end at a word boundary.
func hasTerm(text, term string, whole bool) bool {
	for from := 0; from <= len(text)-len(term); {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		leftOK := start == 0 || !isWordChar(text[start-1])
		rightOK := !whole || end == len(text) || !isWordChar(text[end])
		if leftOK && rightOK {
			return true
		}
		from = start + 1
	}
	return false
}

func hasAnyTerm(text string, terms []string) bool {
	for _, t := range terms {
		if hasTerm(text, t, false) {
			return true
		}
	}
	return false
}

func hasAnyWord(text string, words []string) bool {
	for _, w := range words {
		if hasTerm(text, w, true) {
			return true
		}
	}
	return false
}

// QueryEngine parses and answers natural-language questions about transactions.
type QueryEngine struct {
	analyzer *Analyzer
	currency CurrencyConfig
	now      func() time.Time
}

// NewQueryEngine builds an engine. A nil now uses time.Now.
func NewQueryEngine(analyzer *Analyzer, currency CurrencyConfig, now func() time.Time) *QueryEngine {
	if analyzer == nil {
		analyzer = NewAnalyzer()
	}
	if now == nil {
		now = time.Now
	}
	return &QueryEngine{analyzer: analyzer, currency: currency, now: now}
}

// Parse turns a question into a TransactionQuery. It returns nil when the
// text is not a question about transactions.
func (e *QueryEngine) Parse(text string, transactions []domain.Transaction) *domain.TransactionQuery {
	normalized := intent.Normalize(text)
	if normalized == "" {
		return nil
	}

	queryType, ok := detectQueryType(normalized)
	if !ok {
		if !hasAnyTerm(normalized, transactionKeywords) {
			return nil
		}
		queryType = domain.QueryClarify
	}

	q := &domain.TransactionQuery{
		Type:      queryType,
		Direction: detectDirection(normalized),
		Merchant:  matchLongest(normalized, distinctMerchants(transactions)),
		Category:  matchLongest(normalized, distinctCategories(transactions)),
	}
	q.StartDate, q.EndDate = e.parseDateRange(normalized)

	if q.Merchant == "" && !q.HasDateRange() && hasAnyTerm(normalized, ambiguousReferences) {
		q.NeedsFollowup = true
		q.FollowUpQuestion = FollowUpQuestion
	}
	return q
}

func detectQueryType(text string) (domain.QueryType, bool) {
	switch {
	case hasAnyTerm(text, maxWords):
		return domain.QueryMax, true
	case hasAnyTerm(text, minWords):
		return domain.QueryMin, true
	case hasAnyTerm(text, countWords):
		return domain.QueryCount, true
	case hasAnyTerm(text, byCategoryWords):
		return domain.QueryByCategory, true
	case hasAnyTerm(text, byMerchantWords):
		return domain.QueryByMerchant, true
	case hasAnyTerm(text, totalWords), hasAnyTerm(text, spendVerbs):
		return domain.QueryTotal, true
	case hasAnyTerm(text, recentWords):
		return domain.QueryRecent, true
	case hasAnyTerm(text, subscriptionWords):
		return domain.QuerySubscriptionScan, true
	}
	return "", false
}

func detectDirection(text string) domain.Direction {
	if hasAnyTerm(text, debitWords) {
		return domain.DirectionDebit
	}
	if hasAnyTerm(text, creditWords) {
		return domain.DirectionCredit
	}
	return domain.DirectionAny
}

// byLengthDesc sorts candidates longest first, alphabetically on ties.
func byLengthDesc(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func distinctMerchants(transactions []domain.Transaction) []string {
	set := make(map[string]struct{})
	for _, tx := range transactions {
		if name := strings.TrimSpace(tx.MerchantName); name != "" {
			set[name] = struct{}{}
		}
	}
	return byLengthDesc(set)
}

func distinctCategories(transactions []domain.Transaction) []string {
	set := make(map[string]struct{})
	for _, tx := range transactions {
		for _, c := range tx.Category {
			if c = strings.TrimSpace(c); c != "" {
				set[c] = struct{}{}
			}
		}
	}
	return byLengthDesc(set)
}

// matchLongest returns the first candidate contained in text, case-insensitively.
// Candidates must already be sorted longest first.
func matchLongest(text string, candidates []string) string {
	for _, c := range candidates {
		if strings.Contains(text, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}

// MatchMerchant finds the longest merchant of transactions named in text.
func MatchMerchant(text string, transactions []domain.Transaction) string {
	return matchLongest(intent.Normalize(text), distinctMerchants(transactions))
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func span(start, end time.Time) (*time.Time, *time.Time) {
	return &start, &end
}

// parseDateRange resolves relative phrases first, then explicit dates gated by
// connector words.
func (e *QueryEngine) parseDateRange(text string) (*time.Time, *time.Time) {
	today := dayOf(e.now().UTC())

	if m := lastNDaysPattern.FindStringSubmatch(text); m != nil {
		days, _ := strconv.Atoi(m[2])
		return span(today.AddDate(0, 0, -days), today)
	}

	switch {
	case strings.Contains(text, "last week"):
		return span(today.AddDate(0, 0, -7), today)
	case strings.Contains(text, "this week"):
		offset := (int(today.Weekday()) + 6) % 7
		return span(today.AddDate(0, 0, -offset), today)
	case strings.Contains(text, "last month"):
		firstThisMonth := today.AddDate(0, 0, 1-today.Day())
		lastMonthEnd := firstThisMonth.AddDate(0, 0, -1)
		return span(lastMonthEnd.AddDate(0, 0, 1-lastMonthEnd.Day()), lastMonthEnd)
	case strings.Contains(text, "this month"):
		return span(today.AddDate(0, 0, 1-today.Day()), today)
	case strings.Contains(text, "yesterday"):
		y := today.AddDate(0, 0, -1)
		return span(y, y)
	case strings.Contains(text, "today"):
		return span(today, today)
	}

	dates := extractDates(text)
	if len(dates) >= 2 && hasAnyWord(text, rangeConnectors) {
		start, end := dates[0], dates[1]
		if end.Before(start) {
			start, end = end, start
		}
		return span(start, end)
	}
	if len(dates) == 1 && hasAnyWord(text, singleConnectors) {
		return span(dates[0], dates[0])
	}
	return nil, nil
}

func extractDates(text string) []time.Time {
	var dates []time.Time
	for _, pattern := range []*regexp.Regexp{isoDatePattern, slashDatePattern} {
		for _, match := range pattern.FindAllString(text, -1) {
			for _, layout := range explicitDateForms {
				if d, err := time.Parse(layout, match); err == nil {
					dates = append(dates, d)
					break
				}
			}
		}
	}
	return dates
}
