// Package analysis holds the deterministic transaction logic: the rule-based
// issue detector (Analyzer) and the natural-language query engine.
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	subscriptionKeywords  = []string{"subscription", "recurring", "plan", "membership"}
	cancellationKeywords  = []string{"cancel", "cancellation", "terminate", "in person"}
	trialKeywords         = []string{"free trial", "trial ended", "trial"}
	feeKeywords           = []string{"fee", "fees", "maintenance"}
	disputeFeeKeywords    = []string{"chargeback fee", "dispute fee", "returned item fee"}
	priceIncreaseFactor   = decimal.RequireFromString("1.1")
	duplicateWindow       = 24 * time.Hour
	defaultMatchesPerRule = 1
)

// merchantGroup is one merchant's transactions in input order.
type merchantGroup struct {
	merchant string
	txs      []domain.Transaction
}

// dated is a transaction with a successfully parsed date.
type dated struct {
	date time.Time
	tx   domain.Transaction
}

// datedSorted returns the group's parseable transactions in chronological order.
// Ties keep input order.
func (g merchantGroup) datedSorted() []dated {
	out := make([]dated, 0, len(g.txs))
	for _, tx := range g.txs {
		if d, ok := tx.ParsedDate(); ok {
			out = append(out, dated{date: d, tx: tx})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out
}

// rule detects one kind of issue for a single merchant. It returns matches in
// scan order; the Analyzer keeps at most MatchesPerRule of them.
type rule struct {
	kind   domain.IssueKind
	detect func(g merchantGroup) []domain.Issue
}

// Analyzer is a stateless rule engine over a transaction set.
type Analyzer struct {
	rules []rule

	// MatchesPerRule caps issues per merchant per rule. Zero means 1.
	MatchesPerRule int
}

// NewAnalyzer returns an analyzer with the full rule set in evaluation order.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		rules: []rule{
			{kind: domain.IssueDuplicateCharge, detect: detectDuplicateCharges},
			{kind: domain.IssuePriceIncrease, detect: detectPriceIncrease},
			{kind: domain.IssueCancellationFriction, detect: notesRule(domain.IssueCancellationFriction, cancellationKeywords, "Notes mention cancellation or in-person requirement.")},
			{kind: domain.IssueTrialConversion, detect: notesRule(domain.IssueTrialConversion, trialKeywords, "Charge occurred after a trial period.")},
			{kind: domain.IssueUnexpectedFee, detect: detectUnexpectedFees},
			{kind: domain.IssueChargebackFee, detect: notesRule(domain.IssueChargebackFee, disputeFeeKeywords, "Notes mention a chargeback or dispute-related fee.")},
			{kind: domain.IssueSplitBilling, detect: detectSplitBilling},
		},
	}
}

// RuleKinds lists the issue kinds in evaluation order.
func (a *Analyzer) RuleKinds() []domain.IssueKind {
	kinds := make([]domain.IssueKind, len(a.rules))
	for i, r := range a.rules {
		kinds[i] = r.kind
	}
	return kinds
}

// Analyze runs every rule over every merchant and returns the issues grouped
// by rule, then by merchant name.
func (a *Analyzer) Analyze(transactions []domain.Transaction) []domain.Issue {
	groups := groupByMerchant(transactions)
	limit := a.MatchesPerRule
	if limit <= 0 {
		limit = defaultMatchesPerRule
	}

	var issues []domain.Issue
	for _, r := range a.rules {
		for _, g := range groups {
			found := r.detect(g)
			if len(found) > limit {
				found = found[:limit]
			}
			issues = append(issues, found...)
		}
	}
	return issues
}

func groupByMerchant(transactions []domain.Transaction) []merchantGroup {
	index := make(map[string]int)
	var groups []merchantGroup
	for _, tx := range transactions {
		m := tx.Merchant()
		i, ok := index[m]
		if !ok {
			i = len(groups)
			index[m] = i
			groups = append(groups, merchantGroup{merchant: m})
		}
		groups[i].txs = append(groups[i].txs, tx)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].merchant < groups[j].merchant })
	return groups
}

func containsAny(text string, needles []string) bool {
	lower := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func newIssue(merchant string, kind domain.IssueKind, amount decimal.Decimal, reason string) domain.Issue {
	return domain.Issue{
		Merchant: merchant,
		Kind:     kind,
		Amount:   amount,
		Reason:   reason,
	}
}

// detectDuplicateCharges flags adjacent charges of equal amount at most one day apart.
func detectDuplicateCharges(g merchantGroup) []domain.Issue {
	var out []domain.Issue
	ordered := g.datedSorted()
	for i := 1; i < len(ordered); i++ {
		prev, curr := ordered[i-1], ordered[i]
		if curr.date.Sub(prev.date) <= duplicateWindow && curr.tx.Amount.Equal(prev.tx.Amount) {
			out = append(out, newIssue(g.merchant, domain.IssueDuplicateCharge, curr.tx.Amount,
				"Same amount charged twice within 24 hours."))
		}
	}
	return out
}

// detectPriceIncrease compares the two most recent dated charges.
func detectPriceIncrease(g merchantGroup) []domain.Issue {
	ordered := g.datedSorted()
	if len(ordered) < 2 {
		return nil
	}
	prev := ordered[len(ordered)-2].tx
	curr := ordered[len(ordered)-1].tx

	if !prev.Amount.IsPositive() || !curr.Amount.GreaterThan(prev.Amount.Mul(priceIncreaseFactor)) {
		return nil
	}
	if !containsAny(curr.Notes+" "+curr.CategoryText(" "), subscriptionKeywords) {
		return nil
	}
	reason := fmt.Sprintf("Amount increased from %s to %s.", prev.Amount.StringFixed(2), curr.Amount.StringFixed(2))
	return []domain.Issue{newIssue(g.merchant, domain.IssuePriceIncrease, curr.Amount, reason)}
}

// notesRule flags every transaction whose notes contain one of keywords.
func notesRule(kind domain.IssueKind, keywords []string, reason string) func(merchantGroup) []domain.Issue {
	return func(g merchantGroup) []domain.Issue {
		var out []domain.Issue
		for _, tx := range g.txs {
			if containsAny(tx.Notes, keywords) {
				out = append(out, newIssue(g.merchant, kind, tx.Amount, reason))
			}
		}
		return out
	}
}

// detectUnexpectedFees looks at merchant, notes and category together.
func detectUnexpectedFees(g merchantGroup) []domain.Issue {
	var out []domain.Issue
	for _, tx := range g.txs {
		text := g.merchant + " " + tx.Notes + " " + tx.CategoryText(" ")
		if containsAny(text, feeKeywords) {
			out = append(out, newIssue(g.merchant, domain.IssueUnexpectedFee, tx.Amount,
				"Charge categorized as a fee or described as maintenance."))
		}
	}
	return out
}

// detectSplitBilling flags a day with several differing charges that sum positive.
// Days where every amount is equal are left to the duplicate rule.
func detectSplitBilling(g merchantGroup) []domain.Issue {
	var days []string
	byDay := make(map[string][]domain.Transaction)
	for _, d := range g.datedSorted() {
		key := d.date.Format("2006-01-02")
		if _, ok := byDay[key]; !ok {
			days = append(days, key)
		}
		byDay[key] = append(byDay[key], d.tx)
	}

	var out []domain.Issue
	for _, day := range days {
		txs := byDay[day]
		if len(txs) < 2 {
			continue
		}
		allEqual := true
		total := decimal.Zero
		for _, tx := range txs {
			if !tx.Amount.Equal(txs[0].Amount) {
				allEqual = false
			}
			total = total.Add(tx.Amount)
		}
		if allEqual || !total.IsPositive() {
			continue
		}
		reason := fmt.Sprintf("%d charges on %s. Possible split billing.", len(txs), day)
		out = append(out, newIssue(g.merchant, domain.IssueSplitBilling, total, reason))
	}
	return out
}
