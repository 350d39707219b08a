package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Fixed user-facing answers.
const (
	NoMatchAnswer        = "I could not find any transactions that match that request."
	ClarifyAnswer        = "Can you clarify what you want to know about your transactions?"
	NoSubscriptionIssues = "I did not find any obvious subscription issues in the selected transactions."

	uncategorized = "Uncategorized"
	topN          = 5
)

// Answer executes q against transactions and renders the result as text.
func (e *QueryEngine) Answer(q *domain.TransactionQuery, transactions []domain.Transaction) string {
	if q == nil {
		return ClarifyAnswer
	}
	if q.NeedsFollowup && q.FollowUpQuestion != "" {
		return q.FollowUpQuestion
	}

	filtered := filterTransactions(q, transactions)
	if len(filtered) == 0 {
		return NoMatchAnswer
	}
	symbol := e.currency.ResolveSymbol(transactions)

	switch q.Type {
	case domain.QueryMax:
		return renderCard("Here is the highest transaction I found:", pickExtreme(filtered, true), symbol)
	case domain.QueryMin:
		return renderCard("Here is the lowest transaction I found:", pickExtreme(filtered, false), symbol)
	case domain.QueryCount:
		return fmt.Sprintf("I found %d transactions that match that request.", len(filtered))
	case domain.QueryTotal:
		return renderTotal(q.Direction, filtered, symbol)
	case domain.QueryByMerchant:
		return renderTop("Top merchants by spend:", spendBy(filtered, q.Direction, func(tx domain.Transaction) []string {
			return []string{tx.Merchant()}
		}), symbol)
	case domain.QueryByCategory:
		return renderTop("Top categories by spend:", spendBy(filtered, q.Direction, categoryKeys), symbol)
	case domain.QueryRecent:
		return renderRecent(filtered, symbol)
	case domain.QuerySubscriptionScan:
		return e.renderSubscriptionScan(filtered, symbol)
	}
	return ClarifyAnswer
}

func filterTransactions(q *domain.TransactionQuery, transactions []domain.Transaction) []domain.Transaction {
	merchant := strings.ToLower(q.Merchant)
	category := strings.ToLower(q.Category)

	var out []domain.Transaction
	for _, tx := range transactions {
		switch q.Direction {
		case domain.DirectionDebit:
			if !tx.IsDebit() {
				continue
			}
		case domain.DirectionCredit:
			if !tx.IsCredit() {
				continue
			}
		}
		if merchant != "" && !strings.Contains(strings.ToLower(tx.MerchantName), merchant) {
			continue
		}
		if category != "" && !strings.Contains(strings.ToLower(tx.CategoryText(" ")), category) {
			continue
		}
		if q.HasDateRange() {
			d, ok := tx.ParsedDate()
			if !ok {
				continue
			}
			if q.StartDate != nil && d.Before(*q.StartDate) {
				continue
			}
			if q.EndDate != nil && d.After(*q.EndDate) {
				continue
			}
		}
		out = append(out, tx)
	}
	return out
}

// pickExtreme returns the transaction with the largest (or smallest) absolute
// amount; ties go to the earliest in input order.
func pickExtreme(txs []domain.Transaction, largest bool) domain.Transaction {
	chosen := txs[0]
	for _, tx := range txs[1:] {
		cmp := tx.Amount.Abs().Cmp(chosen.Amount.Abs())
		if (largest && cmp > 0) || (!largest && cmp < 0) {
			chosen = tx
		}
	}
	return chosen
}

func directionLabel(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "credit"
	}
	return "debit"
}

func renderCard(header string, tx domain.Transaction, symbol string) string {
	lines := []string{
		header,
		"- Date: " + tx.Date,
		"- Merchant: " + tx.MerchantName,
		fmt.Sprintf("- Amount: %s (%s)", FormatAmount(tx.Amount, symbol), directionLabel(tx.Amount)),
	}
	if c := tx.CategoryText(", "); c != "" {
		lines = append(lines, "- Category: "+c)
	}
	if n := strings.TrimSpace(tx.Notes); n != "" {
		lines = append(lines, "- Notes: "+n)
	}
	if tx.ID != "" {
		lines = append(lines, "- Transaction ID: "+tx.ID)
	}
	return strings.Join(lines, "\n")
}

// flows splits txs into money out and money in, both non-negative.
func flows(txs []domain.Transaction) (outflow, inflow decimal.Decimal) {
	for _, tx := range txs {
		switch {
		case tx.IsDebit():
			outflow = outflow.Add(tx.Amount)
		case tx.IsCredit():
			inflow = inflow.Add(tx.Amount.Abs())
		}
	}
	return outflow, inflow
}

func renderTotal(dir domain.Direction, txs []domain.Transaction, symbol string) string {
	outflow, inflow := flows(txs)
	switch dir {
	case domain.DirectionDebit:
		return fmt.Sprintf("Total debits: %s across %d transactions.", FormatAmount(outflow, symbol), len(txs))
	case domain.DirectionCredit:
		return fmt.Sprintf("Total credits: %s across %d transactions.", FormatAmount(inflow, symbol), len(txs))
	}
	return strings.Join([]string{
		"Totals for the selected transactions:",
		"- Outflow: " + FormatAmount(outflow, symbol),
		"- Inflow: " + FormatAmount(inflow, symbol),
		"- Net: " + FormatAmount(outflow.Sub(inflow), symbol),
	}, "\n")
}

// spendAmount is the direction-aware contribution of one transaction to a breakdown.
func spendAmount(tx domain.Transaction, dir domain.Direction) decimal.Decimal {
	if dir == domain.DirectionCredit {
		if tx.IsCredit() {
			return tx.Amount.Abs()
		}
		return decimal.Zero
	}
	if tx.IsDebit() {
		return tx.Amount
	}
	return decimal.Zero
}

func categoryKeys(tx domain.Transaction) []string {
	var keys []string
	for _, c := range tx.Category {
		if c = strings.TrimSpace(c); c != "" {
			keys = append(keys, c)
		}
	}
	if len(keys) == 0 {
		return []string{uncategorized}
	}
	return keys
}

type bucket struct {
	key   string
	total decimal.Decimal
}

// spendBy accumulates spend per key; the result is sorted by total descending,
// first-seen order on ties.
func spendBy(txs []domain.Transaction, dir domain.Direction, keys func(domain.Transaction) []string) []bucket {
	index := make(map[string]int)
	var buckets []bucket
	for _, tx := range txs {
		amount := spendAmount(tx, dir)
		for _, k := range keys(tx) {
			i, ok := index[k]
			if !ok {
				i = len(buckets)
				index[k] = i
				buckets = append(buckets, bucket{key: k})
			}
			buckets[i].total = buckets[i].total.Add(amount)
		}
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].total.GreaterThan(buckets[j].total) })
	return buckets
}

func renderTop(header string, buckets []bucket, symbol string) string {
	if len(buckets) > topN {
		buckets = buckets[:topN]
	}
	lines := []string{header}
	for _, b := range buckets {
		lines = append(lines, fmt.Sprintf("- %s: %s", b.key, FormatAmount(b.total, symbol)))
	}
	return strings.Join(lines, "\n")
}

// renderRecent lists the newest transactions; undated ones sort last.
func renderRecent(txs []domain.Transaction, symbol string) string {
	ordered := append([]domain.Transaction(nil), txs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, iok := ordered[i].ParsedDate()
		dj, jok := ordered[j].ParsedDate()
		if iok != jok {
			return iok
		}
		return iok && di.After(dj)
	})
	if len(ordered) > topN {
		ordered = ordered[:topN]
	}

	lines := []string{"Most recent transactions:"}
	for _, tx := range ordered {
		lines = append(lines, fmt.Sprintf("- %s | %s | %s", tx.Date, tx.MerchantName, FormatAmount(tx.Amount, symbol)))
	}
	return strings.Join(lines, "\n")
}

func (e *QueryEngine) renderSubscriptionScan(txs []domain.Transaction, symbol string) string {
	issues := e.analyzer.Analyze(txs)
	if len(issues) == 0 {
		return NoSubscriptionIssues
	}
	if len(issues) > topN {
		issues = issues[:topN]
	}
	lines := []string{"Subscription-related findings:"}
	for _, is := range issues {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", is.Merchant, is.Title(), FormatAmount(is.Amount, symbol)))
	}
	return strings.Join(lines, "\n")
}
