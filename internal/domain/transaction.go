package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownMerchant is used whenever the ingestion collaborator could not name a merchant.
const UnknownMerchant = "Unknown Merchant"

// transactionDateLayouts are tried in order by ParsedDate.
// Numeric layouts also accept zero-padded input.
var transactionDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"2/1/2006",
	"2-1-2006",
}

// Transaction is a normalized bank transaction.
// Amount is positive for money out (debit) and negative for money in (credit).
type Transaction struct {
	ID             string          `json:"transaction_id"`
	Date           string          `json:"date"`
	MerchantName   string          `json:"merchant_name"`
	Amount         decimal.Decimal `json:"amount"`
	Category       []string        `json:"category"`
	Notes          string          `json:"notes"`
	CurrencyCode   string          `json:"currency,omitempty"`
	CurrencySymbol string          `json:"currency_symbol,omitempty"`
}

// UnmarshalJSON decodes a transaction, reading an amount that is neither a
// number nor a numeric string as zero instead of failing.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	aux := struct {
		*plain
		Amount json.RawMessage `json:"amount"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Amount = ParseAmount(aux.Amount)
	return nil
}

// ParseAmount reads a JSON number or numeric string. Null, missing and
// unparseable values are zero.
func ParseAmount(raw json.RawMessage) decimal.Decimal {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Zero
	}
	if strings.HasPrefix(text, `"`) {
		var str string
		if err := json.Unmarshal([]byte(text), &str); err != nil {
			return decimal.Zero
		}
		text = strings.TrimSpace(str)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Merchant returns the trimmed merchant name, falling back to UnknownMerchant.
func (t Transaction) Merchant() string {
	name := strings.TrimSpace(t.MerchantName)
	if name == "" {
		return UnknownMerchant
	}
	return name
}

// ParsedDate parses the raw date. ok is false when the date is empty or
// in none of the supported layouts.
func (t Transaction) ParsedDate() (time.Time, bool) {
	return ParseDate(t.Date)
}

// IsDebit reports whether the transaction moved money out.
func (t Transaction) IsDebit() bool { return t.Amount.IsPositive() }

// IsCredit reports whether the transaction moved money in.
func (t Transaction) IsCredit() bool { return t.Amount.IsNegative() }

// CategoryText joins the category path with sep, skipping blank entries.
func (t Transaction) CategoryText(sep string) string {
	parts := make([]string, 0, len(t.Category))
	for _, c := range t.Category {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, sep)
}

// ParseDate parses a calendar date in any of the supported layouts.
func ParseDate(raw string) (time.Time, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range transactionDateLayouts {
		if d, err := time.Parse(layout, text); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
