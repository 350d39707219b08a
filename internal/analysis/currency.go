package analysis

import (
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FallbackSymbol is used when neither the data nor the configuration names a currency.
const FallbackSymbol = "$"

var codeSymbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// CurrencyConfig carries the configured defaults used when transactions
// carry no currency information.
type CurrencyConfig struct {
	DefaultSymbol string
	DefaultCode   string
}

// SymbolForCode maps an ISO currency code to its symbol, or "".
func SymbolForCode(code string) string {
	return codeSymbols[strings.ToUpper(strings.TrimSpace(code))]
}

// mostCommon returns the most frequent value; ties go to the value seen first.
func mostCommon(values []string) string {
	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}

	best, bestCount := "", 0
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

// ResolveSymbol picks the symbol used to render amounts: majority symbol,
// then majority code, then the configured defaults, then FallbackSymbol.
func (c CurrencyConfig) ResolveSymbol(transactions []domain.Transaction) string {
	var symbols, codes []string
	for _, tx := range transactions {
		if s := strings.TrimSpace(tx.CurrencySymbol); s != "" {
			symbols = append(symbols, s)
		}
		if code := strings.TrimSpace(tx.CurrencyCode); code != "" {
			codes = append(codes, strings.ToUpper(code))
		}
	}

	if len(symbols) > 0 {
		return mostCommon(symbols)
	}
	if len(codes) > 0 {
		if s := SymbolForCode(mostCommon(codes)); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(c.DefaultSymbol); s != "" {
		return s
	}
	if s := SymbolForCode(c.DefaultCode); s != "" {
		return s
	}
	return FallbackSymbol
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders amount as "-$1,234.50".
func FormatAmount(amount decimal.Decimal, symbol string) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + symbol + amountPrinter.Sprintf("%.2f", amount.Abs().Round(2).InexactFloat64())
}
