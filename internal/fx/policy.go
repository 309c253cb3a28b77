package fx

import "strings"

// Policy describes how unit balances are translated into the reporting currency.
type Policy struct {
	ReportingCurrency  string
	ProfitLossMethod   Method
	BalanceSheetMethod Method
}

// Method enumerates supported FX conversion methods.
type Method string

const (
	// MethodAverage represents average rate usage for P&L.
	MethodAverage Method = "AVERAGE"
	// MethodClosing represents closing rate usage for balance sheet.
	MethodClosing Method = "CLOSING"
)

// Quote holds the average and closing rate of a currency pair for a period.
type Quote struct {
	Average float64
	Closing float64
}

// Rate returns the quote rate for the given method.
func (q Quote) Rate(method Method) float64 {
	if method == MethodClosing {
		return q.Closing
	}
	return q.Average
}

// DefaultPolicy returns the group policy for the reporting currency: P&L at
// average rates, balance sheet at closing rates.
func DefaultPolicy(reportingCurrency string) Policy {
	return Policy{
		ReportingCurrency:  strings.ToUpper(strings.TrimSpace(reportingCurrency)),
		ProfitLossMethod:   MethodAverage,
		BalanceSheetMethod: MethodClosing,
	}
}

// Pair builds the quote key converting currency into the reporting currency.
func (p Policy) Pair(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency)) + p.ReportingCurrency
}

// NeedsTranslation reports whether balances in currency must be converted.
func (p Policy) NeedsTranslation(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	return currency != "" && currency != p.ReportingCurrency
}
