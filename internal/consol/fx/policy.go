package fx

import "strings"

// Policy describes the FX translation behaviour for consolidated reports.
type Policy struct {
	ReportingCurrency  string
	ProfitLossMethod   Method
	BalanceSheetMethod Method
	// FCTRAccount receives the translation residual when no rule names one.
	FCTRAccount string
}

// Method enumerates rate types a translated balance can be valued at.
type Method string

const (
	// MethodAverage represents average rate usage for P&L.
	MethodAverage Method = "Average"
	// MethodClosing represents closing rate usage for balance sheet.
	MethodClosing Method = "Closing"
	// MethodHistorical uses a named historical rate scoped to a class.
	MethodHistorical Method = "Historical"
	// MethodNone marks an account translated at 1 because no rate applied.
	MethodNone Method = "No Rate Set"
	// MethodParity marks balances carried at 1 because no translation was needed.
	MethodParity Method = "Parity"
	// MethodFCTR marks the reserve line posted by the translator.
	MethodFCTR Method = "FCTR"
)

// ParseMethod resolves a stored rate type label case-insensitively.
func ParseMethod(raw string) (Method, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "closing":
		return MethodClosing, true
	case "average":
		return MethodAverage, true
	case "historical":
		return MethodHistorical, true
	}
	return "", false
}

// DefaultPolicy returns a baseline configuration aligned with the consolidation requirements.
func DefaultPolicy() Policy {
	return Policy{
		ProfitLossMethod:   MethodAverage,
		BalanceSheetMethod: MethodClosing,
	}
}

func (p Policy) withDefaults() Policy {
	if p.ProfitLossMethod == "" {
		p.ProfitLossMethod = MethodAverage
	}
	if p.BalanceSheetMethod == "" {
		p.BalanceSheetMethod = MethodClosing
	}
	p.ReportingCurrency = normalizeCurrency(p.ReportingCurrency)
	return p
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
