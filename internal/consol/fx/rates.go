package fx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/coa"
)

// Quote carries the average and closing rate of a currency pair for a period.
type Quote struct {
	Average decimal.Decimal `json:"average_rate"`
	Closing decimal.Decimal `json:"closing_rate"`
}

func (q Quote) value(method Method) decimal.Decimal {
	switch method {
	case MethodAverage:
		return q.Average
	case MethodClosing:
		return q.Closing
	}
	return decimal.Zero
}

// HistoricalRate is a named rate scoped to an account class.
type HistoricalRate struct {
	Name           string          `json:"name"`
	AppliesToClass string          `json:"applies_to_class"`
	Rate           decimal.Decimal `json:"rate"`
}

// RateSet is the exchange rate set of one (entity, period).
type RateSet struct {
	EntityID   int64            `json:"entity_id"`
	Period     string           `json:"period"`
	Closing    decimal.Decimal  `json:"closing_rate"`
	Average    decimal.Decimal  `json:"average_rate"`
	Historical []HistoricalRate `json:"historical_rates"`
}

// Quote projects the set onto a pair quote.
func (r RateSet) Quote() Quote {
	return Quote{Average: r.Average, Closing: r.Closing}
}

// RuleScope enumerates translation rule scopes.
type RuleScope string

const (
	ScopeAll        RuleScope = "All"
	ScopeClass      RuleScope = "Class"
	ScopeSpecificGL RuleScope = "Specific GL"
)

// Rule is a stored translation rule. Target holds the class name for class
// scoped rules and the GL code for specific GL rules.
type Rule struct {
	EntityID     int64               `json:"entity_id"`
	FromCurrency string              `json:"from_currency"`
	ToCurrency   string              `json:"to_currency"`
	Scope        RuleScope           `json:"scope"`
	Target       string              `json:"target,omitempty"`
	Method       Method              `json:"rate_type"`
	Rate         decimal.NullDecimal `json:"rate"`
	FCTRAccount  string              `json:"fctr_account,omitempty"`
}

func (r Rule) rank() int {
	switch r.Scope {
	case ScopeSpecificGL:
		return 3
	case ScopeClass:
		return 2
	case ScopeAll:
		return 1
	}
	return 0
}

func (r Rule) appliesTo(entityID int64, from, to string) bool {
	if r.EntityID != 0 && r.EntityID != entityID {
		return false
	}
	if f := normalizeCurrency(r.FromCurrency); f != "" && f != from {
		return false
	}
	if t := normalizeCurrency(r.ToCurrency); t != "" && t != to {
		return false
	}
	return true
}

func (r Rule) matches(code string, class coa.Class, rawClass string) bool {
	switch r.Scope {
	case ScopeSpecificGL:
		return strings.TrimSpace(r.Target) == code
	case ScopeClass:
		return classMatches(r.Target, class, rawClass)
	case ScopeAll:
		return true
	}
	return false
}

func classMatches(label string, class coa.Class, rawClass string) bool {
	if class.Known() && coa.NormalizeClass(label) == class {
		return true
	}
	return coa.FoldName(label) != "" && coa.FoldName(label) == coa.FoldName(rawClass)
}

// Selection is the rate chosen for one account.
type Selection struct {
	Method Method          `json:"rate_type"`
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source"`
}

// ErrMissingRate reports that the selected rate type has no usable rate.
var ErrMissingRate = errors.New("fx: rate missing")

// ErrAmbiguousClass reports that no rate bucket or historical override applies.
var ErrAmbiguousClass = errors.New("fx: class has no rate bucket")

var one = decimal.NewFromInt(1)

// SelectRate chooses the translation rate of an account. The most specific
// matching rule (Specific GL, then Class, then All) wins; without a rule,
// balance sheet classes use the closing rate, P&L classes the average rate
// and any other class the first historical rate scoped to it. When nothing
// applies the rate is 1 with MethodNone and ErrAmbiguousClass is returned.
func SelectRate(code string, class coa.Class, rawClass string, rates RateSet, rules []Rule, policy Policy) (Selection, error) {
	policy = policy.withDefaults()
	var best *Rule
	for i := range rules {
		rule := rules[i]
		if !rule.matches(code, class, rawClass) {
			continue
		}
		if best == nil || rule.rank() > best.rank() {
			best = &rules[i]
		}
	}
	if best != nil {
		source := "rule:" + string(best.Scope)
		if best.Rate.Valid {
			if !best.Rate.Decimal.IsPositive() {
				return Selection{Method: best.Method, Source: source}, fmt.Errorf("%w: rule rate for %s is not positive", ErrMissingRate, code)
			}
			return Selection{Method: best.Method, Rate: best.Rate.Decimal, Source: source}, nil
		}
		sel, err := rateFor(best.Method, class, rawClass, rates)
		sel.Source = source
		return sel, err
	}

	var method Method
	switch class {
	case coa.ClassAssets, coa.ClassLiabilities, coa.ClassEquity:
		method = policy.BalanceSheetMethod
	case coa.ClassIncome, coa.ClassExpenses:
		method = policy.ProfitLossMethod
	default:
		method = MethodHistorical
	}
	sel, err := rateFor(method, class, rawClass, rates)
	sel.Source = "default"
	return sel, err
}

func rateFor(method Method, class coa.Class, rawClass string, rates RateSet) (Selection, error) {
	switch method {
	case MethodClosing:
		if !rates.Closing.IsPositive() {
			return Selection{Method: method}, fmt.Errorf("%w: closing", ErrMissingRate)
		}
		return Selection{Method: method, Rate: rates.Closing}, nil
	case MethodAverage:
		if !rates.Average.IsPositive() {
			return Selection{Method: method}, fmt.Errorf("%w: average", ErrMissingRate)
		}
		return Selection{Method: method, Rate: rates.Average}, nil
	case MethodHistorical:
		for _, h := range rates.Historical {
			if classMatches(h.AppliesToClass, class, rawClass) && h.Rate.IsPositive() {
				return Selection{Method: MethodHistorical, Rate: h.Rate}, nil
			}
		}
	}
	return Selection{Method: MethodNone, Rate: one}, ErrAmbiguousClass
}
