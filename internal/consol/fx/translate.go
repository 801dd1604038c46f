package fx

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// AccountLookup resolves GL accounts for class and tag information.
type AccountLookup interface {
	Lookup(code string) (coa.Account, bool)
}

// Input is the translation request of a single entity and period.
type Input struct {
	EntityID           int64
	Period             string
	FunctionalCurrency string
	// TBCurrency is the currency the stored trial balance was recorded in.
	TBCurrency string
	Balances   balance.Balances
	Rates      *RateSet
	Rules      []Rule
}

// Line is the translation outcome of a single account.
type Line struct {
	AccountCode string          `json:"account_code"`
	Class       coa.Class       `json:"class"`
	Raw         decimal.Decimal `json:"raw"`
	Rate        decimal.Decimal `json:"rate"`
	Translated  decimal.Decimal `json:"translated"`
	Method      Method          `json:"rate_type"`
	Source      string          `json:"source"`
}

// Result is the translated balance set of an entity.
type Result struct {
	EntityID     int64            `json:"entity_id"`
	Period       string           `json:"period"`
	FromCurrency string           `json:"from_currency"`
	ToCurrency   string           `json:"to_currency"`
	Required     bool             `json:"required"`
	Bypassed     bool             `json:"bypassed"`
	Blocked      bool             `json:"blocked"`
	Lines        []Line           `json:"lines"`
	Balances     balance.Balances `json:"balances"`
	FCTR         decimal.Decimal  `json:"fctr"`
	FCTRAccount  string           `json:"fctr_account,omitempty"`
	Issues       issues.Report    `json:"issues"`
}

// Translator applies the FX policy to entity balances.
type Translator struct {
	policy   Policy
	accounts AccountLookup
}

// NewTranslator constructs a translator instance.
func NewTranslator(policy Policy, accounts AccountLookup) *Translator {
	return &Translator{policy: policy.withDefaults(), accounts: accounts}
}

// Translate converts in.Balances to the reporting currency. Translation only
// runs when the functional currency differs from the reporting currency. A
// trial balance already recorded in the reporting currency is carried at 1
// and flagged as bypassed. A missing rate set blocks the entity.
func (t *Translator) Translate(in Input) Result {
	from := normalizeCurrency(in.FunctionalCurrency)
	to := t.policy.ReportingCurrency
	res := Result{
		EntityID:     in.EntityID,
		Period:       in.Period,
		FromCurrency: from,
		ToCurrency:   to,
		FCTR:         decimal.Zero,
	}
	if from == "" || from == to {
		t.carryAtParity(&res, in.Balances, MethodParity)
		return res
	}
	res.Required = true

	if tb := normalizeCurrency(in.TBCurrency); tb != "" && tb == to {
		res.Bypassed = true
		t.carryAtParity(&res, in.Balances, MethodParity)
		res.Issues.Warn(issues.KindTranslationBypassed, in.EntityID,
			fmt.Sprintf("trial balance of entity %d for %s is recorded in %s although its functional currency is %s; carried at rate 1", in.EntityID, in.Period, tb, from))
		return res
	}

	if in.Rates == nil {
		res.Blocked = true
		res.Issues.Block(issues.KindMissingExchangeRate, in.EntityID,
			fmt.Sprintf("no exchange rate set for entity %d in %s (%s%s)", in.EntityID, in.Period, from, to), from+to)
		return res
	}

	rules := make([]Rule, 0, len(in.Rules))
	for _, rule := range in.Rules {
		if rule.appliesTo(in.EntityID, from, to) {
			rules = append(rules, rule)
		}
	}
	fctrAccount := t.fctrAccount(rules)

	res.Balances = make(balance.Balances, len(in.Balances))
	res.Lines = make([]Line, 0, len(in.Balances)+1)
	missing := make([]string, 0)
	var sums classTotals
	for _, code := range in.Balances.Codes() {
		raw := in.Balances[code]
		class, rawClass := t.classOf(code)
		sel, err := SelectRate(code, class, rawClass, *in.Rates, rules, t.policy)
		switch {
		case errors.Is(err, ErrMissingRate):
			missing = append(missing, code)
			continue
		case errors.Is(err, ErrAmbiguousClass):
			res.Issues.Warn(issues.KindAmbiguousRateClass, in.EntityID,
				fmt.Sprintf("account %s class %q has no rate bucket; translated at 1", code, rawClass), code)
		}
		translated := raw.Mul(sel.Rate)
		res.Lines = append(res.Lines, Line{
			AccountCode: code,
			Class:       class,
			Raw:         raw,
			Rate:        sel.Rate,
			Translated:  translated,
			Method:      sel.Method,
			Source:      sel.Source,
		})
		res.Balances[code] = translated
		if code != fctrAccount {
			sums.add(class, translated)
		}
	}
	if len(missing) > 0 {
		res.Blocked = true
		res.Balances = nil
		res.Lines = nil
		res.Issues.Block(issues.KindMissingExchangeRate, in.EntityID,
			fmt.Sprintf("exchange rate set of entity %d for %s lacks rates needed by %d account(s)", in.EntityID, in.Period, len(missing)), missing...)
		return res
	}

	res.FCTR = sums.residual()
	res.FCTRAccount = fctrAccount
	if fctrAccount == "" {
		if !res.FCTR.IsZero() {
			res.Issues.Warn(issues.KindUnmappedAccount, in.EntityID,
				fmt.Sprintf("no FCTR account configured for entity %d; residual %s not posted", in.EntityID, res.FCTR.StringFixed(2)))
		}
		return res
	}
	if class, _ := t.classOf(fctrAccount); class != coa.ClassEquity {
		res.Issues.Warn(issues.KindUnmappedAccount, in.EntityID,
			fmt.Sprintf("FCTR account %s is not tagged as equity", fctrAccount), fctrAccount)
	}
	res.Balances[fctrAccount] = res.FCTR
	res.Lines = replaceFCTRLine(res.Lines, fctrAccount, in.Balances[fctrAccount], res.FCTR)
	return res
}

func (t *Translator) carryAtParity(res *Result, balances balance.Balances, method Method) {
	res.Balances = balances.Clone()
	res.Lines = make([]Line, 0, len(balances))
	for _, code := range balances.Codes() {
		class, _ := t.classOf(code)
		res.Lines = append(res.Lines, Line{
			AccountCode: code,
			Class:       class,
			Raw:         balances[code],
			Rate:        one,
			Translated:  balances[code],
			Method:      method,
			Source:      "parity",
		})
	}
}

func (t *Translator) classOf(code string) (coa.Class, string) {
	if t.accounts == nil {
		return coa.ClassUnknown, ""
	}
	acc, ok := t.accounts.Lookup(code)
	if !ok {
		return coa.ClassUnknown, ""
	}
	return acc.Class(), acc.Path.Class
}

func (t *Translator) fctrAccount(rules []Rule) string {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].rank() > sorted[j].rank() })
	for _, rule := range sorted {
		if acc := strings.TrimSpace(rule.FCTRAccount); acc != "" {
			return acc
		}
	}
	return strings.TrimSpace(t.policy.FCTRAccount)
}

func replaceFCTRLine(lines []Line, code string, raw, fctr decimal.Decimal) []Line {
	line := Line{
		AccountCode: code,
		Class:       coa.ClassEquity,
		Raw:         raw,
		Rate:        one,
		Translated:  fctr,
		Method:      MethodFCTR,
		Source:      "residual",
	}
	for i := range lines {
		if lines[i].AccountCode == code {
			lines[i] = line
			return lines
		}
	}
	lines = append(lines, line)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].AccountCode < lines[j].AccountCode })
	return lines
}

// classTotals accumulates translated balances per class for the FCTR residual.
type classTotals struct {
	assets, liabilities, equity, income, expenses decimal.Decimal
}

func (c *classTotals) add(class coa.Class, amount decimal.Decimal) {
	switch class {
	case coa.ClassAssets:
		c.assets = c.assets.Add(amount)
	case coa.ClassLiabilities:
		c.liabilities = c.liabilities.Add(amount)
	case coa.ClassEquity:
		c.equity = c.equity.Add(amount)
	case coa.ClassIncome:
		c.income = c.income.Add(amount)
	case coa.ClassExpenses:
		c.expenses = c.expenses.Add(amount)
	}
}

// residual is the equity plug that restores Assets = Liabilities + Equity once
// balance sheet items sit at closing rate and the period result at average
// rate. The current-period result counts as equity excluding FCTR.
func (c classTotals) residual() decimal.Decimal {
	result := c.income.Sub(c.expenses)
	return c.assets.Sub(c.liabilities).Sub(c.equity).Sub(result)
}
