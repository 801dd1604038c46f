// Package checks validates a built statement set: fixed structural checks,
// translation blocking results and user-defined custom checks.
package checks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/statements"
)

// Tolerance is the absolute currency difference accepted by the checks.
var Tolerance = decimal.RequireFromString("0.01")

// Status is the outcome of a check.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
	StatusInfo    Status = "info"
)

// Severity grades a check definition.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Category groups checks.
type Category string

const (
	CategoryStructural     Category = "structural"
	CategoryReasonableness Category = "reasonableness"
	CategoryTranslation    Category = "translation"
	CategoryCustom         Category = "custom"
)

// Result is the ValidationResult of one check.
type Result struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Message  string   `json:"message"`
}

// Operator compares a custom check formula with its expected value.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// ParseOperator validates a stored operator.
func ParseOperator(raw string) (Operator, bool) {
	switch op := Operator(strings.TrimSpace(raw)); op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return op, true
	case "==":
		return OpEqual, true
	}
	return "", false
}

// CustomCheck is a user-defined check stored as metadata.
type CustomCheck struct {
	ID       string          `json:"id"`
	GroupID  int64           `json:"group_id" validate:"gte=0"`
	Name     string          `json:"name" validate:"required,max=120"`
	Formula  string          `json:"formula" validate:"required,max=500"`
	Operator Operator        `json:"operator" validate:"required,oneof== != < <= > >="`
	Expected decimal.Decimal `json:"expected"`
	Severity Severity        `json:"severity" validate:"omitempty,oneof=info warning error"`
}

// Evaluator computes a formula against an environment.
type Evaluator interface {
	Evaluate(formula string, env Env) (decimal.Decimal, error)
}

// ExprEvaluator evaluates formulas with ParseExpr.
type ExprEvaluator struct{}

// Evaluate implements Evaluator.
func (ExprEvaluator) Evaluate(formula string, env Env) (decimal.Decimal, error) {
	expr, err := ParseExpr(formula)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(env)
}

// Input is the state the checks run against.
type Input struct {
	Totals statements.Totals
	// Balances are the consolidated account balances, used by the independent
	// zero-total path and by account references in formulas.
	Balances balance.Balances
	Chart    balance.ClassLookup
	// Unplaced are consolidated balances no statement presents. When nil,
	// balances whose class is not one of the five are treated as unplaced.
	Unplaced balance.Balances
	Issues   issues.Report
}

// Account implements Env.
func (in Input) Account(code string) decimal.Decimal {
	return in.Balances[strings.TrimSpace(code)]
}

// Total implements Env.
func (in Input) Total(name string) (decimal.Decimal, bool) {
	switch name {
	case "assets":
		return in.Totals.Assets, true
	case "liabilities":
		return in.Totals.Liabilities, true
	case "equity":
		return in.Totals.Equity, true
	case "revenue":
		return in.Totals.Revenue, true
	case "expenses":
		return in.Totals.Expenses, true
	case "netIncome":
		return in.Totals.NetIncome, true
	}
	return decimal.Zero, false
}

// Check names.
const (
	NameBalanceSheet   = "Balance sheet balances"
	NameNetIncomeFlow  = "Net income flows to equity"
	NameZeroTotal      = "Zero total"
	NameNegativeEquity = "Negative equity"
	NameRevenue        = "Revenue reasonableness"
	NameTranslation    = "Currency translation"
)

// Run executes the fixed checks, one failing result per entity blocked by a
// missing exchange rate, and the custom checks. Without an evaluator custom
// checks are reported with status info.
func Run(in Input, custom []CustomCheck, eval Evaluator) []Result {
	t := in.Totals
	results := []Result{
		balanceSheetCheck(t),
		netIncomeFlowCheck(in),
		zeroTotalCheck(in),
		negativeEquityCheck(t),
		revenueCheck(t),
	}
	results = append(results, translationChecks(in.Issues)...)
	for _, c := range custom {
		results = append(results, runCustom(c, in, eval))
	}
	return results
}

// Summary counts results per status.
func Summary(results []Result) map[Status]int {
	out := make(map[Status]int, 4)
	for _, r := range results {
		out[r.Status]++
	}
	return out
}

func within(diff decimal.Decimal) bool {
	return diff.Abs().LessThanOrEqual(Tolerance)
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func balanceSheetCheck(t statements.Totals) Result {
	rhs := t.Liabilities.Add(t.Equity)
	res := Result{
		Name:     NameBalanceSheet,
		Category: CategoryStructural,
		Severity: SeverityError,
		Expected: money(t.Assets),
		Actual:   money(rhs),
	}
	if within(t.Assets.Sub(rhs)) {
		res.Status = StatusPass
		res.Message = "assets equal liabilities plus equity"
		return res
	}
	res.Status = StatusFail
	res.Message = fmt.Sprintf("assets %s differ from liabilities plus equity %s by %s", money(t.Assets), money(rhs), money(t.Assets.Sub(rhs)))
	return res
}

// accountTotals are the class sums recomputed from the account balances.
// Lost holds balances that no statement presents.
type accountTotals struct {
	sums map[coa.Class]decimal.Decimal
	lost balance.Balances
}

func sumAccounts(in Input) accountTotals {
	out := accountTotals{sums: make(map[coa.Class]decimal.Decimal), lost: make(balance.Balances)}
	for code, v := range in.Unplaced {
		if !v.IsZero() {
			out.lost[code] = v
		}
	}
	if in.Chart == nil {
		return out
	}
	for _, code := range in.Balances.Codes() {
		v := in.Balances[code]
		class, ok := in.Chart.ClassOf(code)
		if !ok {
			if !v.IsZero() {
				out.lost[code] = v
			}
			continue
		}
		if _, lost := out.lost[code]; lost {
			continue
		}
		if !class.Known() {
			if in.Unplaced == nil && !v.IsZero() {
				out.lost[code] = v
			}
			continue
		}
		out.sums[class] = out.sums[class].Add(v)
	}
	return out
}

func (a accountTotals) of(class coa.Class) decimal.Decimal {
	return a.sums[class]
}

// netIncomeFlowCheck rolls equity forward from the equity account balances
// plus the income statement result and compares it with balance sheet equity
// and with the closing equity of the equity statement. Without a chart the
// equity statement closing is the only roll-forward available.
func netIncomeFlowCheck(in Input) Result {
	t := in.Totals
	rolled := t.EquityClosing
	if in.Chart != nil {
		rolled = sumAccounts(in).of(coa.ClassEquity).Add(t.NetIncome)
	}
	res := Result{
		Name:     NameNetIncomeFlow,
		Category: CategoryStructural,
		Severity: SeverityError,
		Expected: money(t.Equity),
		Actual:   money(rolled),
	}
	if !t.ResultInBalanceSheet && !t.NetIncome.IsZero() {
		res.Status = StatusFail
		res.Message = fmt.Sprintf("net income %s is not carried into balance sheet equity", money(t.NetIncome))
		return res
	}
	if !within(t.Equity.Sub(rolled)) {
		res.Status = StatusFail
		res.Message = fmt.Sprintf("equity roll-forward %s differs from balance sheet equity %s", money(rolled), money(t.Equity))
		return res
	}
	if !within(t.EquityClosing.Sub(rolled)) {
		res.Status = StatusFail
		res.Actual = money(t.EquityClosing)
		res.Message = fmt.Sprintf("equity statement closes at %s, roll-forward gives %s", money(t.EquityClosing), money(rolled))
		return res
	}
	res.Status = StatusPass
	res.Message = fmt.Sprintf("net income %s rolls forward into equity", money(t.NetIncome))
	return res
}

// zeroTotalCheck recomputes assets - liabilities - equity from the account
// balances instead of the note aggregation. Any balance outside the statements
// fails the check: codes missing from the chart and the unplaced balances.
func zeroTotalCheck(in Input) Result {
	acc := sumAccounts(in)
	equity := acc.of(coa.ClassEquity)
	if in.Totals.ResultInBalanceSheet {
		equity = equity.Add(acc.of(coa.ClassIncome).Sub(acc.of(coa.ClassExpenses)))
	}
	diff := acc.of(coa.ClassAssets).Sub(acc.of(coa.ClassLiabilities)).Sub(equity)
	res := Result{
		Name:     NameZeroTotal,
		Category: CategoryStructural,
		Severity: SeverityError,
		Expected: money(decimal.Zero),
		Actual:   money(diff),
	}
	if len(acc.lost) > 0 {
		parts := make([]string, 0, len(acc.lost))
		for _, code := range acc.lost.Codes() {
			parts = append(parts, fmt.Sprintf("%s (%s)", code, money(acc.lost[code])))
		}
		res.Status = StatusFail
		res.Message = fmt.Sprintf("balances outside every statement: %s", strings.Join(parts, ", "))
		return res
	}
	if within(diff) {
		res.Status = StatusPass
		res.Message = "account balances net to zero"
		return res
	}
	res.Status = StatusFail
	res.Message = fmt.Sprintf("account balances leave a residual of %s", money(diff))
	return res
}

func negativeEquityCheck(t statements.Totals) Result {
	res := Result{
		Name:     NameNegativeEquity,
		Category: CategoryReasonableness,
		Severity: SeverityInfo,
		Expected: ">= 0",
		Actual:   money(t.Equity),
		Status:   StatusPass,
		Message:  "equity is not negative",
	}
	if t.Equity.IsNegative() {
		res.Status = StatusInfo
		res.Message = fmt.Sprintf("group equity is negative (%s)", money(t.Equity))
	}
	return res
}

func revenueCheck(t statements.Totals) Result {
	res := Result{
		Name:     NameRevenue,
		Category: CategoryReasonableness,
		Severity: SeverityWarning,
		Expected: "> 0",
		Actual:   money(t.Revenue),
		Status:   StatusPass,
		Message:  "revenue is positive",
	}
	switch {
	case t.Revenue.IsNegative():
		res.Status = StatusFail
		res.Message = fmt.Sprintf("revenue is negative (%s)", money(t.Revenue))
	case t.Revenue.IsZero():
		res.Status = StatusWarning
		res.Message = "no revenue recorded for the period"
	}
	return res
}

func translationChecks(report issues.Report) []Result {
	blocked := make(map[int64][]string)
	for _, issue := range report.ByKind(issues.KindMissingExchangeRate) {
		if issue.Severity == issues.SeverityBlocking {
			blocked[issue.EntityID] = append(blocked[issue.EntityID], issue.Keys...)
		}
	}
	ids := make([]int64, 0, len(blocked))
	for id := range blocked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, Result{
			Name:     NameTranslation,
			Category: CategoryTranslation,
			Severity: SeverityError,
			Status:   StatusFail,
			Expected: "exchange rate set",
			Actual:   "missing",
			Message:  fmt.Sprintf("entity %d cannot be translated (%s) and is excluded from the consolidation", id, strings.Join(blocked[id], ", ")),
		})
	}
	return out
}

func runCustom(c CustomCheck, in Input, eval Evaluator) Result {
	severity := c.Severity
	if severity == "" {
		severity = SeverityWarning
	}
	res := Result{
		ID:       c.ID,
		Name:     c.Name,
		Category: CategoryCustom,
		Severity: severity,
		Expected: fmt.Sprintf("%s %s", c.Operator, c.Expected.String()),
	}
	if eval == nil {
		res.Status = StatusInfo
		res.Actual = c.Formula
		res.Message = "custom check recorded; no formula evaluator configured"
		return res
	}
	value, err := eval.Evaluate(c.Formula, in)
	if err != nil {
		res.Status = StatusFail
		res.Actual = "error"
		res.Message = fmt.Sprintf("formula %q could not be evaluated: %v", c.Formula, err)
		return res
	}
	res.Actual = money(value)
	ok, err := compare(value, c.Operator, c.Expected)
	if err != nil {
		res.Status = StatusFail
		res.Message = err.Error()
		return res
	}
	if ok {
		res.Status = StatusPass
		res.Message = fmt.Sprintf("%s holds", c.Formula)
		return res
	}
	res.Message = fmt.Sprintf("%s = %s, expected %s %s", c.Formula, money(value), c.Operator, c.Expected.String())
	switch severity {
	case SeverityInfo:
		res.Status = StatusInfo
	case SeverityError:
		res.Status = StatusFail
	default:
		res.Status = StatusWarning
	}
	return res
}

// compare applies op with the check tolerance on equality.
func compare(value decimal.Decimal, op Operator, expected decimal.Decimal) (bool, error) {
	diff := value.Sub(expected)
	switch op {
	case OpEqual:
		return within(diff), nil
	case OpNotEqual:
		return !within(diff), nil
	case OpLess:
		return value.LessThan(expected), nil
	case OpLessEqual:
		return value.LessThanOrEqual(expected) || within(diff), nil
	case OpGreater:
		return value.GreaterThan(expected), nil
	case OpGreaterEqual:
		return value.GreaterThanOrEqual(expected) || within(diff), nil
	}
	return false, fmt.Errorf("checks: unsupported operator %q", op)
}
