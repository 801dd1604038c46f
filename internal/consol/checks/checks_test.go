package checks

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/statements"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func chartAccounts() []coa.Account {
	return []coa.Account{
		{Code: "1000", Path: coa.HierarchyPath{Class: "Assets"}},
		{Code: "2000", Path: coa.HierarchyPath{Class: "Liabilities"}},
		{Code: "3000", Path: coa.HierarchyPath{Class: "Equity"}},
		{Code: "4000", Path: coa.HierarchyPath{Class: "Revenue"}},
		{Code: "5000", Path: coa.HierarchyPath{Class: "Expenses"}},
	}
}

func chart() coa.Chart {
	return coa.NewChart(chartAccounts())
}

func balancedInput() Input {
	return Input{
		Totals: statements.Totals{
			Assets:               d("1000"),
			Liabilities:          d("400"),
			Equity:               d("600"),
			EquityTagged:         d("500"),
			Revenue:              d("300"),
			Expenses:             d("200"),
			NetIncome:            d("100"),
			EquityClosing:        d("600"),
			ResultInBalanceSheet: true,
		},
		Balances: balance.Balances{
			"1000": d("1000"),
			"2000": d("400"),
			"3000": d("500"),
			"4000": d("300"),
			"5000": d("200"),
		},
		Chart: chart(),
	}
}

func byName(results []Result, name string) Result {
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	return Result{}
}

func TestRunPassesBalancedSet(t *testing.T) {
	results := Run(balancedInput(), nil, nil)
	if len(results) != 5 {
		t.Fatalf("expected five fixed checks, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusPass {
			t.Fatalf("expected %s to pass, got %+v", r.Name, r)
		}
	}
}

func TestRunWithinTolerance(t *testing.T) {
	in := balancedInput()
	in.Totals.Assets = d("1000.01")
	if got := byName(Run(in, nil, nil), NameBalanceSheet); got.Status != StatusPass {
		t.Fatalf("difference of 0.01 must pass, got %+v", got)
	}
	in.Totals.Assets = d("1000.02")
	if got := byName(Run(in, nil, nil), NameBalanceSheet); got.Status != StatusFail {
		t.Fatalf("difference of 0.02 must fail, got %+v", got)
	}
}

func TestZeroTotalUsesAccountBalances(t *testing.T) {
	in := balancedInput()
	in.Balances["1000"] = d("1005")
	got := byName(Run(in, nil, nil), NameZeroTotal)
	if got.Status != StatusFail || got.Actual != "5.00" {
		t.Fatalf("expected residual 5.00, got %+v", got)
	}
	// The statement totals still balance; only the independent path sees it.
	if byName(Run(in, nil, nil), NameBalanceSheet).Status != StatusPass {
		t.Fatalf("balance sheet check should rely on statement totals")
	}
}

func TestNetIncomeFlow(t *testing.T) {
	in := balancedInput()
	in.Totals.EquityClosing = d("590")
	if got := byName(Run(in, nil, nil), NameNetIncomeFlow); got.Status != StatusFail {
		t.Fatalf("expected roll-forward failure, got %+v", got)
	}
	in = balancedInput()
	in.Totals.ResultInBalanceSheet = false
	if got := byName(Run(in, nil, nil), NameNetIncomeFlow); got.Status != StatusFail {
		t.Fatalf("unclosed result must fail when omitted from equity, got %+v", got)
	}
}

func TestNetIncomeFlowRecomputesEquityFromAccounts(t *testing.T) {
	in := balancedInput()
	in.Balances["3000"] = d("450")
	got := byName(Run(in, nil, nil), NameNetIncomeFlow)
	if got.Status != StatusFail || got.Actual != "550.00" || got.Expected != "600.00" {
		t.Fatalf("expected equity accounts plus net income to diverge from balance sheet equity, got %+v", got)
	}

	in = balancedInput()
	in.Chart = nil
	in.Totals.EquityClosing = d("600")
	if got := byName(Run(in, nil, nil), NameNetIncomeFlow); got.Status != StatusPass {
		t.Fatalf("without a chart the equity statement closing is compared, got %+v", got)
	}
}

func TestZeroTotalFailsOnBalancesOutsideStatements(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Input)
	}{
		{
			name: "unplaced balance",
			mutate: func(in *Input) {
				in.Balances["9999"] = d("40")
				in.Unplaced = balance.Balances{"9999": d("40")}
			},
		},
		{
			name:   "code missing from chart",
			mutate: func(in *Input) { in.Balances["9999"] = d("40") },
		},
		{
			name: "unknown class without placement",
			mutate: func(in *Input) {
				in.Chart = coa.NewChart(append(chartAccounts(), coa.Account{Code: "9999", Path: coa.HierarchyPath{Class: "Suspense"}}))
				in.Balances["9999"] = d("40")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := balancedInput()
			tc.mutate(&in)
			got := byName(Run(in, nil, nil), NameZeroTotal)
			if got.Status != StatusFail || got.Message != "balances outside every statement: 9999 (40.00)" {
				t.Fatalf("expected 9999 to fail the zero total, got %+v", got)
			}
		})
	}

	in := balancedInput()
	in.Chart = coa.NewChart(append(chartAccounts(), coa.Account{Code: "9000", Path: coa.HierarchyPath{Class: "Cash Flow"}}))
	in.Balances["9000"] = d("75")
	in.Unplaced = balance.Balances{}
	if got := byName(Run(in, nil, nil), NameZeroTotal); got.Status != StatusPass {
		t.Fatalf("balances presented on the cash flow statement are not lost, got %+v", got)
	}
}

func TestReasonablenessChecks(t *testing.T) {
	in := balancedInput()
	in.Totals.Equity = d("-10")
	if got := byName(Run(in, nil, nil), NameNegativeEquity); got.Status != StatusInfo {
		t.Fatalf("negative equity should be informational, got %+v", got)
	}
	in = balancedInput()
	in.Totals.Revenue = decimal.Zero
	if got := byName(Run(in, nil, nil), NameRevenue); got.Status != StatusWarning {
		t.Fatalf("zero revenue should warn, got %+v", got)
	}
	in.Totals.Revenue = d("-1")
	if got := byName(Run(in, nil, nil), NameRevenue); got.Status != StatusFail {
		t.Fatalf("negative revenue should fail, got %+v", got)
	}
}

func TestBlockedEntitiesFailTranslation(t *testing.T) {
	in := balancedInput()
	in.Issues.Block(issues.KindMissingExchangeRate, 7, "no rates", "GBPUSD")
	in.Issues.Warn(issues.KindTranslationBypassed, 3, "bypassed")
	results := Run(in, nil, nil)
	if len(results) != 6 {
		t.Fatalf("expected one translation result, got %d", len(results))
	}
	last := results[5]
	if last.Category != CategoryTranslation || last.Status != StatusFail {
		t.Fatalf("unexpected translation result %+v", last)
	}
}

func TestCustomChecks(t *testing.T) {
	in := balancedInput()
	custom := []CustomCheck{
		{ID: "c1", Name: "Cash covers payables", Formula: "[1000] - [2000]", Operator: OpGreaterEqual, Expected: d("500")},
		{ID: "c2", Name: "Margin", Formula: "netIncome / revenue * 100", Operator: OpGreater, Expected: d("50"), Severity: SeverityError},
		{ID: "c3", Name: "Broken", Formula: "assets +", Operator: OpEqual, Expected: decimal.Zero},
	}

	recorded := Run(in, custom, nil)
	for _, r := range recorded[5:] {
		if r.Status != StatusInfo {
			t.Fatalf("without an evaluator custom checks are informational, got %+v", r)
		}
	}

	results := Run(in, custom, ExprEvaluator{})
	if got := results[5]; got.Status != StatusPass || got.Actual != "600.00" {
		t.Fatalf("unexpected c1 %+v", got)
	}
	if got := results[6]; got.Status != StatusFail || got.Actual != "33.33" {
		t.Fatalf("unexpected c2 %+v", got)
	}
	if got := results[7]; got.Status != StatusFail || got.Actual != "error" {
		t.Fatalf("unexpected c3 %+v", got)
	}
}

type mapEnv map[string]decimal.Decimal

func (m mapEnv) Account(code string) decimal.Decimal { return m[code] }

func (m mapEnv) Total(name string) (decimal.Decimal, bool) {
	v, ok := m[name]
	return v, ok
}

func TestParseExpr(t *testing.T) {
	env := mapEnv{"1000": d("10"), "assets": d("100"), "netIncome": d("4")}
	cases := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"-[1000] + Assets", "90"},
		{"netincome / 8", "0.5"},
		{"[ 1000 ] - - 2", "12"},
	}
	for _, tc := range cases {
		expr, err := ParseExpr(tc.src)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.src, err)
		}
		got, err := expr.Eval(env)
		if err != nil {
			t.Fatalf("eval %q: %v", tc.src, err)
		}
		if !got.Equal(d(tc.want)) {
			t.Fatalf("%q = %s, want %s", tc.src, got, tc.want)
		}
	}

	for _, bad := range []string{"", "os.Exit(1)", "assets +", "(1 + 2", "[1000", "1 ; 2", "goodwill"} {
		if _, err := ParseExpr(bad); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected syntax error for %q, got %v", bad, err)
		}
	}

	expr, err := ParseExpr("assets / ([1000] - 10)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := expr.Eval(env); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestParseOperator(t *testing.T) {
	if op, ok := ParseOperator("=="); !ok || op != OpEqual {
		t.Fatalf("== should map to =")
	}
	if _, ok := ParseOperator("=~"); ok {
		t.Fatalf("unexpected operator accepted")
	}
}
