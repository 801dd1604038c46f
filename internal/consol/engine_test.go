package consol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

const testPeriod = "2024-03"

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func entry(entityID int64, code, debit, credit string) balance.Entry {
	return balance.Entry{EntityID: entityID, Period: testPeriod, AccountCode: code, Debit: d(debit), Credit: d(credit)}
}

// groupSnapshot is a USD parent with a GBP subsidiary. The subsidiary owes the
// parent 80 GBP (100 USD at closing), eliminated at group level.
func groupSnapshot() Snapshot {
	paths := map[string]coa.HierarchyPath{
		"1000": {Class: "Assets", Subclass: "Current", Note: "Cash", Subnote: "Bank"},
		"1200": {Class: "Assets", Subclass: "Current", Note: "Receivables", Subnote: "Intercompany"},
		"2000": {Class: "Liabilities", Subclass: "Current", Note: "Payables", Subnote: "Trade"},
		"2100": {Class: "Liabilities", Subclass: "Current", Note: "Payables", Subnote: "Intercompany"},
		"3000": {Class: "Equity", Subclass: "Capital", Note: "Share capital", Subnote: "Ordinary"},
		"3900": {Class: "Equity", Subclass: "Reserves", Note: "FCTR", Subnote: "Translation reserve"},
		"4000": {Class: "Income", Subclass: "Operating", Note: "Revenue", Subnote: "Sales"},
		"5000": {Class: "Expenses", Subclass: "Operating", Note: "Costs", Subnote: "Salaries"},
	}
	codes := []string{"1000", "1200", "2000", "2100", "3000", "3900", "4000", "5000"}
	snap := Snapshot{
		GroupID:           1,
		GroupName:         "Odyssey Group",
		ReportingCurrency: "USD",
		Period:            testPeriod,
		Entities: []Entity{
			{ID: 2, Name: "Odyssey UK", FunctionalCurrency: "GBP"},
			{ID: 1, Name: "Odyssey Holdings", FunctionalCurrency: "USD"},
		},
		Entries: []balance.Entry{
			entry(1, "1000", "2000", "0"),
			entry(1, "1200", "100", "0"),
			entry(1, "2000", "0", "600"),
			entry(1, "3000", "0", "1000"),
			entry(1, "4000", "0", "800"),
			entry(1, "5000", "300", "0"),
			entry(2, "1000", "1000", "0"),
			entry(2, "2100", "0", "80"),
			entry(2, "3000", "0", "420"),
			entry(2, "4000", "0", "500"),
		},
		Eliminations: []balance.EliminationEntry{{
			ID:     "ic-1",
			Period: testPeriod,
			Source: "IC_ARAP:1:2",
			Lines: []balance.EliminationLine{
				{AccountCode: "2100", Debit: d("100"), Credit: decimal.Zero},
				{AccountCode: "1200", Debit: decimal.Zero, Credit: d("100")},
			},
		}},
		Rates: []fx.RateSet{{EntityID: 2, Period: testPeriod, Closing: d("1.25"), Average: d("1.20")}},
	}
	for _, code := range codes {
		snap.Accounts = append(snap.Accounts, coa.Account{Code: code, Name: paths[code].Subnote, Path: paths[code], Active: true, ToBeEliminated: code == "1200" || code == "2100"})
		snap.Hierarchy = append(snap.Hierarchy, coa.HierarchyNode{Path: paths[code], Active: true})
	}
	return snap
}

func groupScope() Scope {
	return Scope{GroupID: 1, Period: testPeriod}
}

func groupOptions() Options {
	return Options{FCTRAccount: "3900", Workers: 4, Evaluator: checks.ExprEvaluator{}}
}

func TestComputeConsolidatesTranslatedGroup(t *testing.T) {
	res, err := Compute(context.Background(), groupSnapshot(), groupScope(), groupOptions())
	require.NoError(t, err)
	require.Empty(t, res.Blocked)
	require.Len(t, res.Translations, 2)
	require.Equal(t, int64(1), res.Translations[0].EntityID)

	uk := res.Translations[1]
	require.True(t, uk.Required)
	require.True(t, uk.FCTR.Equal(d("25")), "fctr %s", uk.FCTR)
	require.True(t, uk.Balances["1000"].Equal(d("1250")))
	require.True(t, uk.Balances["4000"].Equal(d("600")))

	want := map[string]string{
		"1000": "3250", "1200": "0", "2000": "600", "2100": "0",
		"3000": "1525", "3900": "25", "4000": "1400", "5000": "300",
	}
	for code, amount := range want {
		require.True(t, res.Consolidated[code].Equal(d(amount)), "account %s = %s want %s", code, res.Consolidated[code], amount)
	}

	totals := res.Statements.Totals
	require.True(t, totals.Assets.Equal(d("3250")), "assets %s", totals.Assets)
	require.True(t, totals.Liabilities.Equal(d("600")))
	require.True(t, totals.NetIncome.Equal(d("1100")))
	require.True(t, totals.Equity.Equal(d("2650")), "equity %s", totals.Equity)
	require.True(t, totals.Assets.Sub(totals.Liabilities).Sub(totals.Equity).IsZero())

	for _, c := range res.Checks {
		require.NotEqual(t, checks.StatusFail, c.Status, "check %s: %s", c.Name, c.Message)
	}
	require.Equal(t, "USD", res.ReportingCurrency)
}

func TestComputeConsolidatedIsSumOfColumns(t *testing.T) {
	snap := groupSnapshot()
	snap.Adjustments = []balance.Adjustment{{ID: "adj-1", Period: testPeriod, DebitAccount: "5000", CreditAccount: "2000", Amount: d("40")}}
	res, err := Compute(context.Background(), snap, groupScope(), groupOptions())
	require.NoError(t, err)

	layers := make([]balance.Balances, 0)
	for _, tr := range res.Translations {
		layers = append(layers, tr.Balances)
	}
	chart := coa.NewChart(snap.Accounts)
	elims, _ := balance.Delta(snap.Eliminations, nil, chart)
	adjs, _ := balance.Delta(nil, snap.Adjustments, chart)
	layers = append(layers, elims, adjs)
	require.True(t, balance.Sum(layers...).Equal(res.Consolidated))
	require.True(t, res.Consolidated["5000"].Equal(d("340")))
	require.True(t, res.Statements.Totals.NetIncome.Equal(d("1060")))
}

func TestComputeDoesNotDependOnWorkers(t *testing.T) {
	opts := groupOptions()
	opts.Workers = 1
	sequential, err := Compute(context.Background(), groupSnapshot(), groupScope(), opts)
	require.NoError(t, err)
	want, err := json.Marshal(sequential)
	require.NoError(t, err)

	for _, workers := range []int{0, 2, 8} {
		opts.Workers = workers
		res, err := Compute(context.Background(), groupSnapshot(), groupScope(), opts)
		require.NoError(t, err)
		got, err := json.Marshal(res)
		require.NoError(t, err)
		require.JSONEq(t, string(want), string(got), "workers=%d", workers)
	}
}

func TestComputeBlocksEntityWithoutRates(t *testing.T) {
	snap := groupSnapshot()
	snap.Rates = nil
	res, err := Compute(context.Background(), snap, groupScope(), groupOptions())
	require.NoError(t, err)
	require.Equal(t, []int64{2}, res.Blocked)
	require.True(t, res.Issues.Blocking())
	require.NotEmpty(t, res.Issues.ByKind(issues.KindMissingExchangeRate))
	require.True(t, res.Consolidated["1000"].Equal(d("2000")), "blocked entity leaked into totals")

	var translation []checks.Result
	for _, c := range res.Checks {
		if c.Category == checks.CategoryTranslation {
			translation = append(translation, c)
		}
	}
	require.Len(t, translation, 1)
	require.Equal(t, checks.StatusFail, translation[0].Status)
}

func TestComputeScopeSelectsEntities(t *testing.T) {
	scope := groupScope()
	scope.Entities = []int64{1}
	res, err := Compute(context.Background(), groupSnapshot(), scope, groupOptions())
	require.NoError(t, err)
	require.Len(t, res.Translations, 1)
	require.True(t, res.Consolidated["3900"].IsZero())

	scope.Entities = []int64{42}
	_, err = Compute(context.Background(), groupSnapshot(), scope, groupOptions())
	require.Equal(t, issues.KindInvalidInput, issues.KindOf(err))
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	_, err := Compute(ctx, groupSnapshot(), Scope{GroupID: 2, Period: testPeriod}, groupOptions())
	require.Equal(t, issues.KindInvalidInput, issues.KindOf(err))

	_, err = Compute(ctx, groupSnapshot(), Scope{GroupID: 1, Period: "March"}, groupOptions())
	require.Equal(t, issues.KindInvalidInput, issues.KindOf(err))

	snap := groupSnapshot()
	snap.Entries = append(snap.Entries, entry(1, "1000", "-5", "0"))
	_, err = Compute(ctx, snap, groupScope(), groupOptions())
	require.Equal(t, issues.KindInvalidInput, issues.KindOf(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Compute(cancelled, groupSnapshot(), groupScope(), groupOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestComputeNoteNumbering(t *testing.T) {
	firstNote := func(res Result) int {
		return res.Statements.IncomeStatement.Sections[0].Groups[0].Lines[0].Note
	}
	res, err := Compute(context.Background(), groupSnapshot(), groupScope(), groupOptions())
	require.NoError(t, err)
	require.Equal(t, 1, firstNote(res))

	opts := groupOptions()
	opts.ContinueNumbering = true
	res, err = Compute(context.Background(), groupSnapshot(), groupScope(), opts)
	require.NoError(t, err)
	require.Greater(t, firstNote(res), 1)
}

func TestComputeRunsCustomChecks(t *testing.T) {
	snap := groupSnapshot()
	snap.CustomChecks = []checks.CustomCheck{
		{ID: "cash", Name: "Cash matches", Formula: "[1000]", Operator: checks.OpEqual, Expected: d("3250")},
		{ID: "ic", Name: "IC eliminated", Formula: "[1200] + [2100]", Operator: checks.OpEqual, Expected: decimal.Zero, Severity: checks.SeverityError},
	}
	res, err := Compute(context.Background(), snap, groupScope(), groupOptions())
	require.NoError(t, err)
	custom := map[string]checks.Status{}
	for _, c := range res.Checks {
		if c.Category == checks.CategoryCustom {
			custom[c.ID] = c.Status
		}
	}
	require.Equal(t, map[string]checks.Status{"cash": checks.StatusPass, "ic": checks.StatusPass}, custom)
}

func TestTranslateReturnsEntityResults(t *testing.T) {
	results, err := Translate(context.Background(), groupSnapshot(), groupScope(), groupOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Required)
	require.True(t, results[1].FCTR.Equal(d("25")))
	require.Equal(t, "3900", results[1].FCTRAccount)
}

func TestComputeReportsBalancesOutsideStatements(t *testing.T) {
	cases := []struct {
		name string
		path coa.HierarchyPath
		kind issues.Kind
	}{
		{name: "untagged", kind: issues.KindUnmappedAccount},
		{name: "class on no statement", path: coa.HierarchyPath{Class: "Suspense", Subclass: "Clearing", Note: "Suspense", Subnote: "Unallocated"}, kind: issues.KindHierarchyCycleOrGap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := groupSnapshot()
			snap.Accounts = append(snap.Accounts, coa.Account{Code: "9999", Name: "Suspense", Path: tc.path, Active: true})
			if tc.path.Complete() {
				snap.Hierarchy = append(snap.Hierarchy, coa.HierarchyNode{Path: tc.path, Active: true})
			}
			snap.Entries = append(snap.Entries, entry(1, "9999", "0", "40"))

			res, err := Compute(context.Background(), snap, groupScope(), groupOptions())
			require.NoError(t, err)
			require.False(t, res.Consolidated["9999"].IsZero())
			require.Equal(t, []string{"9999"}, res.Unplaced)

			var named []issues.Issue
			for _, issue := range res.Issues.ByKind(tc.kind) {
				if len(issue.Keys) == 1 && issue.Keys[0] == "9999" {
					named = append(named, issue)
				}
			}
			require.Len(t, named, 1, "issues: %+v", res.Issues.Issues)
			require.Equal(t, issues.SeverityWarning, named[0].Severity)

			var zero checks.Result
			for _, c := range res.Checks {
				if c.Name == checks.NameZeroTotal {
					zero = c
				}
			}
			require.Equal(t, checks.StatusFail, zero.Status)
			require.Contains(t, zero.Message, "9999")
		})
	}
}

func TestComputeReportsInactiveAccountsWithBalance(t *testing.T) {
	snap := groupSnapshot()
	for i := range snap.Accounts {
		if snap.Accounts[i].Code == "2000" {
			snap.Accounts[i].Active = false
		}
	}
	res, err := Compute(context.Background(), snap, groupScope(), groupOptions())
	require.NoError(t, err)

	inactive := res.Issues.ByKind(issues.KindInactiveAccount)
	require.Len(t, inactive, 1)
	require.Equal(t, []string{"2000"}, inactive[0].Keys)
	require.True(t, res.Statements.Totals.Liabilities.Equal(d("600")), "inactive balances stay consolidated")
	require.Empty(t, res.Unplaced)
}

func TestComputeTaggedGroupHasNothingUnplaced(t *testing.T) {
	res, err := Compute(context.Background(), groupSnapshot(), groupScope(), groupOptions())
	require.NoError(t, err)
	require.Empty(t, res.Unplaced)
	require.Empty(t, res.Issues.ByKind(issues.KindHierarchyCycleOrGap))
	require.Empty(t, res.Issues.ByKind(issues.KindInactiveAccount))
}
