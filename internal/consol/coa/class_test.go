package coa

import "testing"

func TestNormalizeClassFoldsCaseAndPlurals(t *testing.T) {
	cases := map[string]Class{
		"Assets":        ClassAssets,
		"asset":         ClassAssets,
		"  ASSETS ":     ClassAssets,
		"Liability":     ClassLiabilities,
		"liabilities":   ClassLiabilities,
		"Equity":        ClassEquity,
		"equities":      ClassEquity,
		"Revenue":       ClassIncome,
		"revenues":      ClassIncome,
		"income":        ClassIncome,
		"Expenses":      ClassExpenses,
		"EXPENSE":       ClassExpenses,
		"Cash Flow":     ClassUnknown,
		"":              ClassUnknown,
		"Memorandum":    ClassUnknown,
		"contingencies": ClassUnknown,
	}
	for raw, want := range cases {
		if got := NormalizeClass(raw); got != want {
			t.Fatalf("NormalizeClass(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDebitNormal(t *testing.T) {
	if !ClassAssets.DebitNormal() || !ClassExpenses.DebitNormal() {
		t.Fatalf("assets and expenses must be debit normal")
	}
	for _, c := range []Class{ClassLiabilities, ClassEquity, ClassIncome, ClassUnknown} {
		if c.DebitNormal() {
			t.Fatalf("%q must not be debit normal", c)
		}
	}
}

func TestChartFirstDuplicateWins(t *testing.T) {
	chart := NewChart([]Account{
		{Code: "1000", Name: "Cash"},
		{Code: " 1000 ", Name: "Duplicate"},
		{Code: "", Name: "blank"},
		{Code: "0900", Name: "Petty cash"},
	})
	if chart.Len() != 2 {
		t.Fatalf("expected 2 accounts got %d", chart.Len())
	}
	acc, ok := chart.Lookup("1000")
	if !ok || acc.Name != "Cash" {
		t.Fatalf("unexpected account %+v", acc)
	}
	codes := chart.Codes()
	if codes[0] != "0900" || codes[1] != "1000" {
		t.Fatalf("codes not sorted: %v", codes)
	}
}

func TestHierarchyPathKeyIgnoresCase(t *testing.T) {
	a := HierarchyPath{Class: "Assets", Subclass: "Current", Note: "Cash", Subnote: "Bank"}
	b := HierarchyPath{Class: "assets", Subclass: "current ", Note: "CASH", Subnote: "bank"}
	if a.Key() != b.Key() {
		t.Fatalf("expected equal keys: %q vs %q", a.Key(), b.Key())
	}
	if !a.Complete() {
		t.Fatalf("expected complete path")
	}
	if (HierarchyPath{Class: "Assets"}).Complete() {
		t.Fatalf("partial path reported complete")
	}
}
