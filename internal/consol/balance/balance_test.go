package balance

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testChart() coa.Chart {
	return coa.NewChart([]coa.Account{
		{Code: "1000", Name: "Cash", Path: coa.HierarchyPath{Class: "Assets"}},
		{Code: "1100", Name: "IC receivable", Path: coa.HierarchyPath{Class: "Assets"}},
		{Code: "2000", Name: "Payables", Path: coa.HierarchyPath{Class: "Liabilities"}},
		{Code: "2100", Name: "IC payable", Path: coa.HierarchyPath{Class: "Liabilities"}},
		{Code: "3000", Name: "Share capital", Path: coa.HierarchyPath{Class: "Equity"}},
		{Code: "4000", Name: "Sales", Path: coa.HierarchyPath{Class: "Revenue"}},
		{Code: "5000", Name: "Cost of sales", Path: coa.HierarchyPath{Class: "Expenses"}},
	})
}

func TestNaturalSignInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	classes := []coa.Class{coa.ClassAssets, coa.ClassExpenses, coa.ClassLiabilities, coa.ClassEquity, coa.ClassIncome, coa.ClassUnknown}
	for i := 0; i < 500; i++ {
		debit := decimal.New(rng.Int63n(10_000_000), -2)
		credit := decimal.New(rng.Int63n(10_000_000), -2)
		for _, class := range classes {
			got := Natural(class, debit, credit)
			want := credit.Sub(debit)
			if class == coa.ClassAssets || class == coa.ClassExpenses {
				want = debit.Sub(credit)
			}
			if !got.Equal(want) {
				t.Fatalf("Natural(%s, %s, %s) = %s want %s", class, debit, credit, got, want)
			}
		}
	}
}

func TestNormalizeSumsRowsPerAccount(t *testing.T) {
	entries := []Entry{
		{EntityID: 1, Period: "2024-03", AccountCode: "1000", Debit: d("600"), Credit: d("0")},
		{EntityID: 1, Period: "2024-03", AccountCode: "1000", Debit: d("400"), Credit: d("50")},
		{EntityID: 1, Period: "2024-03", AccountCode: "4000", Debit: d("0"), Credit: d("500")},
		{EntityID: 1, Period: "2024-03", AccountCode: "9999", Debit: d("10"), Credit: d("0")},
	}
	got, report, err := Normalize(1, "2024-03", entries, testChart())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !got["1000"].Equal(d("950")) {
		t.Fatalf("expected cash 950 got %s", got["1000"])
	}
	if !got["4000"].Equal(d("500")) {
		t.Fatalf("expected revenue 500 got %s", got["4000"])
	}
	if !got["9999"].Equal(d("10")) {
		t.Fatalf("unmapped account should use debit convention, got %s", got["9999"])
	}
	if _, ok := got["2000"]; ok {
		t.Fatalf("accounts without rows must be absent")
	}
	unmapped := report.ByKind(issues.KindUnmappedAccount)
	if len(unmapped) != 1 || unmapped[0].Keys[0] != "9999" {
		t.Fatalf("expected unmapped warning for 9999, got %+v", report.Issues)
	}
}

func TestNormalizeRejectsForeignAndNegativeRows(t *testing.T) {
	_, _, err := Normalize(1, "2024-03", []Entry{{EntityID: 2, Period: "2024-03", AccountCode: "1000"}}, testChart())
	if issues.KindOf(err) != issues.KindInvalidInput {
		t.Fatalf("expected InvalidInput for foreign entity, got %v", err)
	}
	_, _, err = Normalize(1, "2024-03", []Entry{{EntityID: 1, Period: "2024-03", AccountCode: "1000", Debit: d("-1")}}, testChart())
	if issues.KindOf(err) != issues.KindInvalidInput {
		t.Fatalf("expected InvalidInput for negative debit, got %v", err)
	}
}

func TestApplyUsesTargetAccountClass(t *testing.T) {
	base := Balances{"1100": d("300"), "2100": d("300")}
	elim := []EliminationEntry{{
		ID: "E1",
		Lines: []EliminationLine{
			{AccountCode: "2100", Debit: d("300")},
			{AccountCode: "1100", Credit: d("300")},
		},
	}}
	adj := []Adjustment{{ID: "A1", DebitAccount: "5000", CreditAccount: "2000", Amount: d("25")}}
	got, report := Apply(base, elim, adj, testChart())
	if report.Len() != 0 {
		t.Fatalf("unexpected issues %+v", report.Issues)
	}
	if !got["1100"].IsZero() || !got["2100"].IsZero() {
		t.Fatalf("intercompany balances should eliminate to zero: %v", got)
	}
	if !got["5000"].Equal(d("25")) || !got["2000"].Equal(d("25")) {
		t.Fatalf("adjustment not applied: %v", got)
	}
	if !base["1100"].Equal(d("300")) {
		t.Fatalf("Apply must not mutate its input")
	}
}

func TestApplyIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	codes := []string{"1000", "2000", "3000", "4000", "5000", "7777"}
	entries := make([]EliminationEntry, 0, 20)
	for i := 0; i < 20; i++ {
		entries = append(entries, EliminationEntry{
			ID: "E",
			Lines: []EliminationLine{
				{AccountCode: codes[rng.Intn(len(codes))], Debit: decimal.New(rng.Int63n(100000), -3)},
				{AccountCode: codes[rng.Intn(len(codes))], Credit: decimal.New(rng.Int63n(100000), -3)},
			},
		})
	}
	adjs := make([]Adjustment, 0, 10)
	for i := 0; i < 10; i++ {
		adjs = append(adjs, Adjustment{
			ID:            "A",
			DebitAccount:  codes[rng.Intn(len(codes))],
			CreditAccount: codes[rng.Intn(len(codes))],
			Amount:        decimal.New(rng.Int63n(100000), -2),
		})
	}
	base := Balances{"1000": d("100.10"), "4000": d("55.55")}
	want, _ := Apply(base, entries, adjs, testChart())
	for round := 0; round < 25; round++ {
		shuffledE := append([]EliminationEntry(nil), entries...)
		shuffledA := append([]Adjustment(nil), adjs...)
		rng.Shuffle(len(shuffledE), func(i, j int) { shuffledE[i], shuffledE[j] = shuffledE[j], shuffledE[i] })
		rng.Shuffle(len(shuffledA), func(i, j int) { shuffledA[i], shuffledA[j] = shuffledA[j], shuffledA[i] })
		got, _ := Apply(base, shuffledE, shuffledA, testChart())
		if !got.Equal(want) {
			t.Fatalf("permutation %d changed the result: %v vs %v", round, got, want)
		}
		step, _ := ApplyAdjustments(base, shuffledA, testChart())
		step, _ = ApplyEliminations(step, shuffledE, testChart())
		if !step.Equal(want) {
			t.Fatalf("adjustments-first order changed the result")
		}
	}
}

func TestApplyReportsUnmappedTargets(t *testing.T) {
	_, report := Apply(Balances{}, []EliminationEntry{{ID: "E9", Lines: []EliminationLine{{AccountCode: "8888", Debit: d("1")}}}}, nil, testChart())
	if len(report.ByKind(issues.KindUnmappedAccount)) != 1 {
		t.Fatalf("expected an unmapped warning, got %+v", report.Issues)
	}
}
