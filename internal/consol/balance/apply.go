package balance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// EliminationLine is one GL line of an elimination entry.
type EliminationLine struct {
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo,omitempty"`
}

// EliminationEntry is a multi-line elimination journal. EntityID zero marks a
// group-level entry that is not tied to a member entity.
type EliminationEntry struct {
	ID       string            `json:"id"`
	Period   string            `json:"period"`
	EntityID int64             `json:"entity_id,omitempty"`
	Source   string            `json:"source,omitempty"`
	Lines    []EliminationLine `json:"lines"`
}

// Adjustment is a single two-sided posting.
type Adjustment struct {
	ID            string          `json:"id"`
	Period        string          `json:"period"`
	EntityID      int64           `json:"entity_id,omitempty"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
}

// ApplyEliminations folds every elimination line into a copy of base using the
// target account's sign convention. base is not modified.
func ApplyEliminations(base Balances, entries []EliminationEntry, chart ClassLookup) (Balances, issues.Report) {
	out := base.Clone()
	report := applyEliminations(out, entries, chart)
	return out, report
}

// ApplyAdjustments folds adjustments into a copy of base. The debit account
// receives the amount as a debit and the credit account as a credit.
func ApplyAdjustments(base Balances, adjustments []Adjustment, chart ClassLookup) (Balances, issues.Report) {
	out := base.Clone()
	report := applyAdjustments(out, adjustments, chart)
	return out, report
}

// Apply folds eliminations then adjustments into a copy of base. Addition is
// commutative, so the order of entries does not change the result.
func Apply(base Balances, entries []EliminationEntry, adjustments []Adjustment, chart ClassLookup) (Balances, issues.Report) {
	out := base.Clone()
	report := applyEliminations(out, entries, chart)
	report.Merge(applyAdjustments(out, adjustments, chart))
	return out, report
}

// Delta returns only the movement produced by entries and adjustments.
func Delta(entries []EliminationEntry, adjustments []Adjustment, chart ClassLookup) (Balances, issues.Report) {
	return Apply(Balances{}, entries, adjustments, chart)
}

func applyEliminations(out Balances, entries []EliminationEntry, chart ClassLookup) issues.Report {
	var report issues.Report
	for _, entry := range entries {
		for _, line := range entry.Lines {
			code := strings.TrimSpace(line.AccountCode)
			if code == "" {
				report.Warn(issues.KindUnmappedAccount, entry.EntityID,
					fmt.Sprintf("elimination %s has a line without account code", entry.ID), entry.ID)
				continue
			}
			class, mapped := resolveClass(chart, code)
			if !mapped {
				report.Warn(issues.KindUnmappedAccount, entry.EntityID,
					fmt.Sprintf("elimination %s targets account %s missing from the chart", entry.ID, code), code)
			}
			out.Add(code, Natural(class, line.Debit, line.Credit))
		}
	}
	return report
}

func applyAdjustments(out Balances, adjustments []Adjustment, chart ClassLookup) issues.Report {
	var report issues.Report
	for _, adj := range adjustments {
		sides := []struct {
			code   string
			debit  decimal.Decimal
			credit decimal.Decimal
		}{
			{code: adj.DebitAccount, debit: adj.Amount, credit: decimal.Zero},
			{code: adj.CreditAccount, debit: decimal.Zero, credit: adj.Amount},
		}
		for _, side := range sides {
			code := strings.TrimSpace(side.code)
			if code == "" {
				report.Warn(issues.KindUnmappedAccount, adj.EntityID,
					fmt.Sprintf("adjustment %s is missing one side of the posting", adj.ID), adj.ID)
				continue
			}
			class, mapped := resolveClass(chart, code)
			if !mapped {
				report.Warn(issues.KindUnmappedAccount, adj.EntityID,
					fmt.Sprintf("adjustment %s targets account %s missing from the chart", adj.ID, code), code)
			}
			out.Add(code, Natural(class, side.debit, side.credit))
		}
	}
	return report
}
