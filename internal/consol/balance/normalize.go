// Package balance turns raw debit/credit postings into signed natural balances
// and folds eliminations and adjustments into them.
package balance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// Entry is a trial balance row. Several rows may exist per account and are summed.
type Entry struct {
	EntityID    int64           `json:"entity_id"`
	Period      string          `json:"period"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// Balances maps account code to signed natural balance.
type Balances map[string]decimal.Decimal

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for code, amount := range b {
		out[code] = amount
	}
	return out
}

// Codes returns the account codes in ascending order.
func (b Balances) Codes() []string {
	codes := make([]string, 0, len(b))
	for code := range b {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Add accumulates amount into code.
func (b Balances) Add(code string, amount decimal.Decimal) {
	b[code] = b[code].Add(amount)
}

// Sum merges several balance maps into a new one.
func Sum(maps ...Balances) Balances {
	out := make(Balances)
	for _, m := range maps {
		for code, amount := range m {
			out.Add(code, amount)
		}
	}
	return out
}

// Equal reports whether both maps hold the same codes with equal amounts.
func (b Balances) Equal(other Balances) bool {
	if len(b) != len(other) {
		return false
	}
	for code, amount := range b {
		v, ok := other[code]
		if !ok || !v.Equal(amount) {
			return false
		}
	}
	return true
}

// ClassLookup resolves an account code to its normalised class.
type ClassLookup interface {
	ClassOf(code string) (coa.Class, bool)
}

// Natural applies the sign convention: debit-normal classes (Assets, Expenses)
// return debit-credit, every other class returns credit-debit.
func Natural(class coa.Class, debit, credit decimal.Decimal) decimal.Decimal {
	if class.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// resolveClass returns the class used for sign resolution. Codes missing from
// the chart fall back to the Assets (debit) convention.
func resolveClass(chart ClassLookup, code string) (coa.Class, bool) {
	class, ok := chart.ClassOf(code)
	if !ok {
		return coa.ClassAssets, false
	}
	return class, true
}

// Normalize sums the entries of a single (entity, period) per account and
// converts each pair to its natural balance. Accounts without rows are absent.
// Codes missing from the chart are reported as UnmappedAccount and signed with
// the debit convention.
func Normalize(entityID int64, period string, entries []Entry, chart ClassLookup) (Balances, issues.Report, error) {
	var report issues.Report
	type pair struct{ debit, credit decimal.Decimal }
	sums := make(map[string]pair)
	for i, entry := range entries {
		if entry.EntityID != entityID || entry.Period != period {
			return nil, report, issues.Errorf(issues.KindInvalidInput, []string{entry.AccountCode},
				"balance: row %d belongs to entity %d period %s, expected entity %d period %s", i, entry.EntityID, entry.Period, entityID, period)
		}
		if entry.Debit.IsNegative() || entry.Credit.IsNegative() {
			return nil, report, issues.Errorf(issues.KindInvalidInput, []string{entry.AccountCode},
				"balance: row %d has a negative debit or credit", i)
		}
		code := strings.TrimSpace(entry.AccountCode)
		if code == "" {
			return nil, report, issues.Errorf(issues.KindInvalidInput, nil, "balance: row %d has no account code", i)
		}
		p := sums[code]
		p.debit = p.debit.Add(entry.Debit)
		p.credit = p.credit.Add(entry.Credit)
		sums[code] = p
	}

	out := make(Balances, len(sums))
	codes := make([]string, 0, len(sums))
	for code := range sums {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		class, mapped := resolveClass(chart, code)
		if !mapped {
			report.Warn(issues.KindUnmappedAccount, entityID,
				fmt.Sprintf("account %s is in the trial balance but not in the chart of accounts", code), code)
		}
		p := sums[code]
		out[code] = Natural(class, p.debit, p.credit)
	}
	return out, report, nil
}
