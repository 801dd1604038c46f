// Package coa holds the chart-of-accounts vocabulary shared by the consolidation
// stages: account classes, the four-level master hierarchy and the chart index.
package coa

import (
	"strings"

	"golang.org/x/text/cases"
)

// Class is the normalised top-level account class.
type Class string

const (
	ClassUnknown     Class = ""
	ClassAssets      Class = "Assets"
	ClassLiabilities Class = "Liabilities"
	ClassEquity      Class = "Equity"
	ClassIncome      Class = "Income"
	ClassExpenses    Class = "Expenses"
)

// StatementKind identifies one of the four consolidated statements.
type StatementKind string

const (
	BalanceSheet    StatementKind = "balance_sheet"
	IncomeStatement StatementKind = "income_statement"
	EquityStatement StatementKind = "equity_statement"
	CashFlow        StatementKind = "cash_flow"
)

// classAliases maps folded singular stems to their class.
var classAliases = map[string]Class{
	"asset":     ClassAssets,
	"liability": ClassLiabilities,
	"equity":    ClassEquity,
	"income":    ClassIncome,
	"revenue":   ClassIncome,
	"expense":   ClassExpenses,
}

// FoldName case-folds and trims a hierarchy name for comparisons. A Caser is
// stateful, so one is built per call to keep FoldName safe across goroutines.
func FoldName(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// singularForms lists the word and its candidate singular forms.
func singularForms(word string) []string {
	forms := []string{word}
	if strings.HasSuffix(word, "ies") {
		forms = append(forms, strings.TrimSuffix(word, "ies")+"y")
	}
	if strings.HasSuffix(word, "es") {
		forms = append(forms, strings.TrimSuffix(word, "es"))
	}
	if strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		forms = append(forms, strings.TrimSuffix(word, "s"))
	}
	return forms
}

// NormalizeClass resolves a raw class label case-insensitively with plural and
// singular forms folded together. Unrecognised labels return ClassUnknown.
func NormalizeClass(raw string) Class {
	folded := FoldName(raw)
	if folded == "" {
		return ClassUnknown
	}
	for _, form := range singularForms(folded) {
		if class, ok := classAliases[form]; ok {
			return class
		}
	}
	return ClassUnknown
}

// DebitNormal reports whether the class carries a debit-positive natural balance.
func (c Class) DebitNormal() bool {
	return c == ClassAssets || c == ClassExpenses
}

// Statement returns the primary statement a class is presented on.
func (c Class) Statement() (StatementKind, bool) {
	switch c {
	case ClassAssets, ClassLiabilities, ClassEquity:
		return BalanceSheet, true
	case ClassIncome, ClassExpenses:
		return IncomeStatement, true
	}
	return "", false
}

// Known reports whether the class resolved to one of the five buckets.
func (c Class) Known() bool {
	return c != ClassUnknown
}
