package coa

import (
	"sort"
	"strings"
)

// HierarchyPath is the Class -> Subclass -> Note -> Subnote tag of an account.
type HierarchyPath struct {
	Class    string `json:"class"`
	Subclass string `json:"subclass"`
	Note     string `json:"note"`
	Subnote  string `json:"subnote"`
}

// Complete reports whether all four levels are tagged.
func (p HierarchyPath) Complete() bool {
	return strings.TrimSpace(p.Class) != "" &&
		strings.TrimSpace(p.Subclass) != "" &&
		strings.TrimSpace(p.Note) != "" &&
		strings.TrimSpace(p.Subnote) != ""
}

// Key returns the canonical identity of the path. Names are folded so the
// same path typed with different casing resolves to one node.
func (p HierarchyPath) Key() string {
	return strings.Join([]string{FoldName(p.Class), FoldName(p.Subclass), FoldName(p.Note), FoldName(p.Subnote)}, "|")
}

// NoteKey identifies the note level of the path.
func (p HierarchyPath) NoteKey() string {
	return strings.Join([]string{FoldName(p.Class), FoldName(p.Subclass), FoldName(p.Note)}, "|")
}

// String renders the path for reports.
func (p HierarchyPath) String() string {
	return strings.Join([]string{p.Class, p.Subclass, p.Note, p.Subnote}, " > ")
}

// HierarchyNode is a row of the master hierarchy. Parents are referenced by
// name path; uniqueness is the full tuple.
type HierarchyNode struct {
	Path   HierarchyPath `json:"path"`
	Active bool          `json:"active"`
}

// Account is a chart-of-accounts (GL) row.
type Account struct {
	Code           string        `json:"code"`
	Name           string        `json:"name"`
	Path           HierarchyPath `json:"path"`
	Active         bool          `json:"active"`
	ToBeEliminated bool          `json:"to_be_eliminated"`
}

// Class returns the normalised class of the account tag.
func (a Account) Class() Class {
	return NormalizeClass(a.Path.Class)
}

// Chart indexes accounts by code.
type Chart struct {
	accounts map[string]Account
	codes    []string
}

// NewChart indexes accounts. The first row for a duplicated code wins.
func NewChart(accounts []Account) Chart {
	chart := Chart{accounts: make(map[string]Account, len(accounts))}
	for _, acc := range accounts {
		code := strings.TrimSpace(acc.Code)
		if code == "" {
			continue
		}
		if _, ok := chart.accounts[code]; ok {
			continue
		}
		acc.Code = code
		chart.accounts[code] = acc
		chart.codes = append(chart.codes, code)
	}
	sort.Strings(chart.codes)
	return chart
}

// Lookup returns the account for code.
func (c Chart) Lookup(code string) (Account, bool) {
	acc, ok := c.accounts[strings.TrimSpace(code)]
	return acc, ok
}

// ClassOf returns the normalised class for code and whether the code exists.
func (c Chart) ClassOf(code string) (Class, bool) {
	acc, ok := c.Lookup(code)
	if !ok {
		return ClassUnknown, false
	}
	return acc.Class(), true
}

// Codes lists account codes in ascending order.
func (c Chart) Codes() []string {
	return append([]string(nil), c.codes...)
}

// Len returns the number of indexed accounts.
func (c Chart) Len() int {
	return len(c.codes)
}
