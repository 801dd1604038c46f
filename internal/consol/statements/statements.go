// Package statements partitions note aggregations into the consolidated
// balance sheet, income statement, equity statement and cash flow statement.
package statements

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/notes"
)

// LineKind distinguishes detail lines from synthetic ones.
type LineKind string

const (
	LineNote   LineKind = "note"
	LineResult LineKind = "result"
)

// Line is a statement line item. Note is zero for synthetic lines.
type Line struct {
	Label  string          `json:"label"`
	Note   int             `json:"note,omitempty"`
	Kind   LineKind        `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// Group is a subclass with its lines and subtotal.
type Group struct {
	Name     string          `json:"name"`
	Lines    []Line          `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Section is a class of a statement.
type Section struct {
	Name   string          `json:"name"`
	Class  coa.Class       `json:"class"`
	Groups []Group         `json:"groups"`
	Total  decimal.Decimal `json:"total"`
}

// Statement is one consolidated statement. Total is total assets for the
// balance sheet, net income for the income statement, closing equity for the
// equity statement and net cash flow for the cash flow statement.
type Statement struct {
	Kind     coa.StatementKind `json:"kind"`
	Title    string            `json:"title"`
	Sections []Section         `json:"sections"`
	Total    decimal.Decimal   `json:"total"`
}

// Totals are the headline figures of a statement set.
type Totals struct {
	Assets               decimal.Decimal `json:"assets"`
	Liabilities          decimal.Decimal `json:"liabilities"`
	Equity               decimal.Decimal `json:"equity"`
	EquityTagged         decimal.Decimal `json:"equity_tagged"`
	Revenue              decimal.Decimal `json:"revenue"`
	Expenses             decimal.Decimal `json:"expenses"`
	NetIncome            decimal.Decimal `json:"net_income"`
	EquityClosing        decimal.Decimal `json:"equity_closing"`
	NetCashFlow          decimal.Decimal `json:"net_cash_flow"`
	ResultInBalanceSheet bool            `json:"result_in_balance_sheet"`
}

// Set is the four statements of a run.
type Set struct {
	BalanceSheet    Statement `json:"balance_sheet"`
	IncomeStatement Statement `json:"income_statement"`
	EquityStatement Statement `json:"equity_statement"`
	CashFlow        Statement `json:"cash_flow"`
	Totals          Totals    `json:"totals"`
}

// Input carries one note aggregation per statement.
type Input struct {
	BalanceSheet    notes.Aggregation
	IncomeStatement notes.Aggregation
	Equity          notes.Aggregation
	CashFlow        notes.Aggregation
}

// Options tune presentation.
type Options struct {
	// OmitCurrentResult leaves the unclosed period result out of balance sheet
	// equity. By default it is presented as its own equity line.
	OmitCurrentResult bool
}

// Titles of the statements.
const (
	TitleBalanceSheet    = "Consolidated Balance Sheet"
	TitleIncomeStatement = "Consolidated Income Statement"
	TitleEquity          = "Consolidated Statement of Changes in Equity"
	TitleCashFlow        = "Consolidated Cash Flow Statement"
	ResultLabel          = "Current period result"
	NetIncomeLabel       = "Net income for the period"
)

// Build assembles the statement set. Sections follow the order of the
// aggregation (statement layout), groups then lines then subtotal.
func Build(in Input, opts Options) Set {
	var set Set
	set.IncomeStatement = fromAggregation(in.IncomeStatement, coa.IncomeStatement, TitleIncomeStatement)
	revenue := in.IncomeStatement.ClassSum(coa.ClassIncome)
	expenses := in.IncomeStatement.ClassSum(coa.ClassExpenses)
	netIncome := revenue.Sub(expenses)
	set.IncomeStatement.Total = netIncome

	set.BalanceSheet = fromAggregation(in.BalanceSheet, coa.BalanceSheet, TitleBalanceSheet)
	assets := in.BalanceSheet.ClassSum(coa.ClassAssets)
	liabilities := in.BalanceSheet.ClassSum(coa.ClassLiabilities)
	equityTagged := in.BalanceSheet.ClassSum(coa.ClassEquity)
	equity := equityTagged
	if !opts.OmitCurrentResult {
		equity = equity.Add(netIncome)
		set.BalanceSheet.Sections = appendToEquity(set.BalanceSheet.Sections, Line{Label: ResultLabel, Kind: LineResult, Amount: netIncome})
	}
	set.BalanceSheet.Total = assets

	set.EquityStatement = fromAggregation(in.Equity, coa.EquityStatement, TitleEquity)
	set.EquityStatement.Sections = appendToEquity(set.EquityStatement.Sections, Line{Label: NetIncomeLabel, Kind: LineResult, Amount: netIncome})
	set.EquityStatement.Total = sumSections(set.EquityStatement.Sections)

	set.CashFlow = fromAggregation(in.CashFlow, coa.CashFlow, TitleCashFlow)
	set.CashFlow.Total = sumSections(set.CashFlow.Sections)

	set.Totals = Totals{
		Assets:               assets,
		Liabilities:          liabilities,
		Equity:               equity,
		EquityTagged:         equityTagged,
		Revenue:              revenue,
		Expenses:             expenses,
		NetIncome:            netIncome,
		EquityClosing:        set.EquityStatement.Total,
		NetCashFlow:          set.CashFlow.Total,
		ResultInBalanceSheet: !opts.OmitCurrentResult,
	}
	return set
}

func fromAggregation(agg notes.Aggregation, kind coa.StatementKind, title string) Statement {
	st := Statement{Kind: kind, Title: title, Total: decimal.Zero}
	for _, class := range agg.Classes {
		section := Section{Name: class.Name, Class: class.Class, Total: decimal.Zero}
		for _, sub := range class.Subclasses {
			group := Group{Name: sub.Name, Subtotal: decimal.Zero}
			for _, note := range sub.Notes {
				group.Lines = append(group.Lines, Line{Label: note.Title, Note: note.Number, Kind: LineNote, Amount: note.Amount()})
				group.Subtotal = group.Subtotal.Add(note.Amount())
			}
			section.Groups = append(section.Groups, group)
			section.Total = section.Total.Add(group.Subtotal)
		}
		st.Sections = append(st.Sections, section)
	}
	return st
}

// appendToEquity adds line as its own group at the end of the last equity
// section, creating the section when the hierarchy has none.
func appendToEquity(sections []Section, line Line) []Section {
	idx := -1
	for i := range sections {
		if sections[i].Class == coa.ClassEquity {
			idx = i
		}
	}
	if idx < 0 {
		sections = append(sections, Section{Name: string(coa.ClassEquity), Class: coa.ClassEquity, Total: decimal.Zero})
		idx = len(sections) - 1
	}
	sections[idx].Groups = append(sections[idx].Groups, Group{Name: line.Label, Lines: []Line{line}, Subtotal: line.Amount})
	sections[idx].Total = sections[idx].Total.Add(line.Amount)
	return sections
}

func sumSections(sections []Section) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range sections {
		sum = sum.Add(s.Total)
	}
	return sum
}
