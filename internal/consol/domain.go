package consol

import (
	"time"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/notes"
	"github.com/odyssey-erp/consolidation/internal/consol/statements"
)

// Scope selects the group, period and member entities of a run. An empty
// Entities slice includes every member.
type Scope struct {
	GroupID  int64   `json:"group_id"`
	Period   string  `json:"period"`
	Entities []int64 `json:"entities,omitempty"`
}

// Entity is a member of a consolidation group.
type Entity struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	FunctionalCurrency string `json:"functional_currency"`
	// TBCurrency is the currency the trial balance was uploaded in. Empty means
	// the functional currency.
	TBCurrency string `json:"tb_currency,omitempty"`
}

// Snapshot is the reference data read for one run.
type Snapshot struct {
	GroupID           int64
	GroupName         string
	ReportingCurrency string
	Period            string
	Entities          []Entity
	Entries           []balance.Entry
	Accounts          []coa.Account
	Hierarchy         []coa.HierarchyNode
	Eliminations      []balance.EliminationEntry
	Adjustments       []balance.Adjustment
	Rules             []fx.Rule
	Rates             []fx.RateSet
	CustomChecks      []checks.CustomCheck
}

// Options tune a run.
type Options struct {
	// FCTRAccount receives the translation residual when no rule names one.
	FCTRAccount string
	// CashFlowClasses names the hierarchy classes of the cash flow statement.
	CashFlowClasses []string
	// ContinueNumbering numbers notes across statements instead of restarting
	// at 1 for each statement.
	ContinueNumbering bool
	OmitCurrentResult bool
	// Workers bounds per-entity parallelism. Zero or less runs sequentially.
	Workers   int
	Evaluator checks.Evaluator
}

// NoteSet is the note aggregation of every statement.
type NoteSet struct {
	BalanceSheet    notes.Aggregation `json:"balance_sheet"`
	IncomeStatement notes.Aggregation `json:"income_statement"`
	Equity          notes.Aggregation `json:"equity"`
	CashFlow        notes.Aggregation `json:"cash_flow"`
}

// All returns the aggregations in presentation order.
func (n NoteSet) All() []notes.Aggregation {
	return []notes.Aggregation{n.BalanceSheet, n.IncomeStatement, n.Equity, n.CashFlow}
}

// Result is the outcome of a consolidation run.
type Result struct {
	GroupID           int64            `json:"group_id"`
	GroupName         string           `json:"group_name"`
	Period            string           `json:"period"`
	ReportingCurrency string           `json:"reporting_currency"`
	Translations      []fx.Result      `json:"translations"`
	Notes             NoteSet          `json:"notes"`
	Statements        statements.Set   `json:"statements"`
	Checks            []checks.Result  `json:"checks"`
	Consolidated      balance.Balances `json:"consolidated"`
	Issues            issues.Report    `json:"issues"`
	Blocked           []int64          `json:"blocked_entities,omitempty"`
	Unplaced          []string         `json:"unplaced_accounts,omitempty"`
}

// Working is a persisted snapshot of a run with its cell overrides.
type Working struct {
	ID          string         `json:"id"`
	GroupID     int64          `json:"group_id"`
	Period      string         `json:"period"`
	Version     int64          `json:"version"`
	Result      Result         `json:"result"`
	Overrides   []CellOverride `json:"overrides"`
	GeneratedAt time.Time      `json:"generated_at"`
	GeneratedBy string         `json:"generated_by"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CellOverride is a manual edit of one statement cell. Overrides are cleared
// when the working is regenerated; the audit trail is kept.
type CellOverride struct {
	Statement coa.StatementKind `json:"statement"`
	Label     string            `json:"label"`
	Column    string            `json:"column,omitempty"`
	Value     string            `json:"value"`
}

// Edit is an audit trail record of a working edit.
type Edit struct {
	ID        string            `json:"id"`
	WorkingID string            `json:"working_id"`
	Statement coa.StatementKind `json:"statement"`
	Label     string            `json:"label"`
	Column    string            `json:"column,omitempty"`
	OldValue  string            `json:"old_value"`
	NewValue  string            `json:"new_value"`
	Editor    string            `json:"editor"`
	EditedAt  time.Time         `json:"edited_at"`
}
