package consol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/syncdiff"
	"github.com/odyssey-erp/consolidation/internal/platform/db"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// ErrGroupNotFound indicates the consolidation group is missing.
var ErrGroupNotFound = errors.New("consol: group not found")

// ErrWorkingNotFound indicates no working was generated for the scope yet.
var ErrWorkingNotFound = errors.New("consol: working not found")

// Repository provides persistence helpers for consolidation workloads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a consolidation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FxRateInput represents a single FX quote to be stored.
type FxRateInput struct {
	AsOf    time.Time
	Pair    string
	Average decimal.Decimal
	Closing decimal.Decimal
}

// LoadSnapshot reads the reference data of a group and period.
func (r *Repository) LoadSnapshot(ctx context.Context, scope Scope) (Snapshot, error) {
	snap := Snapshot{GroupID: scope.GroupID, Period: scope.Period}
	err := r.pool.QueryRow(ctx, `SELECT name, reporting_currency FROM consol_groups WHERE id = $1`, scope.GroupID).
		Scan(&snap.GroupName, &snap.ReportingCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrGroupNotFound
		}
		return Snapshot{}, err
	}
	loaders := []func(context.Context, *Snapshot) error{
		r.loadEntities,
		r.loadEntries,
		r.loadAccounts,
		r.loadHierarchy,
		r.loadEliminations,
		r.loadAdjustments,
		r.loadRules,
		r.loadRates,
		r.loadCustomChecks,
	}
	for _, load := range loaders {
		if err := load(ctx, &snap); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func (r *Repository) loadEntities(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT id, name, functional_currency, COALESCE(tb_currency, '')
FROM consol_entities
WHERE group_id = $1 AND enabled
ORDER BY id`, snap.GroupID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.FunctionalCurrency, &e.TBCurrency); err != nil {
			return err
		}
		snap.Entities = append(snap.Entities, e)
	}
	return rows.Err()
}

func (r *Repository) loadEntries(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT tb.entity_id, tb.period, tb.account_code, tb.debit, tb.credit
FROM consol_trial_balances tb
JOIN consol_entities e ON e.id = tb.entity_id
WHERE e.group_id = $1 AND tb.period = $2
ORDER BY tb.entity_id, tb.account_code`, snap.GroupID, snap.Period)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e balance.Entry
		if err := rows.Scan(&e.EntityID, &e.Period, &e.AccountCode, &e.Debit, &e.Credit); err != nil {
			return err
		}
		snap.Entries = append(snap.Entries, e)
	}
	return rows.Err()
}

func (r *Repository) loadAccounts(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT account_code, name, class, subclass, note, subnote, active, to_be_eliminated
FROM consol_accounts
ORDER BY account_code`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a coa.Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Path.Class, &a.Path.Subclass, &a.Path.Note, &a.Path.Subnote, &a.Active, &a.ToBeEliminated); err != nil {
			return err
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	return rows.Err()
}

func (r *Repository) loadHierarchy(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `SELECT class, subclass, note, subnote, active FROM consol_hierarchy`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var n coa.HierarchyNode
		if err := rows.Scan(&n.Path.Class, &n.Path.Subclass, &n.Path.Note, &n.Path.Subnote, &n.Active); err != nil {
			return err
		}
		snap.Hierarchy = append(snap.Hierarchy, n)
	}
	return rows.Err()
}

func (r *Repository) loadEliminations(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT e.id::text, e.period, COALESCE(e.entity_id, 0), e.source,
       l.account_code, l.debit, l.credit, COALESCE(l.memo, '')
FROM consol_elimination_entries e
JOIN consol_elimination_lines l ON l.entry_id = e.id
WHERE e.group_id = $1 AND e.period = $2
ORDER BY e.id, l.line_no`, snap.GroupID, snap.Period)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entry balance.EliminationEntry
		var line balance.EliminationLine
		if err := rows.Scan(&entry.ID, &entry.Period, &entry.EntityID, &entry.Source, &line.AccountCode, &line.Debit, &line.Credit, &line.Memo); err != nil {
			return err
		}
		if n := len(snap.Eliminations); n > 0 && snap.Eliminations[n-1].ID == entry.ID {
			snap.Eliminations[n-1].Lines = append(snap.Eliminations[n-1].Lines, line)
			continue
		}
		entry.Lines = []balance.EliminationLine{line}
		snap.Eliminations = append(snap.Eliminations, entry)
	}
	return rows.Err()
}

func (r *Repository) loadAdjustments(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT id::text, period, COALESCE(entity_id, 0), debit_account, credit_account, amount, COALESCE(memo, '')
FROM consol_adjustments
WHERE group_id = $1 AND period = $2
ORDER BY id`, snap.GroupID, snap.Period)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a balance.Adjustment
		if err := rows.Scan(&a.ID, &a.Period, &a.EntityID, &a.DebitAccount, &a.CreditAccount, &a.Amount, &a.Memo); err != nil {
			return err
		}
		snap.Adjustments = append(snap.Adjustments, a)
	}
	return rows.Err()
}

func (r *Repository) loadRules(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT COALESCE(entity_id, 0), from_currency, to_currency, scope, COALESCE(target, ''),
       rate_type, rate, COALESCE(fctr_account, '')
FROM consol_translation_rules
WHERE group_id = $1
ORDER BY id`, snap.GroupID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rule fx.Rule
		var scope, method string
		if err := rows.Scan(&rule.EntityID, &rule.FromCurrency, &rule.ToCurrency, &scope, &rule.Target, &method, &rule.Rate, &rule.FCTRAccount); err != nil {
			return err
		}
		rule.Scope = fx.RuleScope(scope)
		if m, ok := fx.ParseMethod(method); ok {
			rule.Method = m
		} else {
			rule.Method = fx.Method(method)
		}
		snap.Rules = append(snap.Rules, rule)
	}
	return rows.Err()
}

// loadRates reads the per-entity rate sets of the period. Entities without a
// set fall back to the group pair quote of the month when one is stored.
func (r *Repository) loadRates(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT x.entity_id, x.period, x.closing_rate, x.average_rate
FROM consol_exchange_rates x
JOIN consol_entities e ON e.id = x.entity_id
WHERE e.group_id = $1 AND x.period = $2
ORDER BY x.entity_id`, snap.GroupID, snap.Period)
	if err != nil {
		return err
	}
	sets := make(map[int64]*fx.RateSet)
	for rows.Next() {
		var set fx.RateSet
		if err := rows.Scan(&set.EntityID, &set.Period, &set.Closing, &set.Average); err != nil {
			rows.Close()
			return err
		}
		snap.Rates = append(snap.Rates, set)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range snap.Rates {
		sets[snap.Rates[i].EntityID] = &snap.Rates[i]
	}

	hist, err := r.pool.Query(ctx, `
SELECT h.entity_id, h.name, h.applies_to_class, h.rate
FROM consol_historical_rates h
JOIN consol_entities e ON e.id = h.entity_id
WHERE e.group_id = $1 AND h.period = $2
ORDER BY h.entity_id, h.name`, snap.GroupID, snap.Period)
	if err != nil {
		return err
	}
	for hist.Next() {
		var entityID int64
		var rate fx.HistoricalRate
		if err := hist.Scan(&entityID, &rate.Name, &rate.AppliesToClass, &rate.Rate); err != nil {
			hist.Close()
			return err
		}
		if set, ok := sets[entityID]; ok {
			set.Historical = append(set.Historical, rate)
		}
	}
	hist.Close()
	if err := hist.Err(); err != nil {
		return err
	}

	asOf, err := shared.ParsePeriod(snap.Period)
	if err != nil {
		return err
	}
	reporting := strings.ToUpper(strings.TrimSpace(snap.ReportingCurrency))
	for _, entity := range snap.Entities {
		functional := strings.ToUpper(strings.TrimSpace(entity.FunctionalCurrency))
		if _, ok := sets[entity.ID]; ok || functional == reporting {
			continue
		}
		quote, found, err := r.QuoteForPeriod(ctx, asOf, functional+reporting)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		snap.Rates = append(snap.Rates, fx.RateSet{EntityID: entity.ID, Period: snap.Period, Closing: quote.Closing, Average: quote.Average})
	}
	return nil
}

func (r *Repository) loadCustomChecks(ctx context.Context, snap *Snapshot) error {
	rows, err := r.pool.Query(ctx, `
SELECT id::text, COALESCE(group_id, 0), name, formula, operator, expected, severity
FROM consol_custom_checks
WHERE group_id = $1 OR group_id IS NULL
ORDER BY created_at, id`, snap.GroupID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c checks.CustomCheck
		var op, severity string
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Name, &c.Formula, &op, &c.Expected, &severity); err != nil {
			return err
		}
		c.Operator = checks.Operator(op)
		c.Severity = checks.Severity(severity)
		snap.CustomChecks = append(snap.CustomChecks, c)
	}
	return rows.Err()
}

// ListGroupIDs returns the identifiers for all consolidation groups.
func (r *Repository) ListGroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM consol_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActiveConsolidationPeriod returns the period code flagged as OPEN_CONSOL.
func (r *Repository) ActiveConsolidationPeriod(ctx context.Context) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx, `SELECT code FROM consol_periods WHERE status = 'OPEN_CONSOL' ORDER BY code DESC LIMIT 1`).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return code, nil
}

// GroupCurrencies returns the reporting currency and member functional
// currencies of a group.
func (r *Repository) GroupCurrencies(ctx context.Context, groupID int64) (string, []fx.Currencies, error) {
	var reporting string
	if err := r.pool.QueryRow(ctx, `SELECT reporting_currency FROM consol_groups WHERE id = $1`, groupID).Scan(&reporting); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrGroupNotFound
		}
		return "", nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, functional_currency FROM consol_entities WHERE group_id = $1 AND enabled ORDER BY id`, groupID)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()
	currencies := make([]fx.Currencies, 0)
	for rows.Next() {
		var c fx.Currencies
		if err := rows.Scan(&c.EntityID, &c.Functional); err != nil {
			return "", nil, err
		}
		currencies = append(currencies, c)
	}
	return reporting, currencies, rows.Err()
}

// QuoteForPeriod fetches the stored pair quote of the month of asOf. It
// implements fx.QuoteProvider.
func (r *Repository) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return fx.Quote{}, false, fmt.Errorf("fx pair required")
	}
	asOf = time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	var quote fx.Quote
	err := r.pool.QueryRow(ctx, `SELECT average_rate, closing_rate FROM consol_fx_rates WHERE as_of_date = $1 AND pair = $2`, asOf, pair).
		Scan(&quote.Average, &quote.Closing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fx.Quote{}, false, nil
		}
		return fx.Quote{}, false, err
	}
	return quote, true, nil
}

// UpsertFxRates persists FX quotes, replacing existing rows when necessary.
func (r *Repository) UpsertFxRates(ctx context.Context, rows []FxRateInput) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, row := range rows {
			pair := strings.ToUpper(strings.TrimSpace(row.Pair))
			if pair == "" {
				return fmt.Errorf("fx pair required")
			}
			if row.AsOf.IsZero() {
				return fmt.Errorf("as of date required for pair %s", pair)
			}
			if !row.Average.IsPositive() || !row.Closing.IsPositive() {
				return fmt.Errorf("fx rates must be positive for %s %s", pair, row.AsOf.Format(shared.PeriodLayout))
			}
			asOf := time.Date(row.AsOf.Year(), row.AsOf.Month(), 1, 0, 0, 0, 0, time.UTC)
			if _, err := tx.Exec(ctx, `
INSERT INTO consol_fx_rates (as_of_date, pair, average_rate, closing_rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (as_of_date, pair) DO UPDATE SET average_rate = EXCLUDED.average_rate, closing_rate = EXCLUDED.closing_rate`,
				asOf, pair, row.Average, row.Closing); err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestWorking returns the working of a scope.
func (r *Repository) LatestWorking(ctx context.Context, groupID int64, period string) (Working, error) {
	var w Working
	var payload, overrides []byte
	err := r.pool.QueryRow(ctx, `
SELECT id::text, group_id, period, version, payload, overrides, generated_at, generated_by, updated_at
FROM consol_workings
WHERE group_id = $1 AND period = $2`, groupID, period).
		Scan(&w.ID, &w.GroupID, &w.Period, &w.Version, &payload, &overrides, &w.GeneratedAt, &w.GeneratedBy, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Working{}, ErrWorkingNotFound
		}
		return Working{}, err
	}
	if err := json.Unmarshal(payload, &w.Result); err != nil {
		return Working{}, fmt.Errorf("consol: decode working payload: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &w.Overrides); err != nil {
			return Working{}, fmt.Errorf("consol: decode working overrides: %w", err)
		}
	}
	return w, nil
}

// SaveWorking replaces the payload of the scope's working, clearing its
// overrides and incrementing its version. The id of an existing working is kept.
func (r *Repository) SaveWorking(ctx context.Context, w Working) (Working, error) {
	payload, err := json.Marshal(w.Result)
	if err != nil {
		return Working{}, err
	}
	err = r.pool.QueryRow(ctx, `
INSERT INTO consol_workings (id, group_id, period, version, payload, overrides, generated_at, generated_by, updated_at)
VALUES ($1, $2, $3, 1, $4, '[]'::jsonb, $5, $6, $5)
ON CONFLICT (group_id, period) DO UPDATE SET
    payload = EXCLUDED.payload,
    overrides = '[]'::jsonb,
    version = consol_workings.version + 1,
    generated_at = EXCLUDED.generated_at,
    generated_by = EXCLUDED.generated_by,
    updated_at = EXCLUDED.updated_at
RETURNING id::text, version`, w.ID, w.GroupID, w.Period, payload, w.GeneratedAt, w.GeneratedBy).
		Scan(&w.ID, &w.Version)
	if err != nil {
		return Working{}, err
	}
	w.Overrides = nil
	w.UpdatedAt = w.GeneratedAt
	return w, nil
}

// SaveCellEdit stores the overrides of a working and its audit record when the
// working is still at expectedVersion. It returns the new version.
func (r *Repository) SaveCellEdit(ctx context.Context, workingID string, expectedVersion int64, overrides []CellOverride, edit Edit) (int64, error) {
	raw, err := json.Marshal(overrides)
	if err != nil {
		return 0, err
	}
	var version int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
UPDATE consol_workings
SET overrides = $1, version = version + 1, updated_at = $2
WHERE id = $3 AND version = $4
RETURNING version`, raw, edit.EditedAt, workingID, expectedVersion).Scan(&version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrVersionConflict
			}
			return err
		}
		_, err = tx.Exec(ctx, `
INSERT INTO consol_working_edits (id, working_id, statement, label, column_key, old_value, new_value, editor, edited_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			edit.ID, workingID, string(edit.Statement), edit.Label, edit.Column, edit.OldValue, edit.NewValue, edit.Editor, edit.EditedAt)
		return err
	})
	return version, err
}

// Edits returns the audit trail of a working, oldest first.
func (r *Repository) Edits(ctx context.Context, workingID string) ([]Edit, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id::text, working_id::text, statement, label, column_key, old_value, new_value, editor, edited_at
FROM consol_working_edits
WHERE working_id = $1
ORDER BY edited_at, id`, workingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edits := make([]Edit, 0)
	for rows.Next() {
		var e Edit
		var statement string
		if err := rows.Scan(&e.ID, &e.WorkingID, &statement, &e.Label, &e.Column, &e.OldValue, &e.NewValue, &e.Editor, &e.EditedAt); err != nil {
			return nil, err
		}
		e.Statement = coa.StatementKind(statement)
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// SaveTranslation replaces the translated trial balance of every translated
// entity and its FCTR posting in one transaction. A failure on either side
// rolls both back and is reported as PartialTransactionFailure.
func (r *Repository) SaveTranslation(ctx context.Context, groupID int64, period, postedBy string, results []fx.Result, postedAt time.Time) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, res := range results {
			for _, st := range translationStatements(groupID, period, postedBy, res, postedAt) {
				if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
					return fmt.Errorf("%s: %w", st.what, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return issues.Wrap(issues.KindPartialTransactionFailure, err, period)
	}
	return nil
}

type sqlWrite struct {
	what string
	sql  string
	args []any
}

const (
	deleteTranslatedSQL = `DELETE FROM consol_translated_balances WHERE group_id = $1 AND period = $2 AND entity_id = $3`
	insertTranslatedSQL = `
INSERT INTO consol_translated_balances (group_id, period, entity_id, account_code, raw, rate, translated, rate_type, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	deleteFCTRSQL = `DELETE FROM consol_fctr_postings WHERE group_id = $1 AND period = $2 AND entity_id = $3`
	upsertFCTRSQL = `
INSERT INTO consol_fctr_postings (group_id, period, entity_id, account_code, amount, posted_by, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (group_id, period, entity_id) DO UPDATE SET
    account_code = EXCLUDED.account_code,
    amount = EXCLUDED.amount,
    posted_by = EXCLUDED.posted_by,
    posted_at = EXCLUDED.posted_at`
)

// translationStatements lists the writes that replace one entity's
// translation. Blocked entities keep their previous rows. An entity without an
// FCTR account loses any earlier posting.
func translationStatements(groupID int64, period, postedBy string, res fx.Result, postedAt time.Time) []sqlWrite {
	if res.Blocked {
		return nil
	}
	out := make([]sqlWrite, 0, len(res.Lines)+2)
	out = append(out, sqlWrite{what: "translated balances", sql: deleteTranslatedSQL, args: []any{groupID, period, res.EntityID}})
	for _, line := range res.Lines {
		out = append(out, sqlWrite{what: "translated balances", sql: insertTranslatedSQL,
			args: []any{groupID, period, res.EntityID, line.AccountCode, line.Raw, line.Rate, line.Translated, string(line.Method), line.Source}})
	}
	if res.FCTRAccount == "" {
		return append(out, sqlWrite{what: "fctr posting", sql: deleteFCTRSQL, args: []any{groupID, period, res.EntityID}})
	}
	return append(out, sqlWrite{what: "fctr posting", sql: upsertFCTRSQL,
		args: []any{groupID, period, res.EntityID, res.FCTRAccount, res.FCTR, postedBy, postedAt}})
}

type syncTable struct {
	name    string
	columns []string
	// casts wraps a text placeholder for non-text columns.
	casts map[string]string
}

func datasetColumns(ds syncdiff.Dataset) []string {
	return append(append([]string{}, ds.KeyFields...), ds.TrackedFields...)
}

var syncTables = map[string]syncTable{
	syncdiff.AccountDataset.Name: {
		name:    "consol_accounts",
		columns: datasetColumns(syncdiff.AccountDataset),
		casts: map[string]string{
			"active":           "COALESCE(NULLIF(%s::text, '')::boolean, TRUE)",
			"to_be_eliminated": "COALESCE(NULLIF(%s::text, '')::boolean, FALSE)",
		},
	},
	syncdiff.HierarchyDataset.Name: {
		name:    "consol_hierarchy",
		columns: datasetColumns(syncdiff.HierarchyDataset),
		casts: map[string]string{
			"active": "COALESCE(NULLIF(%s::text, '')::boolean, TRUE)",
		},
	},
}

func tableFor(ds syncdiff.Dataset) (syncTable, error) {
	t, ok := syncTables[ds.Name]
	if !ok {
		return syncTable{}, fmt.Errorf("%w: %s", syncdiff.ErrUnknownDataset, ds.Name)
	}
	return t, nil
}

// DatasetVersion returns the sync version of a dataset, zero when never synced.
func (r *Repository) DatasetVersion(ctx context.Context, ds syncdiff.Dataset) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx, `SELECT version FROM consol_sync_versions WHERE dataset = $1`, ds.Name).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// ListRecords reads the stored rows of a dataset as string records.
func (r *Repository) ListRecords(ctx context.Context, ds syncdiff.Dataset) ([]syncdiff.Record, error) {
	table, err := tableFor(ds)
	if err != nil {
		return nil, err
	}
	selects := make([]string, len(table.columns))
	for i, col := range table.columns {
		selects[i] = col + "::text"
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(selects, ", "), table.name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]syncdiff.Record, 0)
	for rows.Next() {
		values := make([]string, len(table.columns))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(values))
		for i, col := range table.columns {
			fields[col] = values[i]
		}
		records = append(records, syncdiff.Record{Fields: fields})
	}
	return records, rows.Err()
}

// ApplySync writes a diff when the dataset is still at expectedVersion and
// returns the new version. A moved version yields shared.ErrVersionConflict
// and nothing is written.
func (r *Repository) ApplySync(ctx context.Context, ds syncdiff.Dataset, diff syncdiff.Diff, expectedVersion int64, actor string) (int64, error) {
	table, err := tableFor(ds)
	if err != nil {
		return 0, err
	}
	var version int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO consol_sync_versions (dataset, version, updated_by, updated_at) VALUES ($1, 0, $2, NOW()) ON CONFLICT (dataset) DO NOTHING`, ds.Name, actor); err != nil {
			return err
		}
		var current int64
		if err := tx.QueryRow(ctx, `SELECT version FROM consol_sync_versions WHERE dataset = $1 FOR UPDATE`, ds.Name).Scan(&current); err != nil {
			return err
		}
		if current != expectedVersion {
			return shared.ErrVersionConflict
		}
		upsert := upsertStatement(table, ds)
		for _, group := range [][]syncdiff.Change{diff.ToAdd, diff.ToUpdate} {
			for _, change := range group {
				args := make([]any, len(table.columns))
				for i, col := range table.columns {
					args[i] = syncValue(change, col)
				}
				if _, err := tx.Exec(ctx, upsert, args...); err != nil {
					return fmt.Errorf("sync %s %s: %w", ds.Name, change.Key, err)
				}
			}
		}
		del := deleteStatement(table, ds)
		for _, change := range diff.ToDelete {
			args := make([]any, len(ds.KeyFields))
			for i, col := range ds.KeyFields {
				args[i] = change.Existing.Get(col)
			}
			if _, err := tx.Exec(ctx, del, args...); err != nil {
				return fmt.Errorf("sync %s delete %s: %w", ds.Name, change.Key, err)
			}
		}
		return tx.QueryRow(ctx, `UPDATE consol_sync_versions SET version = version + 1, updated_by = $2, updated_at = NOW() WHERE dataset = $1 RETURNING version`, ds.Name, actor).Scan(&version)
	})
	return version, err
}

// upsertStatement builds an INSERT .. ON CONFLICT over the dataset columns.
// Values are passed as text and cast by the column types.
func upsertStatement(table syncTable, ds syncdiff.Dataset) string {
	placeholders := make([]string, len(table.columns))
	for i, col := range table.columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if cast, ok := table.casts[col]; ok {
			placeholders[i] = fmt.Sprintf(cast, placeholders[i])
		}
	}
	updates := make([]string, len(ds.TrackedFields))
	for i, col := range ds.TrackedFields {
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		table.name, strings.Join(table.columns, ", "), strings.Join(placeholders, ", "),
		strings.Join(ds.KeyFields, ", "), strings.Join(updates, ", "))
}

// syncValue returns the incoming value of col, keeping the stored value when
// an updated row leaves the column out.
func syncValue(change syncdiff.Change, col string) string {
	if _, ok := change.Incoming.Fields[col]; !ok && change.Existing != nil {
		return change.Existing.Get(col)
	}
	return change.Incoming.Get(col)
}

func deleteStatement(table syncTable, ds syncdiff.Dataset) string {
	conds := make([]string, len(ds.KeyFields))
	for i, col := range ds.KeyFields {
		conds[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	return fmt.Sprintf(`DELETE FROM %s WHERE %s`, table.name, strings.Join(conds, " AND "))
}

// InsertCustomCheck stores a custom check definition.
func (r *Repository) InsertCustomCheck(ctx context.Context, c checks.CustomCheck, createdBy string, createdAt time.Time) error {
	var groupID *int64
	if c.GroupID > 0 {
		groupID = &c.GroupID
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO consol_custom_checks (id, group_id, name, formula, operator, expected, severity, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, groupID, c.Name, c.Formula, string(c.Operator), c.Expected, string(c.Severity), createdBy, createdAt)
	return err
}
