package ic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
)

// Repository exposes persistence helpers for intercompany elimination workloads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an IC repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PairExposure represents the AR/AP exposure between two entities of a group.
// Amounts are recorded in the group reporting currency.
type PairExposure struct {
	EntityAID   int64
	EntityAName string
	EntityBID   int64
	EntityBName string
	ARAccount   string
	APAccount   string
	ARAmount    decimal.Decimal
	APAmount    decimal.Decimal
}

// UpsertParams configures the elimination upsert behaviour.
type UpsertParams struct {
	GroupID   int64
	Period    string
	CreatedBy string
	Entry     balance.EliminationEntry
}

// UpsertResult summarises the database outcome for an elimination upsert.
type UpsertResult struct {
	EntryID string
	Created bool
}

// ListPairExposures retrieves the AR/AP pair balances for the provided scope.
func (r *Repository) ListPairExposures(ctx context.Context, groupID int64, period string) ([]PairExposure, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("ic repo not initialised")
	}
	const query = `
SELECT
    p.entity_a_id,
    ea.name AS entity_a_name,
    p.entity_b_id,
    eb.name AS entity_b_name,
    p.ar_account_code,
    p.ap_account_code,
    p.ar_amount,
    p.ap_amount
FROM consol_ic_pairs p
JOIN consol_entities ea ON ea.id = p.entity_a_id
JOIN consol_entities eb ON eb.id = p.entity_b_id
WHERE p.group_id = $1
  AND p.period = $2
ORDER BY ea.name, eb.name`
	rows, err := r.pool.Query(ctx, query, groupID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := make([]PairExposure, 0)
	for rows.Next() {
		var row PairExposure
		if err := rows.Scan(
			&row.EntityAID,
			&row.EntityAName,
			&row.EntityBID,
			&row.EntityBName,
			&row.ARAccount,
			&row.APAccount,
			&row.ARAmount,
			&row.APAmount,
		); err != nil {
			return nil, err
		}
		exposures = append(exposures, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return exposures, nil
}

// UpsertElimination ensures the elimination entry and its lines match the provided payload.
func (r *Repository) UpsertElimination(ctx context.Context, params UpsertParams) (UpsertResult, error) {
	if r == nil || r.pool == nil {
		return UpsertResult{}, fmt.Errorf("ic repo not initialised")
	}
	if params.GroupID <= 0 || params.Period == "" {
		return UpsertResult{}, fmt.Errorf("invalid group/period scope")
	}
	if params.Entry.Source == "" {
		return UpsertResult{}, fmt.Errorf("source link required")
	}
	if len(params.Entry.Lines) == 0 {
		return UpsertResult{}, fmt.Errorf("no journal lines provided")
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return UpsertResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var entryID string
	var created bool
	const findEntry = `SELECT id FROM consol_elimination_entries WHERE group_id = $1 AND period = $2 AND source = $3 FOR UPDATE`
	if err = tx.QueryRow(ctx, findEntry, params.GroupID, params.Period, params.Entry.Source).Scan(&entryID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return UpsertResult{}, err
		}
		entryID = uuid.NewString()
		const insertEntry = `
INSERT INTO consol_elimination_entries (id, group_id, period, entity_id, source, created_by)
VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err = tx.Exec(ctx, insertEntry, entryID, params.GroupID, params.Period, params.Entry.EntityID, params.Entry.Source, params.CreatedBy); err != nil {
			return UpsertResult{}, err
		}
		created = true
	}

	if _, err = tx.Exec(ctx, `DELETE FROM consol_elimination_lines WHERE entry_id = $1`, entryID); err != nil {
		return UpsertResult{}, err
	}
	const insertLine = `
INSERT INTO consol_elimination_lines (entry_id, line_no, account_code, debit, credit, memo)
VALUES ($1, $2, $3, $4, $5, $6)`
	for i, line := range params.Entry.Lines {
		if _, err = tx.Exec(ctx, insertLine, entryID, i+1, line.AccountCode, line.Debit, line.Credit, line.Memo); err != nil {
			return UpsertResult{}, err
		}
	}
	if _, err = tx.Exec(ctx, `UPDATE consol_elimination_entries SET updated_at = NOW() WHERE id = $1`, entryID); err != nil {
		return UpsertResult{}, err
	}
	err = tx.Commit(ctx)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{EntryID: entryID, Created: created}, nil
}
