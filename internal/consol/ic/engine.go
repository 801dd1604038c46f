package ic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	// SourcePrefix is used to build deterministic source links.
	SourcePrefix = "IC_ARAP"
	// AuditAction identifies audit log entries emitted by the engine.
	AuditAction = "ic_eliminate"
	// AuditEntity describes the audit entity for elimination entries.
	AuditEntity = "consol_elimination_entries"
)

// RepositoryProvider describes the persistence operations required by the engine.
type RepositoryProvider interface {
	ListPairExposures(ctx context.Context, groupID int64, period string) ([]PairExposure, error)
	UpsertElimination(ctx context.Context, params UpsertParams) (UpsertResult, error)
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine proposes and stores intercompany AR/AP eliminations.
type Engine struct {
	repo   RepositoryProvider
	audit  AuditRecorder
	logger *slog.Logger
	actor  string
	now    func() time.Time
}

// EngineConfig configures optional behaviour for the engine.
type EngineConfig struct {
	Actor string
}

// NewEngine wires required dependencies for the elimination engine.
func NewEngine(repo RepositoryProvider, audit AuditRecorder, logger *slog.Logger, cfg EngineConfig) *Engine {
	eng := &Engine{
		repo:   repo,
		audit:  audit,
		logger: logger,
		actor:  shared.SystemActor,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if cfg.Actor != "" {
		eng.actor = cfg.Actor
	}
	return eng
}

// Result summarises the engine execution outcome.
type Result struct {
	Period         string                     `json:"period"`
	GroupID        int64                      `json:"group_id"`
	Eliminated     int                        `json:"eliminated"`
	TotalAmount    decimal.Decimal            `json:"total_amount"`
	EntriesCreated int                        `json:"entries_created"`
	EntriesUpdated int                        `json:"entries_updated"`
	Entries        []balance.EliminationEntry `json:"entries"`
}

// Run proposes eliminations for every exposure of the group period and upserts
// them keyed by their source link, so reruns update instead of duplicating.
func (e *Engine) Run(ctx context.Context, groupID int64, period string) (Result, error) {
	if e == nil || e.repo == nil {
		return Result{}, fmt.Errorf("ic engine not initialised")
	}
	if groupID <= 0 {
		return Result{}, fmt.Errorf("group id is required")
	}
	if period == "" {
		return Result{}, fmt.Errorf("period is required")
	}

	exposures, err := e.repo.ListPairExposures(ctx, groupID, period)
	if err != nil {
		return Result{}, err
	}
	result := Result{GroupID: groupID, Period: period, TotalAmount: decimal.Zero}
	if len(exposures) == 0 {
		e.log().Info("no intercompany exposures discovered", slog.Int64("group_id", groupID), slog.String("period", period))
		return result, nil
	}

	for _, pair := range exposures {
		entry, amount, ok := Propose(period, pair)
		if !ok {
			continue
		}
		upsert, err := e.repo.UpsertElimination(ctx, UpsertParams{
			GroupID:   groupID,
			Period:    period,
			CreatedBy: e.actor,
			Entry:     entry,
		})
		if err != nil {
			return result, err
		}
		entry.ID = upsert.EntryID
		result.Entries = append(result.Entries, entry)
		result.Eliminated++
		result.TotalAmount = result.TotalAmount.Add(amount)
		if upsert.Created {
			result.EntriesCreated++
		} else {
			result.EntriesUpdated++
		}
		e.recordAudit(ctx, upsert.EntryID, entry.Source, groupID, period, pair, amount)
	}

	e.log().Info("completed intercompany eliminations",
		slog.Int64("group_id", groupID),
		slog.String("period", period),
		slog.Int("pairs", result.Eliminated),
		slog.String("total_amount", result.TotalAmount.StringFixed(2)))
	return result, nil
}

// Propose builds the two-line group-level elimination for a pair: debit the
// payable, credit the receivable, both at min(|AR|, |AP|).
func Propose(period string, pair PairExposure) (balance.EliminationEntry, decimal.Decimal, bool) {
	amount := eliminationAmount(pair.ARAmount, pair.APAmount)
	if !amount.IsPositive() {
		return balance.EliminationEntry{}, decimal.Zero, false
	}
	source := buildSourceLink(period, pair.EntityAID, pair.EntityBID)
	return balance.EliminationEntry{
		ID:     source,
		Period: period,
		Source: source,
		Lines: []balance.EliminationLine{
			{
				AccountCode: pair.APAccount,
				Debit:       amount,
				Credit:      decimal.Zero,
				Memo:        fmt.Sprintf("IC elimination AP %s -> %s", pair.EntityBName, pair.EntityAName),
			},
			{
				AccountCode: pair.ARAccount,
				Debit:       decimal.Zero,
				Credit:      amount,
				Memo:        fmt.Sprintf("IC elimination AR %s -> %s", pair.EntityAName, pair.EntityBName),
			},
		},
	}, amount, true
}

// ProposeAll is the pure counterpart of Run, ordered by source link.
func ProposeAll(period string, exposures []PairExposure) []balance.EliminationEntry {
	out := make([]balance.EliminationEntry, 0, len(exposures))
	for _, pair := range exposures {
		if entry, _, ok := Propose(period, pair); ok {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (e *Engine) recordAudit(ctx context.Context, entryID, source string, groupID int64, period string, pair PairExposure, amount decimal.Decimal) {
	if e == nil || e.audit == nil {
		return
	}
	meta := map[string]any{
		"source_link":   source,
		"entity_a_id":   pair.EntityAID,
		"entity_a_name": pair.EntityAName,
		"entity_b_id":   pair.EntityBID,
		"entity_b_name": pair.EntityBName,
		"amount":        amount.StringFixed(2),
		"actor":         e.actor,
		"recorded_at":   e.now(),
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		Actor:    e.actor,
		Action:   AuditAction,
		Entity:   AuditEntity,
		EntityID: entryID,
		GroupID:  groupID,
		Period:   period,
		Meta:     meta,
		At:       e.now(),
	}); err != nil {
		e.log().Warn("record ic audit", slog.String("source_link", source), slog.Any("error", err))
	}
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "ic_engine"))
	}
	return slog.Default().With(slog.String("component", "ic_engine"))
}

func eliminationAmount(ar, ap decimal.Decimal) decimal.Decimal {
	ar = ar.Abs()
	ap = ap.Abs()
	if ar.IsZero() || ap.IsZero() {
		return decimal.Zero
	}
	return decimal.Min(ar, ap)
}

func buildSourceLink(period string, entityA, entityB int64) string {
	return fmt.Sprintf("%s|%s|%d|%d", SourcePrefix, period, entityA, entityB)
}
