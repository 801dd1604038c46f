package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/statements"
	"github.com/odyssey-erp/consolidation/internal/consol/syncdiff"
	"github.com/odyssey-erp/consolidation/internal/platform/cache"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	opRegenerate  = "regenerate"
	opTranslate   = "translate"
	opEditCell    = "edit_cell"
	opSyncApply   = "sync_apply"
	opValidateFx  = "validate_fx"
	opCustomCheck = "custom_check"

	translateLockTTL = 5 * time.Minute
)

// Store is the persistence surface of the service.
type Store interface {
	LoadSnapshot(ctx context.Context, scope Scope) (Snapshot, error)
	GroupCurrencies(ctx context.Context, groupID int64) (string, []fx.Currencies, error)
	QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error)
	LatestWorking(ctx context.Context, groupID int64, period string) (Working, error)
	SaveWorking(ctx context.Context, w Working) (Working, error)
	SaveCellEdit(ctx context.Context, workingID string, expectedVersion int64, overrides []CellOverride, edit Edit) (int64, error)
	Edits(ctx context.Context, workingID string) ([]Edit, error)
	SaveTranslation(ctx context.Context, groupID int64, period, postedBy string, results []fx.Result, postedAt time.Time) error
	DatasetVersion(ctx context.Context, ds syncdiff.Dataset) (int64, error)
	ListRecords(ctx context.Context, ds syncdiff.Dataset) ([]syncdiff.Record, error)
	ApplySync(ctx context.Context, ds syncdiff.Dataset, diff syncdiff.Diff, expectedVersion int64, actor string) (int64, error)
	InsertCustomCheck(ctx context.Context, c checks.CustomCheck, createdBy string, createdAt time.Time) error
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard reserves request keys.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, module, key string) error
	Release(ctx context.Context, module, key string) error
}

// Locker acquires an exclusive lock and returns its release function.
type Locker func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)

// RedisLocker adapts cache.Lock to a Locker.
func RedisLocker(client *redis.Client) Locker {
	return func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
		return cache.Lock(ctx, client, key, ttl)
	}
}

// ServiceConfig wires the optional collaborators of the service.
type ServiceConfig struct {
	Cache       *Cache
	Audit       AuditRecorder
	Idempotency IdempotencyGuard
	Locker      Locker
	Metrics     *Metrics
	Logger      *slog.Logger
	Options     Options
}

// Service orchestrates consolidation runs, workings, translation and
// reference data sync on top of the pure engine.
type Service struct {
	store    Store
	cache    *Cache
	audit    AuditRecorder
	idem     IdempotencyGuard
	lock     Locker
	metrics  *Metrics
	logger   *slog.Logger
	opts     Options
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the consolidation service.
func NewService(store Store, cfg ServiceConfig) *Service {
	svc := &Service{
		store:    store,
		cache:    cfg.Cache,
		audit:    cfg.Audit,
		idem:     cfg.Idempotency,
		lock:     cfg.Locker,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		opts:     cfg.Options,
		validate: validator.New(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if svc.opts.Evaluator == nil {
		svc.opts.Evaluator = checks.ExprEvaluator{}
	}
	return svc
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Options returns the run options of the service.
func (s *Service) Options() Options {
	return s.opts
}

// Regenerate runs the pipeline for the scope and replaces its working.
// Existing cell overrides are discarded.
func (s *Service) Regenerate(ctx context.Context, scope Scope) (w Working, err error) {
	start := time.Now()
	defer func() { err = s.metrics.observe(opRegenerate, start, err) }()

	scope, err = normalizeScope(scope)
	if err != nil {
		return Working{}, err
	}
	snap, err := s.store.LoadSnapshot(ctx, scope)
	if err != nil {
		return Working{}, mapStoreError(err, scope)
	}
	res, err := Compute(ctx, snap, scope, s.opts)
	if err != nil {
		return Working{}, err
	}
	s.metrics.observeResult(res)

	actor := shared.ActorFromContext(ctx)
	w, err = s.store.SaveWorking(ctx, Working{
		ID:          uuid.NewString(),
		GroupID:     scope.GroupID,
		Period:      scope.Period,
		Result:      res,
		GeneratedAt: s.now(),
		GeneratedBy: actor,
	})
	if err != nil {
		return Working{}, fmt.Errorf("consol: save working: %w", err)
	}
	s.bump(ctx, scope.GroupID, scope.Period)
	s.record(ctx, actor, scope, "consol.regenerate", "consol_workings", w.ID, map[string]any{
		"version": w.Version,
		"blocked": res.Blocked,
		"issues":  res.Issues.Len(),
	})
	s.log().Info("consolidation regenerated",
		slog.Int64("group_id", scope.GroupID),
		slog.String("period", scope.Period),
		slog.Int64("version", w.Version),
		slog.String("summary", res.Summary()))
	return w, nil
}

// WorkingView is a working with its edit trail.
type WorkingView struct {
	Working Working `json:"working"`
	Edits   []Edit  `json:"edits"`
	Cached  bool    `json:"-"`
}

// Working returns the current working of a scope, served from the cache when
// the scope version is unchanged.
func (s *Service) Working(ctx context.Context, groupID int64, period string) (WorkingView, error) {
	scope, err := normalizeScope(Scope{GroupID: groupID, Period: period})
	if err != nil {
		return WorkingView{}, err
	}
	load := func(ctx context.Context) (any, error) {
		w, err := s.store.LatestWorking(ctx, scope.GroupID, scope.Period)
		if err != nil {
			return nil, err
		}
		edits, err := s.store.Edits(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		return WorkingView{Working: w, Edits: edits}, nil
	}

	var view WorkingView
	key, err := s.cache.Key(ctx, "working", scope.GroupID, scope.Period)
	if err != nil {
		s.log().Warn("consol cache unavailable", slog.Any("error", err))
		raw, loadErr := load(ctx)
		if loadErr != nil {
			return WorkingView{}, mapStoreError(loadErr, scope)
		}
		return raw.(WorkingView), nil
	}
	hit, err := s.cache.FetchJSON(ctx, key, &view, load)
	if err != nil {
		return WorkingView{}, mapStoreError(err, scope)
	}
	view.Cached = hit
	return view, nil
}

// EditCellRequest overrides one statement cell of a working.
type EditCellRequest struct {
	GroupID         int64             `json:"group_id" validate:"required,gt=0"`
	Period          string            `json:"period" validate:"required"`
	Statement       coa.StatementKind `json:"statement" validate:"required,oneof=balance_sheet income_statement equity_statement cash_flow"`
	Label           string            `json:"label" validate:"required"`
	Column          string            `json:"column"`
	Value           string            `json:"value" validate:"required"`
	ExpectedVersion int64             `json:"expected_version" validate:"required,gt=0"`
}

// EditCell applies a manual override to a working cell and records the edit.
// The working must still be at ExpectedVersion.
func (s *Service) EditCell(ctx context.Context, req EditCellRequest) (w Working, err error) {
	start := time.Now()
	defer func() { err = s.metrics.observe(opEditCell, start, err) }()

	req.Label = strings.TrimSpace(req.Label)
	req.Column = strings.TrimSpace(req.Column)
	if err := s.validate.Struct(req); err != nil {
		return Working{}, invalid(err)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(req.Value))
	if err != nil {
		return Working{}, issues.Wrap(issues.KindInvalidInput, fmt.Errorf("consol: value %q is not a number", req.Value), req.Label)
	}
	scope, err := normalizeScope(Scope{GroupID: req.GroupID, Period: req.Period})
	if err != nil {
		return Working{}, err
	}

	w, err = s.store.LatestWorking(ctx, scope.GroupID, scope.Period)
	if err != nil {
		return Working{}, mapStoreError(err, scope)
	}
	if w.Version != req.ExpectedVersion {
		return Working{}, issues.Errorf(issues.KindSyncConflict, []string{w.ID},
			"consol: working is at version %d, expected %d", w.Version, req.ExpectedVersion)
	}
	old, ok := cellValue(w, req.Statement, req.Label, req.Column)
	if !ok {
		return Working{}, issues.Errorf(issues.KindNotFound, []string{req.Label},
			"consol: statement %s has no line %q", req.Statement, req.Label)
	}

	override := CellOverride{Statement: req.Statement, Label: req.Label, Column: req.Column, Value: value.StringFixed(2)}
	overrides := withOverride(w.Overrides, override)
	actor := shared.ActorFromContext(ctx)
	edit := Edit{
		ID:        uuid.NewString(),
		WorkingID: w.ID,
		Statement: req.Statement,
		Label:     req.Label,
		Column:    req.Column,
		OldValue:  old,
		NewValue:  override.Value,
		Editor:    actor,
		EditedAt:  s.now(),
	}
	version, err := s.store.SaveCellEdit(ctx, w.ID, req.ExpectedVersion, overrides, edit)
	if err != nil {
		if errors.Is(err, shared.ErrVersionConflict) {
			return Working{}, issues.Wrap(issues.KindSyncConflict, err, w.ID)
		}
		return Working{}, err
	}
	w.Overrides = overrides
	w.Version = version
	w.UpdatedAt = edit.EditedAt
	s.bump(ctx, scope.GroupID, scope.Period)
	s.record(ctx, actor, scope, "consol.edit_cell", "consol_workings", w.ID, map[string]any{
		"statement": string(req.Statement),
		"label":     req.Label,
		"column":    req.Column,
		"old":       old,
		"new":       override.Value,
		"version":   version,
	})
	return w, nil
}

// cellValue returns the current value of a cell: its override when present,
// otherwise the statement line amount. Column cells without an override start
// empty.
func cellValue(w Working, kind coa.StatementKind, label, column string) (string, bool) {
	for _, o := range w.Overrides {
		if o.Statement == kind && strings.EqualFold(o.Label, label) && o.Column == column {
			return o.Value, true
		}
	}
	st, ok := statementOf(w.Result.Statements, kind)
	if !ok {
		return "", false
	}
	for _, section := range st.Sections {
		for _, group := range section.Groups {
			for _, line := range group.Lines {
				if strings.EqualFold(line.Label, label) {
					if column != "" {
						return "", true
					}
					return line.Amount.StringFixed(2), true
				}
			}
		}
	}
	return "", false
}

func statementOf(set statements.Set, kind coa.StatementKind) (statements.Statement, bool) {
	switch kind {
	case coa.BalanceSheet:
		return set.BalanceSheet, true
	case coa.IncomeStatement:
		return set.IncomeStatement, true
	case coa.EquityStatement:
		return set.EquityStatement, true
	case coa.CashFlow:
		return set.CashFlow, true
	}
	return statements.Statement{}, false
}

func withOverride(existing []CellOverride, o CellOverride) []CellOverride {
	out := make([]CellOverride, 0, len(existing)+1)
	replaced := false
	for _, cur := range existing {
		if cur.Statement == o.Statement && strings.EqualFold(cur.Label, o.Label) && cur.Column == o.Column {
			out = append(out, o)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, o)
	}
	return out
}

// TranslationOutcome summarises a persisted translation run.
type TranslationOutcome struct {
	GroupID    int64         `json:"group_id"`
	Period     string        `json:"period"`
	Translated int           `json:"translated"`
	Blocked    []int64       `json:"blocked,omitempty"`
	FCTR       []FCTRPosting `json:"fctr"`
	Issues     issues.Report `json:"issues"`
}

// FCTRPosting is the translation residual posted for one entity.
type FCTRPosting struct {
	EntityID int64           `json:"entity_id"`
	Account  string          `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
}

// Translate translates every entity of the scope and persists the translated
// balances with their FCTR postings in one transaction. Blocked entities are
// reported and left untouched. Concurrent runs on one scope are rejected.
func (s *Service) Translate(ctx context.Context, scope Scope) (out TranslationOutcome, err error) {
	start := time.Now()
	defer func() { err = s.metrics.observe(opTranslate, start, err) }()

	scope, err = normalizeScope(scope)
	if err != nil {
		return TranslationOutcome{}, err
	}
	if s.lock != nil {
		key := shared.ConsolLockKey(scope.GroupID, scope.Period)
		release, err := s.lock(ctx, key, translateLockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLocked) {
				return TranslationOutcome{}, issues.Wrap(issues.KindSyncConflict, fmt.Errorf("consol: translation already running"), key)
			}
			return TranslationOutcome{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log().Warn("release translation lock", slog.String("key", key), slog.Any("error", err))
			}
		}()
	}

	snap, err := s.store.LoadSnapshot(ctx, scope)
	if err != nil {
		return TranslationOutcome{}, mapStoreError(err, scope)
	}
	results, err := Translate(ctx, snap, scope, s.opts)
	if err != nil {
		return TranslationOutcome{}, err
	}
	out = TranslationOutcome{GroupID: scope.GroupID, Period: scope.Period, FCTR: make([]FCTRPosting, 0)}
	for _, res := range results {
		out.Issues.Merge(res.Issues)
		if res.Blocked {
			out.Blocked = append(out.Blocked, res.EntityID)
			continue
		}
		out.Translated++
		if !res.FCTR.IsZero() {
			out.FCTR = append(out.FCTR, FCTRPosting{EntityID: res.EntityID, Account: res.FCTRAccount, Amount: res.FCTR})
		}
	}
	out.Issues = out.Issues.Unique()

	actor := shared.ActorFromContext(ctx)
	if err := s.store.SaveTranslation(ctx, scope.GroupID, scope.Period, actor, results, s.now()); err != nil {
		return TranslationOutcome{}, err
	}
	s.bump(ctx, scope.GroupID, scope.Period)
	s.record(ctx, actor, scope, "consol.translate", "consol_translated_balances", fmt.Sprintf("%d:%s", scope.GroupID, scope.Period), map[string]any{
		"translated": out.Translated,
		"blocked":    out.Blocked,
	})
	s.log().Info("translation persisted",
		slog.Int64("group_id", scope.GroupID),
		slog.String("period", scope.Period),
		slog.Int("translated", out.Translated),
		slog.Int("blocked", len(out.Blocked)))
	return out, nil
}

// ValidateRates checks that the rate table covers every conversion the group
// needs for the period.
func (s *Service) ValidateRates(ctx context.Context, groupID int64, period string) (cov fx.Coverage, err error) {
	start := time.Now()
	defer func() { err = s.metrics.observe(opValidateFx, start, err) }()

	scope, err := normalizeScope(Scope{GroupID: groupID, Period: period})
	if err != nil {
		return fx.Coverage{}, err
	}
	reporting, members, err := s.store.GroupCurrencies(ctx, scope.GroupID)
	if err != nil {
		return fx.Coverage{}, mapStoreError(err, scope)
	}
	asOf, err := shared.ParsePeriod(scope.Period)
	if err != nil {
		return fx.Coverage{}, issues.Wrap(issues.KindInvalidInput, err, scope.Period)
	}
	return fx.Validate(ctx, s.store, asOf, fx.RequirementsFor(reporting, members))
}

// SyncPreview is the dry run of a reference data sync.
type SyncPreview struct {
	Dataset string          `json:"dataset"`
	Version int64           `json:"version"`
	Counts  syncdiff.Counts `json:"counts"`
	Diff    syncdiff.Diff   `json:"diff"`
}

// PreviewSync compares incoming rows with the stored dataset without writing.
func (s *Service) PreviewSync(ctx context.Context, dataset string, incoming []syncdiff.Record) (SyncPreview, error) {
	ds, err := syncdiff.DatasetByName(dataset)
	if err != nil {
		return SyncPreview{}, issues.Wrap(issues.KindInvalidInput, err, dataset)
	}
	version, err := s.store.DatasetVersion(ctx, ds)
	if err != nil {
		return SyncPreview{}, err
	}
	existing, err := s.store.ListRecords(ctx, ds)
	if err != nil {
		return SyncPreview{}, err
	}
	diff := syncdiff.Compute(ds, incoming, existing)
	return SyncPreview{Dataset: ds.Name, Version: version, Counts: diff.Counts(), Diff: diff}, nil
}

// SyncApplyRequest applies a previewed sync.
type SyncApplyRequest struct {
	Dataset         string            `json:"dataset" validate:"required,oneof=accounts hierarchy"`
	Records         []syncdiff.Record `json:"records" validate:"required"`
	ExpectedVersion *int64            `json:"expected_version" validate:"required"`
	ConfirmDeletes  bool              `json:"confirm_deletes"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// SyncOutcome reports an applied sync.
type SyncOutcome struct {
	Dataset string          `json:"dataset"`
	Version int64           `json:"version"`
	Counts  syncdiff.Counts `json:"counts"`
}

// ApplySync recomputes the diff and applies it when the dataset is still at
// the expected version. Deletes require explicit confirmation.
func (s *Service) ApplySync(ctx context.Context, req SyncApplyRequest) (out SyncOutcome, err error) {
	start := time.Now()
	defer func() { err = s.metrics.observe(opSyncApply, start, err) }()

	if err := s.validate.Struct(req); err != nil {
		return SyncOutcome{}, invalid(err)
	}
	preview, err := s.PreviewSync(ctx, req.Dataset, req.Records)
	if err != nil {
		return SyncOutcome{}, err
	}
	if preview.Version != *req.ExpectedVersion {
		return SyncOutcome{}, issues.Errorf(issues.KindSyncConflict, []string{preview.Dataset},
			"consol: dataset %s is at version %d, expected %d", preview.Dataset, preview.Version, *req.ExpectedVersion)
	}
	diff := preview.Diff
	if len(diff.ToDelete) > 0 && !req.ConfirmDeletes {
		return SyncOutcome{}, issues.Errorf(issues.KindInvalidInput, diff.DeleteKeys(),
			"consol: sync would delete %d records; confirm_deletes is required", len(diff.ToDelete))
	}
	out = SyncOutcome{Dataset: preview.Dataset, Version: preview.Version, Counts: preview.Counts}
	if diff.Empty() {
		return out, nil
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.Reserve(ctx, shared.IdempotencyModuleSync, req.IdempotencyKey); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return SyncOutcome{}, issues.Wrap(issues.KindSyncConflict, err, req.IdempotencyKey)
			}
			return SyncOutcome{}, err
		}
	}
	actor := shared.ActorFromContext(ctx)
	ds, _ := syncdiff.DatasetByName(preview.Dataset)
	version, err := s.store.ApplySync(ctx, ds, diff, *req.ExpectedVersion, actor)
	if err != nil {
		if req.IdempotencyKey != "" && s.idem != nil {
			if delErr := s.idem.Release(context.WithoutCancel(ctx), shared.IdempotencyModuleSync, req.IdempotencyKey); delErr != nil {
				s.log().Warn("release idempotency key", slog.String("key", req.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		if errors.Is(err, shared.ErrVersionConflict) {
			return SyncOutcome{}, issues.Wrap(issues.KindSyncConflict, err, preview.Dataset)
		}
		return SyncOutcome{}, err
	}
	out.Version = version
	s.record(ctx, actor, Scope{}, "consol.sync_apply", "consol_sync_versions", preview.Dataset, map[string]any{
		"version": version,
		"counts":  preview.Counts,
	})
	s.log().Info("reference data synced",
		slog.String("dataset", preview.Dataset),
		slog.Int64("version", version),
		slog.Int("added", len(diff.ToAdd)),
		slog.Int("updated", len(diff.ToUpdate)),
		slog.Int("deleted", len(diff.ToDelete)))
	return out, nil
}

// AddCustomCheck validates and stores a user defined check. The formula must
// parse; unknown account codes evaluate to zero at run time.
func (s *Service) AddCustomCheck(ctx context.Context, c checks.CustomCheck) (out checks.CustomCheck, err error) {
	start := time.Now()
	defer func() { err = s.metrics.observe(opCustomCheck, start, err) }()

	c.Name = strings.TrimSpace(c.Name)
	c.Formula = strings.TrimSpace(c.Formula)
	op, ok := checks.ParseOperator(string(c.Operator))
	if !ok {
		return checks.CustomCheck{}, issues.Errorf(issues.KindInvalidInput, []string{string(c.Operator)}, "consol: unknown operator %q", c.Operator)
	}
	c.Operator = op
	if c.Severity == "" {
		c.Severity = checks.SeverityWarning
	}
	if err := s.validate.Struct(c); err != nil {
		return checks.CustomCheck{}, invalid(err)
	}
	if _, err := checks.ParseExpr(c.Formula); err != nil {
		return checks.CustomCheck{}, issues.Wrap(issues.KindInvalidInput, err, c.Formula)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	actor := shared.ActorFromContext(ctx)
	if err := s.store.InsertCustomCheck(ctx, c, actor, s.now()); err != nil {
		return checks.CustomCheck{}, err
	}
	s.record(ctx, actor, Scope{GroupID: c.GroupID}, "consol.custom_check", "consol_custom_checks", c.ID, map[string]any{
		"formula": c.Formula,
	})
	return c, nil
}

func (s *Service) bump(ctx context.Context, groupID int64, period string) {
	if err := s.cache.Bump(ctx, groupID, period); err != nil {
		s.log().Warn("consol cache bump failed",
			slog.Int64("group_id", groupID),
			slog.String("period", period),
			slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor string, scope Scope, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		GroupID:  scope.GroupID,
		Period:   scope.Period,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.log().Error("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "consol"))
	}
	return slog.Default().With(slog.String("component", "consol"))
}

func normalizeScope(scope Scope) (Scope, error) {
	if scope.GroupID <= 0 {
		return Scope{}, issues.Errorf(issues.KindInvalidInput, nil, "consol: group id is required")
	}
	period, err := shared.NormalizePeriod(scope.Period)
	if err != nil {
		return Scope{}, issues.Wrap(issues.KindInvalidInput, err, scope.Period)
	}
	scope.Period = period
	return scope, nil
}

func mapStoreError(err error, scope Scope) error {
	key := fmt.Sprintf("%d:%s", scope.GroupID, scope.Period)
	switch {
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrWorkingNotFound), errors.Is(err, shared.ErrNotFound):
		return issues.Wrap(issues.KindNotFound, err, key)
	case errors.Is(err, shared.ErrVersionConflict):
		return issues.Wrap(issues.KindSyncConflict, err, key)
	}
	return err
}

// invalid maps validator failures onto InvalidInput with the failing fields
// as keys.
func invalid(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		keys := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			keys = append(keys, fe.Field())
		}
		return issues.Wrap(issues.KindInvalidInput, err, keys...)
	}
	return issues.Wrap(issues.KindInvalidInput, err)
}
