package consol

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/notes"
	"github.com/odyssey-erp/consolidation/internal/consol/statements"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// entityRun is the per-entity stage output.
type entityRun struct {
	entity     Entity
	translated fx.Result
	issues     issues.Report
}

// Compute runs the consolidation pipeline over a snapshot: normalisation,
// entity level eliminations and adjustments, translation, note aggregation,
// statements and checks. It reads no external state. Entities are processed in
// parallel when opts.Workers > 1 and merged in entity id order, so the result
// does not depend on completion order.
func Compute(ctx context.Context, snap Snapshot, scope Scope, opts Options) (Result, error) {
	if err := validateSnapshot(snap, scope); err != nil {
		return Result{}, err
	}
	chart := coa.NewChart(snap.Accounts)
	entities := selectEntities(snap.Entities, scope.Entities)
	if len(entities) == 0 {
		return Result{}, issues.Errorf(issues.KindInvalidInput, nil, "consol: group %d has no entities in scope", snap.GroupID)
	}

	runs, err := runEntities(ctx, entities, snap, scope.Period, chart, opts)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		GroupID:           snap.GroupID,
		GroupName:         snap.GroupName,
		Period:            scope.Period,
		ReportingCurrency: strings.ToUpper(strings.TrimSpace(snap.ReportingCurrency)),
	}
	var report issues.Report
	src := notes.Source{}
	layers := make([]balance.Balances, 0, len(runs)+2)
	for _, run := range runs {
		report.Merge(run.issues)
		result.Translations = append(result.Translations, run.translated)
		if run.translated.Blocked {
			result.Blocked = append(result.Blocked, run.entity.ID)
			continue
		}
		src.Entities = append(src.Entities, notes.EntityBalances{EntityID: run.entity.ID, Name: run.entity.Name, Balances: run.translated.Balances})
		layers = append(layers, run.translated.Balances)
	}

	groupElims, groupAdjs := groupLevel(snap, scope.Period)
	elims, elimReport := balance.Delta(groupElims, nil, chart)
	adjs, adjReport := balance.Delta(nil, groupAdjs, chart)
	report.Merge(elimReport)
	report.Merge(adjReport)
	src.Eliminations = elims
	src.Adjustments = adjs
	layers = append(layers, elims, adjs)
	result.Consolidated = balance.Sum(layers...)

	result.Notes, report = buildNotes(snap.Hierarchy, chart, src, opts, report)
	unplaced := reportUnplaced(snap.Hierarchy, chart, result, opts, &report)
	result.Unplaced = unplaced.Codes()
	result.Statements = statements.Build(statements.Input{
		BalanceSheet:    result.Notes.BalanceSheet,
		IncomeStatement: result.Notes.IncomeStatement,
		Equity:          result.Notes.Equity,
		CashFlow:        result.Notes.CashFlow,
	}, statements.Options{OmitCurrentResult: opts.OmitCurrentResult})

	report = report.Unique()
	result.Checks = checks.Run(checks.Input{
		Totals:   result.Statements.Totals,
		Balances: result.Consolidated,
		Chart:    chart,
		Unplaced: unplaced,
		Issues:   report,
	}, snap.CustomChecks, opts.Evaluator)
	result.Issues = report
	return result, nil
}

// Translate runs only the per-entity stages (normalisation, entity level
// eliminations and adjustments, translation) and returns one result per entity
// in id order.
func Translate(ctx context.Context, snap Snapshot, scope Scope, opts Options) ([]fx.Result, error) {
	if err := validateSnapshot(snap, scope); err != nil {
		return nil, err
	}
	chart := coa.NewChart(snap.Accounts)
	entities := selectEntities(snap.Entities, scope.Entities)
	runs, err := runEntities(ctx, entities, snap, scope.Period, chart, opts)
	if err != nil {
		return nil, err
	}
	out := make([]fx.Result, len(runs))
	for i, run := range runs {
		out[i] = run.translated
	}
	return out, nil
}

func runEntities(ctx context.Context, entities []Entity, snap Snapshot, period string, chart coa.Chart, opts Options) ([]entityRun, error) {
	runs := make([]entityRun, len(entities))
	translator := fx.NewTranslator(fx.Policy{ReportingCurrency: snap.ReportingCurrency, FCTRAccount: opts.FCTRAccount}, chart)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for i := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			run, err := runEntity(entities[i], snap, period, chart, translator)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

func validateSnapshot(snap Snapshot, scope Scope) error {
	if scope.GroupID <= 0 {
		return issues.Errorf(issues.KindInvalidInput, nil, "consol: group id is required")
	}
	if snap.GroupID != scope.GroupID {
		return issues.Errorf(issues.KindInvalidInput, nil, "consol: snapshot is for group %d, scope asks for %d", snap.GroupID, scope.GroupID)
	}
	if _, err := shared.ParsePeriod(scope.Period); err != nil {
		return issues.Wrap(issues.KindInvalidInput, err, scope.Period)
	}
	if strings.TrimSpace(snap.ReportingCurrency) == "" {
		return issues.Errorf(issues.KindInvalidInput, nil, "consol: group %d has no reporting currency", snap.GroupID)
	}
	return nil
}

// selectEntities filters the members to the scope and sorts them by id.
func selectEntities(all []Entity, ids []int64) []Entity {
	include := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		include[id] = struct{}{}
	}
	out := make([]Entity, 0, len(all))
	for _, e := range all {
		if len(ids) > 0 {
			if _, ok := include[e.ID]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func runEntity(entity Entity, snap Snapshot, period string, chart coa.Chart, translator *fx.Translator) (entityRun, error) {
	run := entityRun{entity: entity}
	rows := make([]balance.Entry, 0)
	for _, e := range snap.Entries {
		if e.EntityID == entity.ID && e.Period == period {
			rows = append(rows, e)
		}
	}
	raw, report, err := balance.Normalize(entity.ID, period, rows, chart)
	if err != nil {
		return run, err
	}
	run.issues.Merge(report)

	var elims []balance.EliminationEntry
	for _, entry := range snap.Eliminations {
		if entry.EntityID == entity.ID && entry.Period == period {
			elims = append(elims, entry)
		}
	}
	var adjs []balance.Adjustment
	for _, adj := range snap.Adjustments {
		if adj.EntityID == entity.ID && adj.Period == period {
			adjs = append(adjs, adj)
		}
	}
	local, applyReport := balance.Apply(raw, elims, adjs, chart)
	run.issues.Merge(applyReport)

	tbCurrency := entity.TBCurrency
	if strings.TrimSpace(tbCurrency) == "" {
		tbCurrency = entity.FunctionalCurrency
	}
	run.translated = translator.Translate(fx.Input{
		EntityID:           entity.ID,
		Period:             period,
		FunctionalCurrency: entity.FunctionalCurrency,
		TBCurrency:         tbCurrency,
		Balances:           local,
		Rates:              rateSetFor(snap.Rates, entity.ID, period),
		Rules:              snap.Rules,
	})
	run.issues.Merge(run.translated.Issues)
	return run, nil
}

func rateSetFor(sets []fx.RateSet, entityID int64, period string) *fx.RateSet {
	for i := range sets {
		if sets[i].EntityID == entityID && sets[i].Period == period {
			set := sets[i]
			return &set
		}
	}
	return nil
}

// groupLevel returns the eliminations and adjustments not tied to a member.
func groupLevel(snap Snapshot, period string) ([]balance.EliminationEntry, []balance.Adjustment) {
	var elims []balance.EliminationEntry
	for _, entry := range snap.Eliminations {
		if entry.EntityID == 0 && entry.Period == period {
			elims = append(elims, entry)
		}
	}
	var adjs []balance.Adjustment
	for _, adj := range snap.Adjustments {
		if adj.EntityID == 0 && adj.Period == period {
			adjs = append(adjs, adj)
		}
	}
	return elims, adjs
}

func buildNotes(hierarchy []coa.HierarchyNode, chart coa.Chart, src notes.Source, opts Options, report issues.Report) (NoteSet, issues.Report) {
	scopes := statementScopes(opts)
	aggs := make([]notes.Aggregation, len(scopes))
	next := 1
	for i, scope := range scopes {
		start := 1
		if opts.ContinueNumbering {
			start = next
		}
		tree, numbering, treeReport := notes.Build(hierarchy, scope, start)
		report.Merge(treeReport)
		next = start + len(numbering)
		agg, aggReport := notes.Aggregate(tree, chart, src)
		report.Merge(aggReport)
		aggs[i] = agg
	}
	return NoteSet{
		BalanceSheet:    aggs[0],
		IncomeStatement: aggs[1],
		Equity:          aggs[2],
		CashFlow:        aggs[3],
	}, report
}

// reportUnplaced warns about consolidated balances that no statement presents
// and about inactive accounts that still carry a balance. Accounts already
// excluded by the note aggregation, and codes missing from the chart, were
// reported upstream. The unplaced balances are returned for the checks.
func reportUnplaced(hierarchy []coa.HierarchyNode, chart coa.Chart, result Result, opts Options, report *issues.Report) balance.Balances {
	excluded := make(map[string]struct{})
	for _, agg := range result.Notes.All() {
		for _, code := range agg.Excluded {
			excluded[code] = struct{}{}
		}
	}
	unplaced := make(balance.Balances)
	for _, gap := range notes.Unplaced(hierarchy, chart, result.Consolidated, statementScopes(opts)) {
		amount := result.Consolidated[gap.AccountCode]
		unplaced[gap.AccountCode] = amount
		if _, ok := chart.Lookup(gap.AccountCode); !ok {
			continue
		}
		if _, ok := excluded[gap.AccountCode]; ok {
			continue
		}
		if gap.Kind == issues.KindUnmappedAccount {
			report.Warn(gap.Kind, 0,
				fmt.Sprintf("account %s carries %s but its hierarchy tag %q is incomplete; it is left out of every statement", gap.AccountCode, amount.StringFixed(2), gap.Path.String()), gap.AccountCode)
			continue
		}
		report.Warn(gap.Kind, 0,
			fmt.Sprintf("account %s carries %s but its tag %q is presented on no statement", gap.AccountCode, amount.StringFixed(2), gap.Path.String()), gap.AccountCode)
	}
	for _, code := range notes.Inactive(chart, result.Consolidated) {
		report.Warn(issues.KindInactiveAccount, 0,
			fmt.Sprintf("inactive account %s carries %s and is still consolidated", code, result.Consolidated[code].StringFixed(2)), code)
	}
	return unplaced
}

func statementScopes(opts Options) []notes.Scope {
	kinds := []coa.StatementKind{coa.BalanceSheet, coa.IncomeStatement, coa.EquityStatement, coa.CashFlow}
	scopes := make([]notes.Scope, len(kinds))
	for i, kind := range kinds {
		scopes[i] = notes.ScopeFor(kind, opts.CashFlowClasses)
	}
	return scopes
}

// Summary is a one-line description of a result for logs and CLI output.
func (r Result) Summary() string {
	counts := checks.Summary(r.Checks)
	return fmt.Sprintf("group=%d period=%s entities=%d blocked=%d issues=%d checks pass=%d warning=%d fail=%d",
		r.GroupID, r.Period, len(r.Translations), len(r.Blocked), r.Issues.Len(),
		counts[checks.StatusPass], counts[checks.StatusWarning], counts[checks.StatusFail])
}
