package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/ic"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
)

// RegenerateService rebuilds the working of one group period.
type RegenerateService interface {
	Regenerate(ctx context.Context, scope consol.Scope) (consol.Working, error)
}

// ScopeRepository resolves "all" groups and the "active" period.
type ScopeRepository interface {
	ListGroupIDs(ctx context.Context) ([]int64, error)
	ActiveConsolidationPeriod(ctx context.Context) (string, error)
}

// Eliminator proposes and stores intercompany eliminations.
type Eliminator interface {
	Run(ctx context.Context, groupID int64, period string) (ic.Result, error)
}

// RegenerateJob coordinates the regenerate workflow.
type RegenerateJob struct {
	Service    RegenerateService
	Repo       ScopeRepository
	Eliminator Eliminator
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewRegenerateJob constructs the job handler. eliminator may be nil.
func NewRegenerateJob(service RegenerateService, repo ScopeRepository, eliminator Eliminator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RegenerateJob {
	return &RegenerateJob{
		Service:    service,
		Repo:       repo,
		Eliminator: eliminator,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the regenerate job.
func (j *RegenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil || j.Repo == nil {
		return errors.New("consol regenerate: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskConsolRegenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	period, groupIDs, err := resolveScope(ctx, j.Repo, payload)
	if err != nil {
		resultErr = err
		j.log().Error("resolve scope", slog.String("group", payload.GroupID), slog.String("period", payload.Period), slog.Any("error", err))
		return skipInvalid(resultErr)
	}
	if len(groupIDs) == 0 {
		j.log().Info("no consolidation groups discovered", slog.String("period", period))
		return resultErr
	}

	start := j.now()
	regenerated := 0
	for _, groupID := range groupIDs {
		if payload.EliminateIC && j.Eliminator != nil {
			res, err := j.Eliminator.Run(ctx, groupID, period)
			if err != nil {
				resultErr = err
				j.log().Error("intercompany elimination", slog.Int64("group_id", groupID), slog.String("period", period), slog.Any("error", err))
				return resultErr
			}
			j.log().Info("intercompany eliminations proposed", slog.Int64("group_id", groupID), slog.Int("pairs", res.Eliminated))
		}
		working, err := j.Service.Regenerate(ctx, consol.Scope{GroupID: groupID, Period: period, Entities: payload.Entities})
		if err != nil {
			resultErr = err
			j.log().Error("regenerate consolidation", slog.Int64("group_id", groupID), slog.String("period", period), slog.Any("error", err))
			return skipInvalid(resultErr)
		}
		recordIssues(j.metrics(), groupID, working.Result.Issues)
		j.metrics().SetBlocked(groupID, len(working.Result.Blocked))
		regenerated++
	}

	j.log().Info("regenerated consolidation workings", slog.String("period", period), slog.Int("groups", regenerated), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func resolveScope(ctx context.Context, repo ScopeRepository, payload ConsolPayload) (string, []int64, error) {
	period, err := resolvePeriod(ctx, repo, payload.Period)
	if err != nil {
		return "", nil, err
	}
	groups, err := resolveGroups(ctx, repo, payload.GroupID)
	if err != nil {
		return "", nil, err
	}
	return period, groups, nil
}

func resolvePeriod(ctx context.Context, repo ScopeRepository, period string) (string, error) {
	if period != "" && period != scopeActive {
		return period, nil
	}
	code, err := repo.ActiveConsolidationPeriod(ctx)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", issues.Errorf(issues.KindNotFound, []string{scopeActive}, "no active consolidation period")
	}
	return code, nil
}

func resolveGroups(ctx context.Context, repo ScopeRepository, group string) ([]int64, error) {
	if group == "" || group == scopeAll {
		return repo.ListGroupIDs(ctx)
	}
	id, err := strconv.ParseInt(group, 10, 64)
	if err != nil || id <= 0 {
		return nil, issues.Errorf(issues.KindInvalidInput, []string{group}, "invalid group id %s", group)
	}
	return []int64{id}, nil
}

func recordIssues(m *jobmetrics.Metrics, groupID int64, report issues.Report) {
	counts := make(map[issues.Kind]int)
	for _, issue := range report.Issues {
		counts[issue.Kind]++
	}
	for kind, n := range counts {
		m.AddIssues(string(kind), groupID, n)
	}
}

// skipInvalid stops retries for failures a retry cannot fix.
func skipInvalid(err error) error {
	switch issues.KindOf(err) {
	case issues.KindInvalidInput, issues.KindNotFound:
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	return err
}

func (j *RegenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RegenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolRegenerate))
	}
	return slog.Default().With(slog.String("job", TaskConsolRegenerate))
}

func (j *RegenerateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RegenerateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
