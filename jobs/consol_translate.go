package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/internal/consol"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
)

// TranslateService posts translated balances for one group period.
type TranslateService interface {
	Translate(ctx context.Context, scope consol.Scope) (consol.TranslationOutcome, error)
}

// TranslateJob posts translated trial balances and FCTR for the scoped groups.
type TranslateJob struct {
	Service TranslateService
	Repo    ScopeRepository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTranslateJob constructs the job handler.
func NewTranslateJob(service TranslateService, repo ScopeRepository, logger *slog.Logger, metrics *jobmetrics.Metrics) *TranslateJob {
	return &TranslateJob{Service: service, Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle executes the translate job. Groups with blocked entities are logged
// and counted but do not fail the task.
func (j *TranslateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil || j.Repo == nil {
		return errors.New("consol translate: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskConsolTranslate)

	period, groupIDs, err := resolveScope(ctx, j.Repo, payload)
	if err != nil {
		j.log().Error("resolve scope", slog.String("group", payload.GroupID), slog.Any("error", err))
		return skipInvalid(tracker.End(err))
	}
	for _, groupID := range groupIDs {
		out, err := j.Service.Translate(ctx, consol.Scope{GroupID: groupID, Period: period, Entities: payload.Entities})
		if err != nil {
			j.log().Error("translate group", slog.Int64("group_id", groupID), slog.String("period", period), slog.Any("error", err))
			return skipInvalid(tracker.End(err))
		}
		recordIssues(metrics, groupID, out.Issues)
		metrics.SetBlocked(groupID, len(out.Blocked))
		if len(out.Blocked) > 0 {
			j.log().Warn("entities blocked from translation",
				slog.Int64("group_id", groupID),
				slog.String("period", period),
				slog.Any("entities", out.Blocked))
		}
		j.log().Info("translated group", slog.Int64("group_id", groupID), slog.String("period", period), slog.Int("entities", out.Translated))
	}
	return tracker.End(nil)
}

func (j *TranslateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolTranslate))
	}
	return slog.Default().With(slog.String("job", TaskConsolTranslate))
}
