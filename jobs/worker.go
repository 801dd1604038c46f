package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Worker runs the consolidation task handlers and the nightly scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules a prepared task on a cron expression (UTC).
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker builds the server, registering every handler and cron entry.
// A cron entry that asynq rejects fails construction.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "jobs.worker"))
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, errors.New("jobs: handler requires a type and a func")
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:  cfg.Concurrency,
		Queues:       map[string]int{QueueDefault: 1},
		ErrorHandler: failureLogger(logger),
		// Validation failures are reported, not retried.
		IsFailure: func(err error) bool { return !errors.Is(err, asynq.SkipRetry) },
	})

	w := &Worker{server: srv, mux: mux, logger: logger}
	if len(cfg.Cron) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	for _, entry := range cfg.Cron {
		if entry.Spec == "" || entry.Task == nil {
			continue
		}
		id, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...)
		if err != nil {
			return nil, err
		}
		logger.Info("cron registered", slog.String("entry", id), slog.String("spec", entry.Spec), slog.String("task", entry.Task.Type()))
	}
	return w, nil
}

func failureLogger(logger *slog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn("task failed",
			slog.String("task", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err),
		)
	}
}

// Run processes tasks until ctx is cancelled or the server stops on its own.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- w.server.Run(w.mux) }()
	w.logger.Info("worker started")

	select {
	case <-ctx.Done():
		w.server.Shutdown()
		w.logger.Info("worker stopped")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
