package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
)

// QueueInspector is the part of *asynq.Inspector used for health reporting.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueStats summarises the consolidation queue.
type QueueStats struct {
	Queue          string  `json:"queue"`
	Pending        int     `json:"pending"`
	Active         int     `json:"active"`
	Scheduled      int     `json:"scheduled"`
	Retry          int     `json:"retry"`
	Archived       int     `json:"archived"`
	FailedToday    int     `json:"failed_today"`
	LatencySeconds float64 `json:"latency_seconds"`
	Paused         bool    `json:"paused,omitempty"`
}

// InspectQueue reads the default queue. A queue that has never seen a task
// reports zero counts.
func InspectQueue(inspector QueueInspector) (QueueStats, error) {
	if inspector == nil {
		return QueueStats{}, errors.New("jobs: inspector not configured")
	}
	info, err := inspector.GetQueueInfo(QueueDefault)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return QueueStats{Queue: QueueDefault}, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{
		Queue:          info.Queue,
		Pending:        info.Pending,
		Active:         info.Active,
		Scheduled:      info.Scheduled,
		Retry:          info.Retry,
		Archived:       info.Archived,
		FailedToday:    info.Failed,
		LatencySeconds: info.Latency.Seconds(),
		Paused:         info.Paused,
	}, nil
}

// Handler serves queue health over HTTP.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs the jobs handler. A nil inspector reports an empty
// queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, QueueStats{Queue: QueueDefault})
		return
	}
	stats, err := InspectQueue(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "queue unavailable")
		return
	}
	status := http.StatusOK
	if stats.Paused {
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, stats)
}
