package http

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/notes"
	"github.com/odyssey-erp/consolidation/internal/consol/syncdiff"
	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// ActorHeader carries the acting user set by the upstream gateway.
const ActorHeader = "X-Odyssey-Actor"

// Service is the consolidation surface used by the handlers.
type Service interface {
	Regenerate(ctx context.Context, scope consol.Scope) (consol.Working, error)
	Working(ctx context.Context, groupID int64, period string) (consol.WorkingView, error)
	EditCell(ctx context.Context, req consol.EditCellRequest) (consol.Working, error)
	Translate(ctx context.Context, scope consol.Scope) (consol.TranslationOutcome, error)
	ValidateRates(ctx context.Context, groupID int64, period string) (fx.Coverage, error)
	PreviewSync(ctx context.Context, dataset string, incoming []syncdiff.Record) (consol.SyncPreview, error)
	ApplySync(ctx context.Context, req consol.SyncApplyRequest) (consol.SyncOutcome, error)
	AddCustomCheck(ctx context.Context, c checks.CustomCheck) (checks.CustomCheck, error)
}

// Handler wires the consolidation JSON API.
type Handler struct {
	logger    *slog.Logger
	service   Service
	rateLimit func(http.Handler) http.Handler
	flight    flight
}

// NewHandler constructs the consolidation handler. Mutating endpoints are
// limited to requestsPerMinute per actor, or per client IP without an actor.
func NewHandler(logger *slog.Logger, service Service, requestsPerMinute int) *Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	limiter := httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			return "actor:" + actor, nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{logger: logger, service: service, rateLimit: limiter}
}

// MountRoutes registers consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/consol", func(r chi.Router) {
		r.Use(actorContext)
		r.Route("/groups/{group}/periods/{period}", func(r chi.Router) {
			r.Get("/working", h.handleGetWorking)
			r.Get("/notes.txt", h.handleNotes)
			r.Get("/statements.csv", h.handleStatementsCSV)
			r.Get("/fx/validate", h.handleValidateRates)
			r.Group(func(r chi.Router) {
				r.Use(h.rateLimit)
				r.Post("/regenerate", h.handleRegenerate)
				r.Post("/translate", h.handleTranslate)
				r.Patch("/working/cells", h.handleEditCell)
			})
		})
		r.Post("/sync/{dataset}/preview", h.handleSyncPreview)
		r.With(h.rateLimit).Post("/sync/{dataset}/apply", h.handleSyncApply)
		r.Post("/checks", h.handleAddCheck)
	})
}

func actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if ids := r.URL.Query().Get("entities"); ids != "" {
		scope.Entities, err = parseEntityIDs(ids)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	start := time.Now()
	key := fmt.Sprintf("regenerate:%d:%s:%v", scope.GroupID, scope.Period, scope.Entities)
	val, sharedRun, err := h.flight.do(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.service.Regenerate(ctx, scope)
	})
	observeRegenerate(scope.GroupID, sharedRun, time.Since(start))
	if err != nil {
		h.logError(r, "regenerate failed", err)
		httpx.RespondError(w, err)
		return
	}
	working := val.(consol.Working)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":       working.ID,
		"version":  working.Version,
		"shared":   sharedRun,
		"blocked":  working.Result.Blocked,
		"checks":   checks.Summary(working.Result.Checks),
		"issues":   working.Result.Issues,
		"summary":  working.Result.Summary(),
		"period":   working.Period,
		"group_id": working.GroupID,
	})
}

func (h *Handler) handleGetWorking(w http.ResponseWriter, r *http.Request) {
	view, ok := h.working(w, r, "working")
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleNotes(w http.ResponseWriter, r *http.Request) {
	view, ok := h.working(w, r, "notes")
	if !ok {
		return
	}
	detailed := r.URL.Query().Get("detailed") == "1"
	var formatter notes.Formatter = notes.TextFormatter{Detailed: detailed}
	contentType := "text/plain; charset=utf-8"
	if r.URL.Query().Get("format") == "markdown" {
		formatter = notes.MarkdownFormatter{Detailed: detailed}
		contentType = "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(formatter.Format(view.Working.Result.Notes.All()...)))
}

func (h *Handler) handleStatementsCSV(w http.ResponseWriter, r *http.Request) {
	view, ok := h.working(w, r, "statements")
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := writeStatementsCSV(&buf, view.Working); err != nil {
		h.logError(r, "render statements csv", err)
		httpx.RespondError(w, err)
		return
	}
	filename := fmt.Sprintf("consol_%d_%s.csv", view.Working.GroupID, view.Working.Period)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) working(w http.ResponseWriter, r *http.Request, report string) (consol.WorkingView, bool) {
	scope, err := parseScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return consol.WorkingView{}, false
	}
	view, err := h.service.Working(r.Context(), scope.GroupID, scope.Period)
	if err != nil {
		httpx.RespondError(w, err)
		return consol.WorkingView{}, false
	}
	recordCacheLookup(report, scope.GroupID, view.Cached)
	if view.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	return view, true
}

type editCellPayload struct {
	Statement       string `json:"statement"`
	Label           string `json:"label"`
	Column          string `json:"column"`
	Value           string `json:"value"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (h *Handler) handleEditCell(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload editCellPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	working, err := h.service.EditCell(r.Context(), consol.EditCellRequest{
		GroupID:         scope.GroupID,
		Period:          scope.Period,
		Statement:       coa.StatementKind(payload.Statement),
		Label:           payload.Label,
		Column:          payload.Column,
		Value:           payload.Value,
		ExpectedVersion: payload.ExpectedVersion,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":        working.ID,
		"version":   working.Version,
		"overrides": working.Overrides,
	})
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Translate(r.Context(), scope)
	if err != nil {
		h.logError(r, "translate failed", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleValidateRates(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cov, err := h.service.ValidateRates(r.Context(), scope.GroupID, scope.Period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	gaps := make([]map[string]any, 0, len(cov.Gaps))
	for _, gap := range cov.Gaps {
		gaps = append(gaps, map[string]any{"pair": gap.Pair, "methods": gap.Methods, "entities": gap.Entities})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"period":  scope.Period,
		"checked": cov.Checked,
		"gaps":    gaps,
		"blocked": cov.Blocked(),
	})
}

type syncPayload struct {
	Records         []syncdiff.Record `json:"records"`
	ExpectedVersion *int64            `json:"expected_version,omitempty"`
	ConfirmDeletes  bool              `json:"confirm_deletes,omitempty"`
}

func (h *Handler) handleSyncPreview(w http.ResponseWriter, r *http.Request) {
	var payload syncPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	preview, err := h.service.PreviewSync(r.Context(), chi.URLParam(r, "dataset"), payload.Records)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) handleSyncApply(w http.ResponseWriter, r *http.Request) {
	var payload syncPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ApplySync(r.Context(), consol.SyncApplyRequest{
		Dataset:         chi.URLParam(r, "dataset"),
		Records:         payload.Records,
		ExpectedVersion: payload.ExpectedVersion,
		ConfirmDeletes:  payload.ConfirmDeletes,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.logError(r, "sync apply failed", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAddCheck(w http.ResponseWriter, r *http.Request) {
	var payload checks.CustomCheck
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.AddCustomCheck(r.Context(), payload)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func parseScope(r *http.Request) (consol.Scope, error) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "group"), 10, 64)
	if err != nil || groupID <= 0 {
		return consol.Scope{}, issues.Errorf(issues.KindInvalidInput, []string{"group"}, "invalid group id %q", chi.URLParam(r, "group"))
	}
	period, err := shared.NormalizePeriod(chi.URLParam(r, "period"))
	if err != nil {
		return consol.Scope{}, issues.Wrap(issues.KindInvalidInput, err, "period")
	}
	return consol.Scope{GroupID: groupID, Period: period}, nil
}

func parseEntityIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, issues.Errorf(issues.KindInvalidInput, []string{part}, "invalid entity id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	logger := h.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg,
		slog.String("component", "consol_http"),
		slog.String("path", r.URL.Path),
		slog.String("kind", string(issues.KindOf(err))),
		slog.Any("error", err))
}
