package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/checks"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/syncdiff"
	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

type fakeService struct {
	mu         sync.Mutex
	actors     []string
	scopes     []consol.Scope
	edit       consol.EditCellRequest
	apply      consol.SyncApplyRequest
	view       consol.WorkingView
	err        error
	coverage   fx.Coverage
	preview    consol.SyncPreview
	translated consol.TranslationOutcome
}

func (f *fakeService) remember(ctx context.Context, scope consol.Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actors = append(f.actors, shared.ActorFromContext(ctx))
	f.scopes = append(f.scopes, scope)
}

func (f *fakeService) Regenerate(ctx context.Context, scope consol.Scope) (consol.Working, error) {
	f.remember(ctx, scope)
	if f.err != nil {
		return consol.Working{}, f.err
	}
	return consol.Working{ID: "w-1", GroupID: scope.GroupID, Period: scope.Period, Version: 1}, nil
}

func (f *fakeService) Working(ctx context.Context, groupID int64, period string) (consol.WorkingView, error) {
	f.remember(ctx, consol.Scope{GroupID: groupID, Period: period})
	if f.err != nil {
		return consol.WorkingView{}, f.err
	}
	return f.view, nil
}

func (f *fakeService) EditCell(ctx context.Context, req consol.EditCellRequest) (consol.Working, error) {
	f.remember(ctx, consol.Scope{GroupID: req.GroupID, Period: req.Period})
	f.edit = req
	if f.err != nil {
		return consol.Working{}, f.err
	}
	return consol.Working{ID: "w-1", Version: req.ExpectedVersion + 1}, nil
}

func (f *fakeService) Translate(ctx context.Context, scope consol.Scope) (consol.TranslationOutcome, error) {
	f.remember(ctx, scope)
	return f.translated, f.err
}

func (f *fakeService) ValidateRates(ctx context.Context, groupID int64, period string) (fx.Coverage, error) {
	f.remember(ctx, consol.Scope{GroupID: groupID, Period: period})
	return f.coverage, f.err
}

func (f *fakeService) PreviewSync(ctx context.Context, dataset string, incoming []syncdiff.Record) (consol.SyncPreview, error) {
	f.remember(ctx, consol.Scope{})
	return f.preview, f.err
}

func (f *fakeService) ApplySync(ctx context.Context, req consol.SyncApplyRequest) (consol.SyncOutcome, error) {
	f.remember(ctx, consol.Scope{})
	f.apply = req
	if f.err != nil {
		return consol.SyncOutcome{}, f.err
	}
	return consol.SyncOutcome{Dataset: req.Dataset, Version: *req.ExpectedVersion + 1}, nil
}

func (f *fakeService) AddCustomCheck(ctx context.Context, c checks.CustomCheck) (checks.CustomCheck, error) {
	f.remember(ctx, consol.Scope{})
	if f.err != nil {
		return checks.CustomCheck{}, f.err
	}
	c.ID = "chk-1"
	return c, nil
}

func newTestRouter(svc Service, limit int) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, svc, limit).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegenerateParsesScopeAndActor(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, 100)

	rec := do(t, h, http.MethodPost, "/consol/groups/7/periods/2024-03/regenerate?entities=1,%202", "", map[string]string{ActorHeader: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "w-1", body["id"])
	require.EqualValues(t, 1, body["version"])
	require.Equal(t, []consol.Scope{{GroupID: 7, Period: "2024-03", Entities: []int64{1, 2}}}, svc.scopes)
	require.Equal(t, []string{"alice"}, svc.actors)
}

func TestRegenerateRejectsBadPath(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, 100)

	for _, target := range []string{
		"/consol/groups/x/periods/2024-03/regenerate",
		"/consol/groups/7/periods/2024-13/regenerate",
		"/consol/groups/7/periods/2024-03/regenerate?entities=1,abc",
	} {
		rec := do(t, h, http.MethodPost, target, "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		var p httpx.ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		require.Equal(t, string(issues.KindInvalidInput), p.Kind)
	}
	require.Empty(t, svc.scopes)
}

func TestRegenerateMapsServiceErrors(t *testing.T) {
	svc := &fakeService{err: issues.Errorf(issues.KindNotFound, []string{"7:2024-03"}, "no group")}
	rec := do(t, newTestRouter(svc, 100), http.MethodPost, "/consol/groups/7/periods/2024-03/regenerate", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, []string{shared.SystemActor}, svc.actors)
}

func TestWorkingEndpointsSetCacheHeader(t *testing.T) {
	svc := &fakeService{view: consol.WorkingView{
		Working: consol.Working{
			ID:      "w-9",
			GroupID: 7,
			Period:  "2024-03",
			Version: 4,
			Result:  consol.Result{GroupName: "Odyssey Group", ReportingCurrency: "USD"},
		},
		Cached: true,
	}}
	h := newTestRouter(svc, 100)

	rec := do(t, h, http.MethodGet, "/consol/groups/7/periods/2024-03/working", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hit", rec.Header().Get("X-Cache"))
	var view consol.WorkingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "w-9", view.Working.ID)

	svc.view.Cached = false
	rec = do(t, h, http.MethodGet, "/consol/groups/7/periods/2024-03/statements.csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "miss", rec.Header().Get("X-Cache"))
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "consol_7_2024-03.csv")
	require.Contains(t, rec.Body.String(), "# Report: Consolidated Statements | Group: Odyssey Group")

	rec = do(t, h, http.MethodGet, "/consol/groups/7/periods/2024-03/notes.txt?format=markdown", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/consol/groups/7/periods/2024-03/notes.txt", "", nil)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestEditCellDecodesPayload(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, 100)

	body := `{"statement":"balance_sheet","label":"Cash","value":"3300.00","expected_version":3}`
	rec := do(t, h, http.MethodPatch, "/consol/groups/7/periods/2024-03/working/cells", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, consol.EditCellRequest{
		GroupID:         7,
		Period:          "2024-03",
		Statement:       "balance_sheet",
		Label:           "Cash",
		Value:           "3300.00",
		ExpectedVersion: 3,
	}, svc.edit)

	rec = do(t, h, http.MethodPatch, "/consol/groups/7/periods/2024-03/working/cells", `{"labels":"Cash"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = issues.Errorf(issues.KindSyncConflict, []string{"w-1"}, "working moved")
	rec = do(t, h, http.MethodPatch, "/consol/groups/7/periods/2024-03/working/cells", body, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTranslateAndValidateRates(t *testing.T) {
	svc := &fakeService{
		translated: consol.TranslationOutcome{GroupID: 7, Period: "2024-03", Translated: 1, Blocked: []int64{3}},
		coverage: fx.Coverage{Checked: 2, Gaps: []fx.Gap{
			{Pair: "GBPUSD", Methods: []fx.Method{fx.MethodClosing}, Entities: []int64{3}},
		}},
	}
	h := newTestRouter(svc, 100)

	rec := do(t, h, http.MethodPost, "/consol/groups/7/periods/2024-03/translate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out consol.TranslationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 1, out.Translated)
	require.Equal(t, []int64{3}, out.Blocked)

	rec = do(t, h, http.MethodGet, "/consol/groups/7/periods/2024-03/fx/validate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"period":"2024-03","checked":2,"blocked":[3],"gaps":[{"pair":"GBPUSD","entities":[3],"methods":["`+string(fx.MethodClosing)+`"]}]}`, rec.Body.String())
}

func TestSyncEndpoints(t *testing.T) {
	svc := &fakeService{preview: consol.SyncPreview{Dataset: "accounts", Version: 5}}
	h := newTestRouter(svc, 100)

	rec := do(t, h, http.MethodPost, "/consol/sync/accounts/preview", `{"records":[{"code":"1000","name":"Cash"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/consol/sync/accounts/apply", `{"records":[],"expected_version":5,"confirm_deletes":true}`, map[string]string{"Idempotency-Key": " key-1 "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "accounts", svc.apply.Dataset)
	require.Equal(t, "key-1", svc.apply.IdempotencyKey)
	require.True(t, svc.apply.ConfirmDeletes)
	require.EqualValues(t, 5, *svc.apply.ExpectedVersion)

	var out consol.SyncOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.EqualValues(t, 6, out.Version)
}

func TestAddCheckReturnsCreated(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, 100)

	rec := do(t, h, http.MethodPost, "/consol/checks", `{"group_id":7,"name":"Cash","formula":"[1000]","operator":"=","expected":"3250"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c checks.CustomCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	require.Equal(t, "chk-1", c.ID)
	require.True(t, c.Expected.Equal(decimal.RequireFromString("3250")))
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, 1)
	headers := map[string]string{ActorHeader: "bob"}

	rec := do(t, h, http.MethodPost, "/consol/groups/7/periods/2024-03/translate", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/consol/groups/7/periods/2024-03/translate", "", headers)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, h, http.MethodGet, "/consol/groups/7/periods/2024-03/fx/validate", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
}
