package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/metrics"
	"github.com/matt-riley/cerebro/internal/middleware"
	"github.com/matt-riley/cerebro/internal/repository"
	"github.com/matt-riley/cerebro/internal/service"
	"github.com/matt-riley/cerebro/internal/settings"
)

func reqWithNamespace(req *http.Request) *http.Request {
	return req.WithContext(middleware.NewContextWithNamespaceID(req.Context(), "ns-1"))
}

func TestHTTPHandlerGetSetting(t *testing.T) {
	svc := &fakeService{
		getSettingFunc: func(_ context.Context, namespaceID, name string) (repository.Setting, error) {
			if namespaceID != "ns-1" || name != "checkout" {
				t.Fatalf("GetSetting(%q, %q), want (ns-1, checkout)", namespaceID, name)
			}
			return repository.Setting{Setting: "checkout", Value: json.RawMessage(`true`)}, nil
		},
	}

	rec := httptest.NewRecorder()
	NewHTTPHandler(svc).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/settings/checkout", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", got)
	}

	var got repository.Setting
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Setting != "checkout" || string(got.Value) != "true" {
		t.Fatalf("response = %+v, want checkout=true", got)
	}
}

func TestHTTPHandlerNamespaceResolution(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{name: "query parameter", target: "/v1/settings?namespace=web", wantStatus: http.StatusOK},
		{name: "unknown namespace", target: "/v1/settings?namespace=nope", wantStatus: http.StatusNotFound},
		{name: "no namespace", target: "/v1/settings", wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				namespaceByNameFunc: func(_ context.Context, name string) (repository.Namespace, error) {
					if name != "web" {
						return repository.Namespace{}, service.ErrNamespaceNotFound
					}
					return repository.Namespace{ID: "ns-web", Name: "web"}, nil
				},
				listSettingsFunc: func(_ context.Context, namespaceID string) ([]repository.Setting, error) {
					if namespaceID != "ns-web" {
						t.Fatalf("ListSettings namespace = %q, want ns-web", namespaceID)
					}
					return []repository.Setting{}, nil
				},
			}

			rec := httptest.NewRecorder()
			NewHTTPHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHTTPHandlerPutSetting(t *testing.T) {
	var got repository.Setting
	svc := &fakeService{
		putSettingFunc: func(_ context.Context, setting repository.Setting) (repository.Setting, error) {
			got = setting
			return setting, nil
		},
	}

	body := `{"value":10,"except":[{"value":20,"country":"GB"}],"labels":["limits"]}`
	req := reqWithNamespace(httptest.NewRequest(http.MethodPut, "/v1/settings/limit", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	NewHTTPHandler(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got.Setting != "limit" || got.NamespaceID != "ns-1" {
		t.Fatalf("PutSetting got %+v, want limit in ns-1", got)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "limits" {
		t.Fatalf("labels = %v, want [limits]", got.Labels)
	}
}

func TestHTTPHandlerPutSettingErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		putErr     error
		opts       []HTTPOption
		wantStatus int
	}{
		{name: "mismatched name", body: `{"setting":"other","value":1}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"value":1,"bogus":true}`, wantStatus: http.StatusBadRequest},
		{name: "trailing data", body: `{"value":1}{}`, wantStatus: http.StatusBadRequest},
		{name: "oversized body", body: `{"value":"` + strings.Repeat("x", 64) + `"}`, opts: []HTTPOption{WithMaxJSONBodySize(16)}, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "invalid entry", body: `{"value":1}`, putErr: fmt.Errorf("%w: bad template", service.ErrInvalidEntry), wantStatus: http.StatusUnprocessableEntity},
		{name: "backend failure", body: `{"value":1}`, putErr: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				putSettingFunc: func(_ context.Context, setting repository.Setting) (repository.Setting, error) {
					return setting, tc.putErr
				},
			}

			req := reqWithNamespace(httptest.NewRequest(http.MethodPut, "/v1/settings/limit", strings.NewReader(tc.body)))
			rec := httptest.NewRecorder()
			NewHTTPHandler(svc, tc.opts...).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHTTPHandlerReplaceSettings(t *testing.T) {
	var got []repository.Setting
	svc := &fakeService{
		replaceSettingsFunc: func(_ context.Context, namespaceID string, list []repository.Setting) ([]repository.Setting, error) {
			if namespaceID != "ns-1" {
				t.Fatalf("ReplaceSettings namespace = %q, want ns-1", namespaceID)
			}
			got = list
			return list, nil
		},
	}

	body := `[{"setting":"a","value":1},{"setting":"b","value":"${a}"}]`
	rec := httptest.NewRecorder()
	NewHTTPHandler(svc).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(got) != 2 || got[0].Setting != "a" || got[1].Setting != "b" {
		t.Fatalf("ReplaceSettings got %+v, want [a b] in order", got)
	}
}

func TestHTTPHandlerDeleteSetting(t *testing.T) {
	svc := &fakeService{
		deleteSettingFunc: func(_ context.Context, _ string, name string) error {
			if name == "missing" {
				return service.ErrSettingNotFound
			}
			return nil
		},
	}
	handler := NewHTTPHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodDelete, "/v1/settings/old", nil)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodDelete, "/v1/settings/missing", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), `"error":"setting not found"`) {
		t.Fatalf("body = %q, want setting not found", rec.Body.String())
	}
}

func TestHTTPHandlerResolve(t *testing.T) {
	var gotContext core.Context
	var gotOverrides core.Overrides
	svc := &fakeService{
		resolveFunc: func(_ context.Context, _ string, evalContext core.Context, overrides core.Overrides) (*settings.Config, error) {
			gotContext, gotOverrides = evalContext, overrides
			return settings.New(core.Resolution{
				Answers:       core.Answers{"checkout": true, "limit": 20.0},
				Labels:        map[string][]string{"limits": {"limit"}},
				LabelResolved: map[string]map[string]any{"limits": {"limit": 20.0}},
			}), nil
		},
	}
	handler := NewHTTPHandler(svc)

	body := `{"context":{"country":"GB","user":null},"overrides":{"checkout":true}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodPost, "/v1/resolve", strings.NewReader(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotContext["country"] != "GB" {
		t.Fatalf("context = %v, want country=GB", gotContext)
	}
	if value, ok := gotContext["user"]; !ok || value != nil {
		t.Fatalf("context user = %v (present %v), want explicit nil", value, ok)
	}
	if gotOverrides["checkout"] != true {
		t.Fatalf("overrides = %v, want checkout=true", gotOverrides)
	}

	cfg, err := settings.Rehydrate(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	if enabled, ok, err := cfg.IsEnabled("checkout"); err != nil || !ok || !enabled {
		t.Fatalf("IsEnabled(checkout) = %v, %v, %v; want true, true, nil", enabled, ok, err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodPost, "/v1/resolve", strings.NewReader(`{"label":"limits"}`))))
	var labelled labelJSONResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &labelled); err != nil {
		t.Fatalf("unmarshal label response: %v", err)
	}
	if labelled.Label != "limits" || labelled.Settings["limit"] != 20.0 {
		t.Fatalf("label response = %+v, want limits with limit=20", labelled)
	}
}

func TestHTTPHandlerResolveErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "missing seed", err: core.ErrMissingPercentageSeed, wantStatus: http.StatusBadRequest},
		{name: "unknown condition", err: fmt.Errorf("setting x: %w", core.ErrUnknownConditionType), wantStatus: http.StatusUnprocessableEntity},
		{name: "bad range", err: core.ErrInvalidRangeFormat, wantStatus: http.StatusUnprocessableEntity},
		{name: "non numeric", err: core.ErrNonNumericRangeContext, wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown namespace", err: service.ErrNamespaceNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				resolveFunc: func(context.Context, string, core.Context, core.Overrides) (*settings.Config, error) {
					return nil, tc.err
				},
			}

			rec := httptest.NewRecorder()
			NewHTTPHandler(svc).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodPost, "/v1/resolve", strings.NewReader(`{}`))))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestHTTPHandlerValidate(t *testing.T) {
	svc := &fakeService{
		validateSettingsFunc: func(list []repository.Setting) loader.Report {
			if len(list) == 1 {
				return loader.Report{Valid: true}
			}
			return loader.Report{Errors: []loader.Problem{{Setting: "b", Message: "duplicate setting"}}}
		},
	}
	handler := NewHTTPHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/validate", strings.NewReader(`[{"setting":"a","value":1}]`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/validate", strings.NewReader(`[{"setting":"b","value":1},{"setting":"b","value":2}]`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	var report validateJSONResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Valid || len(report.Errors) != 1 || report.Errors[0].Setting != "b" {
		t.Fatalf("report = %+v, want one problem for b", report)
	}
}

func TestHTTPHandlerReadOnly(t *testing.T) {
	svc := &fakeService{
		listSettingsFunc: func(context.Context, string) ([]repository.Setting, error) {
			return nil, nil
		},
		putSettingFunc: func(context.Context, repository.Setting) (repository.Setting, error) {
			t.Fatal("PutSetting should not be reachable on a read-only handler")
			return repository.Setting{}, nil
		},
	}
	handler := NewHTTPHandler(svc, WithReadOnly())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/settings", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(method, "/v1/settings/x", strings.NewReader(`{}`))))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s status = %d, want %d", method, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestHTTPHandlerMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	svc := &fakeService{
		listSettingsFunc: func(context.Context, string) ([]repository.Setting, error) {
			return nil, nil
		},
	}
	handler := NewHTTPHandler(svc, WithMetrics(m))

	handler.ServeHTTP(httptest.NewRecorder(), reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/settings", nil)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `cerebro_http_requests_total{method="GET",route="GET /v1/settings",status="200"} 1`) {
		t.Fatalf("metrics body missing request counter: %s", rec.Body.String())
	}
}

func TestHTTPHandlerStreamReplaysFromLastEventID(t *testing.T) {
	sinceCalls := make([]int64, 0)
	svc := &fakeService{
		listEventsSinceFunc: func(_ context.Context, _ string, since int64) ([]repository.SettingEvent, error) {
			sinceCalls = append(sinceCalls, since)
			if since != 1 {
				return nil, nil
			}
			return []repository.SettingEvent{
				{EventID: 2, Setting: "checkout", EventType: repository.EventUpdated, Payload: json.RawMessage(`{"setting":"checkout","value":true}`)},
				{EventID: 3, Setting: "legacy", EventType: repository.EventDeleted, Payload: json.RawMessage(`{"setting":"legacy"}`)},
				{EventID: 4, EventType: repository.EventReplaced, Payload: json.RawMessage(`{"count":2}`)},
			}, nil
		},
	}

	handler := NewHTTPHandler(svc, WithStreamPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx))
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(sinceCalls) == 0 || sinceCalls[0] != 1 {
		t.Fatalf("first ListEventsSince call = %#v, want first value %d", sinceCalls, 1)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, want := range []string{"id: 2\nevent: update", "id: 3\nevent: delete", "id: 4\nevent: replace"} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream body missing %q: %q", want, body)
		}
	}
}

func TestHTTPHandlerStreamFiltersBySetting(t *testing.T) {
	var gotFilter string
	svc := &fakeService{
		listEventsSinceForSettingFunc: func(_ context.Context, _ string, _ int64, name string) ([]repository.SettingEvent, error) {
			gotFilter = name
			return nil, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream?setting=checkout", nil).WithContext(ctx))
	NewHTTPHandler(svc, WithStreamPollInterval(time.Hour)).ServeHTTP(httptest.NewRecorder(), req)

	if gotFilter != "checkout" {
		t.Fatalf("ListEventsSinceForSetting filter = %q, want checkout", gotFilter)
	}
}

func TestHTTPHandlerStreamCompactsPayloadToSingleDataLine(t *testing.T) {
	svc := &fakeService{
		listEventsSinceFunc: func(_ context.Context, _ string, since int64) ([]repository.SettingEvent, error) {
			if since != 0 {
				return nil, nil
			}
			return []repository.SettingEvent{
				{EventID: 1, Setting: "checkout", EventType: repository.EventUpdated, Payload: json.RawMessage("{\n  \"setting\": \"checkout\",\n  \"value\": true\n}")},
			}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	NewHTTPHandler(svc, WithStreamPollInterval(time.Hour)).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)))

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"setting":"checkout","value":true}`) {
		t.Fatalf("stream body missing compact payload: %q", body)
	}
	if strings.Contains(body, "data: {\n") {
		t.Fatalf("stream body should not contain multiline data payload: %q", body)
	}
}

func TestHTTPHandlerStreamInitialFetchErrorReturnsHTTPError(t *testing.T) {
	svc := &fakeService{
		listEventsSinceFunc: func(context.Context, string, int64) ([]repository.SettingEvent, error) {
			return nil, errors.New("backend failure")
		},
	}

	rec := httptest.NewRecorder()
	NewHTTPHandler(svc).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream", nil)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal server error"`) {
		t.Fatalf("body = %q, want internal server error json", rec.Body.String())
	}
}

func TestHTTPHandlerStreamFlushesHeadersWithoutInitialEvents(t *testing.T) {
	svc := &fakeService{
		listEventsSinceFunc: func(context.Context, string, int64) ([]repository.SettingEvent, error) {
			return nil, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	NewHTTPHandler(svc, WithStreamPollInterval(time.Hour)).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)))

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want %q", got, "text/event-stream")
	}
	if !rec.Flushed {
		t.Fatal("stream should flush headers even without initial events")
	}
}

func TestHTTPHandlerStreamSendsSSEErrorAfterStartOnBackendFailure(t *testing.T) {
	callCount := 0
	svc := &fakeService{
		listEventsSinceFunc: func(context.Context, string, int64) ([]repository.SettingEvent, error) {
			callCount++
			switch callCount {
			case 1:
				return []repository.SettingEvent{
					{EventID: 1, Setting: "checkout", EventType: repository.EventUpdated, Payload: json.RawMessage(`{"setting":"checkout"}`)},
				}, nil
			case 2:
				return nil, errors.New("backend failure")
			default:
				return nil, nil
			}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	NewHTTPHandler(svc, WithStreamPollInterval(5*time.Millisecond)).ServeHTTP(rec, reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)))

	body := rec.Body.String()
	if !strings.Contains(body, "event: update") {
		t.Fatalf("stream body missing update event: %q", body)
	}
	if !strings.Contains(body, `event: error`+"\n"+`data: {"error":"internal server error"}`) {
		t.Fatalf("stream body missing error event: %q", body)
	}
}

func TestHTTPHandlerStreamRejectsBadLastEventID(t *testing.T) {
	req := reqWithNamespace(httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	req.Header.Set("Last-Event-ID", "-4")
	rec := httptest.NewRecorder()
	NewHTTPHandler(&fakeService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

type fakeService struct {
	namespaceByNameFunc           func(ctx context.Context, name string) (repository.Namespace, error)
	listSettingsFunc              func(ctx context.Context, namespaceID string) ([]repository.Setting, error)
	getSettingFunc                func(ctx context.Context, namespaceID, name string) (repository.Setting, error)
	putSettingFunc                func(ctx context.Context, setting repository.Setting) (repository.Setting, error)
	deleteSettingFunc             func(ctx context.Context, namespaceID, name string) error
	replaceSettingsFunc           func(ctx context.Context, namespaceID string, list []repository.Setting) ([]repository.Setting, error)
	validateSettingsFunc          func(list []repository.Setting) loader.Report
	resolveFunc                   func(ctx context.Context, namespaceID string, evalContext core.Context, overrides core.Overrides) (*settings.Config, error)
	listEventsSinceFunc           func(ctx context.Context, namespaceID string, eventID int64) ([]repository.SettingEvent, error)
	listEventsSinceForSettingFunc func(ctx context.Context, namespaceID string, eventID int64, name string) ([]repository.SettingEvent, error)
}

func (f *fakeService) NamespaceByName(ctx context.Context, name string) (repository.Namespace, error) {
	if f.namespaceByNameFunc != nil {
		return f.namespaceByNameFunc(ctx, name)
	}
	return repository.Namespace{}, errors.New("NamespaceByName not implemented")
}

func (f *fakeService) ListSettings(ctx context.Context, namespaceID string) ([]repository.Setting, error) {
	if f.listSettingsFunc != nil {
		return f.listSettingsFunc(ctx, namespaceID)
	}
	return nil, errors.New("ListSettings not implemented")
}

func (f *fakeService) GetSetting(ctx context.Context, namespaceID, name string) (repository.Setting, error) {
	if f.getSettingFunc != nil {
		return f.getSettingFunc(ctx, namespaceID, name)
	}
	return repository.Setting{}, errors.New("GetSetting not implemented")
}

func (f *fakeService) PutSetting(ctx context.Context, setting repository.Setting) (repository.Setting, error) {
	if f.putSettingFunc != nil {
		return f.putSettingFunc(ctx, setting)
	}
	return repository.Setting{}, errors.New("PutSetting not implemented")
}

func (f *fakeService) DeleteSetting(ctx context.Context, namespaceID, name string) error {
	if f.deleteSettingFunc != nil {
		return f.deleteSettingFunc(ctx, namespaceID, name)
	}
	return errors.New("DeleteSetting not implemented")
}

func (f *fakeService) ReplaceSettings(ctx context.Context, namespaceID string, list []repository.Setting) ([]repository.Setting, error) {
	if f.replaceSettingsFunc != nil {
		return f.replaceSettingsFunc(ctx, namespaceID, list)
	}
	return nil, errors.New("ReplaceSettings not implemented")
}

func (f *fakeService) ValidateSettings(list []repository.Setting) loader.Report {
	if f.validateSettingsFunc != nil {
		return f.validateSettingsFunc(list)
	}
	return loader.Report{Valid: true}
}

func (f *fakeService) Resolve(ctx context.Context, namespaceID string, evalContext core.Context, overrides core.Overrides) (*settings.Config, error) {
	if f.resolveFunc != nil {
		return f.resolveFunc(ctx, namespaceID, evalContext, overrides)
	}
	return nil, errors.New("Resolve not implemented")
}

func (f *fakeService) ListEventsSince(ctx context.Context, namespaceID string, eventID int64) ([]repository.SettingEvent, error) {
	if f.listEventsSinceFunc != nil {
		return f.listEventsSinceFunc(ctx, namespaceID, eventID)
	}
	return nil, errors.New("ListEventsSince not implemented")
}

func (f *fakeService) ListEventsSinceForSetting(ctx context.Context, namespaceID string, eventID int64, name string) ([]repository.SettingEvent, error) {
	if f.listEventsSinceForSettingFunc != nil {
		return f.listEventsSinceForSettingFunc(ctx, namespaceID, eventID, name)
	}
	return nil, errors.New("ListEventsSinceForSetting not implemented")
}
