package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/metrics"
	"github.com/matt-riley/cerebro/internal/middleware"
	"github.com/matt-riley/cerebro/internal/repository"
)

const (
	defaultStreamPollInterval       = time.Second
	defaultMaxJSONBodyBytes   int64 = 1 << 20

	// namespaceParam names a namespace on handlers that run without bearer
	// auth, such as the read-only tailnet listener.
	namespaceParam = "namespace"
)

var errJSONBodyTooLarge = errors.New("json request body too large")

// HTTPServer serves the cerebro JSON API.
type HTTPServer struct {
	service            Service
	streamPollInterval time.Duration
	maxJSONBodyBytes   int64
	metrics            *metrics.Metrics
	readOnly           bool
}

// HTTPOption configures an [HTTPServer].
type HTTPOption func(*HTTPServer)

// WithStreamPollInterval sets how often SSE streams poll for new events.
func WithStreamPollInterval(interval time.Duration) HTTPOption {
	return func(s *HTTPServer) {
		if interval > 0 {
			s.streamPollInterval = interval
		}
	}
}

// WithMaxJSONBodySize caps JSON request bodies.
func WithMaxJSONBodySize(size int64) HTTPOption {
	return func(s *HTTPServer) {
		if size > 0 {
			s.maxJSONBodyBytes = size
		}
	}
}

// WithMetrics instruments requests and serves /metrics from m.
func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(s *HTTPServer) { s.metrics = m }
}

// WithReadOnly drops every route that writes settings.
func WithReadOnly() HTTPOption {
	return func(s *HTTPServer) { s.readOnly = true }
}

type resolveJSONRequest struct {
	Context   core.Context   `json:"context,omitempty"`
	Overrides core.Overrides `json:"overrides,omitempty"`
	Label     string         `json:"label,omitempty"`
}

type labelJSONResponse struct {
	Label    string         `json:"label"`
	Settings map[string]any `json:"settings"`
}

type validateJSONResponse struct {
	Valid  bool              `json:"valid"`
	Errors []problemJSONItem `json:"errors,omitempty"`
}

type problemJSONItem struct {
	Setting string `json:"setting,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewHTTPHandler builds the API mux.
func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:            svc,
		streamPollInterval: defaultStreamPollInterval,
		maxJSONBodyBytes:   defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/settings", server.handleListSettings)
	mux.HandleFunc("GET /v1/settings/{setting}", server.handleGetSetting)
	mux.HandleFunc("POST /v1/resolve", server.handleResolve)
	mux.HandleFunc("POST /v1/validate", server.handleValidate)
	mux.HandleFunc("GET /v1/stream", server.handleStream)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if !server.readOnly {
		mux.HandleFunc("PUT /v1/settings", server.handleReplaceSettings)
		mux.HandleFunc("PUT /v1/settings/{setting}", server.handlePutSetting)
		mux.HandleFunc("DELETE /v1/settings/{setting}", server.handleDeleteSetting)
	}
	if server.metrics != nil {
		mux.Handle("GET /metrics", server.metrics.Handler())
		return server.metrics.HTTPMiddleware(mux)
	}

	return mux
}

// namespaceID prefers the namespace bound to the caller's API key and falls
// back to the namespace query parameter.
func (s *HTTPServer) namespaceID(r *http.Request) (string, error) {
	if id, ok := middleware.NamespaceIDFromContext(r.Context()); ok {
		return id, nil
	}

	name := strings.TrimSpace(r.URL.Query().Get(namespaceParam))
	if name == "" {
		return "", errUnauthenticated
	}

	ns, err := s.service.NamespaceByName(r.Context(), name)
	if err != nil {
		return "", err
	}
	return ns.ID, nil
}

func (s *HTTPServer) handleListSettings(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	list, err := s.service.ListSettings(r.Context(), namespaceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	setting, err := s.service.GetSetting(r.Context(), namespaceID, strings.TrimSpace(r.PathValue("setting")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, setting)
}

func (s *HTTPServer) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	name := strings.TrimSpace(r.PathValue("setting"))
	var setting repository.Setting
	if err := s.decodeJSONBody(w, r, &setting); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(setting.Setting) != "" && setting.Setting != name {
		writeJSONError(w, http.StatusBadRequest, "path setting and body setting must match")
		return
	}
	setting.Setting = name
	setting.NamespaceID = namespaceID

	saved, err := s.service.PutSetting(r.Context(), setting)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleReplaceSettings(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var list []repository.Setting
	if err := s.decodeJSONBody(w, r, &list); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	saved, err := s.service.ReplaceSettings(r.Context(), namespaceID, list)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := s.service.DeleteSetting(r.Context(), namespaceID, strings.TrimSpace(r.PathValue("setting"))); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	var list []repository.Setting
	if err := s.decodeJSONBody(w, r, &list); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	report := s.service.ValidateSettings(list)
	status := http.StatusOK
	if !report.Valid {
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, reportToJSON(report))
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var request resolveJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	cfg, err := s.service.Resolve(r.Context(), namespaceID, request.Context, request.Overrides)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if label := strings.TrimSpace(request.Label); label != "" {
		writeJSON(w, http.StatusOK, labelJSONResponse{Label: label, Settings: cfg.ForLabel(label)})
		return
	}

	payload, err := cfg.Dehydrate()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	namespaceID, err := s.namespaceID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := strings.TrimSpace(r.URL.Query().Get("setting"))
	listEvents := func(ctx context.Context, eventID int64) ([]repository.SettingEvent, error) {
		if filter != "" {
			return s.service.ListEventsSinceForSetting(ctx, namespaceID, eventID, filter)
		}
		return s.service.ListEventsSince(ctx, namespaceID, eventID)
	}

	initialEvents, err := listEvents(r.Context(), lastEventID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if s.metrics != nil {
		defer s.metrics.IncActiveStreams("sse")()
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	currentEventID := lastEventID
	writeEvents := func(events []repository.SettingEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.EventType)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}
			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			flusher.Flush()
		}
		return nil
	}

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := listEvents(r.Context(), currentEventID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				middleware.LoggerFromContext(r.Context()).Error("stream poll failed", "error", err)
				writeSSEError(w, flusher, classifyError(err).message)
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func reportToJSON(report loader.Report) validateJSONResponse {
	response := validateJSONResponse{Valid: report.Valid}
	for _, problem := range report.Errors {
		response.Errors = append(response.Errors, problemJSONItem{
			Setting: problem.Setting,
			Path:    problem.Path,
			Message: problem.Message,
		})
	}
	return response
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

func toSSEEventName(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case repository.EventUpdated:
		return "update"
	case repository.EventDeleted:
		return "delete"
	case repository.EventReplaced:
		return "replace"
	default:
		return ""
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	class := classifyError(err)
	if class.httpStatus >= http.StatusInternalServerError {
		middleware.LoggerFromContext(r.Context()).Error("request failed", "error", err)
	}
	writeJSONError(w, class.httpStatus, class.message)
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}
	for _, line := range compactSSEPayload(payload) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// compactSSEPayload fits JSON onto one data line. Anything else is split so
// no data line carries a raw newline.
func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}
	return strings.Split(string(payload), "\n")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON value")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
