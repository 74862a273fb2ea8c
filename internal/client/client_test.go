package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matt-riley/cerebro/internal/client"
	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/repository"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.New(client.Config{BaseURL: srv.URL + "/", APIKey: "key.secret"})
}

func assertRequest(t *testing.T, r *http.Request, method, path string) {
	t.Helper()
	if r.Method != method || r.URL.Path != path {
		t.Errorf("request = %s %s, want %s %s", r.Method, r.URL.Path, method, path)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer key.secret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer key.secret")
	}
}

func TestResolve(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assertRequest(t, r, http.MethodPost, "/v1/resolve")

		var body struct {
			Context   map[string]any `json:"context"`
			Overrides map[string]any `json:"overrides"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Context["farm"] != "beta" || body.Overrides["limit"] != float64(5) {
			t.Errorf("body = %+v", body)
		}

		fmt.Fprint(w, `{"_resolved":{"limit":5,"host":"beta.example.com"},"_labels":{"limit":["quota"],"host":[]},"_labelResolved":{"quota":{"limit":5}}}`)
	})

	config, err := c.Resolve(context.Background(), core.Context{"farm": "beta"}, core.Overrides{"limit": 5})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := config.RawValue("host"); got != "beta.example.com" {
		t.Errorf("host = %v, want beta.example.com", got)
	}
	if got := config.ForLabel("quota"); len(got) != 1 {
		t.Errorf("ForLabel(quota) = %v, want one setting", got)
	}
}

func TestResolveRejectsMissingState(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	if _, err := c.Resolve(context.Background(), nil, nil); err == nil {
		t.Fatal("Resolve() error = nil, want error")
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		notFound    bool
	}{
		{name: "json error", status: http.StatusNotFound, body: `{"error":"setting not found"}`, wantMessage: "setting not found", notFound: true},
		{name: "plain text", status: http.StatusUnauthorized, body: "unauthorized\n", wantMessage: "unauthorized"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"internal server error"}`, wantMessage: "internal server error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})

			_, err := c.GetSetting(context.Background(), "x")
			var apiErr *client.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("GetSetting() error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.wantMessage {
				t.Errorf("APIError = %+v, want status %d message %q", apiErr, tc.status, tc.wantMessage)
			}
			if client.IsNotFound(err) != tc.notFound {
				t.Errorf("IsNotFound() = %v, want %v", client.IsNotFound(err), tc.notFound)
			}
		})
	}
}

func TestSettingCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/settings", func(w http.ResponseWriter, r *http.Request) {
		assertRequest(t, r, http.MethodGet, "/v1/settings")
		fmt.Fprint(w, `[{"setting":"a","position":0,"value":1},{"setting":"b","position":1,"value":"x"}]`)
	})
	mux.HandleFunc("GET /v1/settings/{setting}", func(w http.ResponseWriter, r *http.Request) {
		assertRequest(t, r, http.MethodGet, "/v1/settings/a b")
		fmt.Fprint(w, `{"setting":"a b","value":true,"labels":["x"]}`)
	})
	mux.HandleFunc("PUT /v1/settings/{setting}", func(w http.ResponseWriter, r *http.Request) {
		assertRequest(t, r, http.MethodPut, "/v1/settings/a")
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	mux.HandleFunc("PUT /v1/settings", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	mux.HandleFunc("DELETE /v1/settings/{setting}", func(w http.ResponseWriter, r *http.Request) {
		assertRequest(t, r, http.MethodDelete, "/v1/settings/a")
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestServer(t, mux.ServeHTTP)
	ctx := context.Background()

	list, err := c.ListSettings(ctx)
	if err != nil {
		t.Fatalf("ListSettings() error = %v", err)
	}
	if len(list) != 2 || list[1].Setting != "b" || list[1].Position != 1 {
		t.Fatalf("ListSettings() = %+v", list)
	}

	got, err := c.GetSetting(ctx, "a b")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if string(got.Value) != "true" || len(got.Labels) != 1 {
		t.Errorf("GetSetting() = %+v", got)
	}

	saved, err := c.PutSetting(ctx, repository.Setting{Setting: "a", Value: json.RawMessage(`42`)})
	if err != nil {
		t.Fatalf("PutSetting() error = %v", err)
	}
	if saved.Setting != "a" || string(saved.Value) != "42" {
		t.Errorf("PutSetting() = %+v", saved)
	}

	replaced, err := c.ReplaceSettings(ctx, []repository.Setting{{Setting: "z", Value: json.RawMessage(`null`)}})
	if err != nil {
		t.Fatalf("ReplaceSettings() error = %v", err)
	}
	if len(replaced) != 1 || replaced[0].Setting != "z" {
		t.Errorf("ReplaceSettings() = %+v", replaced)
	}

	if err := c.DeleteSetting(ctx, "a"); err != nil {
		t.Fatalf("DeleteSetting() error = %v", err)
	}
}

func TestNamespaceQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("namespace"); got != "billing" {
			t.Errorf("namespace = %q, want billing", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want none", got)
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL, Namespace: "billing"})
	if _, err := c.ListSettings(context.Background()); err != nil {
		t.Fatalf("ListSettings() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantValid bool
		wantErrs  int
	}{
		{name: "valid", status: http.StatusOK, body: `{"valid":true}`, wantValid: true},
		{
			name:     "invalid",
			status:   http.StatusUnprocessableEntity,
			body:     `{"valid":false,"errors":[{"setting":"host","message":"has template as toplevel value"}]}`,
			wantErrs: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assertRequest(t, r, http.MethodPost, "/v1/validate")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})

			report, err := c.Validate(context.Background(), []repository.Setting{{Setting: "host"}})
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if report.Valid != tc.wantValid || len(report.Errors) != tc.wantErrs {
				t.Errorf("Validate() = %+v", report)
			}
			if !tc.wantValid && report.Errors[0].Setting != "host" {
				t.Errorf("problem setting = %q, want host", report.Errors[0].Setting)
			}
		})
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("setting"); got != "a" {
			t.Errorf("setting = %q, want a", got)
		}
		if got := r.Header.Get("Last-Event-ID"); got != "4" {
			t.Errorf("Last-Event-ID = %q, want 4", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range []string{
			"id: 5\nevent: update\ndata: {\"setting\":\"a\",\"value\":1}\n\n",
			"id: 6\nevent: delete\ndata: {\"setting\":\"a\"}\n\n",
		} {
			fmt.Fprint(w, ev)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL, APIKey: "k.s"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Stream(ctx, 4, "a")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var received []client.Event
	for ev := range events {
		received = append(received, ev)
	}

	if len(received) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(received), received)
	}
	if received[0].ID != 5 || received[0].Type != "update" || received[0].Setting != "a" {
		t.Errorf("event 0 = %+v", received[0])
	}
	if received[1].ID != 6 || received[1].Type != "delete" {
		t.Errorf("event 1 = %+v", received[1])
	}
}

func TestStreamConnectError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	})

	_, err := c.Stream(context.Background(), 0, "")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Stream() error = %v, want 401 APIError", err)
	}
}

func TestStreamContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())

	events, err := c.Stream(ctx, 0, "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	time.AfterFunc(50*time.Millisecond, cancel)

	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream channel to close")
		}
	}
}
