package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestHTTPRequestLogging(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus float64
	}{
		{
			name:       "implicit ok",
			handler:    func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{}")) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "explicit status",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnprocessableEntity) },
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "first status wins",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, logger := newLogRecorder()

			var seenID string
			handler := HTTPRequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := RequestIDFromContext(r.Context())
				if !ok {
					t.Fatal("RequestIDFromContext() ok = false inside handler")
				}
				seenID = id
				tt.handler(w, r)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/settings/checkout", nil))

			if _, err := uuid.Parse(seenID); err != nil {
				t.Fatalf("generated request id %q is not a UUID: %v", seenID, err)
			}
			if got := rec.Header().Get(RequestIDHeader); got != seenID {
				t.Fatalf("%s = %q, want %q", RequestIDHeader, got, seenID)
			}

			started := logs.find(t, "request started")
			if started["path"] != "/v1/settings/checkout" || started["method"] != http.MethodPut {
				t.Fatalf("started record = %v", started)
			}
			completed := logs.find(t, "request completed")
			if completed["status_code"] != tt.wantStatus {
				t.Fatalf("status_code = %v, want %v", completed["status_code"], tt.wantStatus)
			}
			if completed["request_id"] != seenID {
				t.Fatalf("request_id = %v, want %q", completed["request_id"], seenID)
			}
			if _, ok := completed["duration_ms"].(float64); !ok {
				t.Fatalf("duration_ms missing from %v", completed)
			}
		})
	}
}

func TestHTTPRequestLoggingKeepsFlusher(t *testing.T) {
	_, logger := newLogRecorder()

	handler := HTTPRequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		_, _ = w.Write([]byte("data: {}\n\n"))
		flusher.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	if !rec.Flushed {
		t.Fatal("response was not flushed")
	}
}

func TestResponseWriterUnwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner}
	if rw.Unwrap() != inner {
		t.Fatal("Unwrap() did not return the wrapped writer")
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "caller id", inbound: "req-42", keep: true},
		{name: "trimmed", inbound: "  req-43  ", keep: true},
		{name: "empty", inbound: "", keep: false},
		{name: "newline", inbound: "a\nb", keep: false},
		{name: "oversized", inbound: strings.Repeat("x", maxRequestIDLength+1), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := requestID(tt.inbound)
			if tt.keep {
				if got != strings.TrimSpace(tt.inbound) {
					t.Fatalf("requestID(%q) = %q, want caller id", tt.inbound, got)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("requestID(%q) = %q, want fresh UUID", tt.inbound, got)
			}
		})
	}
}

func TestHTTPRequestLoggingHonoursInboundID(t *testing.T) {
	logs, logger := newLogRecorder()
	handler := HTTPRequestLogging(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "trace-me")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "trace-me" {
		t.Fatalf("%s = %q, want trace-me", RequestIDHeader, got)
	}
	if got := logs.find(t, "request completed")["request_id"]; got != "trace-me" {
		t.Fatalf("logged request_id = %v, want trace-me", got)
	}
}

func TestUnaryRequestLoggingInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		md       metadata.MD
		wantCode float64
		wantID   string
	}{
		{name: "ok", wantCode: float64(codes.OK)},
		{name: "not found", err: status.Error(codes.NotFound, "namespace not found"), wantCode: float64(codes.NotFound)},
		{name: "inbound id", md: metadata.Pairs("x-request-id", "grpc-7"), wantCode: float64(codes.OK), wantID: "grpc-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, logger := newLogRecorder()
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}

			info := &grpc.UnaryServerInfo{FullMethod: "/cerebro.v1.SettingService/Resolve"}
			_, err := UnaryRequestLoggingInterceptor(logger)(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
				if LoggerFromContext(ctx) == slog.Default() {
					t.Fatal("handler got the default logger, want request logger")
				}
				return nil, tt.err
			})
			if err != tt.err {
				t.Fatalf("interceptor error = %v, want %v", err, tt.err)
			}

			completed := logs.find(t, "request completed")
			if completed["status_code"] != tt.wantCode {
				t.Fatalf("status_code = %v, want %v", completed["status_code"], tt.wantCode)
			}
			if completed["method"] != info.FullMethod {
				t.Fatalf("method = %v, want %s", completed["method"], info.FullMethod)
			}
			if tt.wantID != "" && completed["request_id"] != tt.wantID {
				t.Fatalf("request_id = %v, want %s", completed["request_id"], tt.wantID)
			}
		})
	}
}

func TestStreamRequestLoggingInterceptor(t *testing.T) {
	logs, logger := newLogRecorder()
	info := &grpc.StreamServerInfo{FullMethod: "/cerebro.v1.SettingService/WatchSettings", IsServerStream: true}
	want := status.Error(codes.Canceled, "client gone")

	err := StreamRequestLoggingInterceptor(logger)(nil, streamWithContext(context.Background()), info, func(_ any, ss grpc.ServerStream) error {
		if _, ok := RequestIDFromContext(ss.Context()); !ok {
			t.Fatal("stream context has no request id")
		}
		return want
	})
	if err != want {
		t.Fatalf("interceptor error = %v, want %v", err, want)
	}

	logs.find(t, "stream started")
	if got := logs.find(t, "stream completed")["status_code"]; got != float64(codes.Canceled) {
		t.Fatalf("status_code = %v, want %d", got, codes.Canceled)
	}
}

func TestLoggerFromContextFallsBack(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Fatal("LoggerFromContext(empty) is not slog.Default()")
	}
	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("RequestIDFromContext(empty) ok = true")
	}

	ctx, logger, id := withRequestLogger(context.Background(), nil, "abc")
	if id != "abc" || LoggerFromContext(ctx) != logger {
		t.Fatalf("withRequestLogger() = %q, logger mismatch", id)
	}
}
