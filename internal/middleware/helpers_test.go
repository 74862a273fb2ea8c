package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"google.golang.org/grpc"
)

// fakeServerStream carries only a context.
type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context {
	return s.ctx
}

func streamWithContext(ctx context.Context) *fakeServerStream {
	return &fakeServerStream{ctx: ctx}
}

// logRecorder captures JSON log records.
type logRecorder struct {
	buf bytes.Buffer
}

func newLogRecorder() (*logRecorder, *slog.Logger) {
	rec := &logRecorder{}
	return rec, slog.New(slog.NewJSONHandler(&rec.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (r *logRecorder) records(t *testing.T) []map[string]any {
	t.Helper()

	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(r.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("json.Unmarshal(%q) error = %v", line, err)
		}
		out = append(out, record)
	}
	return out
}

// find returns the first record with msg, failing the test if none exists.
func (r *logRecorder) find(t *testing.T, msg string) map[string]any {
	t.Helper()

	for _, record := range r.records(t) {
		if record["msg"] == msg {
			return record
		}
	}
	t.Fatalf("no %q record in %s", msg, r.buf.String())
	return nil
}
