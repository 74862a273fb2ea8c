package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/cerebro/internal/core"
)

func TestNew(t *testing.T) {
	m := New()
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	m.CacheLoadsTotal.Inc()
	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather after inc failed: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("expected at least one metric family after increment")
	}
}

func TestResolveOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: OutcomeOK},
		{err: fmt.Errorf("setting %q: %w", "a", core.ErrMissingPercentageSeed), want: OutcomeMissingSeed},
		{err: core.ErrUnknownConditionType, want: OutcomeRuleError},
		{err: core.ErrInvalidRangeFormat, want: OutcomeRuleError},
		{err: errors.New("boom"), want: OutcomeInternalError},
	}

	for _, tc := range tests {
		if got := ResolveOutcome(tc.err); got != tc.want {
			t.Fatalf("ResolveOutcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestObserveResolve(t *testing.T) {
	m := New()

	m.ObserveResolve("ns", time.Millisecond, nil)
	m.ObserveResolve("ns", time.Millisecond, nil)
	m.ObserveResolve("ns", time.Millisecond, core.ErrMissingPercentageSeed)

	if got := testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues(OutcomeOK)); got != 2 {
		t.Fatalf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues(OutcomeMissingSeed)); got != 1 {
		t.Fatalf("missing_seed count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ResolveDuration); got != 1 {
		t.Fatalf("resolve duration series = %d, want 1", got)
	}
}

func TestSetCacheSize(t *testing.T) {
	m := New()

	m.SetCacheSize("ns1", 5)
	if val := testutil.ToFloat64(m.CacheSize.WithLabelValues("ns1")); val != 5 {
		t.Fatalf("expected cache size 5, got %v", val)
	}
}

func TestResetCacheSize(t *testing.T) {
	m := New()

	m.SetCacheSize("ns1", 10)
	m.SetCacheSize("ns2", 20)
	m.ResetCacheSize()

	if got := testutil.CollectAndCount(m.CacheSize); got != 0 {
		t.Fatalf("cache size series after reset = %d, want 0", got)
	}
}

func TestIncActiveStreams(t *testing.T) {
	m := New()

	done := m.IncActiveStreams("sse")
	if got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")); got != 1 {
		t.Fatalf("active sse streams = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")); got != 0 {
		t.Fatalf("active sse streams = %v, want 0", got)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/settings/{setting}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := m.HTTPMiddleware(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/settings/a", nil))

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /v1/settings/{setting}", "404"))
	if got != 1 {
		t.Fatalf("http requests = %v, want 1", got)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := New()
	interceptor := m.UnaryServerInterceptor()

	_, _ = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/cerebro.v1.SettingService/Resolve"},
		func(context.Context, any) (any, error) {
			return nil, status.Error(codes.InvalidArgument, "bad")
		})

	if got := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Resolve", codes.InvalidArgument.String())); got != 1 {
		t.Fatalf("grpc requests = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheLoadsTotal.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cerebro_cache_loads_total 1") {
		t.Fatalf("metrics output missing cache loads:\n%s", body)
	}
}
