package config

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func FuzzPositiveDuration(f *testing.F) {
	for _, seed := range []string{"", "1s", " 250ms ", "0s", "-5m", "1h30m", "soon"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		if strings.ContainsRune(raw, '\x00') {
			t.Skip()
		}

		const key = "CEREBRO_FUZZ_DURATION"
		const fallback = 42 * time.Second
		t.Setenv(key, raw)

		got, err := positiveDuration(key, fallback)
		value := strings.TrimSpace(raw)
		if value == "" {
			if err != nil || got != fallback {
				t.Fatalf("positiveDuration(%q) = %s, %v, want %s, nil", raw, got, err, fallback)
			}
			return
		}

		want, parseErr := time.ParseDuration(value)
		if parseErr != nil || want <= 0 {
			if err == nil {
				t.Fatalf("positiveDuration(%q) error = nil, want error", raw)
			}
			return
		}
		if err != nil || got != want {
			t.Fatalf("positiveDuration(%q) = %s, %v, want %s, nil", raw, got, err, want)
		}
	})
}

func FuzzLoadEventBatchSize(f *testing.F) {
	for _, seed := range []string{"", "1", "500", "0", "-3", "1e3", " 64 "} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		if strings.ContainsRune(raw, '\x00') {
			t.Skip()
		}

		t.Setenv("DATABASE_URL", "postgres://localhost/cerebro")
		t.Setenv("SCHEMA_PATH", "")
		t.Setenv("TS_AUTH_KEY", "")
		t.Setenv("EVENT_BATCH_SIZE", raw)

		cfg, err := Load()
		value := strings.TrimSpace(raw)
		if value == "" {
			if err != nil {
				t.Fatalf("Load() error = %v, want nil", err)
			}
			if cfg.EventBatchSize != defaultEventBatchSize {
				t.Fatalf("EventBatchSize = %d, want %d", cfg.EventBatchSize, defaultEventBatchSize)
			}
			return
		}

		want, parseErr := strconv.Atoi(value)
		if parseErr != nil || want < 1 {
			if err == nil {
				t.Fatalf("Load() error = nil for EVENT_BATCH_SIZE=%q, want error", raw)
			}
			return
		}
		if err != nil {
			t.Fatalf("Load() error = %v for EVENT_BATCH_SIZE=%q", err, raw)
		}
		if cfg.EventBatchSize != want {
			t.Fatalf("EventBatchSize = %d, want %d", cfg.EventBatchSize, want)
		}
	})
}
