package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/loader"
)

const maxRemoteDocumentSize = 4 << 20

// FileSource reads entries from a YAML or JSON file on every poll.
func FileSource(path string) FetchFunc {
	return func(context.Context) ([]core.Entry, error) {
		return loader.LoadFile(path)
	}
}

// HTTPSource fetches entries from url with GET. A nil client uses a traced
// default client.
func HTTPSource(client *http.Client, url string) FetchFunc {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return func(ctx context.Context) ([]core.Entry, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json, application/yaml")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteDocumentSize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", url, err)
		}

		return loader.Parse(data)
	}
}
