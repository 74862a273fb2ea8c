// Package client talks to a cerebro server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/repository"
	"github.com/matt-riley/cerebro/internal/settings"
)

// Config holds configuration for the client.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format. It may be empty for
	// listeners that select the namespace by name.
	APIKey string
	// Namespace is sent as the namespace query parameter when set.
	Namespace string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client calls the /v1 HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a client for cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cerebro: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type resolveRequest struct {
	Context   core.Context   `json:"context,omitempty"`
	Overrides core.Overrides `json:"overrides,omitempty"`
	Label     string         `json:"label,omitempty"`
}

type validateResponse struct {
	Valid  bool `json:"valid"`
	Errors []struct {
		Setting string `json:"setting"`
		Path    string `json:"path"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) url(path string, query url.Values) string {
	if c.cfg.Namespace != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("namespace", c.cfg.Namespace)
	}
	if len(query) == 0 {
		return c.cfg.BaseURL + path
	}
	return c.cfg.BaseURL + path + "?" + query.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cerebro: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cerebro: create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends the request. Statuses listed in accept are returned to the
// caller; any other status of 400 or above becomes an *APIError.
func (c *Client) do(req *http.Request, accept ...int) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cerebro: http: %w", err)
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	for _, status := range accept {
		if resp.StatusCode == status {
			return resp, nil
		}
	}

	defer resp.Body.Close()
	return nil, decodeAPIError(resp)
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var body struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		message = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cerebro: decode response: %w", err)
	}
	return nil
}

// Resolve resolves every setting of the namespace on the server.
func (c *Client) Resolve(ctx context.Context, evalContext core.Context, overrides core.Overrides) (*settings.Config, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/resolve", nil, resolveRequest{Context: evalContext, Overrides: overrides})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cerebro: read response: %w", err)
	}

	config, err := settings.Rehydrate(data)
	if err != nil {
		return nil, fmt.Errorf("cerebro: %w", err)
	}
	return config, nil
}

// ListSettings returns the namespace's settings in resolution order.
func (c *Client) ListSettings(ctx context.Context) ([]repository.Setting, error) {
	var list []repository.Setting
	if err := c.call(ctx, http.MethodGet, "/v1/settings", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetSetting returns one setting.
func (c *Client) GetSetting(ctx context.Context, name string) (repository.Setting, error) {
	var setting repository.Setting
	err := c.call(ctx, http.MethodGet, "/v1/settings/"+url.PathEscape(name), nil, &setting)
	return setting, err
}

// PutSetting creates or updates one setting.
func (c *Client) PutSetting(ctx context.Context, setting repository.Setting) (repository.Setting, error) {
	var saved repository.Setting
	err := c.call(ctx, http.MethodPut, "/v1/settings/"+url.PathEscape(setting.Setting), setting, &saved)
	return saved, err
}

// ReplaceSettings swaps the namespace's whole ordered list.
func (c *Client) ReplaceSettings(ctx context.Context, list []repository.Setting) ([]repository.Setting, error) {
	var saved []repository.Setting
	if err := c.call(ctx, http.MethodPut, "/v1/settings", list, &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteSetting removes one setting.
func (c *Client) DeleteSetting(ctx context.Context, name string) error {
	return c.call(ctx, http.MethodDelete, "/v1/settings/"+url.PathEscape(name), nil, nil)
}

// Validate asks the server to check list without storing it. An invalid
// list is reported in the returned report, not as an error.
func (c *Client) Validate(ctx context.Context, list []repository.Setting) (loader.Report, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/validate", nil, list)
	if err != nil {
		return loader.Report{}, err
	}

	resp, err := c.do(req, http.StatusUnprocessableEntity)
	if err != nil {
		return loader.Report{}, err
	}
	defer resp.Body.Close()

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return loader.Report{}, fmt.Errorf("cerebro: decode response: %w", err)
	}

	report := loader.Report{Valid: out.Valid}
	for _, problem := range out.Errors {
		report.Errors = append(report.Errors, loader.Problem{
			Setting: problem.Setting,
			Path:    problem.Path,
			Message: problem.Message,
		})
	}
	return report, nil
}
