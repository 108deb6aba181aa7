package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"folio/api/internal/document"
)

// DefaultTimeout bounds every backend call made by HTTPClient.
const DefaultTimeout = 15 * time.Second

// HTTPClient talks to the folio REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type ClientOption func(*HTTPClient)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) { c.client = client }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *HTTPClient) { c.logger = logger }
}

func NewHTTPClient(baseURL string, timeout time.Duration, opts ...ClientOption) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func (c *HTTPClient) List(ctx context.Context, kind string) ([]document.Document, error) {
	var docs []document.Document
	if err := c.do(ctx, http.MethodGet, kindPath(kind), nil, &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

func (c *HTTPClient) Create(ctx context.Context, kind string, doc document.Document) (document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodPost, kindPath(kind), doc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UpdatePartial(ctx context.Context, kind, id string, sections map[string]any) (document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodPatch, docPath(kind, id), sections, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateFull(ctx context.Context, kind, id string, doc document.Document) (document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodPut, docPath(kind, id), doc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Delete(ctx context.Context, kind, id string) error {
	return c.do(ctx, http.MethodDelete, docPath(kind, id), nil, nil)
}

func (c *HTTPClient) ToggleActive(ctx context.Context, kind, id string) (document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodPatch, docPath(kind, id)+"/toggle-active", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one document. It is not part of Store; the CLI uses it to
// open a document for editing.
func (c *HTTPClient) Get(ctx context.Context, kind, id string) (document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodGet, docPath(kind, id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 300 {
				return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		message := env.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Code: env.Code, Message: message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func kindPath(kind string) string {
	return "/api/" + url.PathEscape(kind)
}

func docPath(kind, id string) string {
	return kindPath(kind) + "/" + url.PathEscape(id)
}
