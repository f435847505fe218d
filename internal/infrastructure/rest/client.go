package rest

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
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
)

const (
	componentREST  = "rest_client"
	defaultTimeout = 15 * time.Second
)

var (
	// ErrUnauthorized matches a 401 answer that survived one token refresh.
	ErrUnauthorized = errors.New("rest: unauthorized")
	ErrNotFound     = errors.New("rest: not found")
)

// StatusError is a non-2xx answer from the remote API.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rest: %s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("rest: %s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Client issues JSON calls against one base URL, attaching a bearer token
// when a TokenSource is configured.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenSource
	log     observability.Logger
}

func NewClient(baseURL string, httpClient *http.Client, tokens *TokenSource, logger observability.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     logger.With(observability.F("component", componentREST)),
	}
}

// Do sends body as JSON and decodes the answer into out when out is non-nil.
// A 401 invalidates the cached token and the call is repeated once.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("rest: build url: %w", err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("rest: encode body: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		resp, err := c.send(ctx, method, endpoint, payload, token)
		if err != nil {
			return fmt.Errorf("rest: %s %s: %w", method, endpoint, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil && attempt == 1 {
			resp.Body.Close()
			c.tokens.Invalidate(token)
			logctx.FromOr(ctx, c.log).Warn("rest_token_rejected", observability.F("url", endpoint))
			continue
		}
		return c.decode(method, endpoint, resp, out)
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

func (c *Client) decode(method, endpoint string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{Method: method, URL: endpoint, Status: resp.StatusCode, Body: drainError(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: %s %s: decode: %w", method, endpoint, err)
	}
	return nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
