package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/cenkalti/backoff/v4"
)

const (
	bearerPrefix     = "Bearer "
	tokenMaxRetries  = 3
	tokenInitialWait = 200 * time.Millisecond
)

var errMissingAuthHeader = errors.New("rest: auth response without bearer Authorization header")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenSource obtains a bearer token by posting credentials to the auth URL
// and reading the Authorization response header. The token is cached until
// Invalidate is called with it.
type TokenSource struct {
	authURL string
	creds   Credentials
	http    *http.Client
	log     observability.Logger

	mu    sync.Mutex
	token string
}

func NewTokenSource(authURL string, creds Credentials, httpClient *http.Client, logger observability.Logger) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TokenSource{
		authURL: strings.TrimSpace(authURL),
		creds:   creds,
		http:    httpClient,
		log:     logger.With(observability.F("component", "rest_token")),
	}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = tokenInitialWait
	var token string
	op := func() error {
		t, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		token = t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("rest_token_fetch_retry", observability.F("error", err), observability.F("delay", wait.String()))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, tokenMaxRetries), ctx), notify); err != nil {
		return "", fmt.Errorf("rest: obtain token: %w", err)
	}
	s.token = token
	return token, nil
}

// Invalidate drops the cached token if it is still stale.
func (s *TokenSource) Invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
	}
}

func (s *TokenSource) fetch(ctx context.Context) (string, error) {
	payload, err := json.Marshal(s.creds)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Method: http.MethodPost, URL: s.authURL, Status: resp.StatusCode, Body: drainError(resp.Body)}
		if resp.StatusCode >= 500 {
			return "", statusErr
		}
		return "", backoff.Permanent(statusErr)
	}
	header := resp.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", backoff.Permanent(errMissingAuthHeader)
	}
	return strings.TrimPrefix(header, bearerPrefix), nil
}
