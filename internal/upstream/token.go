package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/osumirror/mirror/internal/metrics"
)

// tokenResponse is the OAuth2 client-credentials grant response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenManager holds a single bearer token with expiry and serializes
// refreshes so at most one exchange is in flight per client instance; all
// waiters see the new token on resolution. Adapted from
// arung-agamani-denpa-radio's internal/auth/auth.go token lifecycle (there
// it issues and validates JWTs locally; here the same lock-guarded
// cache-and-refresh shape is reused to *consume* a third party's tokens).
type tokenManager struct {
	authURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	budget       *Budget

	mu      sync.Mutex
	token   string
	expiry  time.Time
	inFlight chan struct{} // non-nil while a refresh is running
}

func newTokenManager(authURL, clientID, clientSecret string, httpClient *http.Client, budget *Budget) *tokenManager {
	return &tokenManager{
		authURL:      authURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		budget:       budget,
	}
}

// ensureToken returns the current token if unexpired, otherwise performs a
// credentials-grant exchange and caches (token, expiry = now + TTL). At
// most one refresh is in flight per tokenManager; concurrent callers wait
// on it and all observe the same resulting token.
func (m *tokenManager) ensureToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && time.Now().Before(m.expiry) {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	if m.inFlight != nil {
		wait := m.inFlight
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		m.mu.Lock()
		tok := m.token
		expired := m.token == "" || time.Now().After(m.expiry)
		m.mu.Unlock()
		if expired {
			return "", fmt.Errorf("upstream: token refresh did not produce a usable token")
		}
		return tok, nil
	}
	done := make(chan struct{})
	m.inFlight = done
	m.mu.Unlock()

	tok, expiry, err := m.refresh(ctx)
	if err == nil {
		metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	} else {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
	}

	m.mu.Lock()
	if err == nil {
		m.token = tok
		m.expiry = expiry
	}
	m.inFlight = nil
	close(done)
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	return tok, nil
}

func (m *tokenManager) refresh(ctx context.Context) (string, time.Time, error) {
	release := m.budget.Acquire()
	defer release()

	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "public")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("upstream: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("upstream: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("upstream: token exchange returned HTTP %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("upstream: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("upstream: token response missing access_token")
	}

	expiry := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return tr.AccessToken, expiry, nil
}
