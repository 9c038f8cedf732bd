package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

// TokenSource caches a client-credentials bearer token and refreshes it at
// most once at a time; concurrent callers share the in-flight refresh.
type TokenSource struct {
	httpClient *http.Client
	cfg        config.ClientConfig

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenSource builds a token source for one external service. A config
// without a TokenURL yields an unauthenticated source.
func NewTokenSource(cfg config.ClientConfig) *TokenSource {
	return &TokenSource{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Token returns a valid bearer token, refreshing when the cached one is
// missing or within a minute of expiry.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if t.cfg.TokenURL == "" {
		return "", nil
	}

	t.mu.Lock()
	if t.token != "" && time.Until(t.expiresAt) > time.Minute {
		token := t.token
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	v, err, _ := t.group.Do("refresh", func() (interface{}, error) {
		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.cfg.ClientID)
	form.Set("client_secret", t.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}

	expiry := time.Duration(body.ExpiresIn) * time.Second
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}

	t.mu.Lock()
	t.token = body.AccessToken
	t.expiresAt = time.Now().Add(expiry)
	t.mu.Unlock()

	return body.AccessToken, nil
}
