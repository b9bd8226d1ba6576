// Package httpfeed is an HTTP quote-provider client. The provider
// authenticates with an API key plus a TOTP code and hands back a session
// token used on subsequent quote and headline requests. cmd/feedsim speaks
// the same protocol for credential-free local runs.
package httpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"marketpulse/internal/feed"
	"marketpulse/internal/model"
)

// Config configures the provider client.
type Config struct {
	BaseURL    string // e.g. "http://localhost:9001"
	APIKey     string
	TOTPSecret string // empty disables TOTP (provider must allow it)
}

// Client fetches quotes and headlines from the provider. Safe for
// concurrent use; the session token is refreshed once on a 401.
type Client struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	token string
}

// New creates a provider client. The caller bounds each call with its own
// context; the transport timeout is a backstop only.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("httpfeed: base URL is required")
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// login exchanges the API key + fresh TOTP code for a session token.
func (c *Client) login(ctx context.Context) (string, error) {
	code := ""
	if c.cfg.TOTPSecret != "" {
		var err error
		code, err = totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("httpfeed: totp generate: %w", err)
		}
	}

	u := c.cfg.BaseURL + "/session?api_key=" + url.QueryEscape(c.cfg.APIKey) +
		"&totp=" + url.QueryEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", fmt.Errorf("httpfeed: session request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpfeed: session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("httpfeed: session: status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("httpfeed: session decode: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("httpfeed: session returned empty token")
	}
	return body.Token, nil
}

func (c *Client) sessionToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !force {
		return c.token, nil
	}
	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// get performs an authenticated GET, retrying once with a fresh session on 401.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.sessionToken(ctx, attempt > 0)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return fmt.Errorf("httpfeed: request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("httpfeed: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			continue // refresh session and retry once
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return feed.ErrUnknownSymbol
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("httpfeed: status %d", resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("httpfeed: decode: %w", err)
		}
		return nil
	}
	return fmt.Errorf("httpfeed: unauthorized after session refresh")
}

// FetchLatest returns the provider's latest observation for symbol.
func (c *Client) FetchLatest(ctx context.Context, symbol string) (model.Quote, error) {
	var q model.Quote
	if err := c.get(ctx, "/quote?symbol="+url.QueryEscape(symbol), &q); err != nil {
		return model.Quote{}, err
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return q, nil
}

// FetchHeadlines returns the provider's recent headline window for symbol.
func (c *Client) FetchHeadlines(ctx context.Context, symbol string) ([]string, error) {
	var body struct {
		Headlines []string `json:"headlines"`
	}
	if err := c.get(ctx, "/headlines?symbol="+url.QueryEscape(symbol), &body); err != nil {
		return nil, err
	}
	return body.Headlines, nil
}
