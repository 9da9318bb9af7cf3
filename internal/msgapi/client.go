// Package msgapi is the HTTP client for the remote Messaging API: app
// token exchange, gateway URL discovery, and the passive / proactive /
// streaming-chunk message sends the connector depends on.
package msgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	tokenExpiryBuffer = 60 * time.Second
	tokenEndpoint     = "/app/getAppAccessToken"
	gatewayEndpoint   = "/gateway"

	// Outbound call budget shared by every send; the platform throttles
	// well above this, the limiter just smooths bursts.
	sendRatePerSec = 5
	sendBurst      = 10
)

// TargetKind selects the send endpoint family.
type TargetKind string

const (
	TargetC2C     TargetKind = "c2c"
	TargetGroup   TargetKind = "group"
	TargetChannel TargetKind = "channel"
)

// Target addresses one conversation.
type Target struct {
	Kind TargetKind
	ID   string
}

// APIError is a structured Messaging API failure.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("msgapi: code=%d status=%d %s", e.Code, e.Status, e.Message)
}

// RateLimited reports whether the failure was a server-side throttle.
func (e *APIError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// Client talks to the Messaging API with automatic app-token refresh.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// New creates a client for one bot app.
func New(baseURL, appID, appSecret string) *Client {
	return &Client{
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(sendRatePerSec), sendBurst),
	}
}

// --- token management ---

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, exp := c.token, c.tokenExp
	c.mu.Unlock()
	if token != "" && time.Now().Before(exp) {
		return token, nil
	}
	return c.refreshToken(ctx)
}

// refreshToken performs the exchange without holding c.mu, so
// InvalidateToken and concurrent sends are never blocked behind the
// network round trip. Losing a refresh race just stores an equally
// fresh token.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"appId":        c.appID,
		"clientSecret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("msgapi: token request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("msgapi: token decode: %w", err)
	}
	if result.AccessToken == "" {
		return "", &APIError{Status: resp.StatusCode, Message: "empty access token"}
	}

	c.mu.Lock()
	c.token = result.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - tokenExpiryBuffer)
	c.mu.Unlock()
	return result.AccessToken, nil
}

// AccessToken returns a valid bot token for the gateway handshake.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.getToken(ctx)
}

// InvalidateToken forces a fresh token exchange on the next call. The
// gateway supervisor uses this when the server rejects a session at the
// narrowest capability level.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// --- requests ---

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("msgapi: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("msgapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.InvalidateToken()
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("msgapi: decode %s response: %w", path, err)
		}
	}
	return nil
}

// Gateway discovers the websocket URL for the event gateway.
func (c *Client) Gateway(ctx context.Context) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, gatewayEndpoint, nil, &result); err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", fmt.Errorf("msgapi: gateway discovery returned no url")
	}
	return result.URL, nil
}
