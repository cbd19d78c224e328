// Package gateway talks to the external MCP gateway: tool, resource,
// prompt, and federated gateway registration. Registration is always
// best-effort from the hub's perspective; callers persist failures on
// the entity and retry via the pending sweep.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	tokenTTL      = 5 * time.Minute
	clientRetries = 3
)

// Client is the MCP gateway HTTP client. Each request mints a fresh
// short-lived HS256 admin token so tokens never expire mid-batch; a
// static fallback token is used when no signing secret is configured.
type Client struct {
	baseURL       string
	jwtSecret     string
	fallbackToken string
	httpClient    *http.Client
}

// NewClient creates a gateway client. Returns nil for an empty base URL
// so callers can treat the gateway as unconfigured.
func NewClient(baseURL, jwtSecret, fallbackToken string, timeout time.Duration) *Client {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		jwtSecret:     jwtSecret,
		fallbackToken: fallbackToken,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// adminToken mints the per-request bearer token.
func (c *Client) adminToken() (string, error) {
	if c.jwtSecret != "" {
		now := time.Now()
		claims := jwt.MapClaims{
			"sub": "admin",
			"iat": now.Unix(),
			"exp": now.Add(tokenTTL).Unix(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.jwtSecret))
		if err == nil {
			return token, nil
		}
		logrus.WithError(err).Warn("JWT minting failed, falling back to static token")
	}
	if c.fallbackToken != "" {
		return c.fallbackToken, nil
	}
	return "", fmt.Errorf("no gateway credentials configured (JWT secret or static token)")
}

// postJSON POSTs a payload, treating 409 Conflict as success (the
// gateway already has the object). 5xx and network errors retry with
// backoff; other 4xx are terminal.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", path, err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= clientRetries; attempt++ {
		token, err := c.adminToken()
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusConflict:
				// Already registered; idempotent success.
				return decodeOrEmpty(respBody), nil
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return decodeOrEmpty(respBody), nil
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("POST %s returned %d", path, resp.StatusCode)
			default:
				return nil, fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
			}
		}

		if attempt < clientRetries {
			logrus.WithFields(logrus.Fields{"path": path, "attempt": attempt}).
				Warnf("Gateway request failed, retrying: %v", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("POST %s: %w", path, lastErr)
}

func decodeOrEmpty(body []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return map[string]any{}
	}
	return out
}
