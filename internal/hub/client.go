// Package hub talks to the model hub: token login and folder upload.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WhoAmI is the subset of the whoami-v2 response the tool reads.
type WhoAmI struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Auth struct {
		AccessToken struct {
			DisplayName string `json:"displayName"`
			Role        string `json:"role"`
		} `json:"accessToken"`
	} `json:"auth"`
}

// invalidTokenError is returned when the hub rejects the token.
type invalidTokenError struct{ status int }

func (e invalidTokenError) Error() string {
	return fmt.Sprintf("hub rejected token (status %d)", e.status)
}

// IsInvalidToken reports whether err means the hub rejected the token.
func IsInvalidToken(err error) bool {
	var e invalidTokenError
	return errors.As(err, &e)
}

// Client authenticates against the hub API.
type Client struct {
	Endpoint  string
	TokenPath string // empty means DefaultTokenPath()
	HTTP      *http.Client
	Log       zerolog.Logger
}

// NewClient returns a Client with a bounded HTTP timeout.
func NewClient(endpoint, tokenPath string, log zerolog.Logger) *Client {
	return &Client{
		Endpoint:  endpoint,
		TokenPath: tokenPath,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Log:       log,
	}
}

// Login validates token with the hub and stores it where hub tooling looks
// for it, so child processes pick it up without further configuration.
func (c *Client) Login(ctx context.Context, token string) (WhoAmI, error) {
	c.Log.Info().Str("token", MaskToken(token)).Msg("logging into the hub")
	who, err := c.WhoAmI(ctx, token)
	if err != nil {
		return who, err
	}
	path := c.TokenPath
	if path == "" {
		path = DefaultTokenPath()
	}
	if err := SaveToken(path, token); err != nil {
		return who, err
	}
	c.Log.Info().Str("user", who.Name).Str("role", who.Auth.AccessToken.Role).Str("token_path", path).Msg("hub login ok")
	return who, nil
}

// WhoAmI resolves the account behind token.
func (c *Client) WhoAmI(ctx context.Context, token string) (WhoAmI, error) {
	var who WhoAmI
	url := strings.TrimRight(c.Endpoint, "/") + "/api/whoami-v2"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return who, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return who, fmt.Errorf("whoami request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return who, invalidTokenError{status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return who, fmt.Errorf("whoami failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&who); err != nil {
		return who, fmt.Errorf("decode whoami: %w", err)
	}
	return who, nil
}

// MaskToken keeps the first 10 characters of a token for log lines.
func MaskToken(token string) string {
	if len(token) <= 10 {
		return strings.Repeat("*", len(token))
	}
	return token[:10] + "..."
}
