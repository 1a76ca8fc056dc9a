package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/breezedrive/breezedrive/internal/logging"
)

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	Username  string    `json:"username"`
}

// IsExpired returns true if the token has expired (with optional margin).
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// LoginResponse is the response from POST /api/v1/auth/token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates with username/password and returns a token.
func (c *Client) Login(ctx context.Context, username, password, deviceName string) (*LoginResponse, error) {
	var result LoginResponse
	body := map[string]string{
		"username":    username,
		"password":    password,
		"device_name": deviceName,
	}
	if err := c.do(ctx, "POST", "/api/v1/auth/token", body, &result); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = tokenExpiry(result.Token)
	}
	c.SetAuthToken(result.Token)
	return &result, nil
}

// RefreshToken refreshes the current token.
func (c *Client) RefreshToken(ctx context.Context) (*LoginResponse, error) {
	var result LoginResponse
	if err := c.do(ctx, "POST", "/api/v1/auth/refresh", nil, &result); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = tokenExpiry(result.Token)
	}
	c.SetAuthToken(result.Token)
	return &result, nil
}

// EnsureFresh refreshes the token when it expires within margin and saves
// the updated token file.
func (c *Client) EnsureFresh(ctx context.Context, tf *TokenFile, margin time.Duration) error {
	if tf == nil || !tf.IsExpired(margin) {
		return nil
	}
	logging.Info("auth token expiring soon, refreshing")
	resp, err := c.RefreshToken(ctx)
	if err != nil {
		return err
	}
	tf.Token = resp.Token
	tf.ExpiresAt = resp.ExpiresAt
	return SaveToken(tf)
}

// tokenExpiry extracts the exp claim without verifying the signature; the
// client only needs it to schedule refreshes, the server stays the authority.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "breezedrive", "token.json")
}

// SaveToken saves a token file to the default location.
func SaveToken(tf *TokenFile) error {
	path := TokenFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken loads a token file from the default location.
func LoadToken() (*TokenFile, error) {
	data, err := os.ReadFile(TokenFilePath())
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}
