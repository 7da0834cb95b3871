package authclient

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
)

// DefaultLoginPath is the credential exchange endpoint.
const DefaultLoginPath = "/auth/login"

// Login posts credentials (any JSON-encodable value) to path and stores the
// returned token pair, replacing whatever was stored before.
func (c *Client) Login(ctx context.Context, path string, credentials any) (*oauth2.Token, error) {
	if path == "" {
		path = DefaultLoginPath
	}

	payload, err := json.Marshal(credentials)
	if err != nil {
		return nil, normalize(fmt.Errorf("failed to encode credentials: %w", err), KindFatal)
	}

	token, err := postForToken(ctx, c.loginDoer, c.resolve(path, nil), payload, c.timeout)
	if err != nil {
		kind := KindFatal
		if isTransient(err) {
			kind = KindTransient
		}
		return nil, normalize(err, kind)
	}

	if err := c.store.Clear(ctx); err != nil {
		return nil, normalize(fmt.Errorf("failed to clear previous tokens: %w", err), KindFatal)
	}
	if err := saveToken(ctx, c.store, token); err != nil {
		return nil, normalize(fmt.Errorf("failed to save tokens: %w", err), KindFatal)
	}

	c.logger.Info("logged in", "rotating_refresh", token.RefreshToken != "")
	return token, nil
}

// Logout clears the stored tokens. It does not raise the unauthorized signal.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return normalize(fmt.Errorf("failed to clear tokens: %w", err), KindFatal)
	}
	return nil
}
