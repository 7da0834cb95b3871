package authclient

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenStore persists the access/refresh token pair.
//
// An empty string means the token is absent. SetTokens with an empty refresh
// token leaves the stored refresh token unchanged, which supports servers that
// do not rotate refresh tokens.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

// readAccess returns the stored access token, treating read errors as absence.
func (c *Client) readAccess(ctx context.Context) string {
	token, err := c.store.AccessToken(ctx)
	if err != nil {
		c.logger.Warn("failed to read access token", "error", err)
		return ""
	}
	return token
}

// TokenSaver is implemented by stores that also keep the token type and
// expiry. Refresh and login prefer it over SetTokens.
type TokenSaver interface {
	SaveToken(ctx context.Context, token *oauth2.Token) error
}

func saveToken(ctx context.Context, store TokenStore, token *oauth2.Token) error {
	if saver, ok := store.(TokenSaver); ok {
		return saver.SaveToken(ctx, token)
	}
	return store.SetTokens(ctx, token.AccessToken, token.RefreshToken)
}
