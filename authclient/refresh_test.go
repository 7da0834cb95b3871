package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-authgate/dashboard-cli/tokenstore"
)

func TestValidateTokenResponse(t *testing.T) {
	tests := []struct {
		name        string
		accessToken string
		tokenType   string
		expiresIn   int
		wantErr     bool
		errContains string
	}{
		{
			name:        "valid token response",
			accessToken: "valid-access-token-123456",
			tokenType:   "Bearer",
			expiresIn:   3600,
		},
		{
			name:        "valid token with empty type (optional field)",
			accessToken: "valid-access-token-123456",
			expiresIn:   3600,
		},
		{
			name:        "lowercase bearer",
			accessToken: "valid-access-token-123456",
			tokenType:   "bearer",
			expiresIn:   3600,
		},
		{
			name:        "no expiry",
			accessToken: "valid-access-token-123456",
			tokenType:   "Bearer",
		},
		{
			name:        "empty access token",
			tokenType:   "Bearer",
			expiresIn:   3600,
			wantErr:     true,
			errContains: "access_token is empty",
		},
		{
			name:        "negative expires_in",
			accessToken: "valid-access-token-123456",
			tokenType:   "Bearer",
			expiresIn:   -3600,
			wantErr:     true,
			errContains: "expires_in must not be negative",
		},
		{
			name:        "invalid token type",
			accessToken: "valid-access-token-123456",
			tokenType:   "Basic",
			expiresIn:   3600,
			wantErr:     true,
			errContains: "unexpected token_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTokenResponse(tt.accessToken, tt.tokenType, tt.expiresIn)

			if tt.wantErr {
				if err == nil {
					t.Errorf("validateTokenResponse() expected error but got nil")
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf(
						"validateTokenResponse() error = %v, want error containing %q",
						err,
						tt.errContains,
					)
				}
			} else if err != nil {
				t.Errorf("validateTokenResponse() unexpected error = %v", err)
			}
		})
	}
}

func TestRefresh_RotationMode(t *testing.T) {
	tests := []struct {
		name                 string
		responseRefreshToken string // empty means the server keeps the old one
		expectedRefreshToken string
	}{
		{
			name:                 "rotation mode - server returns new refresh token",
			responseRefreshToken: "new-refresh-token",
			expectedRefreshToken: "new-refresh-token",
		},
		{
			name:                 "fixed mode - server doesn't return refresh token",
			expectedRefreshToken: "old-refresh-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					http.Error(w, "invalid body", http.StatusBadRequest)
					return
				}
				if body["refresh_token"] != "old-refresh-token" {
					http.Error(w, "wrong refresh token", http.StatusBadRequest)
					return
				}

				response := map[string]any{
					"access_token": "new-access-token",
					"token_type":   "Bearer",
					"expires_in":   3600,
				}
				if tt.responseRefreshToken != "" {
					response["refresh_token"] = tt.responseRefreshToken
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(response)
			})
			mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer new-access-token" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.Write([]byte(`{"id":1}`))
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			store := tokenstore.NewMemory("old-access-token", "old-refresh-token")
			c, _ := newTestClient(t, server, store)

			if err := c.Get(context.Background(), "/me", nil); err != nil {
				t.Fatalf("Get() error = %v", err)
			}

			access, _ := store.AccessToken(context.Background())
			if access != "new-access-token" {
				t.Errorf("AccessToken = %v, want new-access-token", access)
			}
			refresh, _ := store.RefreshToken(context.Background())
			if refresh != tt.expectedRefreshToken {
				t.Errorf("RefreshToken = %v, want %v", refresh, tt.expectedRefreshToken)
			}
		})
	}
}

func TestRefresh_ValidationErrors(t *testing.T) {
	tests := []struct {
		name         string
		responseBody string
		errContains  string
	}{
		{
			name:         "empty access token",
			responseBody: `{"access_token":"","token_type":"Bearer","expires_in":3600}`,
			errContains:  "access_token is empty",
		},
		{
			name:         "negative expires_in",
			responseBody: `{"access_token":"valid-token-123456","token_type":"Bearer","expires_in":-1}`,
			errContains:  "expires_in must not be negative",
		},
		{
			name:         "wrong token type",
			responseBody: `{"access_token":"valid-token-123456","token_type":"Basic","expires_in":3600}`,
			errContains:  "unexpected token_type",
		},
		{
			name:         "not json",
			responseBody: `<html>ok</html>`,
			errContains:  "failed to parse token response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.responseBody))
			})
			mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			store := tokenstore.NewMemory("old-access-token", "old-refresh-token")
			events := NewEvents()
			signal := &countingSignal{}
			events.OnUnauthorized(signal.Fire)
			c, _ := newTestClient(t, server, store, WithEvents(events))

			err := c.Get(context.Background(), "/me", nil)
			apiErr := NormalizeError(err)
			if err == nil || apiErr.Kind != KindAuthRefreshFailed {
				t.Fatalf("Get() error = %v, want auth_refresh_failed", err)
			}
			if !strings.Contains(apiErr.Message, tt.errContains) {
				t.Errorf("Message = %q, want it to contain %q", apiErr.Message, tt.errContains)
			}
			if apiErr.Status != 0 {
				t.Errorf("Status = %d, want 0 for a malformed 2xx reply", apiErr.Status)
			}
			if got := signal.fired.Load(); got != 1 {
				t.Errorf("signal fired %d times, want 1", got)
			}
			if refresh, _ := store.RefreshToken(context.Background()); refresh != "" {
				t.Errorf("refresh token = %q, want cleared", refresh)
			}
		})
	}
}
