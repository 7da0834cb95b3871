package authclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"golang.org/x/oauth2"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
		wantStatus  int
		wantCode    string
		wantDetails bool
		wantKind    Kind
	}{
		{
			name: "response with message field",
			err: &HTTPError{Response: &Response{
				StatusCode: http.StatusNotFound,
				Body:       []byte(`{"message":"plan not found","id":7}`),
			}},
			wantMessage: "plan not found",
			wantStatus:  http.StatusNotFound,
			wantDetails: true,
			wantKind:    KindFatal,
		},
		{
			name: "response with error field",
			err: &HTTPError{Response: &Response{
				StatusCode: http.StatusBadRequest,
				Body:       []byte(`{"error":"invalid_request"}`),
			}},
			wantMessage: "invalid_request",
			wantStatus:  http.StatusBadRequest,
			wantDetails: true,
			wantKind:    KindFatal,
		},
		{
			name: "message wins over error",
			err: &HTTPError{Response: &Response{
				StatusCode: http.StatusConflict,
				Body:       []byte(`{"message":"already enrolled","error":"conflict"}`),
			}},
			wantMessage: "already enrolled",
			wantStatus:  http.StatusConflict,
			wantDetails: true,
			wantKind:    KindFatal,
		},
		{
			name: "response without structured body",
			err: &HTTPError{Response: &Response{
				StatusCode: http.StatusBadGateway,
				Body:       []byte("<html>bad gateway</html>"),
			}},
			wantMessage: "request failed with status 502",
			wantStatus:  http.StatusBadGateway,
			wantDetails: true,
			wantKind:    KindTransient,
		},
		{
			name: "response with empty body",
			err: &HTTPError{Response: &Response{
				StatusCode: http.StatusUnauthorized,
			}},
			wantMessage: "request failed with status 401",
			wantStatus:  http.StatusUnauthorized,
			wantKind:    KindAuthExpired,
		},
		{
			name: "refresh endpoint retrieve error",
			err: &oauth2.RetrieveError{
				Response: &http.Response{StatusCode: http.StatusBadRequest},
				Body:     []byte(`{"error":"invalid_grant"}`),
			},
			wantMessage: "invalid_grant",
			wantStatus:  http.StatusBadRequest,
			wantDetails: true,
			wantKind:    KindFatal,
		},
		{
			name:        "connection reset",
			err:         &url.Error{Op: "Get", URL: "http://api/plans", Err: syscall.ECONNRESET},
			wantMessage: `Get "http://api/plans": ` + syscall.ECONNRESET.Error(),
			wantCode:    "ECONNRESET",
			wantKind:    KindTransient,
		},
		{
			name:        "connection refused",
			err:         &url.Error{Op: "Get", URL: "http://api/plans", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}},
			wantMessage: `Get "http://api/plans": dial: ` + syscall.ECONNREFUSED.Error(),
			wantCode:    "ECONNREFUSED",
			wantKind:    KindTransient,
		},
		{
			name:        "attempt timeout",
			err:         fmt.Errorf("request failed: %w", context.DeadlineExceeded),
			wantMessage: "request failed: context deadline exceeded",
			wantCode:    "ETIMEDOUT",
			wantKind:    KindTransient,
		},
		{
			name:        "caller cancelled",
			err:         context.Canceled,
			wantMessage: "context canceled",
			wantCode:    "ERR_CANCELED",
			wantKind:    KindFatal,
		},
		{
			name:        "arbitrary error",
			err:         errors.New("boom"),
			wantMessage: "boom",
			wantKind:    KindTransient,
		},
		{
			name:        "error with empty message",
			err:         errors.New(""),
			wantMessage: msgUnknown,
			wantKind:    KindTransient,
		},
		{
			name:        "nil error",
			err:         nil,
			wantMessage: msgUnknown,
			wantKind:    KindFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			if got == nil {
				t.Fatal("NormalizeError() returned nil")
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if (got.Details != nil) != tt.wantDetails {
				t.Errorf("Details = %v, want present=%v", got.Details, tt.wantDetails)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
		})
	}
}

func TestNormalizeError_PassesAPIErrorThrough(t *testing.T) {
	original := &APIError{Message: "already normalized", Status: 422, Kind: KindFatal}
	wrapped := fmt.Errorf("context: %w", original)

	if got := NormalizeError(wrapped); got != original {
		t.Errorf("NormalizeError() = %p, want the original %p", got, original)
	}
}

func TestNormalize_RekindCopies(t *testing.T) {
	original := &APIError{Message: "expired", Status: 401, Kind: KindAuthExpired}

	got := normalize(original, KindAuthRefreshFailed)
	if got == original {
		t.Fatal("normalize() returned the original error for a different kind")
	}
	if original.Kind != KindAuthExpired {
		t.Errorf("original Kind changed to %v", original.Kind)
	}
	if got.Kind != KindAuthRefreshFailed || got.Status != 401 || got.Message != "expired" {
		t.Errorf("normalize() = %+v, want copy with new kind", got)
	}
	if !errors.Is(got, original) {
		t.Errorf("copy does not unwrap to the original")
	}
}

func TestAPIError_Details(t *testing.T) {
	apiErr := NormalizeError(&HTTPError{Response: &Response{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       []byte(`{"message":"invalid","fields":{"email":"required"}}`),
	}})

	details, ok := apiErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("Details type = %T, want map[string]any", apiErr.Details)
	}
	fields, ok := details["fields"].(map[string]any)
	if !ok || fields["email"] != "required" {
		t.Errorf("Details[fields] = %v, want email=required", details["fields"])
	}

	if got := apiErr.Error(); got != "invalid (status 422)" {
		t.Errorf("Error() = %q", got)
	}
}
