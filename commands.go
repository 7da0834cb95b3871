package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-authgate/dashboard-cli/authclient"
	"github.com/go-authgate/dashboard-cli/tui"
)

// loginRequest is the body posted to the login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func newCommandFlagSet(name, args string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: dashctl %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func parseLogin(args []string, output io.Writer) (action, error) {
	fs := newCommandFlagSet("login", "-username U -password P", output)
	username := fs.String("username", "", "Account username (or DASHCTL_USERNAME env)")
	password := fs.String("password", "", "Account password (or DASHCTL_PASSWORD env)")
	path := fs.String("path", authclient.DefaultLoginPath, "Login endpoint path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	creds := loginRequest{
		Username: getConfig(*username, "DASHCTL_USERNAME", ""),
		Password: getConfig(*password, "DASHCTL_PASSWORD", ""),
	}
	if creds.Username == "" || creds.Password == "" {
		fmt.Fprintln(output, "Error: username and password are required")
		fs.Usage()
		return nil, errUsage
	}

	return func(ctx context.Context, a *app) error {
		token, err := a.client.Login(ctx, *path, creds)
		if err != nil {
			a.display.Fatal(err)
			return err
		}
		var expiresIn time.Duration
		if !token.Expiry.IsZero() {
			expiresIn = time.Until(token.Expiry)
		}
		a.display.LoginOK(a.cfg.Profile, expiresIn)
		return nil
	}, nil
}

func parseLogout(args []string, output io.Writer) (action, error) {
	fs := newCommandFlagSet("logout", "", output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return func(ctx context.Context, a *app) error {
		if err := a.client.Logout(ctx); err != nil {
			a.display.Fatal(err)
			return err
		}
		a.display.LoggedOut(a.cfg.Profile)
		return nil
	}, nil
}

// statusReport is the -json rendering of dashctl status.
type statusReport struct {
	Profile      string     `json:"profile"`
	Store        string     `json:"store"`
	AccessToken  bool       `json:"access_token"`
	RefreshToken bool       `json:"refresh_token"`
	Subject      string     `json:"subject,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func parseStatus(args []string, output io.Writer) (action, error) {
	fs := newCommandFlagSet("status", "[-json]", output)
	asJSON := fs.Bool("json", false, "Print the session as JSON on stdout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return func(ctx context.Context, a *app) error {
		info, err := a.sessionStatus(ctx)
		if err != nil {
			a.display.Fatal(err)
			return err
		}
		a.display.Status(info)

		if !*asJSON {
			return nil
		}
		report := statusReport{
			Profile:      info.Profile,
			Store:        info.Store,
			AccessToken:  info.HasAccess,
			RefreshToken: info.HasRefresh,
			Subject:      info.Subject,
		}
		if !info.ExpiresAt.IsZero() {
			report.ExpiresAt = &info.ExpiresAt
		}
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}, nil
}

func (a *app) sessionStatus(ctx context.Context) (tui.StatusInfo, error) {
	info := tui.StatusInfo{Profile: a.cfg.Profile, Store: a.cfg.TokenStore}

	access, err := a.store.AccessToken(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to read access token: %w", err)
	}
	refresh, err := a.store.RefreshToken(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to read refresh token: %w", err)
	}
	info.HasAccess = access != ""
	info.HasRefresh = refresh != ""

	if access != "" {
		subject, expiresAt, err := tokenClaims(access)
		if err != nil {
			a.logger.Debug("access token is not a readable JWT", "error", err)
		} else {
			info.Subject = subject
			info.ExpiresAt = expiresAt
		}
	}
	return info, nil
}

// tokenClaims reads sub and exp from a JWT without verifying its signature.
// The server remains the only authority on whether the token is valid.
func tokenClaims(raw string) (string, time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", time.Time{}, err
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return "", time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", time.Time{}, err
	}
	if exp == nil {
		return subject, time.Time{}, nil
	}
	return subject, exp.Time, nil
}

// headerFlags collects repeated -H "Key: Value" flags.
type headerFlags http.Header

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for key, values := range h {
		parts = append(parts, key+": "+strings.Join(values, ", "))
	}
	return strings.Join(parts, "; ")
}

func (h headerFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("header must look like \"Key: Value\", got %q", value)
	}
	http.Header(h).Add(key, strings.TrimSpace(val))
	return nil
}

func parseCall(args []string, output io.Writer) (action, error) {
	fs := newCommandFlagSet("call", "[-d body] [-H header] METHOD PATH", output)
	data := fs.String("d", "", "Request body; @file reads it from a file")
	headers := headerFlags{}
	fs.Var(headers, "H", "Extra request header \"Key: Value\" (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(output, "Error: call needs METHOD and PATH")
		fs.Usage()
		return nil, errUsage
	}

	body, err := readBody(*data)
	if err != nil {
		fmt.Fprintf(output, "Error: %v\n", err)
		return nil, errUsage
	}

	req := &authclient.Request{
		Method: strings.ToUpper(fs.Arg(0)),
		Path:   fs.Arg(1),
		Header: http.Header(headers),
		Body:   body,
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return func(ctx context.Context, a *app) error {
		a.display.Request(req.Method, req.Path)

		resp, err := a.client.Send(ctx, req)
		if err != nil {
			a.display.CallFailed(err)
			return err
		}

		if len(resp.Body) > 0 {
			if _, err := a.stdout.Write(resp.Body); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
			if resp.Body[len(resp.Body)-1] != '\n' {
				fmt.Fprintln(a.stdout)
			}
		}
		a.display.CallOK(resp.StatusCode, len(resp.Body))
		return nil
	}, nil
}

// readBody resolves the -d value; "@path" reads the body from a file.
func readBody(data string) ([]byte, error) {
	path, ok := strings.CutPrefix(data, "@")
	if !ok {
		if data == "" {
			return nil, nil
		}
		return []byte(data), nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}
