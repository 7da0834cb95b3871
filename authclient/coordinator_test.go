package authclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/go-authgate/dashboard-cli/tokenstore"
)

type countingSignal struct {
	fired atomic.Int32
}

func (s *countingSignal) Fire() { s.fired.Add(1) }

func newTestCoordinator(store TokenStore, r Refresher, signal UnauthorizedSignal) *RefreshCoordinator {
	return newRefreshCoordinator(store, r, signal, nil, slog.New(slog.DiscardHandler), time.Second)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// untilQueued blocks until n callers are queued behind the running cycle.
func untilQueued(c *RefreshCoordinator, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for c.waiting() < n && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
}

func unauthorized() error {
	return &HTTPError{Response: &Response{StatusCode: http.StatusUnauthorized}}
}

func TestCoordinator_SingleRefreshForConcurrentFailures(t *testing.T) {
	const callers = 6

	store := tokenstore.NewMemory("T1", "R1")
	signal := &countingSignal{}

	var (
		coordinator *RefreshCoordinator
		calls       atomic.Int32
		gotRefresh  atomic.Value
	)
	coordinator = newTestCoordinator(store, RefresherFunc(
		func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			calls.Add(1)
			gotRefresh.Store(refreshToken)
			untilQueued(coordinator, callers-1)
			return &oauth2.Token{AccessToken: "T2", RefreshToken: "R2"}, nil
		}), signal)

	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = coordinator.HandleAuthFailure(context.Background(), unauthorized())
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := gotRefresh.Load(); got != "R1" {
		t.Errorf("refresh token sent = %v, want R1", got)
	}
	for i := range tokens {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != "T2" {
			t.Errorf("caller %d token = %q, want T2", i, tokens[i])
		}
	}
	if got := coordinator.waiting(); got != 0 {
		t.Errorf("waiting() = %d after cycle, want 0", got)
	}
	if signal.fired.Load() != 0 {
		t.Errorf("unauthorized signal fired on successful refresh")
	}

	access, _ := store.AccessToken(context.Background())
	refresh, _ := store.RefreshToken(context.Background())
	if access != "T2" || refresh != "R2" {
		t.Errorf("stored tokens = %q/%q, want T2/R2", access, refresh)
	}
}

func TestCoordinator_RefreshFailureRejectsAll(t *testing.T) {
	const callers = 4

	store := tokenstore.NewMemory("T1", "R1")
	signal := &countingSignal{}

	var coordinator *RefreshCoordinator
	coordinator = newTestCoordinator(store, RefresherFunc(
		func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			untilQueued(coordinator, callers-1)
			return nil, &oauth2.RetrieveError{
				Response: &http.Response{StatusCode: http.StatusUnauthorized},
				Body:     []byte(`{"error":"invalid_grant"}`),
			}
		}), signal)

	var wg sync.WaitGroup
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coordinator.HandleAuthFailure(context.Background(), unauthorized())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("caller %d error = %v, want *APIError", i, err)
		}
		if apiErr.Kind != KindAuthRefreshFailed {
			t.Errorf("caller %d Kind = %v, want %v", i, apiErr.Kind, KindAuthRefreshFailed)
		}
		if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid_grant" {
			t.Errorf("caller %d error = %+v, want 401 invalid_grant", i, apiErr)
		}
		if !apiErr.IsAuthFailure() {
			t.Errorf("caller %d IsAuthFailure() = false", i)
		}
	}

	if got := signal.fired.Load(); got != 1 {
		t.Errorf("signal fired %d times, want 1", got)
	}
	access, _ := store.AccessToken(context.Background())
	refresh, _ := store.RefreshToken(context.Background())
	if access != "" || refresh != "" {
		t.Errorf("stored tokens = %q/%q, want cleared", access, refresh)
	}
}

func TestCoordinator_NoRefreshToken(t *testing.T) {
	store := tokenstore.NewMemory("T1", "")
	signal := &countingSignal{}

	var calls atomic.Int32
	coordinator := newTestCoordinator(store, RefresherFunc(
		func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			calls.Add(1)
			return &oauth2.Token{AccessToken: "T2"}, nil
		}), signal)

	_, err := coordinator.HandleAuthFailure(context.Background(), unauthorized())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Kind != KindAuthRefreshFailed || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("error = %+v, want auth_refresh_failed with status 401", apiErr)
	}
	if calls.Load() != 0 {
		t.Errorf("refresher called without a refresh token")
	}
	if got := signal.fired.Load(); got != 1 {
		t.Errorf("signal fired %d times, want 1", got)
	}
	if access, _ := store.AccessToken(context.Background()); access != "" {
		t.Errorf("access token = %q after teardown, want empty", access)
	}
}

func TestCoordinator_QueuedWaiterCancelled(t *testing.T) {
	store := tokenstore.NewMemory("T1", "R1")

	started := make(chan struct{})
	release := make(chan struct{})
	coordinator := newTestCoordinator(store, RefresherFunc(
		func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			close(started)
			<-release
			return &oauth2.Token{AccessToken: "T2"}, nil
		}), &countingSignal{})

	driverDone := make(chan string, 1)
	go func() {
		token, _ := coordinator.HandleAuthFailure(context.Background(), unauthorized())
		driverDone <- token
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := coordinator.HandleAuthFailure(ctx, unauthorized())
		waiterDone <- err
	}()
	waitFor(t, "waiter to queue", func() bool { return coordinator.waiting() == 1 })

	cancel()
	select {
	case err := <-waiterDone:
		apiErr := NormalizeError(err)
		if apiErr.Code != "ERR_CANCELED" {
			t.Errorf("cancelled waiter Code = %q, want ERR_CANCELED", apiErr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}
	if n := coordinator.waiting(); n != 0 {
		t.Errorf("waiting() = %d after cancellation, want 0", n)
	}

	close(release)
	select {
	case token := <-driverDone:
		if token != "T2" {
			t.Errorf("driver token = %q, want T2", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not finish after an abandoned waiter")
	}
}

func TestCoordinator_DriverCancelDoesNotAbortRefresh(t *testing.T) {
	store := tokenstore.NewMemory("T1", "R1")

	started := make(chan struct{})
	release := make(chan struct{})
	coordinator := newTestCoordinator(store, RefresherFunc(
		func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &oauth2.Token{AccessToken: "T2"}, nil
		}), &countingSignal{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coordinator.HandleAuthFailure(ctx, unauthorized())
		done <- err
	}()

	<-started
	cancel()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("HandleAuthFailure() error = %v", err)
	}
	if access, _ := store.AccessToken(context.Background()); access != "T2" {
		t.Errorf("access token = %q, want T2", access)
	}
}

func TestCoordinator_ReturnsToIdle(t *testing.T) {
	store := tokenstore.NewMemory("T1", "R1")

	var calls atomic.Int32
	coordinator := newTestCoordinator(store, RefresherFunc(
		func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			n := calls.Add(1)
			if n == 1 {
				return &oauth2.Token{AccessToken: "T2"}, nil
			}
			return &oauth2.Token{AccessToken: "T3"}, nil
		}), &countingSignal{})

	for _, want := range []string{"T2", "T3"} {
		token, err := coordinator.HandleAuthFailure(context.Background(), unauthorized())
		if err != nil {
			t.Fatalf("HandleAuthFailure() error = %v", err)
		}
		if token != want {
			t.Errorf("token = %q, want %q", token, want)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("refresh calls = %d, want one per cycle", got)
	}
}

func TestCoordinator_Expire(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemory("T2", "R1")
	signal := &countingSignal{}
	coordinator := newTestCoordinator(store, nil, signal)

	if coordinator.Expire(ctx, "") {
		t.Errorf("Expire(\"\") = true, want false")
	}
	if coordinator.Expire(ctx, "T1") {
		t.Errorf("Expire() for a stale token = true, want false")
	}
	if !coordinator.Expire(ctx, "T2") {
		t.Fatalf("Expire() for the stored token = false, want true")
	}
	if coordinator.Expire(ctx, "T2") {
		t.Errorf("second Expire() = true, want false")
	}

	if got := signal.fired.Load(); got != 1 {
		t.Errorf("signal fired %d times, want 1", got)
	}
	refresh, _ := store.RefreshToken(ctx)
	if refresh != "" {
		t.Errorf("refresh token = %q after Expire, want empty", refresh)
	}
}
