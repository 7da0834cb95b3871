package authclient

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type coordinatorState int

const (
	stateIdle coordinatorState = iota
	stateRefreshing
)

type refreshResult struct {
	token string
	err   *APIError
}

// RefreshCoordinator guarantees at most one refresh call in flight. The first
// request to fail with 401 drives the refresh; requests failing while it runs
// wait in a FIFO queue and share its outcome.
type RefreshCoordinator struct {
	store     TokenStore
	refresher Refresher
	signal    UnauthorizedSignal
	events    *Events
	logger    *slog.Logger
	timeout   time.Duration

	mu    sync.Mutex
	state coordinatorState
	queue []chan refreshResult // non-empty only while refreshing
}

func newRefreshCoordinator(
	store TokenStore,
	refresher Refresher,
	signal UnauthorizedSignal,
	events *Events,
	logger *slog.Logger,
	timeout time.Duration,
) *RefreshCoordinator {
	return &RefreshCoordinator{
		store:     store,
		refresher: refresher,
		signal:    signal,
		events:    events,
		logger:    logger,
		timeout:   timeout,
	}
}

// HandleAuthFailure is called by a request that received a 401 and has not
// been through a refresh cycle yet. cause is that 401. It returns the new
// access token, or the normalized refresh failure.
//
// A queued caller stops waiting when ctx is done. The refresh call itself is
// detached from the driver's ctx and bounded by the coordinator timeout.
func (c *RefreshCoordinator) HandleAuthFailure(ctx context.Context, cause error) (string, error) {
	c.mu.Lock()
	if c.state == stateRefreshing {
		wait := make(chan refreshResult, 1)
		c.queue = append(c.queue, wait)
		c.mu.Unlock()

		select {
		case res := <-wait:
			if res.err != nil {
				return "", res.err
			}
			return res.token, nil
		case <-ctx.Done():
			c.leave(wait)
			return "", normalize(ctx.Err(), KindAuthExpired)
		}
	}
	c.state = stateRefreshing
	c.mu.Unlock()

	res := c.runCycle(ctx, cause)
	c.finish(res)

	if res.err != nil {
		return "", res.err
	}
	return res.token, nil
}

// finish returns to idle and releases every queued waiter with res, in
// enqueue order. The state change and the queue swap happen under one lock,
// so a caller either joins this cycle's queue or starts a new cycle.
func (c *RefreshCoordinator) finish(res refreshResult) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.state = stateIdle
	c.mu.Unlock()

	for _, wait := range queue {
		wait <- res
	}
}

func (c *RefreshCoordinator) runCycle(ctx context.Context, cause error) refreshResult {
	logger := c.logger.With("cycle", uuid.NewString())

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	refreshToken, err := c.store.RefreshToken(refreshCtx)
	if err != nil {
		logger.Warn("failed to read refresh token", "error", err)
		refreshToken = ""
	}

	if refreshToken == "" {
		logger.Info("no refresh token stored, ending session")
		apiErr := normalize(cause, KindAuthRefreshFailed)
		c.teardown(refreshCtx, logger, apiErr)
		return refreshResult{err: apiErr}
	}

	logger.Debug("refreshing access token")
	c.events.refreshStarted()

	token, err := c.refresher.Refresh(refreshCtx, refreshToken)
	if err != nil {
		apiErr := normalize(err, KindAuthRefreshFailed)
		logger.Warn("token refresh failed", "error", apiErr, "status", apiErr.Status)
		c.teardown(refreshCtx, logger, apiErr)
		return refreshResult{err: apiErr}
	}

	if err := saveToken(refreshCtx, c.store, token); err != nil {
		// the new token is still usable for this process
		logger.Warn("failed to persist refreshed tokens", "error", err)
	}

	logger.Debug("access token refreshed", "rotated", token.RefreshToken != "")
	c.events.refreshSucceeded()
	return refreshResult{token: token.AccessToken}
}

// teardown clears the session and raises the unauthorized signal.
func (c *RefreshCoordinator) teardown(ctx context.Context, logger *slog.Logger, apiErr *APIError) {
	if err := c.store.Clear(ctx); err != nil {
		logger.Warn("failed to clear tokens", "error", err)
	}
	c.events.refreshFailed(apiErr)
	c.signal.Fire()
}

// Expire ends the session after a refreshed token was itself rejected. It
// only acts while the store still holds rejectedToken, so many requests
// rejecting the same token tear the session down once.
func (c *RefreshCoordinator) Expire(ctx context.Context, rejectedToken string) bool {
	if rejectedToken == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateRefreshing {
		return false
	}

	current, err := c.store.AccessToken(ctx)
	if err != nil || current != rejectedToken {
		return false
	}

	c.logger.Info("refreshed access token rejected, ending session")
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear tokens", "error", err)
	}
	c.signal.Fire()
	return true
}

// leave drops an abandoned waiter. After finish has swapped the queue the
// channel is no longer there and its buffered result is simply dropped.
func (c *RefreshCoordinator) leave(wait chan refreshResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = slices.DeleteFunc(c.queue, func(ch chan refreshResult) bool { return ch == wait })
}

// waiting returns the number of queued requests.
func (c *RefreshCoordinator) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
