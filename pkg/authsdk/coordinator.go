package authsdk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultRefreshBuffer is how far ahead of expiry the proactive
// refresh fires. A token with less life left than this is refreshed
// immediately.
const DefaultRefreshBuffer = 5 * time.Minute

// CoordinatorState is the refresh state machine position.
type CoordinatorState int32

const (
	// StateIdle means no refresh is scheduled or running.
	StateIdle CoordinatorState = iota

	// StateScheduled means a proactive refresh timer is pending.
	StateScheduled

	// StateRefreshing means a refresh network call is in flight.
	StateRefreshing

	// StateFailed means the last refresh failed and the session was
	// cleared. The next SetTokens returns the machine to scheduling.
	StateFailed
)

// String implements fmt.Stringer for logging.
func (s CoordinatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshFunc performs one refresh round-trip against the backend and
// returns the replacement tokens. The Client provides this; the
// coordinator never talks to the network itself.
type RefreshFunc func(ctx context.Context, refreshToken string) (*TokenUpdate, error)

// RefreshCoordinator owns the refresh protocol for one TokenStore:
//
//   - after every SetTokens it schedules a proactive refresh at
//     expiresAt minus a buffer, refreshing immediately when that
//     moment has already passed;
//   - concurrent Refresh callers are coalesced into a single network
//     round-trip sharing one result (singleflight);
//   - a failed refresh clears the store, because refresh tokens are
//     one-shot and a rejected one cannot be retried;
//   - a refresh that completes after the session was cleared or
//     replaced is discarded via the store's generation counter.
type RefreshCoordinator struct {
	store   *TokenStore
	refresh RefreshFunc
	buffer  time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	group   singleflight.Group

	mu       sync.Mutex
	state    CoordinatorState
	timer    *time.Timer
	stopped  bool
	unsubbed func()
}

// CoordinatorOption configures a RefreshCoordinator.
type CoordinatorOption func(*RefreshCoordinator)

// WithRefreshBuffer overrides DefaultRefreshBuffer.
func WithRefreshBuffer(buffer time.Duration) CoordinatorOption {
	return func(rc *RefreshCoordinator) {
		if buffer > 0 {
			rc.buffer = buffer
		}
	}
}

// WithCoordinatorLogger sets the logger. Defaults to slog.Default.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(rc *RefreshCoordinator) { rc.logger = logger }
}

// WithRefreshLimiter overrides the limiter guarding automatic refresh
// attempts. The default allows a small burst then one attempt per ten
// seconds, which keeps a misbehaving backend from being hammered by
// the scheduler.
func WithRefreshLimiter(limiter *rate.Limiter) CoordinatorOption {
	return func(rc *RefreshCoordinator) { rc.limiter = limiter }
}

// NewRefreshCoordinator wires a coordinator to store and subscribes to
// its events: new tokens reschedule the proactive refresh, a cleared
// session cancels it. If the store already holds a token (persisted by
// a previous run) scheduling starts immediately.
func NewRefreshCoordinator(store *TokenStore, refresh RefreshFunc, opts ...CoordinatorOption) *RefreshCoordinator {
	rc := &RefreshCoordinator{
		store:   store,
		refresh: refresh,
		buffer:  DefaultRefreshBuffer,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(rc)
	}

	rc.unsubbed = store.Subscribe(rc.onStoreEvent)
	rc.reschedule()

	return rc
}

// Stop cancels any pending timer and detaches from the store. An
// in-flight refresh is not aborted; its result is discarded by the
// generation check if the session changed meanwhile.
func (rc *RefreshCoordinator) Stop() {
	rc.mu.Lock()
	rc.stopped = true
	rc.cancelTimerLocked()
	rc.state = StateIdle
	rc.mu.Unlock()

	if rc.unsubbed != nil {
		rc.unsubbed()
	}
}

// State returns the current state machine position.
func (rc *RefreshCoordinator) State() CoordinatorState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Refresh performs one coordinated refresh. Concurrent callers while a
// refresh is in flight await the same result rather than issuing
// duplicate network calls. On success the store is updated and the
// proactive refresh rescheduled; on failure the store is cleared and
// every awaiting caller receives ErrRefreshFailed.
func (rc *RefreshCoordinator) Refresh(ctx context.Context) (TokenSnapshot, error) {
	v, err, _ := rc.group.Do("refresh", func() (any, error) {
		return rc.doRefresh(ctx)
	})
	if err != nil {
		return TokenSnapshot{}, err
	}
	return v.(TokenSnapshot), nil
}

// ForceRefresh is the user-initiated path: identical to Refresh, it
// does not wait for the scheduled timer and still honours the
// single-flight guarantee.
func (rc *RefreshCoordinator) ForceRefresh(ctx context.Context) (TokenSnapshot, error) {
	return rc.Refresh(ctx)
}

func (rc *RefreshCoordinator) doRefresh(ctx context.Context) (TokenSnapshot, error) {
	refreshToken := rc.store.RefreshToken()
	if refreshToken == "" {
		return TokenSnapshot{}, fmt.Errorf("%w: no refresh token available", ErrRefreshFailed)
	}

	// Capture the generation before the suspension point so a session
	// cleared or replaced mid-flight makes this result a no-op.
	generation := rc.store.Generation()

	rc.mu.Lock()
	rc.cancelTimerLocked()
	rc.state = StateRefreshing
	rc.mu.Unlock()

	upd, err := rc.refresh(ctx, refreshToken)
	if err != nil {
		rc.logger.Warn("token refresh failed, clearing session", "error", err)

		if clearErr := rc.store.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			rc.logger.Error("failed to clear session after refresh failure", "error", clearErr)
		}

		rc.setState(StateFailed)
		return TokenSnapshot{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	applied, err := rc.store.SetTokensIfGeneration(ctx, generation, *upd)
	if err != nil {
		rc.setState(StateFailed)
		return TokenSnapshot{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if !applied {
		rc.logger.Debug("discarding refresh result, session changed mid-flight",
			"generation", generation,
		)
		rc.setState(StateIdle)
		return TokenSnapshot{}, ErrRefreshSuperseded
	}

	// SetTokens already rescheduled via the store event; the machine
	// lands on scheduled, or idle if the new expiry is unknown.
	return rc.store.Snapshot(), nil
}

func (rc *RefreshCoordinator) setState(state CoordinatorState) {
	rc.mu.Lock()
	rc.state = state
	rc.mu.Unlock()
}

// onStoreEvent reacts to store mutations: reschedule on new tokens,
// cancel on clear.
func (rc *RefreshCoordinator) onStoreEvent(ev StoreEvent) {
	switch ev.Type {
	case EventTokensSet, EventExternalUpdate:
		rc.reschedule()
	case EventCleared:
		rc.mu.Lock()
		rc.cancelTimerLocked()
		if rc.state == StateScheduled {
			rc.state = StateIdle
		}
		rc.mu.Unlock()
	}
}

// reschedule computes refreshAt = expiresAt - buffer and arms the
// timer. A refreshAt already in the past triggers an immediate
// background refresh.
func (rc *RefreshCoordinator) reschedule() {
	info, ok := rc.store.ExpirationInfo()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.stopped {
		return
	}
	rc.cancelTimerLocked()

	if !ok {
		rc.state = StateIdle
		return
	}

	delay := time.Until(info.ExpiresAt.Add(-rc.buffer))
	if delay <= 0 {
		rc.state = StateScheduled
		rc.logger.Debug("token already within refresh buffer, refreshing now")
		go rc.autoRefresh()
		return
	}

	rc.state = StateScheduled
	rc.timer = time.AfterFunc(delay, rc.autoRefresh)
	rc.logger.Debug("proactive refresh scheduled",
		"in", delay,
		"expires_at", info.ExpiresAt,
	)
}

// autoRefresh is the scheduled path. Attempts are rate limited so a
// token that stays inside the buffer (e.g. the backend keeps issuing
// short-lived tokens) cannot produce a tight refresh loop. A limited
// attempt is deferred, not dropped: the timer is re-armed for the
// reservation delay so StateScheduled always has a pending fire behind
// it.
func (rc *RefreshCoordinator) autoRefresh() {
	rc.mu.Lock()
	stopped := rc.stopped
	rc.mu.Unlock()
	if stopped {
		return
	}

	reservation := rc.limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		// Give the slot back; the re-armed timer will take a fresh one
		// when it fires.
		reservation.Cancel()
		rc.logger.Debug("automatic refresh paced by rate limit", "delay", delay)

		rc.mu.Lock()
		if !rc.stopped {
			rc.cancelTimerLocked()
			rc.state = StateScheduled
			rc.timer = time.AfterFunc(delay, rc.autoRefresh)
		}
		rc.mu.Unlock()
		return
	}

	if _, err := rc.Refresh(context.Background()); err != nil {
		rc.logger.Warn("scheduled refresh failed", "error", err)
	}
}

func (rc *RefreshCoordinator) cancelTimerLocked() {
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
}
