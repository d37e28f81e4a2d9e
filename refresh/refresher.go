package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthClient/jwt"
	"github.com/MrEthical07/goAuthClient/session"
)

// Policy configures a Refresher.
type Policy struct {
	// Lookahead is how long before expiry a token becomes due.
	Lookahead time.Duration
	// Interval is the tick period of Run. Run returns immediately when it is not positive.
	Interval time.Duration
	Now      func() time.Time
}

// Source returns the record Run should inspect, usually the active user.
type Source func() (session.AuthInfo, bool)

// RefreshFunc performs a refresh for info.
type RefreshFunc func(ctx context.Context, info session.AuthInfo) error

// Refresher evaluates token staleness. After Close every check fails closed.
type Refresher struct {
	policy Policy
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

// New returns a Refresher for p.
func New(p Policy) *Refresher {
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Lookahead < 0 {
		p.Lookahead = 0
	}
	return &Refresher{
		policy: p,
		done:   make(chan struct{}),
	}
}

// ShouldRefresh reports whether info's access token is expired or about to expire.
// It returns false for a nil record, a missing or undecodable token, a token without
// exp, and after Close.
func (r *Refresher) ShouldRefresh(info *session.AuthInfo) bool {
	if r == nil || r.closed.Load() || info == nil || info.AccessToken == "" {
		return false
	}
	claims, err := jwt.Decode(info.AccessToken)
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}

	window := r.policy.Lookahead
	if lifetime := claims.Lifetime(); lifetime > 0 && lifetime/2 < window {
		window = lifetime / 2
	}
	return !r.policy.Now().Before(claims.ExpiresAt.Add(-window))
}

// Run checks the record returned by source every Interval and calls fn when it is due.
// Errors from fn go to onError when it is non-nil. Run blocks until ctx is done or
// Close is called.
func (r *Refresher) Run(ctx context.Context, source Source, fn RefreshFunc, onError func(error)) {
	if r == nil || r.policy.Interval <= 0 || source == nil || fn == nil {
		return
	}
	ticker := time.NewTicker(r.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			info, ok := source()
			if !ok || !r.ShouldRefresh(&info) {
				continue
			}
			if err := fn(ctx, info); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops Run and makes ShouldRefresh return false. It is idempotent.
func (r *Refresher) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})
}
