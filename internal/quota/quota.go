// Package quota enforces per-user submission limits by tier.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/model"
)

const (
	// DefaultFreeDailyLimit is the number of sifts a free user may create per window.
	DefaultFreeDailyLimit = 10
	// DefaultWindow is the rolling window the limit applies to.
	DefaultWindow = 24 * time.Hour
)

// ProfileCounter is the slice of the store the guard needs.
type ProfileCounter interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Config controls the free tier policy.
type Config struct {
	FreeDailyLimit int
	Window         time.Duration
}

// Decision describes the outcome of a quota check.
type Decision struct {
	Tier      model.Tier
	Limit     int // 0 means unlimited
	Used      int
	Remaining int
}

// Unlimited reports whether the tier has no limit.
func (d Decision) Unlimited() bool {
	return d.Limit == 0
}

// Guard checks whether a user may submit another sift.
type Guard struct {
	store  ProfileCounter
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a Guard. Zero config values take the defaults.
func New(store ProfileCounter, cfg Config) *Guard {
	g := &Guard{
		store:  store,
		limit:  cfg.FreeDailyLimit,
		window: cfg.Window,
		now:    time.Now,
	}
	if g.limit <= 0 {
		g.limit = DefaultFreeDailyLimit
	}
	if g.window <= 0 {
		g.window = DefaultWindow
	}
	return g
}

// Check resolves the user's tier and counts their recent sifts. A stored
// profile's tier wins over requestTier. It returns model.ErrQuotaExceeded
// when the free limit is used up. The check is advisory: concurrent
// submissions may overshoot by the number in flight.
func (g *Guard) Check(ctx context.Context, userID, requestTier string) (Decision, error) {
	tier := g.resolveTier(ctx, userID, requestTier)
	d := Decision{Tier: tier}

	limit := g.limitFor(tier)
	if limit == 0 {
		return d, nil
	}
	d.Limit = limit

	since := g.now().Add(-g.window)
	used, err := g.store.CountCreatedSince(ctx, userID, since)
	if err != nil {
		return d, eris.Wrapf(errors.Join(err, model.ErrPersistenceFailed), "quota: count sifts for %s", userID)
	}
	d.Used = used
	if used >= limit {
		return d, eris.Wrapf(model.ErrQuotaExceeded, "quota: %s used %d of %d", userID, used, limit)
	}
	d.Remaining = limit - used
	return d, nil
}

func (g *Guard) resolveTier(ctx context.Context, userID, requestTier string) model.Tier {
	p, err := g.store.GetProfile(ctx, userID)
	switch {
	case err == nil && p != nil && p.Tier.Valid():
		return p.Tier
	case err != nil && !errors.Is(err, model.ErrNotFound):
		zap.L().Warn("quota: profile lookup failed, using request tier",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return model.ParseTier(requestTier)
}

func (g *Guard) limitFor(t model.Tier) int {
	switch t {
	case model.TierPlus, model.TierPaid, model.TierUnlimited, model.TierAdmin:
		return 0
	default:
		return g.limit
	}
}
