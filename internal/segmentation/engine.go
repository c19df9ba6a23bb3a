package segmentation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/geo"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
)

type Repository interface {
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	FindUsersInBox(ctx context.Context, box geo.Box) ([]models.User, error)
}

type Engine struct {
	Repo   Repository
	Clock  clock.Clock
	Policy Policy
	Logger *logger.Logger
}

func NewEngine(repo Repository, clk clock.Clock, policy Policy, log *logger.Logger) *Engine {
	return &Engine{Repo: repo, Clock: clk, Policy: policy, Logger: log}
}

// EligibleUsers returns the sorted ids of users within the promo radius of its
// store whose segments intersect the promo's. The bounding box narrows the
// candidates in the repository; the exact distance check is inclusive.
func (e *Engine) EligibleUsers(ctx context.Context, p *models.FlashPromo) ([]string, error) {
	users, err := e.candidates(ctx, p)
	if err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	seen := make(map[string]struct{}, len(users))
	ids := make([]string, 0, len(users))
	for i := range users {
		u := &users[i]
		if _, dup := seen[u.ID]; dup {
			continue
		}
		if p.TargetsSegment(Derive(u, now, e.Policy)) {
			seen[u.ID] = struct{}{}
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)

	e.Logger.Debug("SEGMENT", fmt.Sprintf("promo %s: %d candidates, %d eligible", p.ID, len(users), len(ids)))
	return ids, nil
}

// UsersInRadius returns users within the promo radius regardless of segment.
func (e *Engine) UsersInRadius(ctx context.Context, p *models.FlashPromo) ([]models.User, error) {
	return e.candidates(ctx, p)
}

func (e *Engine) candidates(ctx context.Context, p *models.FlashPromo) ([]models.User, error) {
	store, err := e.Repo.GetStoreByID(ctx, p.StoreID)
	if err != nil {
		return nil, err
	}
	origin := store.Location()

	boxed, err := e.Repo.FindUsersInBox(ctx, origin.BoundingBox(p.MaxRadiusKm))
	if err != nil {
		return nil, err
	}
	inRadius := boxed[:0]
	for _, u := range boxed {
		if origin.WithinKm(u.Location(), p.MaxRadiusKm) {
			inRadius = append(inRadius, u)
		}
	}
	return inRadius, nil
}

// IsEligible applies the same rules to a single user.
func (e *Engine) IsEligible(ctx context.Context, p *models.FlashPromo, userID string) (bool, error) {
	user, err := e.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	store, err := e.Repo.GetStoreByID(ctx, p.StoreID)
	if err != nil {
		return false, err
	}
	if !store.Location().WithinKm(user.Location(), p.MaxRadiusKm) {
		return false, nil
	}
	return p.TargetsSegment(Derive(user, e.Clock.Now(), e.Policy)), nil
}

func (e *Engine) Segments(u *models.User) []models.Segment {
	return Derive(u, e.Clock.Now(), e.Policy)
}

type VerdictCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedChecker memoizes eligibility verdicts in the TTL store for a short time.
type CachedChecker struct {
	Engine *Engine
	Cache  VerdictCache
	TTL    time.Duration
	Logger *logger.Logger
}

func NewCachedChecker(engine *Engine, cache VerdictCache, ttl time.Duration, log *logger.Logger) *CachedChecker {
	return &CachedChecker{Engine: engine, Cache: cache, TTL: ttl, Logger: log}
}

func verdictKey(promoID, userID string) string {
	return fmt.Sprintf("eligibility:%s:%s", promoID, userID)
}

func (c *CachedChecker) IsEligible(ctx context.Context, p *models.FlashPromo, userID string) (bool, error) {
	key := verdictKey(p.ID, userID)
	if v, found, err := c.Cache.Get(ctx, key); err == nil && found {
		return v == "1", nil
	} else if err != nil {
		c.Logger.Warn("SEGMENT", fmt.Sprintf("verdict cache read failed, computing: %v", err))
	}

	ok, err := c.Engine.IsEligible(ctx, p, userID)
	if err != nil {
		return false, err
	}
	v := "0"
	if ok {
		v = "1"
	}
	if err := c.Cache.Set(ctx, key, v, c.TTL); err != nil {
		c.Logger.Warn("SEGMENT", fmt.Sprintf("verdict cache write failed: %v", err))
	}
	return ok, nil
}
