package segmentation_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/db"
	"ms-flashpromo/internal/db/dbtest"
	"ms-flashpromo/internal/geo"
	"ms-flashpromo/internal/models"
	rediswrap "ms-flashpromo/internal/redis"
	"ms-flashpromo/internal/segmentation"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func addUser(t *testing.T, repo *db.DB, id string, lat, lng float64, created time.Time, spent int64) {
	t.Helper()
	require.NoError(t, repo.CreateUser(context.Background(), &models.User{
		ID: id, Email: id + "@example.com", Name: id,
		Latitude: lat, Longitude: lng,
		CreatedAt: created, TotalSpent: decimal.NewFromInt(spent),
	}))
}

func setup(t *testing.T) (*db.DB, *segmentation.Engine, *models.FlashPromo) {
	repo := dbtest.New(t)
	require.NoError(t, repo.CreateStore(context.Background(), &models.Store{ID: "s1", Name: "Store", Latitude: 40.0, Longitude: -74.0, CreatedAt: now}))

	p := &models.FlashPromo{
		ID: "fp1", StoreID: "s1", ProductID: "p1",
		Segments:    []models.Segment{models.SegmentNew},
		MaxRadiusKm: 2.0,
		State:       models.PromoActive,
	}
	return repo, segmentation.NewEngine(repo, clock.NewFake(now), segmentation.DefaultPolicy(), nil), p
}

func TestEligibleUsers_RadiusScenario(t *testing.T) {
	repo, engine, p := setup(t)
	addUser(t, repo, "user-a", 40.01, -74.0, now, 0) // about 1.1 km
	addUser(t, repo, "user-b", 40.05, -74.0, now, 0) // about 5.5 km

	ids, err := engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-a"}, ids)
}

func TestEligibleUsers_SegmentFilter(t *testing.T) {
	repo, engine, p := setup(t)
	old := now.Add(-365 * 24 * time.Hour)
	addUser(t, repo, "new-user", 40.001, -74.0, now, 0)
	addUser(t, repo, "old-user", 40.001, -74.0, old, 0)
	addUser(t, repo, "old-vip", 40.001, -74.001, old, 5000)

	ids, err := engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-user"}, ids)

	p.Segments = []models.Segment{models.SegmentNew, models.SegmentVIP}
	ids, err = engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-user", "old-vip"}, ids)
}

func TestEligibleUsers_BoundaryInclusive(t *testing.T) {
	repo, engine, p := setup(t)
	addUser(t, repo, "edge", 40.01, -74.0, now, 0)

	p.MaxRadiusKm = geo.Location{Latitude: 40.0, Longitude: -74.0}.DistanceKm(geo.Location{Latitude: 40.01, Longitude: -74.0})
	ids, err := engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, ids)

	p.MaxRadiusKm -= 1e-6
	ids, err = engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEligibleUsers_Deterministic(t *testing.T) {
	repo, engine, p := setup(t)
	for _, id := range []string{"u-3", "u-1", "u-2", "u-5", "u-4"} {
		addUser(t, repo, id, 40.002, -74.003, now, 0)
	}

	first, err := engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)
	second, err := engine.EligibleUsers(context.Background(), p)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("eligible users changed between calls (-first +second):\n%s", diff)
	}
	assert.Equal(t, []string{"u-1", "u-2", "u-3", "u-4", "u-5"}, first)
}

func TestCachedChecker(t *testing.T) {
	repo, engine, p := setup(t)
	addUser(t, repo, "user-a", 40.01, -74.0, now, 0)
	addUser(t, repo, "user-b", 40.05, -74.0, now, 0)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := rediswrap.NewStore(client, nil)
	checker := segmentation.NewCachedChecker(engine, store, time.Minute, nil)
	ctx := context.Background()

	ok, err := checker.IsEligible(ctx, p, "user-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.IsEligible(ctx, p, "user-b")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := mr.Get(rediswrap.DefaultPrefix + "eligibility:fp1:user-a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// a cached verdict wins until it expires
	require.NoError(t, mr.Set(rediswrap.DefaultPrefix+"eligibility:fp1:user-b", "1"))
	ok, err = checker.IsEligible(ctx, p, "user-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
