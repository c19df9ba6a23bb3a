package promo_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/db"
	"ms-flashpromo/internal/db/dbtest"
	"ms-flashpromo/internal/models"
	"ms-flashpromo/internal/promo"
)

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Fire(ctx context.Context, p *models.FlashPromo) error {
	args := m.Called(p.ID)
	return args.Error(0)
}

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*db.DB, *clock.Fake, *MockTrigger, *promo.Machine) {
	repo := dbtest.New(t)
	clk := clock.NewFake(day.Add(9 * time.Hour))
	trigger := new(MockTrigger)

	tr, err := models.NewTimeRange(day, models.MustTimeOfDay("10:00"), models.MustTimeOfDay("12:00"))
	require.NoError(t, err)
	require.NoError(t, repo.CreatePromo(context.Background(), &models.FlashPromo{
		ID: "fp1", ProductID: "p1", StoreID: "s1",
		PromoPrice: models.Price{Amount: decimal.NewFromInt(10), Currency: "USD"},
		Window:     tr, Segments: []models.Segment{models.SegmentNew}, MaxRadiusKm: 2,
		State: models.PromoScheduled, CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))

	return repo, clk, trigger, promo.NewMachine(repo, clk, trigger, nil)
}

func TestMachine_LifecycleFiresOnce(t *testing.T) {
	repo, clk, trigger, m := setup(t)
	ctx := context.Background()
	trigger.On("Fire", "fp1").Return(nil).Once()

	require.NoError(t, m.RunPass(ctx))
	p, err := repo.GetPromoByID(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, models.PromoScheduled, p.State)
	trigger.AssertNotCalled(t, "Fire", "fp1")

	clk.Set(day.Add(10 * time.Hour))
	got, err := m.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, models.PromoActive, got.State)

	// reads while active do not fire again
	_, err = m.Get(ctx, "fp1")
	require.NoError(t, err)
	trigger.AssertNumberOfCalls(t, "Fire", 1)

	clk.Set(day.Add(12*time.Hour + time.Second))
	require.NoError(t, m.RunPass(ctx))
	p, err = repo.GetPromoByID(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, models.PromoExpired, p.State)

	// terminal even if the clock goes back
	clk.Set(day.Add(11 * time.Hour))
	got, err = m.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, models.PromoExpired, got.State)
	trigger.AssertExpectations(t)
}

func TestMachine_Activate(t *testing.T) {
	_, clk, trigger, m := setup(t)
	ctx := context.Background()

	_, err := m.Activate(ctx, "fp1")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	trigger.On("Fire", "fp1").Return(nil)
	clk.Set(day.Add(10*time.Hour + 30*time.Minute))
	p, err := m.Activate(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, models.PromoActive, p.State)

	// repeated activation re-checks the side effect; the trigger itself is idempotent
	_, err = m.Activate(ctx, "fp1")
	require.NoError(t, err)
	trigger.AssertNumberOfCalls(t, "Fire", 2)

	_, err = m.Activate(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMachine_ListActive(t *testing.T) {
	_, clk, trigger, m := setup(t)
	ctx := context.Background()
	trigger.On("Fire", "fp1").Return(nil)

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	clk.Set(day.Add(11 * time.Hour))
	active, err = m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fp1", active[0].ID)
}

func TestMachine_RunStopsOnCancel(t *testing.T) {
	_, _, _, m := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
