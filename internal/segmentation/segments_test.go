package segmentation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ms-flashpromo/internal/models"
)

func TestDerive(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	policy := DefaultPolicy()
	recent := now.Add(-10 * 24 * time.Hour)
	stale := now.Add(-120 * 24 * time.Hour)

	tests := []struct {
		name string
		user models.User
		want []models.Segment
	}{
		{
			name: "brand new",
			user: models.User{CreatedAt: now.Add(-time.Hour)},
			want: []models.Segment{models.SegmentNew},
		},
		{
			name: "thirty days old is no longer new",
			user: models.User{CreatedAt: now.Add(-30 * 24 * time.Hour)},
			want: nil,
		},
		{
			name: "frequent with recent purchase",
			user: models.User{CreatedAt: now.Add(-400 * 24 * time.Hour), PurchaseCount: 5, LastPurchaseAt: &recent},
			want: []models.Segment{models.SegmentFrequent},
		},
		{
			name: "frequent count but lapsed",
			user: models.User{CreatedAt: now.Add(-400 * 24 * time.Hour), PurchaseCount: 9, LastPurchaseAt: &stale},
			want: nil,
		},
		{
			name: "vip strictly above threshold",
			user: models.User{CreatedAt: now.Add(-400 * 24 * time.Hour), TotalSpent: decimal.RequireFromString("1000.01")},
			want: []models.Segment{models.SegmentVIP},
		},
		{
			name: "threshold itself is not vip",
			user: models.User{CreatedAt: now.Add(-400 * 24 * time.Hour), TotalSpent: decimal.NewFromInt(1000)},
			want: nil,
		},
		{
			name: "all three",
			user: models.User{CreatedAt: now.Add(-24 * time.Hour), PurchaseCount: 6, LastPurchaseAt: &recent, TotalSpent: decimal.NewFromInt(5000)},
			want: []models.Segment{models.SegmentNew, models.SegmentFrequent, models.SegmentVIP},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(&tt.user, now, policy))
		})
	}
}

func TestCounts(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	users := []models.User{
		{CreatedAt: now},
		{CreatedAt: now, TotalSpent: decimal.NewFromInt(2000)},
		{CreatedAt: now.Add(-365 * 24 * time.Hour)},
	}

	counts := Counts(users, now, DefaultPolicy())
	assert.Equal(t, 2, counts[models.SegmentNew])
	assert.Equal(t, 1, counts[models.SegmentVIP])
	assert.Equal(t, 0, counts[models.SegmentFrequent])
}
