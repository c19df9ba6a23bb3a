// Package segmentation derives user segments and computes the users eligible for a promo.
package segmentation

import (
	"time"

	"github.com/shopspring/decimal"

	"ms-flashpromo/internal/models"
)

type Policy struct {
	NewUserAge           time.Duration
	FrequentMinPurchases int
	FrequentWindow       time.Duration
	VIPThreshold         decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		NewUserAge:           30 * 24 * time.Hour,
		FrequentMinPurchases: 5,
		FrequentWindow:       90 * 24 * time.Hour,
		VIPThreshold:         decimal.NewFromInt(1000),
	}
}

// Derive computes u's segments at now. Segments are never stored.
func Derive(u *models.User, now time.Time, policy Policy) []models.Segment {
	var segs []models.Segment
	if now.Sub(u.CreatedAt) < policy.NewUserAge {
		segs = append(segs, models.SegmentNew)
	}
	if u.PurchaseCount >= policy.FrequentMinPurchases && u.LastPurchaseAt != nil &&
		now.Sub(*u.LastPurchaseAt) <= policy.FrequentWindow {
		segs = append(segs, models.SegmentFrequent)
	}
	if u.TotalSpent.GreaterThan(policy.VIPThreshold) {
		segs = append(segs, models.SegmentVIP)
	}
	return segs
}

// Counts tallies users per derived segment.
func Counts(users []models.User, now time.Time, policy Policy) map[models.Segment]int {
	counts := make(map[models.Segment]int, len(models.KnownSegments))
	for _, s := range models.KnownSegments {
		counts[s] = 0
	}
	for i := range users {
		for _, s := range Derive(&users[i], now, policy) {
			counts[s]++
		}
	}
	return counts
}
