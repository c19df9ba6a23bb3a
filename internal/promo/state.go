// Package promo drives the SCHEDULED -> ACTIVE -> EXPIRED lifecycle of flash promos.
package promo

import (
	"time"

	"ms-flashpromo/internal/models"
)

// Evaluate derives the state a promo must be in at now. It is level-triggered:
// the result depends only on the current state, the window and now, so a
// restarted evaluator recomputes the same answer. EXPIRED is terminal.
func Evaluate(current models.PromoState, window models.TimeRange, now time.Time) models.PromoState {
	if current == models.PromoExpired {
		return models.PromoExpired
	}
	switch {
	case now.Before(window.StartsAt()):
		return models.PromoScheduled
	case window.Contains(now):
		return models.PromoActive
	default:
		return models.PromoExpired
	}
}

func IsCurrentlyActive(p *models.FlashPromo, now time.Time) bool {
	return Evaluate(p.State, p.Window, now) == models.PromoActive
}
