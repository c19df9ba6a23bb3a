package promo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ms-flashpromo/internal/models"
)

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func window() models.TimeRange {
	return models.TimeRange{Day: day, Start: models.MustTimeOfDay("10:00"), End: models.MustTimeOfDay("12:00")}
}

func TestEvaluate(t *testing.T) {
	w := window()
	start := w.StartsAt()
	end := w.EndsAt()

	tests := []struct {
		name    string
		current models.PromoState
		now     time.Time
		want    models.PromoState
	}{
		{"before start", models.PromoScheduled, start.Add(-time.Nanosecond), models.PromoScheduled},
		{"at start", models.PromoScheduled, start, models.PromoActive},
		{"inside", models.PromoScheduled, start.Add(time.Hour), models.PromoActive},
		{"at end", models.PromoActive, end, models.PromoActive},
		{"after end", models.PromoActive, end.Add(time.Nanosecond), models.PromoExpired},
		{"missed window entirely", models.PromoScheduled, end.Add(time.Hour), models.PromoExpired},
		{"stale active cache before start", models.PromoActive, start.Add(-time.Minute), models.PromoScheduled},
		{"expired is terminal", models.PromoExpired, start.Add(time.Minute), models.PromoExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.current, w, tt.now))
		})
	}
}

func TestIsCurrentlyActive_Pure(t *testing.T) {
	p := &models.FlashPromo{State: models.PromoScheduled, Window: window()}
	at := p.Window.StartsAt()

	for i := 0; i < 3; i++ {
		assert.True(t, IsCurrentlyActive(p, at))
		assert.False(t, IsCurrentlyActive(p, at.Add(-time.Nanosecond)))
	}
	assert.Equal(t, models.PromoScheduled, p.State, "evaluation must not mutate the promo")
}
