package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PromoState string

const (
	PromoScheduled PromoState = "SCHEDULED"
	PromoActive    PromoState = "ACTIVE"
	PromoExpired   PromoState = "EXPIRED"
)

const DefaultMaxRadiusKm = 2.0

type FlashPromo struct {
	bun.BaseModel `bun:"table:flash_promos"`

	ID          string     `bun:"id,pk" json:"id"`
	ProductID   string     `bun:"product_id,notnull" json:"product_id"`
	StoreID     string     `bun:"store_id,notnull" json:"store_id"`
	PromoPrice  Price      `bun:"embed:promo_price_" json:"promo_price"`
	Window      TimeRange  `bun:"embed:window_" json:"time_range"`
	Segments    []Segment  `bun:"user_segments,notnull" json:"user_segments"`
	MaxRadiusKm float64    `bun:"max_radius_km,notnull" json:"max_radius_km"`
	State       PromoState `bun:"state,notnull" json:"state"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// TargetsSegment reports whether any of segs is one of the promo's segments.
func (p *FlashPromo) TargetsSegment(segs []Segment) bool {
	for _, want := range p.Segments {
		for _, have := range segs {
			if want == have {
				return true
			}
		}
	}
	return false
}
