package models

import (
	"time"

	"github.com/uptrace/bun"

	"ms-flashpromo/internal/geo"
)

type Store struct {
	bun.BaseModel `bun:"table:stores"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Latitude  float64   `bun:"latitude,notnull" json:"latitude"`
	Longitude float64   `bun:"longitude,notnull" json:"longitude"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

func (s *Store) Location() geo.Location {
	return geo.Location{Latitude: s.Latitude, Longitude: s.Longitude}
}

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID            string    `bun:"id,pk" json:"id"`
	StoreID       string    `bun:"store_id,notnull" json:"store_id"`
	Name          string    `bun:"name,notnull" json:"name"`
	OriginalPrice Price     `bun:"embed:original_price_" json:"original_price"`
	Available     bool      `bun:"available,notnull" json:"available"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Purchase is a finalized reservation. Its ID is the reservation ID.
type Purchase struct {
	bun.BaseModel `bun:"table:purchases"`

	ID          string    `bun:"id,pk" json:"id"`
	ProductID   string    `bun:"product_id,notnull" json:"product_id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	PromoID     string    `bun:"promo_id,notnull" json:"promo_id"`
	StoreID     string    `bun:"store_id,notnull" json:"store_id"`
	Price       Price     `bun:"embed:price_" json:"price"`
	PurchasedAt time.Time `bun:"purchased_at,notnull" json:"purchased_at"`
}
