package models

import "time"

// Reservation is the record held in the TTL store while a product is on hold.
type Reservation struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id"`
	PromoID   string    `json:"promo_id"`
	StoreID   string    `json:"store_id"`
	Price     Price     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the hold is over at now. There is no grace period.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// RemainingSeconds is the whole number of seconds left at now, never negative.
func (r *Reservation) RemainingSeconds(now time.Time) int {
	if r.ExpiredAt(now) {
		return 0
	}
	return int(r.ExpiresAt.Sub(now) / time.Second)
}

type ReservationStatus struct {
	ReservationID    string    `json:"reservation_id"`
	ProductID        string    `json:"product_id,omitempty"`
	Expired          bool      `json:"expired"`
	Finalized        bool      `json:"finalized"`
	RemainingSeconds int       `json:"remaining_seconds"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type PurchaseResult struct {
	PurchaseID  string    `json:"purchase_id"`
	ProductID   string    `json:"product_id"`
	UserID      string    `json:"user_id"`
	PromoID     string    `json:"promo_id"`
	Price       Price     `json:"price"`
	PurchasedAt time.Time `json:"purchased_at"`
}
