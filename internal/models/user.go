package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-flashpromo/internal/geo"
)

type Segment string

const (
	SegmentNew      Segment = "new_users"
	SegmentFrequent Segment = "frequent_buyers"
	SegmentVIP      Segment = "vip_customers"
)

var KnownSegments = []Segment{SegmentNew, SegmentFrequent, SegmentVIP}

func (s Segment) Valid() bool {
	for _, k := range KnownSegments {
		if s == k {
			return true
		}
	}
	return false
}

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID             string          `bun:"id,pk" json:"id"`
	Email          string          `bun:"email,unique,notnull" json:"email"`
	Name           string          `bun:"name,notnull" json:"name"`
	Latitude       float64         `bun:"latitude,notnull" json:"latitude"`
	Longitude      float64         `bun:"longitude,notnull" json:"longitude"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	LastPurchaseAt *time.Time      `bun:"last_purchase_at,nullzero" json:"last_purchase_at,omitempty"`
	PurchaseCount  int             `bun:"purchase_count,notnull" json:"purchase_count"`
	TotalSpent     decimal.Decimal `bun:"total_spent,type:numeric(12,2),notnull" json:"total_spent"`
}

func (u *User) Location() geo.Location {
	return geo.Location{Latitude: u.Latitude, Longitude: u.Longitude}
}
