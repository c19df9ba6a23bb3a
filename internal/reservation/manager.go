// Package reservation holds products for a single user for a short time and
// turns holds into purchases. Exclusivity rests on the TTL store's atomic
// set-if-absent; no in-process lock is involved.
package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
)

const (
	DefaultDuration = 60 * time.Second

	productKeyPrefix = "reservation:product:"
	idKeyPrefix      = "reservation:id:"

	// idGrace keeps the id index readable for a while after expiry so status
	// lookups can answer "expired" instead of "not found".
	idGrace = 5 * time.Minute
)

type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

type PromoSource interface {
	Get(ctx context.Context, id string) (*models.FlashPromo, error)
}

type EligibilityChecker interface {
	IsEligible(ctx context.Context, p *models.FlashPromo, userID string) (bool, error)
}

type Ledger interface {
	FinalizePurchase(ctx context.Context, purchase *models.Purchase, claim func(ctx context.Context) error) error
	GetPurchaseByID(ctx context.Context, id string) (*models.Purchase, error)
}

type Manager struct {
	Store       Store
	Promos      PromoSource
	Eligibility EligibilityChecker
	Ledger      Ledger
	Clock       clock.Clock
	Logger      *logger.Logger
}

func NewManager(store Store, promos PromoSource, eligibility EligibilityChecker, ledger Ledger, clk clock.Clock, log *logger.Logger) *Manager {
	return &Manager{Store: store, Promos: promos, Eligibility: eligibility, Ledger: ledger, Clock: clk, Logger: log}
}

func ProductKey(productID string) string { return productKeyPrefix + productID }

func idKey(reservationID string) string { return idKeyPrefix + reservationID }

// Reserve places a hold on productID for userID lasting duration.
func (m *Manager) Reserve(ctx context.Context, productID, userID, promoID string, duration time.Duration) (*models.Reservation, error) {
	if duration <= 0 {
		return nil, apperr.Validation("reservation duration must be positive, got %s", duration)
	}
	if productID == "" || userID == "" || promoID == "" {
		return nil, apperr.Validation("product_id, user_id and promo_id are required")
	}

	p, err := m.Promos.Get(ctx, promoID)
	if err != nil {
		return nil, err
	}
	if p.State != models.PromoActive {
		return nil, apperr.Conflict("promo %s is %s", promoID, p.State)
	}
	if p.ProductID != productID {
		return nil, apperr.Validation("product %s is not offered by promo %s", productID, promoID)
	}

	eligible, err := m.Eligibility.IsEligible(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, apperr.Forbidden("user %s is not eligible for promo %s", userID, promoID)
	}

	now := m.Clock.Now()
	r := &models.Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		UserID:    userID,
		PromoID:   promoID,
		StoreID:   p.StoreID,
		Price:     p.PromoPrice,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode reservation")
	}
	record := string(payload)

	if err := m.claim(ctx, productID, record, duration, now); err != nil {
		return nil, err
	}

	if err := m.Store.Set(ctx, idKey(r.ID), record, duration+idGrace); err != nil {
		if _, relErr := m.Store.CompareAndDelete(ctx, ProductKey(productID), record); relErr != nil {
			m.Logger.Error("RESERVATION", fmt.Sprintf("release %s after index failure: %v", productID, relErr))
		}
		return nil, err
	}

	m.Logger.LogReservation("RESERVED", r.ID, fmt.Sprintf("product %s user %s until %s", productID, userID, r.ExpiresAt.Format(time.RFC3339)))
	return r, nil
}

// claim performs the atomic set-if-absent on the product key. A record that is
// still in the store but past its own expiry is treated as absent: it is
// removed with compare-and-delete and the claim is attempted once more.
func (m *Manager) claim(ctx context.Context, productID, record string, ttl time.Duration, now time.Time) error {
	key := ProductKey(productID)
	won, err := m.Store.SetIfAbsent(ctx, key, record, ttl)
	if err != nil || won {
		return err
	}

	existing, found, err := m.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		held, decErr := decode(existing)
		if decErr != nil || !held.ExpiredAt(now) {
			return apperr.Conflict("product %s is already reserved", productID)
		}
		if _, err := m.Store.CompareAndDelete(ctx, key, existing); err != nil {
			return err
		}
	}

	won, err = m.Store.SetIfAbsent(ctx, key, record, ttl)
	if err != nil {
		return err
	}
	if !won {
		return apperr.Conflict("product %s is already reserved", productID)
	}
	return nil
}

// GetStatus reports the liveness of a reservation from its recorded expiry.
func (m *Manager) GetStatus(ctx context.Context, reservationID string) (*models.ReservationStatus, error) {
	raw, found, err := m.Store.Get(ctx, idKey(reservationID))
	if err != nil {
		return nil, err
	}
	if found {
		r, err := decode(raw)
		if err != nil {
			return nil, err
		}
		now := m.Clock.Now()
		return &models.ReservationStatus{
			ReservationID:    r.ID,
			ProductID:        r.ProductID,
			Expired:          r.ExpiredAt(now),
			RemainingSeconds: r.RemainingSeconds(now),
			ExpiresAt:        r.ExpiresAt,
		}, nil
	}

	purchase, err := m.Ledger.GetPurchaseByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("reservation %s", reservationID)
		}
		return nil, err
	}
	return &models.ReservationStatus{
		ReservationID: purchase.ID,
		ProductID:     purchase.ProductID,
		Finalized:     true,
		ExpiresAt:     purchase.PurchasedAt,
	}, nil
}

// Purchase commits a live reservation. The product key is removed with
// compare-and-delete inside the purchase transaction, so a purchase racing
// an expiry sweep either wins or fails with Expired, never both.
func (m *Manager) Purchase(ctx context.Context, reservationID, userID string) (*models.PurchaseResult, error) {
	raw, found, err := m.Store.Get(ctx, idKey(reservationID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.Expired("reservation %s not found or expired", reservationID)
	}
	r, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, apperr.Forbidden("reservation %s belongs to another user", reservationID)
	}

	now := m.Clock.Now()
	if r.ExpiredAt(now) {
		return nil, apperr.Expired("reservation %s expired at %s", reservationID, r.ExpiresAt.Format(time.RFC3339))
	}

	purchase := &models.Purchase{
		ID:          r.ID,
		ProductID:   r.ProductID,
		UserID:      r.UserID,
		PromoID:     r.PromoID,
		StoreID:     r.StoreID,
		Price:       r.Price,
		PurchasedAt: now,
	}
	err = m.Ledger.FinalizePurchase(ctx, purchase, func(ctx context.Context) error {
		released, err := m.Store.CompareAndDelete(ctx, ProductKey(r.ProductID), raw)
		if err != nil {
			return err
		}
		if !released {
			return apperr.Expired("reservation %s expired before purchase", reservationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.Store.Delete(ctx, idKey(r.ID)); err != nil {
		m.Logger.Warn("RESERVATION", fmt.Sprintf("drop index for %s: %v", r.ID, err))
	}
	m.Logger.LogReservation("PURCHASED", r.ID, fmt.Sprintf("product %s user %s at %s", r.ProductID, userID, r.Price))

	return &models.PurchaseResult{
		PurchaseID:  purchase.ID,
		ProductID:   purchase.ProductID,
		UserID:      purchase.UserID,
		PromoID:     purchase.PromoID,
		Price:       purchase.Price,
		PurchasedAt: purchase.PurchasedAt,
	}, nil
}

// IsReserved reports whether productID has a live hold.
func (m *Manager) IsReserved(ctx context.Context, productID string) (bool, error) {
	raw, found, err := m.Store.Get(ctx, ProductKey(productID))
	if err != nil || !found {
		return false, err
	}
	r, err := decode(raw)
	if err != nil {
		return true, nil
	}
	return !r.ExpiredAt(m.Clock.Now()), nil
}

// ProductFromKey extracts the product id from a product hold key.
func ProductFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, productKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, productKeyPrefix), true
}

func decode(raw string) (*models.Reservation, error) {
	var r models.Reservation
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.Wrap(err, "decode reservation")
	}
	return &r, nil
}
