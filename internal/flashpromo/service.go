// Package flashpromo is the service boundary of the flash promo system. It
// validates requests and composes the promo machine, the segmentation engine
// and the reservation manager.
package flashpromo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
	"ms-flashpromo/internal/segmentation"
)

type Repository interface {
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	CreatePromo(ctx context.Context, promo *models.FlashPromo) error
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetPurchaseByID(ctx context.Context, id string) (*models.Purchase, error)
	CountPurchasesByPromo(ctx context.Context, promoID string) (int, error)
}

type Promos interface {
	Get(ctx context.Context, id string) (*models.FlashPromo, error)
	Sync(ctx context.Context, p *models.FlashPromo) error
	Activate(ctx context.Context, id string) (*models.FlashPromo, error)
	ListActive(ctx context.Context) ([]models.FlashPromo, error)
}

type Segmenter interface {
	EligibleUsers(ctx context.Context, p *models.FlashPromo) ([]string, error)
	UsersInRadius(ctx context.Context, p *models.FlashPromo) ([]models.User, error)
	Segments(u *models.User) []models.Segment
}

type EligibilityChecker interface {
	IsEligible(ctx context.Context, p *models.FlashPromo, userID string) (bool, error)
}

type Reservations interface {
	Reserve(ctx context.Context, productID, userID, promoID string, duration time.Duration) (*models.Reservation, error)
	GetStatus(ctx context.Context, reservationID string) (*models.ReservationStatus, error)
	Purchase(ctx context.Context, reservationID, userID string) (*models.PurchaseResult, error)
	IsReserved(ctx context.Context, productID string) (bool, error)
}

type Service struct {
	Repo                Repository
	Promos              Promos
	Segmenter           Segmenter
	Eligibility         EligibilityChecker
	Reservations        Reservations
	Clock               clock.Clock
	Policy              segmentation.Policy
	ReservationDuration time.Duration
	Logger              *logger.Logger
}

func NewService(repo Repository, promos Promos, segmenter Segmenter, eligibility EligibilityChecker, reservations Reservations, clk clock.Clock, policy segmentation.Policy, reservationDuration time.Duration, log *logger.Logger) *Service {
	return &Service{
		Repo:                repo,
		Promos:              promos,
		Segmenter:           segmenter,
		Eligibility:         eligibility,
		Reservations:        reservations,
		Clock:               clk,
		Policy:              policy,
		ReservationDuration: reservationDuration,
		Logger:              log,
	}
}

// ---------------- PROMOS ----------------

type CreatePromoRequest struct {
	ProductID    string           `json:"product_id"`
	StoreID      string           `json:"store_id"`
	PromoPrice   models.Price     `json:"promo_price"`
	TimeRange    models.TimeRange `json:"time_range"`
	UserSegments []models.Segment `json:"user_segments"`
	MaxRadiusKm  *float64         `json:"max_radius_km,omitempty"`
}

func (r *CreatePromoRequest) validate() error {
	if r.ProductID == "" || r.StoreID == "" {
		return apperr.Validation("product_id and store_id are required")
	}
	if r.PromoPrice.Currency == "" {
		r.PromoPrice.Currency = models.DefaultCurrency
	}
	if err := r.PromoPrice.Validate(); err != nil {
		return err
	}
	if r.TimeRange.Day.IsZero() {
		return apperr.Validation("time_range.day is required")
	}
	window, err := models.NewTimeRange(r.TimeRange.Day, r.TimeRange.Start, r.TimeRange.End)
	if err != nil {
		return err
	}
	r.TimeRange = window
	if len(r.UserSegments) == 0 {
		return apperr.Validation("at least one user segment is required")
	}
	for _, s := range r.UserSegments {
		if !s.Valid() {
			return apperr.Validation("unknown user segment %q", s)
		}
	}
	if r.MaxRadiusKm != nil && *r.MaxRadiusKm <= 0 {
		return apperr.Validation("max_radius_km must be positive, got %v", *r.MaxRadiusKm)
	}
	return nil
}

// CreateFlashPromo stores a new promo as SCHEDULED and immediately brings it
// to the state its window implies.
func (s *Service) CreateFlashPromo(ctx context.Context, req CreatePromoRequest) (*models.FlashPromo, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	product, err := s.Repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.StoreID != req.StoreID {
		return nil, apperr.Validation("product %s is not sold by store %s", req.ProductID, req.StoreID)
	}
	if _, err := s.Repo.GetStoreByID(ctx, req.StoreID); err != nil {
		return nil, err
	}

	radius := models.DefaultMaxRadiusKm
	if req.MaxRadiusKm != nil {
		radius = *req.MaxRadiusKm
	}

	now := s.Clock.Now()
	p := &models.FlashPromo{
		ID:          uuid.NewString(),
		ProductID:   req.ProductID,
		StoreID:     req.StoreID,
		PromoPrice:  req.PromoPrice,
		Window:      req.TimeRange,
		Segments:    dedupeSegments(req.UserSegments),
		MaxRadiusKm: radius,
		State:       models.PromoScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.CreatePromo(ctx, p); err != nil {
		return nil, err
	}
	s.Logger.LogPromo("CREATED", p.ID, fmt.Sprintf("product %s at %s on %s %s-%s", p.ProductID, p.PromoPrice, p.Window.DayKey(), p.Window.Start, p.Window.End))

	if err := s.Promos.Sync(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func dedupeSegments(segs []models.Segment) []models.Segment {
	seen := make(map[models.Segment]bool, len(segs))
	out := make([]models.Segment, 0, len(segs))
	for _, s := range segs {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (s *Service) ActivatePromo(ctx context.Context, promoID string) (*models.FlashPromo, error) {
	return s.Promos.Activate(ctx, promoID)
}

func (s *Service) ListActivePromos(ctx context.Context) ([]models.FlashPromo, error) {
	return s.Promos.ListActive(ctx)
}

// CheckEligibility is false for a promo that is not active, whatever the user.
func (s *Service) CheckEligibility(ctx context.Context, promoID, userID string) (bool, error) {
	if userID == "" {
		return false, apperr.Validation("user_id is required")
	}
	p, err := s.Promos.Get(ctx, promoID)
	if err != nil {
		return false, err
	}
	if p.State != models.PromoActive {
		return false, nil
	}
	return s.Eligibility.IsEligible(ctx, p, userID)
}

type PromoStatistics struct {
	PromoID            string                 `json:"promo_id"`
	State              models.PromoState      `json:"state"`
	IsActive           bool                   `json:"is_active"`
	EligibleUsersCount int                    `json:"eligible_users_count"`
	UsersInRadius      int                    `json:"users_in_radius"`
	UserSegments       map[models.Segment]int `json:"user_segments"`
	TimeRange          models.TimeRange       `json:"time_range"`
	PromoPrice         models.Price           `json:"promo_price"`
	OriginalPrice      models.Price           `json:"original_price"`
	DiscountPercentage decimal.Decimal        `json:"discount_percentage"`
	PurchasesCount     int                    `json:"purchases_count"`
}

func (s *Service) GetPromoStatistics(ctx context.Context, promoID string) (*PromoStatistics, error) {
	p, err := s.Promos.Get(ctx, promoID)
	if err != nil {
		return nil, err
	}
	product, err := s.Repo.GetProductByID(ctx, p.ProductID)
	if err != nil {
		return nil, err
	}

	nearby, err := s.Segmenter.UsersInRadius(ctx, p)
	if err != nil {
		return nil, err
	}
	eligible, err := s.Segmenter.EligibleUsers(ctx, p)
	if err != nil {
		return nil, err
	}
	purchases, err := s.Repo.CountPurchasesByPromo(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	discount, err := p.PromoPrice.DiscountPercentage(product.OriginalPrice)
	if err != nil {
		s.Logger.Warn("PROMO", fmt.Sprintf("discount for %s: %v", p.ID, err))
		discount = decimal.Zero
	}

	return &PromoStatistics{
		PromoID:            p.ID,
		State:              p.State,
		IsActive:           p.State == models.PromoActive,
		EligibleUsersCount: len(eligible),
		UsersInRadius:      len(nearby),
		UserSegments:       segmentation.Counts(nearby, s.Clock.Now(), s.Policy),
		TimeRange:          p.Window,
		PromoPrice:         p.PromoPrice,
		OriginalPrice:      product.OriginalPrice,
		DiscountPercentage: discount,
		PurchasesCount:     purchases,
	}, nil
}

// ---------------- RESERVATIONS ----------------

type ReserveRequest struct {
	ProductID       string `json:"product_id"`
	UserID          string `json:"user_id"`
	PromoID         string `json:"promo_id"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
}

// MaxReservationSeconds caps an explicit duration_seconds.
const MaxReservationSeconds = 24 * 60 * 60

func (s *Service) ReserveProduct(ctx context.Context, req ReserveRequest) (*models.Reservation, error) {
	duration := s.ReservationDuration
	if req.DurationSeconds != nil {
		if *req.DurationSeconds > MaxReservationSeconds {
			return nil, apperr.Validation("duration_seconds must be at most %d, got %d", MaxReservationSeconds, *req.DurationSeconds)
		}
		duration = time.Duration(*req.DurationSeconds) * time.Second
	}
	return s.Reservations.Reserve(ctx, req.ProductID, req.UserID, req.PromoID, duration)
}

func (s *Service) GetReservationStatus(ctx context.Context, reservationID string) (*models.ReservationStatus, error) {
	return s.Reservations.GetStatus(ctx, reservationID)
}

func (s *Service) ProcessPurchase(ctx context.Context, reservationID, userID string) (*models.PurchaseResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	return s.Reservations.Purchase(ctx, reservationID, userID)
}

type Availability struct {
	ProductID string `json:"product_id"`
	Available bool   `json:"available"`
	Reserved  bool   `json:"reserved"`
}

// CheckProductAvailability reports whether the product can still be bought
// and whether someone currently holds it.
func (s *Service) CheckProductAvailability(ctx context.Context, productID string) (*Availability, error) {
	product, err := s.Repo.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.Reservations.IsReserved(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		ProductID: productID,
		Available: product.Available && !reserved,
		Reserved:  reserved,
	}, nil
}

func (s *Service) GetPurchase(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	return s.Repo.GetPurchaseByID(ctx, purchaseID)
}

// ---------------- USERS ----------------

type CreateUserRequest struct {
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type UserProfile struct {
	models.User
	Segments []models.Segment `json:"segments"`
}

func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*UserProfile, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	u := &models.User{
		ID:         uuid.NewString(),
		Email:      email,
		Name:       strings.TrimSpace(req.Name),
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		CreatedAt:  s.Clock.Now(),
		TotalSpent: decimal.Zero,
	}
	if err := u.Location().Validate(); err != nil {
		return nil, err
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.Logger.Info("USER", fmt.Sprintf("created user %s", u.ID))
	return s.profile(u), nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	u, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(u), nil
}

func (s *Service) profile(u *models.User) *UserProfile {
	segs := s.Segmenter.Segments(u)
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	if segs == nil {
		segs = []models.Segment{}
	}
	return &UserProfile{User: *u, Segments: segs}
}
