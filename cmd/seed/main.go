package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"ms-flashpromo/internal/config"
	"ms-flashpromo/internal/db"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
)

// --- Main ---

func main() {
	users := flag.Int("users", 200, "number of users scattered around the stores")
	radius := flag.Float64("radius", 5, "max distance of seeded users from a store, km")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, logger.ParseLevel(cfg.Log.Level))

	ctx := context.Background()
	bunDB, err := db.Open(ctx, cfg.Database.DSN, db.PoolOptions{}, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	repo := &db.DB{Bun: bunDB}
	if err := seed(ctx, repo, *users, *radius, time.Now().UTC(), log); err != nil {
		log.Fatal("SEED", err.Error())
	}
	log.Info("SEED", "✅ Done.")
}

// --- Helper Functions ---

func seed(ctx context.Context, repo *db.DB, userCount int, radiusKm float64, now time.Time, log *logger.Logger) error {
	stores := []models.Store{
		{ID: "store-downtown", Name: "Downtown", Latitude: 40.7128, Longitude: -74.0060, CreatedAt: now},
		{ID: "store-brooklyn", Name: "Brooklyn", Latitude: 40.6782, Longitude: -73.9442, CreatedAt: now},
	}
	for i := range stores {
		if err := repo.CreateStore(ctx, &stores[i]); err != nil {
			return fmt.Errorf("store %s: %w", stores[i].ID, err)
		}
	}

	products := []models.Product{
		{ID: "prod-headphones", StoreID: "store-downtown", Name: "Noise Cancelling Headphones", OriginalPrice: usd("299.99"), Available: true, CreatedAt: now},
		{ID: "prod-sneakers", StoreID: "store-downtown", Name: "Limited Sneakers", OriginalPrice: usd("180.00"), Available: true, CreatedAt: now},
		{ID: "prod-espresso", StoreID: "store-brooklyn", Name: "Espresso Machine", OriginalPrice: usd("450.00"), Available: true, CreatedAt: now},
	}
	for i := range products {
		if err := repo.CreateProduct(ctx, &products[i]); err != nil {
			return fmt.Errorf("product %s: %w", products[i].ID, err)
		}
	}
	log.LogDatabase("SEED", "products", fmt.Sprintf("%d stores, %d products", len(stores), len(products)))

	rng := rand.New(rand.NewSource(now.UnixNano()))
	for i := 0; i < userCount; i++ {
		home := stores[i%len(stores)]
		lat, lng := scatter(rng, home.Latitude, home.Longitude, radiusKm)
		u := randomUser(rng, i, lat, lng, now)
		if err := repo.CreateUser(ctx, &u); err != nil {
			return fmt.Errorf("user %d: %w", i, err)
		}
	}
	log.LogDatabase("SEED", "users", fmt.Sprintf("%d users within %.1f km of a store", userCount, radiusKm))

	// one promo running now, one later today
	windows := []struct {
		product string
		price   string
		start   time.Duration
		end     time.Duration
		segs    []models.Segment
	}{
		{"prod-headphones", "149.99", -30 * time.Minute, 2 * time.Hour, []models.Segment{models.SegmentNew, models.SegmentVIP}},
		{"prod-sneakers", "99.00", 3 * time.Hour, 5 * time.Hour, []models.Segment{models.SegmentFrequent}},
	}
	for _, w := range windows {
		window, err := windowAround(now, w.start, w.end)
		if err != nil {
			log.Warn("SEED", fmt.Sprintf("skip promo for %s: %v", w.product, err))
			continue
		}
		p := models.FlashPromo{
			ID:          uuid.NewString(),
			ProductID:   w.product,
			StoreID:     "store-downtown",
			PromoPrice:  usd(w.price),
			Window:      window,
			Segments:    w.segs,
			MaxRadiusKm: models.DefaultMaxRadiusKm,
			State:       models.PromoScheduled,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreatePromo(ctx, &p); err != nil {
			return fmt.Errorf("promo for %s: %w", w.product, err)
		}
		log.LogPromo("SEEDED", p.ID, fmt.Sprintf("%s %s-%s", p.Window.DayKey(), p.Window.Start, p.Window.End))
	}
	return nil
}

func usd(amount string) models.Price {
	return models.Price{Amount: decimal.RequireFromString(amount), Currency: models.DefaultCurrency}
}

// windowAround builds a window relative to now, clipped to now's calendar day.
func windowAround(now time.Time, from, to time.Duration) (models.TimeRange, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := now.Add(from).Sub(day).Truncate(time.Second)
	end := now.Add(to).Sub(day).Truncate(time.Second)
	if start < 0 {
		start = 0
	}
	if end > 24*time.Hour {
		end = 24 * time.Hour
	}
	return models.NewTimeRange(day, models.TimeOfDay(start), models.TimeOfDay(end))
}

// scatter picks a uniformly distributed point within radiusKm of (lat, lng).
func scatter(rng *rand.Rand, lat, lng, radiusKm float64) (float64, float64) {
	const kmPerDegree = 111.32
	r := radiusKm * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi
	dLat := r * math.Cos(theta) / kmPerDegree
	dLng := r * math.Sin(theta) / (kmPerDegree * math.Cos(lat*math.Pi/180))
	return lat + dLat, lng + dLng
}

func randomUser(rng *rand.Rand, i int, lat, lng float64, now time.Time) models.User {
	u := models.User{
		ID:         uuid.NewString(),
		Email:      fmt.Sprintf("user%04d@example.com", i),
		Name:       fmt.Sprintf("User %04d", i),
		Latitude:   lat,
		Longitude:  lng,
		CreatedAt:  now.Add(-time.Duration(rng.Intn(365*24)) * time.Hour),
		TotalSpent: decimal.Zero,
	}
	// roughly a third buy often, a few spend a lot
	if rng.Intn(3) == 0 {
		last := now.Add(-time.Duration(rng.Intn(60*24)) * time.Hour)
		u.LastPurchaseAt = &last
		u.PurchaseCount = 5 + rng.Intn(20)
		u.TotalSpent = decimal.NewFromInt(int64(100 + rng.Intn(1500)))
	}
	return u
}
