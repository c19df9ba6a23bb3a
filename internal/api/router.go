package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/flash-promos", func(r chi.Router) {
			r.Post("/", h.CreateFlashPromo)
			r.Get("/active", h.ListActivePromos)
			r.Post("/{promoId}/activate", h.ActivatePromo)
			r.Get("/{promoId}/eligibility", h.CheckEligibility)
			r.Get("/{promoId}/statistics", h.GetPromoStatistics)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.ReserveProduct)
			r.Get("/{reservationId}", h.GetReservationStatus)
			r.Post("/{reservationId}/purchase", h.ProcessPurchase)
		})

		r.Get("/products/{productId}/availability", h.CheckProductAvailability)

		r.Post("/users", h.CreateUser)
		r.Get("/users/{userId}", h.GetUser)

		r.Get("/purchases/{purchaseId}/pickup-qr", h.GetPickupQR)
		r.Post("/pickup/verify", h.VerifyPickup)
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
