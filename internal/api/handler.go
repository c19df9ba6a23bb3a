package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/flashpromo"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/pickup"
	"ms-flashpromo/internal/utils"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Service *flashpromo.Service
	Pickup  *pickup.Generator
	Checks  map[string]Pinger
	Logger  *logger.Logger
}

func NewHandler(service *flashpromo.Service, qr *pickup.Generator, checks map[string]Pinger, log *logger.Logger) *Handler {
	return &Handler{Service: service, Pickup: qr, Checks: checks, Logger: log}
}

func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data interface{}) {
	if err := utils.WriteJSON(w, status, utils.SuccessResponse(message, data)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("encode response: %v", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	if werr := utils.WriteError(w, op+" failed", err); werr != nil {
		h.Logger.Error("API", fmt.Sprintf("encode error response: %v", werr))
	}
}

// ---------------- PROMOS ----------------

func (h *Handler) CreateFlashPromo(w http.ResponseWriter, r *http.Request) {
	var req flashpromo.CreatePromoRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "CreateFlashPromo", err)
		return
	}
	p, err := h.Service.CreateFlashPromo(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateFlashPromo", err)
		return
	}
	h.respond(w, http.StatusCreated, "Flash promo created", p)
}

func (h *Handler) ListActivePromos(w http.ResponseWriter, r *http.Request) {
	promos, err := h.Service.ListActivePromos(r.Context())
	if err != nil {
		h.fail(w, "ListActivePromos", err)
		return
	}
	h.respond(w, http.StatusOK, fmt.Sprintf("%d active promos", len(promos)), promos)
}

func (h *Handler) ActivatePromo(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.ActivatePromo(r.Context(), chi.URLParam(r, "promoId"))
	if err != nil {
		h.fail(w, "ActivatePromo", err)
		return
	}
	h.respond(w, http.StatusOK, "Flash promo active", p)
}

func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	promoID := chi.URLParam(r, "promoId")
	userID := r.URL.Query().Get("user_id")

	eligible, err := h.Service.CheckEligibility(r.Context(), promoID, userID)
	if err != nil {
		h.fail(w, "CheckEligibility", err)
		return
	}
	h.respond(w, http.StatusOK, "Eligibility checked", map[string]interface{}{
		"promo_id": promoID,
		"user_id":  userID,
		"eligible": eligible,
	})
}

func (h *Handler) GetPromoStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetPromoStatistics(r.Context(), chi.URLParam(r, "promoId"))
	if err != nil {
		h.fail(w, "GetPromoStatistics", err)
		return
	}
	h.respond(w, http.StatusOK, "Promo statistics", stats)
}

// ---------------- RESERVATIONS ----------------

func (h *Handler) ReserveProduct(w http.ResponseWriter, r *http.Request) {
	var req flashpromo.ReserveRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "ReserveProduct", err)
		return
	}
	res, err := h.Service.ReserveProduct(r.Context(), req)
	if err != nil {
		h.fail(w, "ReserveProduct", err)
		return
	}
	h.respond(w, http.StatusCreated, "Product reserved", res)
}

func (h *Handler) GetReservationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Service.GetReservationStatus(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.fail(w, "GetReservationStatus", err)
		return
	}
	h.respond(w, http.StatusOK, "Reservation status", status)
}

func (h *Handler) ProcessPurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "ProcessPurchase", err)
		return
	}
	res, err := h.Service.ProcessPurchase(r.Context(), chi.URLParam(r, "reservationId"), req.UserID)
	if err != nil {
		h.fail(w, "ProcessPurchase", err)
		return
	}
	h.respond(w, http.StatusOK, "Purchase completed", res)
}

func (h *Handler) CheckProductAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.Service.CheckProductAvailability(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.fail(w, "CheckProductAvailability", err)
		return
	}
	h.respond(w, http.StatusOK, "Product availability", avail)
}

// ---------------- USERS ----------------

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req flashpromo.CreateUserRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "CreateUser", err)
		return
	}
	u, err := h.Service.CreateUser(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateUser", err)
		return
	}
	h.respond(w, http.StatusCreated, "User created", u)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.GetUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, "GetUser", err)
		return
	}
	h.respond(w, http.StatusOK, "User", u)
}

// ---------------- PICKUP ----------------

func (h *Handler) GetPickupQR(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.Service.GetPurchase(r.Context(), chi.URLParam(r, "purchaseId"))
	if err != nil {
		h.fail(w, "GetPickupQR", err)
		return
	}
	png, err := h.Pickup.PNG(purchase)
	if err != nil {
		h.fail(w, "GetPickupQR", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=pickup-%s.png", purchase.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetPickupQR: write image: %v", err))
	}
}

func (h *Handler) VerifyPickup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "VerifyPickup", err)
		return
	}
	ticket, err := h.Pickup.Open(req.Token)
	if err != nil {
		h.fail(w, "VerifyPickup", err)
		return
	}
	// the sealed ticket must still match a recorded purchase
	if _, err := h.Service.GetPurchase(r.Context(), ticket.PurchaseID); err != nil {
		h.fail(w, "VerifyPickup", err)
		return
	}
	h.respond(w, http.StatusOK, "Pickup code valid", ticket)
}

// ---------------- HEALTH ----------------

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, c := range h.Checks {
		if err := c.Ping(r.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	if err := utils.WriteJSON(w, code, utils.APIResponse{
		Success: healthy,
		Message: "health",
		Data:    status,
	}); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Health: %v", err))
	}
}
