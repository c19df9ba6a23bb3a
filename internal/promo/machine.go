package promo

import (
	"context"
	"fmt"
	"time"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
)

type Repository interface {
	GetPromoByID(ctx context.Context, id string) (*models.FlashPromo, error)
	FindPromosByState(ctx context.Context, states ...models.PromoState) ([]models.FlashPromo, error)
	UpdatePromoState(ctx context.Context, id string, from, to models.PromoState, now time.Time) (bool, error)
}

// Trigger runs the side effect of a promo becoming active. Implementations
// must tolerate being called more than once for the same activation.
type Trigger interface {
	Fire(ctx context.Context, p *models.FlashPromo) error
}

type Machine struct {
	Repo    Repository
	Clock   clock.Clock
	Trigger Trigger
	Logger  *logger.Logger
}

func NewMachine(repo Repository, clk clock.Clock, trigger Trigger, log *logger.Logger) *Machine {
	return &Machine{Repo: repo, Clock: clk, Trigger: trigger, Logger: log}
}

// Get loads a promo and brings its stored state up to date.
func (m *Machine) Get(ctx context.Context, id string) (*models.FlashPromo, error) {
	p, err := m.Repo.GetPromoByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.refresh(ctx, p, false); err != nil {
		return nil, err
	}
	return p, nil
}

// Sync refreshes p in place and makes sure an active promo has had its
// activation side effect.
func (m *Machine) Sync(ctx context.Context, p *models.FlashPromo) error {
	return m.refresh(ctx, p, true)
}

// refresh persists the evaluated state of p. The stored state field is a
// cache of Evaluate. The trigger fires on the transition into ACTIVE, and on
// every call with ensureFired while ACTIVE so a lost firing is recovered.
func (m *Machine) refresh(ctx context.Context, p *models.FlashPromo, ensureFired bool) error {
	now := m.Clock.Now()
	next := Evaluate(p.State, p.Window, now)
	fire := ensureFired

	if next != p.State {
		ok, err := m.Repo.UpdatePromoState(ctx, p.ID, p.State, next, now)
		if err != nil {
			return err
		}
		if ok {
			m.Logger.LogPromo("TRANSITION", p.ID, fmt.Sprintf("%s -> %s", p.State, next))
			fire = true
		}
		// another evaluator may have moved it first; the derived state is the same either way
		p.State = next
		p.UpdatedAt = now
	}

	if fire && p.State == models.PromoActive && m.Trigger != nil {
		if err := m.Trigger.Fire(ctx, p); err != nil {
			m.Logger.Error("PROMO", fmt.Sprintf("activation side effect for %s failed: %v", p.ID, err))
		}
	}
	return nil
}

// Activate is the explicit activation request: the promo is refreshed and
// must end up ACTIVE.
func (m *Machine) Activate(ctx context.Context, id string) (*models.FlashPromo, error) {
	p, err := m.Repo.GetPromoByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.refresh(ctx, p, true); err != nil {
		return nil, err
	}
	switch p.State {
	case models.PromoActive:
		return p, nil
	case models.PromoScheduled:
		return p, apperr.Conflict("promo %s starts at %s", id, p.Window.StartsAt().Format(time.RFC3339))
	default:
		return p, apperr.Conflict("promo %s has expired", id)
	}
}

// RunPass evaluates every promo that is not yet terminal.
func (m *Machine) RunPass(ctx context.Context) error {
	return m.pass(ctx, true)
}

func (m *Machine) pass(ctx context.Context, ensureFired bool) error {
	promos, err := m.Repo.FindPromosByState(ctx, models.PromoScheduled, models.PromoActive)
	if err != nil {
		return err
	}
	for i := range promos {
		if err := m.refresh(ctx, &promos[i], ensureFired); err != nil {
			m.Logger.Error("PROMO", fmt.Sprintf("evaluate %s: %v", promos[i].ID, err))
		}
	}
	return nil
}

// ListActive returns promos that are active now, refreshing stale states first.
func (m *Machine) ListActive(ctx context.Context) ([]models.FlashPromo, error) {
	if err := m.pass(ctx, false); err != nil {
		return nil, err
	}
	return m.Repo.FindPromosByState(ctx, models.PromoActive)
}

// Run evaluates promos every interval until ctx is cancelled.
func (m *Machine) Run(ctx context.Context, interval time.Duration) error {
	m.Logger.LogProcess("ACTIVATION", fmt.Sprintf("scheduler started, interval %s", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := m.RunPass(ctx); err != nil {
		m.Logger.Error("PROMO", fmt.Sprintf("evaluation pass failed: %v", err))
	}
	for {
		select {
		case <-ctx.Done():
			m.Logger.LogProcess("ACTIVATION", "scheduler stopped")
			return nil
		case <-ticker.C:
			if err := m.RunPass(ctx); err != nil {
				m.Logger.Error("PROMO", fmt.Sprintf("evaluation pass failed: %v", err))
			}
		}
	}
}
