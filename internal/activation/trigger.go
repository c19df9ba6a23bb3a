// Package activation runs the once-per-activation side effect of a promo:
// compute the eligible users and hand them to notification dispatch.
package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
)

const keyTTL = 48 * time.Hour

type KeyStore interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

type Segmenter interface {
	EligibleUsers(ctx context.Context, p *models.FlashPromo) ([]string, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, promoID string, userIDs []string) (int, error)
}

type Trigger struct {
	Store      KeyStore
	Segmenter  Segmenter
	Dispatcher Dispatcher
	Logger     *logger.Logger
}

func NewTrigger(store KeyStore, segmenter Segmenter, dispatcher Dispatcher, log *logger.Logger) *Trigger {
	return &Trigger{Store: store, Segmenter: segmenter, Dispatcher: dispatcher, Logger: log}
}

// Key is the idempotency key of one activation: promo id plus activation date.
func Key(p *models.FlashPromo) string {
	return fmt.Sprintf("activation:%s:%s", p.ID, p.Window.DayKey())
}

// Fire claims the activation key and, if this caller won it, dispatches
// notifications. On failure the key is released so a later pass retries.
func (t *Trigger) Fire(ctx context.Context, p *models.FlashPromo) error {
	key := Key(p)
	token := p.ID + ":" + uuid.NewString()
	won, err := t.Store.SetIfAbsent(ctx, key, token, keyTTL)
	if err != nil {
		return errors.Wrap(err, "claim activation key")
	}
	if !won {
		t.Logger.Debug("ACTIVATION", fmt.Sprintf("promo %s already activated for %s", p.ID, p.Window.DayKey()))
		return nil
	}

	batches, err := t.run(ctx, p)
	if err != nil {
		if _, relErr := t.Store.CompareAndDelete(ctx, key, token); relErr != nil {
			t.Logger.Error("ACTIVATION", fmt.Sprintf("release %s: %v", key, relErr))
		}
		return err
	}
	t.Logger.LogPromo("ACTIVATED", p.ID, fmt.Sprintf("%d notification batches enqueued", batches))
	return nil
}

func (t *Trigger) run(ctx context.Context, p *models.FlashPromo) (int, error) {
	users, err := t.Segmenter.EligibleUsers(ctx, p)
	if err != nil {
		return 0, errors.Wrapf(err, "eligible users for %s", p.ID)
	}
	if len(users) == 0 {
		return 0, nil
	}
	batches, err := t.Dispatcher.Dispatch(ctx, p.ID, users)
	if err != nil {
		return 0, errors.Wrapf(err, "dispatch %s", p.ID)
	}
	return batches, nil
}
