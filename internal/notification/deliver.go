package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/models"
)

const (
	rateLimitTTL  = 24 * time.Hour
	DeadLetterKey = "deadletter:notifications"
)

type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Append(ctx context.Context, key, value string) error
	List(ctx context.Context, key string) ([]string, error)
}

type PromoLookup interface {
	GetPromoByID(ctx context.Context, id string) (*models.FlashPromo, error)
}

type Report struct {
	BatchID      string `json:"batch_id"`
	Sent         int    `json:"sent"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	Attempts     int    `json:"attempts"`
	DeadLettered bool   `json:"dead_lettered"`
}

// DeadLetter records users whose delivery exhausted the retry budget.
type DeadLetter struct {
	BatchID  string    `json:"batch_id"`
	PromoID  string    `json:"promo_id"`
	UserIDs  []string  `json:"user_ids"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

type Deliverer struct {
	Store     Store
	Transport Transport
	Promos    PromoLookup
	Clock     clock.Clock
	Logger    *logger.Logger

	MaxRetries      uint64
	InitialInterval time.Duration
}

func NewDeliverer(store Store, transport Transport, promos PromoLookup, clk clock.Clock, log *logger.Logger) *Deliverer {
	return &Deliverer{
		Store:           store,
		Transport:       transport,
		Promos:          promos,
		Clock:           clk,
		Logger:          log,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
	}
}

// RateKey is the per-user-per-day delivery record shared by all promos.
func RateKey(userID string, day time.Time) string {
	return fmt.Sprintf("notification:%s:%s", userID, models.DayKey(day))
}

func (d *Deliverer) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.InitialInterval
	return backoff.WithContext(backoff.WithMaxRetries(b, d.MaxRetries), ctx)
}

// Handle delivers one batch. Users already notified today are skipped. Failed
// users are retried with exponential backoff; whatever still fails afterwards
// goes to the dead-letter list. An error is returned only when the batch could
// neither be delivered nor dead-lettered, so the queue should redeliver it.
func (d *Deliverer) Handle(ctx context.Context, task Task) (Report, error) {
	report := Report{BatchID: task.BatchID}

	message, lookups, err := d.message(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return report, err
		}
		return report, d.deadLetter(ctx, task, task.UserIDs, err, lookups, &report)
	}

	pending := task.UserIDs
	lastErr := backoff.Retry(func() error {
		report.Attempts++
		failed, err := d.deliverAll(ctx, task.PromoID, pending, message, &report)
		pending = failed
		if len(failed) > 0 {
			d.Logger.Warn("NOTIFY", fmt.Sprintf("batch %s attempt %d: %d failed: %v", task.BatchID, report.Attempts, len(failed), err))
			return err
		}
		return nil
	}, d.policy(ctx))

	if lastErr == nil {
		d.Logger.LogNotification("DELIVERED", task.BatchID, fmt.Sprintf("sent=%d skipped=%d", report.Sent, report.Skipped))
		return report, nil
	}
	return report, d.deadLetter(ctx, task, pending, lastErr, report.Attempts, &report)
}

func (d *Deliverer) deliverAll(ctx context.Context, promoID string, userIDs []string, message string, report *Report) ([]string, error) {
	var failed []string
	var lastErr error
	today := d.Clock.Now()

	for _, userID := range userIDs {
		key := RateKey(userID, today)
		token := promoID + ":" + uuid.NewString()
		claimed, err := d.Store.SetIfAbsent(ctx, key, token, rateLimitTTL)
		if err != nil {
			failed = append(failed, userID)
			lastErr = err
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}

		if err := d.Transport.Send(ctx, userID, message); err != nil {
			// free the daily slot so the retry can use it
			if _, delErr := d.Store.CompareAndDelete(ctx, key, token); delErr != nil {
				d.Logger.Error("NOTIFY", fmt.Sprintf("release %s: %v", key, delErr))
			}
			failed = append(failed, userID)
			lastErr = err
			continue
		}
		report.Sent++
	}
	return failed, lastErr
}

func (d *Deliverer) deadLetter(ctx context.Context, task Task, userIDs []string, cause error, attempts int, report *Report) error {
	report.Failed = len(userIDs)
	report.DeadLettered = true

	record := DeadLetter{
		BatchID:  task.BatchID,
		PromoID:  task.PromoID,
		UserIDs:  userIDs,
		Error:    apperr.Fatal(cause, "notification delivery").Error(),
		Attempts: attempts,
		FailedAt: d.Clock.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode dead letter")
	}
	if err := d.Store.Append(ctx, DeadLetterKey, string(payload)); err != nil {
		return errors.Wrapf(err, "dead-letter batch %s", task.BatchID)
	}
	d.Logger.Error("NOTIFY", fmt.Sprintf("batch %s dead-lettered: %d users after %d attempts: %v", task.BatchID, len(userIDs), attempts, cause))
	return nil
}

// DeadLetters returns every dead-lettered batch, oldest first.
func (d *Deliverer) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	raw, err := d.Store.List(ctx, DeadLetterKey)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			return nil, errors.Wrap(err, "decode dead letter")
		}
		out = append(out, dl)
	}
	return out, nil
}

// message looks the promo up under the same retry policy as delivery. An
// unknown promo is not retried.
func (d *Deliverer) message(ctx context.Context, task Task) (string, int, error) {
	var msg string
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		p, err := d.Promos.GetPromoByID(ctx, task.PromoID)
		if errors.Is(err, apperr.ErrNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			d.Logger.Warn("NOTIFY", fmt.Sprintf("batch %s promo lookup attempt %d: %v", task.BatchID, attempts, err))
			return err
		}
		msg = Message(p)
		return nil
	}, d.policy(ctx))
	return msg, attempts, err
}

// Message renders the alert sent to users for a promo.
func Message(p *models.FlashPromo) string {
	return fmt.Sprintf("🔥 FLASH PROMO ALERT! 🔥\nSpecial price: %s\nValid: %s %s - %s UTC\nHurry up! Limited time offer!",
		p.PromoPrice, p.Window.DayKey(), p.Window.Start, p.Window.End)
}
