package reservation

import (
	"context"
	"fmt"
	"time"
)

// Sweep removes product holds that are past their recorded expiry but not yet
// evicted by the store. It is safe to run concurrently with Reserve and
// Purchase: every removal is a compare-and-delete on the exact record read.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	keys, err := m.Store.Keys(ctx, productKeyPrefix+"*")
	if err != nil {
		return 0, err
	}

	now := m.Clock.Now()
	removed := 0
	for _, key := range keys {
		raw, found, err := m.Store.Get(ctx, key)
		if err != nil {
			return removed, err
		}
		if !found {
			continue
		}
		r, err := decode(raw)
		if err != nil || !r.ExpiredAt(now) {
			continue
		}
		deleted, err := m.Store.CompareAndDelete(ctx, key, raw)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
			m.Logger.LogReservation("SWEPT", r.ID, fmt.Sprintf("product %s released", r.ProductID))
		}
	}
	return removed, nil
}

// RunReconciler sweeps every interval until ctx is cancelled.
func (m *Manager) RunReconciler(ctx context.Context, interval time.Duration) error {
	m.Logger.LogProcess("RECONCILER", fmt.Sprintf("reservation sweep every %s", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Logger.LogProcess("RECONCILER", "stopped")
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.Logger.Error("RECONCILER", fmt.Sprintf("sweep failed: %v", err))
				continue
			}
			if n > 0 {
				m.Logger.Info("RECONCILER", fmt.Sprintf("released %d stale holds", n))
			}
		}
	}
}
