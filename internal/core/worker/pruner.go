package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/infra/storage"
)

// Pruner deletes stored activity events past the retention period.
type Pruner struct {
	network   domain.Network
	retention time.Duration
	events    storage.EventRepository
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(network domain.Network, retention time.Duration, events storage.EventRepository) *Pruner {
	return &Pruner{
		network:   network,
		retention: retention,
		events:    events,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // retention disabled
	}

	// 10% of the retention period, clamped to [1m, 1h]
	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs a single retention pass.
func (p *Pruner) Prune(ctx context.Context) {
	threshold := p.now().Add(-p.retention)

	deleted, err := p.events.DeleteEventsOlderThan(ctx, p.network, threshold)
	if err != nil {
		slog.Error("Failed to prune events", "network", p.network, "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Pruned events", "network", p.network, "deleted", deleted, "before", threshold)
	}
}
