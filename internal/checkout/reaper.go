package checkout

import (
	"context"
	"log/slog"
	"time"
)

// Reaper drives the expiry sweep. The sweep itself is a clock-based query,
// so nothing is lost when the process restarts mid-hold; the reaper only
// decides how often to look.
type Reaper struct {
	log      *slog.Logger
	svc      *Service
	interval time.Duration
}

func NewReaper(log *slog.Logger, svc *Service, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{log: log, svc: svc, interval: interval}
}

func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopping")
			return nil
		case <-t.C:
			n, err := r.svc.Sweep(ctx, time.Now().UTC())
			if err != nil {
				r.log.Error("sweep error", "err", err)
				continue
			}
			if n > 0 {
				r.log.Info("reservations reaped", "count", n)
			}
		}
	}
}
