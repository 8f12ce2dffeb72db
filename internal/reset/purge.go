package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const purgeTimeout = time.Minute

// Purger deletes expired reset tokens on a cron schedule.
type Purger struct {
	cron *cron.Cron
	svc  *Service
	lg   *zap.SugaredLogger
}

// NewPurger schedules PurgeExpired with a standard cron spec or a descriptor
// such as "@every 15m".
func NewPurger(svc *Service, spec string, lg *zap.SugaredLogger) (*Purger, error) {
	p := &Purger{cron: cron.New(), svc: svc, lg: lg}
	if _, err := p.cron.AddFunc(spec, p.run); err != nil {
		return nil, fmt.Errorf("schedule reset token purge %q: %w", spec, err)
	}
	return p, nil
}

func (p *Purger) Start() { p.cron.Start() }

// Stop halts the schedule and waits for a running purge to finish or ctx
// to end.
func (p *Purger) Stop(ctx context.Context) {
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (p *Purger) run() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	n, err := p.svc.PurgeExpired(ctx)
	if err != nil {
		p.lg.Errorw("purge reset tokens", "err", err)
		return
	}
	if n > 0 {
		p.lg.Infow("purged expired reset tokens", "count", n)
	}
}
