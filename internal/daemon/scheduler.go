package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omnidesk/omnisync/internal/config"
	"github.com/omnidesk/omnisync/internal/gaps"
	"github.com/omnidesk/omnisync/internal/store"
	intsync "github.com/omnidesk/omnisync/internal/sync"
)

// Scheduler is the host-side sync loop: on each tick it runs a routine gap
// detection per configured account and triggers a historical sync when the
// detector recommends one. Accounts are independent and fan out with a
// bounded concurrency limit; within one account syncs stay sequential.
type Scheduler struct {
	engine   *intsync.Engine
	detector *gaps.Detector
	db       *store.DB
	log      *zap.Logger

	interval      time.Duration
	maxConcurrent int
	accounts      []config.AccountConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler for the configured accounts.
func NewScheduler(engine *intsync.Engine, detector *gaps.Detector, db *store.DB, log *zap.Logger, cfg *config.Config) *Scheduler {
	interval := cfg.Scheduler.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	maxConcurrent := cfg.Scheduler.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Scheduler{
		engine:        engine,
		detector:      detector,
		db:            db,
		log:           log,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		accounts:      cfg.Accounts,
	}
}

// Start launches the loop. The first tick runs immediately so fresh installs
// sync without waiting a full interval.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.tick(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight work to finish. In-progress
// syncs stop at the next conversation boundary.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for _, acct := range s.accounts {
		acct := acct
		g.Go(func() error {
			s.syncIfNeeded(gctx, acct)
			return nil
		})
	}
	_ = g.Wait()
}

// syncIfNeeded decides per account: never-synced channels get an initial
// full sync; otherwise a routine gap detection runs and only a high or
// medium recommendation triggers a sync. Failures are logged, never fatal.
func (s *Scheduler) syncIfNeeded(ctx context.Context, acct config.AccountConfig) {
	log := s.log.With(zap.String("account_id", acct.AccountID))

	ch, err := s.db.GetChannelByAccount(acct.AccountID)
	if err != nil {
		log.Error("load channel", zap.Error(err))
		return
	}
	if ch == nil || ch.LastSyncAt == 0 {
		log.Info("initial sync")
		s.runSync(ctx, acct, log)
		return
	}

	report, err := s.detector.DetectGaps(ctx, acct.AccountID, "routine")
	if err != nil {
		log.Error("gap detection", zap.Error(err))
		return
	}
	if report.Skipped {
		return
	}
	switch report.Recommendation.Priority {
	case "high", "medium":
		log.Info("sync recommended",
			zap.String("priority", report.Recommendation.Priority),
			zap.String("action", report.Recommendation.Action),
			zap.Int("gaps", len(report.Gaps)))
		if report.Recommendation.Action == "full_resync" {
			// The sync pass flips attendees it still sees back to synced.
			if err := s.db.MarkAttendeesStale(ch.ID); err != nil {
				log.Warn("mark attendees stale", zap.Error(err))
			}
		}
		s.runSync(ctx, acct, log)
	}
}

func (s *Scheduler) runSync(ctx context.Context, acct config.AccountConfig, log *zap.Logger) {
	_, err := s.engine.SyncAccount(ctx, acct.AccountID, intsync.Options{
		ChannelType:        acct.ChannelType,
		BusinessIdentifier: acct.BusinessIdentifier,
	})
	if err != nil && ctx.Err() == nil {
		log.Error("sync failed", zap.Error(err))
	}
}
