// Package pipeline runs the background jobs that move settled markets out to
// cold storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

const (
	archiveLockKey = "lock:archiver"
	pageSize       = 200
)

// ReportSource supplies resolved markets and their settlement reports.
type ReportSource interface {
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error)
	SettlementReport(ctx context.Context, id domain.MarketID) (domain.SettlementReport, error)
}

// Archiver uploads a settlement report for every resolved market that does
// not have one yet. A distributed lock keeps concurrent replicas from doing
// the same work.
type Archiver struct {
	source   ReportSource
	archiver domain.ReportArchiver
	locks    domain.LockManager
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. lockTTL bounds how long one run may hold
// the lock.
func NewArchiver(source ReportSource, archiver domain.ReportArchiver, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *Archiver {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Archiver{
		source:   source,
		archiver: archiver,
		locks:    locks,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass and returns how many reports it
// uploaded. It returns 0 and no error when another replica holds the lock.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive run skipped, lock held elsewhere")
			return 0, nil
		}
		return 0, fmt.Errorf("pipeline: acquire archive lock: %w", err)
	}
	defer unlock()

	start := time.Now()
	archived := 0
	for offset := 0; ; offset += pageSize {
		page, _, err := a.source.ListMarkets(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return archived, fmt.Errorf("pipeline: list markets at %d: %w", offset, err)
		}
		for _, m := range page {
			if !m.Resolved {
				continue
			}
			done, err := a.archiveOne(ctx, m.ID)
			if err != nil {
				return archived, err
			}
			if done {
				archived++
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int("archived", archived),
		slog.Duration("took", time.Since(start)),
	)
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, id domain.MarketID) (bool, error) {
	exists, err := a.archiver.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("pipeline: check report %d: %w", id, err)
	}
	if exists {
		return false, nil
	}

	report, err := a.source.SettlementReport(ctx, id)
	if err != nil {
		return false, fmt.Errorf("pipeline: build report %d: %w", id, err)
	}
	path, err := a.archiver.Archive(ctx, report)
	if err != nil {
		return false, fmt.Errorf("pipeline: archive report %d: %w", id, err)
	}
	a.logger.InfoContext(ctx, "settlement report archived",
		slog.String("market_id", id.String()),
		slog.String("path", path),
		slog.Int("entries", len(report.Entries)),
	)
	return true, nil
}

// RunCron runs the archiver on a cron schedule, and whenever trigger
// receives, until ctx is cancelled. schedule is a standard 5-field expression or
// a descriptor such as "@every 10m". trigger may be nil.
func (a *Archiver) RunCron(ctx context.Context, schedule string, trigger <-chan struct{}) error {
	run := func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", schedule, err)
	}

	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", schedule))
	c.Start()
	defer func() {
		<-c.Stop().Done()
		a.logger.InfoContext(context.WithoutCancel(ctx), "archiver cron stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
			run()
		}
	}
}
