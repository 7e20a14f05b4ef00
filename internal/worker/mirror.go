// Package worker runs background reconciliation over the event log.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"portcall/internal/domain"
	"portcall/internal/engine"
	"portcall/internal/events"
	"portcall/internal/logger"
)

const (
	// MirrorCursor names the persisted position of the mirror worker in the event log.
	MirrorCursor = "plan-mirror"

	defaultInterval = 5 * time.Second
	defaultBatch    = 100
)

// Mirror replays execution.operations.updated events onto plans. Engine commands already mirror
// right after commit; the worker closes the gap left when that step fails or the process dies
// between the two writes.
type Mirror struct {
	Engine   engine.Engine
	Interval time.Duration
	Batch    int
	Logger   *zap.Logger
}

func NewMirror(e engine.Engine) *Mirror {
	m := &Mirror{Engine: e, Logger: e.Logger}
	if e.Config != nil {
		m.Interval = e.Config.Mirror.Interval
		m.Batch = e.Config.Mirror.BatchSize
	}
	return m
}

// Run ticks until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := logger.OrNop(m.Logger).With(zap.String("worker", MirrorCursor))
	log.Info("mirror worker started", zap.Duration("interval", interval))
	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Warn("mirror tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("mirror worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick processes one batch after the stored cursor and returns how many events it consumed.
// The cursor only advances past events that were applied or can never apply.
func (m *Mirror) Tick(ctx context.Context) (int, error) {
	repo := m.Engine.Repo
	cursor, err := repo.GetCursor(ctx, MirrorCursor)
	if err != nil {
		return 0, err
	}
	batch := m.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := repo.EventsAfter(ctx, cursor, batch, events.ExecutionOperationsUpdated)
	if err != nil {
		return 0, err
	}
	now := time.Now
	if m.Engine.Now != nil {
		now = m.Engine.Now
	}
	done := 0
	for _, evt := range evts {
		if _, err := m.Engine.MirrorExecution(ctx, evt.EntityID); err != nil {
			if !domain.IsFailure(err, domain.FailureNotFound) {
				return done, err
			}
			logger.OrNop(m.Logger).Warn("mirror skipped event", zap.Int64("event_id", evt.ID), zap.Error(err))
		}
		if err := repo.SaveCursor(ctx, MirrorCursor, evt.ID, now().UTC()); err != nil {
			return done, err
		}
		done++
	}
	if latest, err := repo.LatestEventID(ctx); err == nil {
		last := cursor
		if len(evts) > 0 && done > 0 {
			last = evts[done-1].ID
		}
		m.Engine.Metrics.SetMirrorLag(latest - last)
	}
	return done, nil
}
