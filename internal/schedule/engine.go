package schedule

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/relay"
	"github.com/streamforge/media_orchestrator/internal/storage"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

// Starter is the slice of the relay orchestrator the engine drives.
type Starter interface {
	Start(ctx context.Context, ownerID int64, sourceURL string, opts relay.Options) (*relay.Started, error)
}

// Engine polls persisted schedules once per tick and fires the ones whose
// recurrence rule matches the current minute. Tick timing alone cannot
// guarantee at-most-once-per-minute firing (a drifted timer could land twice
// in the same wall-clock minute), so the engine also tracks the last fired
// minute per schedule.
type Engine struct {
	store     storage.ScheduleStore
	starter   Starter
	tick      time.Duration
	telemetry *telemetry.Telemetry

	clock     func() time.Time
	lastFired map[int64]string
}

func NewEngine(store storage.ScheduleStore, starter Starter, tick time.Duration, tel *telemetry.Telemetry) *Engine {
	return &Engine{
		store:     store,
		starter:   starter,
		tick:      tick,
		telemetry: tel,
		clock:     time.Now,
		lastFired: make(map[int64]string),
	}
}

// Run evaluates schedules until the context is cancelled. One evaluation
// happens immediately so a restart doesn't silently skip the current minute.
func (e *Engine) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("schedule engine started", "tick", e.tick.String())

	e.evaluate(ctx)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("schedule engine shutting down")

			return
		case <-ticker.C:
			e.evaluate(ctx)
		}
	}
}

// evaluate runs a single tick. A failing schedule never prevents evaluation
// of the remaining schedules in the same pass.
func (e *Engine) evaluate(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	schedules, err := e.store.DueScheduled()
	if err != nil {
		logger.Error("failed to load schedules", "err", err)

		return
	}

	now := e.clock()
	key := minuteKey(now)

	var due []storage.RelaySchedule

	for _, s := range schedules {
		if !Matches(s, now) {
			continue
		}

		if e.lastFired[s.ID] == key {
			continue
		}

		e.lastFired[s.ID] = key

		due = append(due, s)
	}

	e.telemetry.RecordScheduleTick(ctx, len(due))

	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, s := range due {
		g.Go(func() error {
			e.fire(gctx, s)

			return nil
		})
	}

	_ = g.Wait()
}

func (e *Engine) fire(ctx context.Context, s storage.RelaySchedule) {
	logger := logctx.LoggerFromContext(ctx).With("schedule_id", s.ID, "owner_id", s.OwnerID)

	logger.Info("firing scheduled relay", "source_url", s.SourceURL)

	_, err := e.starter.Start(ctx, s.OwnerID, s.SourceURL, relay.Options{
		IsManual:   false,
		RelayType:  s.RelayType,
		ScheduleID: s.ID,
	})
	if err != nil {
		logger.Error("scheduled relay failed to start", "err", err)

		// Another relay is still running for this owner: leave the schedule
		// armed so a later minute can retry once the slot frees up.
		var active *job.AlreadyActiveError
		if errors.As(err, &active) {
			return
		}

		// Failures before the start sequence touches the record (bad URL,
		// unreachable source, slot contention) never persist a status, so the
		// engine records the diagnostic itself.
		if uerr := e.store.UpdateStatus(s.ID, storage.ScheduleStatusError, err.Error()); uerr != nil {
			logger.Error("failed to persist schedule failure", "err", uerr)
		}

		return
	}

	logger.Info("scheduled relay active")
}
