package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/registry"
	"github.com/streamforge/media_orchestrator/internal/remote"
	"github.com/streamforge/media_orchestrator/internal/storage"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

const ffmpegBin = "/usr/local/bin/ffmpeg"

// Config carries the fixed waits of the start sequence. There is no
// synchronous "process started" acknowledgment from the remote host, so the
// settle delays are the only way to let the detached process initialize.
type Config struct {
	KillSettleDelay    time.Duration
	StabilizationDelay time.Duration
	ProbeTimeout       time.Duration
}

// Options selects the start policy.
type Options struct {
	// Manual starts force-stop a running relay first; scheduled starts reject.
	IsManual  bool
	RelayType string
	// ScheduleID, when set, binds the start to an existing schedule record
	// instead of inserting a new one.
	ScheduleID int64
}

// Controller abstracts the remote session operations the orchestrator needs.
type Controller interface {
	StartDetached(ctx context.Context, sessionName, commandLine string) error
	IsAlive(ctx context.Context, sessionName string) (bool, error)
	Stop(ctx context.Context, sessionName string) error
}

// Orchestrator starts, stops and reconciles relay jobs: continuous remote
// ffmpeg processes re-streaming an external source into the owner's ingest
// point.
type Orchestrator struct {
	cfg          Config
	sessions     Controller
	store        storage.ScheduleStore
	destinations storage.DestinationStore
	reg          *registry.Registry
	telemetry    *telemetry.Telemetry

	sleep func(time.Duration) // injectable for tests
}

func NewOrchestrator(
	cfg Config,
	sessions Controller,
	store storage.ScheduleStore,
	destinations storage.DestinationStore,
	reg *registry.Registry,
	tel *telemetry.Telemetry,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		sessions:     sessions,
		store:        store,
		destinations: destinations,
		reg:          reg,
		telemetry:    tel,
		sleep:        time.Sleep,
	}
}

// SessionName derives the stable handle for an owner's relay process. It
// survives orchestrator restarts, which is what makes reconciliation possible
// without persisting raw PIDs.
func SessionName(login string) string {
	return login + "_relay"
}

// ingestURL builds the local-loopback output address on the remote host.
func ingestURL(dest storage.Destination, login string) string {
	auth := ""
	if dest.AuthLive && dest.StreamPassword != "" {
		auth = login + ":" + dest.StreamPassword + "@"
	}

	key := login
	if dest.Application == "tvstation" {
		key = "live"
	}

	return fmt.Sprintf("rtmp://%slocalhost:1935/%s/%s", auth, login, key)
}

func relayCommand(sourceURL, outputURL string) string {
	return fmt.Sprintf(
		"%s -re -reconnect 1 -reconnect_streamed 1 -reconnect_delay_max 2 -i %s -c:v copy -c:a copy -bsf:a aac_adtstoasc -preset medium -threads 1 -f flv %s",
		ffmpegBin, remote.QuoteArg(sourceURL), remote.QuoteArg(outputURL),
	)
}

// Started is the successful outcome of a start sequence.
type Started struct {
	RecordID    int64
	SessionName string
	OutputURL   string
}

// Start runs the full start sequence synchronously: validate, persist a
// starting record, tear down any prior session, launch detached, wait for
// stabilization and verify liveness. The registry slot is held only for the
// duration of the sequence; once the relay is confirmed active the persisted
// record is the durable state.
func (o *Orchestrator) Start(ctx context.Context, ownerID int64, sourceURL string, opts Options) (*Started, error) {
	logger := logctx.LoggerFromContext(ctx).With("owner_id", ownerID)

	if err := ValidateSourceURL(sourceURL); err != nil {
		return nil, err
	}

	if err := ProbeHLS(ctx, sourceURL, o.cfg.ProbeTimeout); err != nil {
		return nil, err
	}

	j, err := o.reg.TryAcquire(ownerID, job.KindRelay)
	if err != nil {
		return nil, err
	}

	defer func() {
		// terminal either way: the sequence finished or failed
		o.reg.Release(j)
	}()

	started, err := o.startSequence(ctx, logger, ownerID, sourceURL, opts)
	if err != nil {
		j.Fail(err.Error())
		o.telemetry.RecordRelayStart(ctx, "error")

		return nil, err
	}

	j.SetHandle(started.SessionName)
	j.SetStatus(job.StatusCompleted)
	o.telemetry.RecordRelayStart(ctx, "active")

	return started, nil
}

func (o *Orchestrator) startSequence(ctx context.Context, logger *slog.Logger, ownerID int64, sourceURL string, opts Options) (*Started, error) {
	// A relay already running for this owner either rejects the start or gets
	// force-stopped, depending on the caller's intent.
	if existing, err := o.store.ActiveRelay(ownerID); err == nil && existing.Status != storage.ScheduleStatusError {
		if !opts.IsManual {
			return nil, &job.AlreadyActiveError{OwnerID: ownerID, Kind: job.KindRelay}
		}

		logger.Info("force-stopping running relay for manual start", "record_id", existing.ID)

		if err := o.stopRecord(ctx, ownerID, existing); err != nil {
			logger.Warn("failed to stop prior relay", "err", err)
		}
	}

	relayType := opts.RelayType
	if relayType == "" {
		relayType = "rtmp"
	}

	recordID := opts.ScheduleID
	if recordID == 0 {
		id, err := o.store.CreateSchedule(storage.RelaySchedule{
			OwnerID:   ownerID,
			SourceURL: sourceURL,
			RelayType: relayType,
			Status:    storage.ScheduleStatusStarting,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist relay record: %w", err)
		}

		recordID = id
	} else if err := o.store.UpdateStatus(recordID, storage.ScheduleStatusStarting, ""); err != nil {
		return nil, fmt.Errorf("failed to mark schedule starting: %w", err)
	}

	login := o.destinations.ResolveLoginName(ownerID)
	session := SessionName(login)

	dest, err := o.destinations.ReadOwnerDestination(ownerID)
	if err != nil {
		// owners without a destination row still get the default ingest shape
		dest = storage.Destination{}
	}

	outputURL := ingestURL(dest, login)

	// Tear down any leftover session before starting. Stop is idempotent, so
	// a missing session costs nothing but the settle delay.
	if err := o.sessions.Stop(ctx, session); err != nil {
		logger.Warn("teardown of prior session failed", "session", session, "err", err)
	}

	o.sleep(o.cfg.KillSettleDelay)

	if err := o.sessions.StartDetached(ctx, session, relayCommand(sourceURL, outputURL)); err != nil {
		o.markError(recordID, fmt.Sprintf("failed to launch relay: %v", err))

		return nil, err
	}

	o.sleep(o.cfg.StabilizationDelay)

	alive, err := o.sessions.IsAlive(ctx, session)
	if err != nil {
		o.markError(recordID, fmt.Sprintf("liveness check failed: %v", err))

		return nil, err
	}

	if !alive {
		diag := "relay did not start, verify the source URL and try again"
		o.markError(recordID, diag)

		return nil, &job.ProcessError{ExitCode: -1, Cause: diag}
	}

	if err := o.store.SetSession(recordID, session); err != nil {
		logger.Warn("failed to persist session handle", "err", err)
	}

	if err := o.store.UpdateStatus(recordID, storage.ScheduleStatusActive, ""); err != nil {
		logger.Warn("failed to persist active status", "err", err)
	}

	logger.Info("relay active", "record_id", recordID, "session", session)

	return &Started{RecordID: recordID, SessionName: session, OutputURL: outputURL}, nil
}

func (o *Orchestrator) markError(recordID int64, details string) {
	// best effort; the start error is what the caller sees
	_ = o.store.UpdateStatus(recordID, storage.ScheduleStatusError, details)
}

// Stop terminates the owner's relay. The remote stop is best-effort and the
// record is marked inactive regardless of whether a session was found.
func (o *Orchestrator) Stop(ctx context.Context, ownerID int64) error {
	logger := logctx.LoggerFromContext(ctx).With("owner_id", ownerID)

	rec, err := o.store.ActiveRelay(ownerID)
	if err != nil {
		var nf *job.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}

		return err
	}

	if err := o.stopRecord(ctx, ownerID, rec); err != nil {
		logger.Warn("remote stop reported failure", "err", err)
	}

	o.telemetry.RecordRelayStop(ctx)
	logger.Info("relay stopped", "record_id", rec.ID)

	return nil
}

func (o *Orchestrator) stopRecord(ctx context.Context, ownerID int64, rec storage.RelaySchedule) error {
	session := rec.SessionName
	if session == "" {
		session = SessionName(o.destinations.ResolveLoginName(ownerID))
	}

	stopErr := o.sessions.Stop(ctx, session)

	if err := o.store.UpdateStatus(rec.ID, storage.ScheduleStatusInactive, ""); err != nil {
		return err
	}

	return stopErr
}

// StatusView is the stable shape exposed to the API layer.
type StatusView struct {
	RecordID     int64   `json:"id,omitempty"`
	IsLive       bool    `json:"is_live"`
	Status       string  `json:"status"`
	SourceURL    string  `json:"source_url,omitempty"`
	UptimeSecs   int64   `json:"uptime"`
	ErrorDetails string  `json:"error,omitempty"`
	SessionName  string  `json:"session_name,omitempty"`
	Progress     float64 `json:"progress"`
}

// Status reports the owner's relay state. When the persisted record claims
// active but the remote probe disagrees, the record is rewritten to error
// before responding: this lazy reconciliation is the only mechanism that
// detects silent remote crashes.
func (o *Orchestrator) Status(ctx context.Context, ownerID int64) (StatusView, error) {
	rec, err := o.store.ActiveRelay(ownerID)
	if err != nil {
		var nf *job.NotFoundError
		if errors.As(err, &nf) {
			return StatusView{Status: storage.ScheduleStatusInactive}, nil
		}

		return StatusView{}, err
	}

	view := StatusView{
		RecordID:     rec.ID,
		Status:       rec.Status,
		SourceURL:    rec.SourceURL,
		ErrorDetails: rec.ErrorDetails,
		SessionName:  rec.SessionName,
	}

	if rec.Status != storage.ScheduleStatusActive {
		return view, nil
	}

	session := rec.SessionName
	if session == "" {
		session = SessionName(o.destinations.ResolveLoginName(ownerID))
	}

	alive, err := o.sessions.IsAlive(ctx, session)
	if err != nil {
		// Remote unreachable: keep the persisted status without reconciling,
		// but never claim liveness the probe could not confirm.
		logctx.LoggerFromContext(ctx).Warn("liveness probe failed", "owner_id", ownerID, "err", err)

		view.IsLive = false
		view.ErrorDetails = fmt.Sprintf("liveness check unavailable: %v", err)

		if !rec.StartedAt.IsZero() {
			view.UptimeSecs = int64(time.Since(rec.StartedAt).Seconds())
		}

		return view, nil
	}

	if !alive {
		diag := "relay process stopped unexpectedly"

		if err := o.store.UpdateStatus(rec.ID, storage.ScheduleStatusError, diag); err != nil {
			return StatusView{}, err
		}

		o.telemetry.RecordRelayStop(ctx)

		view.Status = storage.ScheduleStatusError
		view.ErrorDetails = diag

		return view, nil
	}

	view.IsLive = true

	if !rec.StartedAt.IsZero() {
		view.UptimeSecs = int64(time.Since(rec.StartedAt).Seconds())
	}

	return view, nil
}

// ReconcileStartup pessimistically marks every persisted active relay as
// errored. In-memory liveness tracking from the previous run is gone and
// detached sessions cannot be trusted without a fresh probe.
func (o *Orchestrator) ReconcileStartup(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	n, err := o.store.MarkActiveErrored("orchestrator restarted")
	if err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	if n > 0 {
		logger.Info("marked stale active relays as errored", "count", n)
	}

	return nil
}
