package download

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/registry"
	"github.com/streamforge/media_orchestrator/internal/remote"
	"github.com/streamforge/media_orchestrator/internal/runner"
	"github.com/streamforge/media_orchestrator/internal/storage"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

const dirPerm = 0755

// Config carries the orchestrator's bounds and paths.
type Config struct {
	TempDir         string
	RemotePathRoot  string
	MetadataTimeout time.Duration
	OutputTimeout   time.Duration
	QuotaFloorMB    int64
}

// Event describes a finished download, delivered on the orchestrator's event
// channels.
type Event struct {
	OwnerID  int64
	Title    string
	Error    string
	RecordID int64
}

// MediaRunner is the subprocess surface the pipeline depends on.
type MediaRunner interface {
	CheckDownloadTools() error
	FetchMetadata(ctx context.Context, url string, timeout time.Duration) (*runner.Metadata, error)
	Run(ctx context.Context, args []string, outputTimeout time.Duration, onProgress func(float64)) error
}

// Orchestrator runs download jobs end to end: validate, probe, check quota,
// spawn, transfer, persist, release.
type Orchestrator struct {
	cfg          Config
	reg          *registry.Registry
	runner       MediaRunner
	uploader     remote.Uploader
	catalog      storage.CatalogStore
	destinations storage.DestinationStore
	telemetry    *telemetry.Telemetry

	OnDownloadFinished chan Event
	OnDownloadError    chan Event

	emitMu sync.Mutex
	closed bool
}

func NewOrchestrator(
	cfg Config,
	reg *registry.Registry,
	r MediaRunner,
	uploader remote.Uploader,
	catalog storage.CatalogStore,
	destinations storage.DestinationStore,
	tel *telemetry.Telemetry,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		reg:          reg,
		runner:       r,
		uploader:     uploader,
		catalog:      catalog,
		destinations: destinations,
		telemetry:    tel,

		OnDownloadFinished: make(chan Event, 16),
		OnDownloadError:    make(chan Event, 16),
	}
}

// Close shuts the event channels down. Detached pipelines may still be
// finishing, so emits after Close are dropped rather than sent.
func (o *Orchestrator) Close() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	if o.closed {
		return
	}

	o.closed = true

	close(o.OnDownloadFinished)
	close(o.OnDownloadError)
}

// Accepted is the immediate response to a start request. Completion is only
// observable through Status polling.
type Accepted struct {
	JobID           string
	Title           string
	EstimatedSizeMB int64
	FileName        string
}

// Start validates the request, reserves the registry slot and kicks off the
// asynchronous pipeline. Any rejection before the pipeline starts releases
// the slot before returning.
func (o *Orchestrator) Start(ctx context.Context, ownerID int64, url string, destinationID int64) (*Accepted, error) {
	logger := logctx.LoggerFromContext(ctx).With("owner_id", ownerID)

	if err := ValidateSourceURL(url); err != nil {
		return nil, err
	}

	j, err := o.reg.TryAcquire(ownerID, job.KindDownload)
	if err != nil {
		return nil, err
	}

	accepted, err := o.prepare(ctx, j, ownerID, url, destinationID)
	if err != nil {
		o.reg.Release(j)

		return nil, err
	}

	logger.Info("download accepted",
		"title", accepted.meta.Title,
		"estimated_size", humanize.Bytes(uint64(accepted.estimatedMB)*1024*1024),
	)

	o.telemetry.RecordDownloadAccepted(ctx)

	// The pipeline outlives the request; detach from its cancellation but keep
	// the context logger.
	pipelineCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.SetTerminator(job.Terminator(cancel))

	go o.runPipeline(pipelineCtx, j, accepted)

	return &Accepted{
		JobID:           j.ID,
		Title:           accepted.meta.Title,
		EstimatedSizeMB: accepted.estimatedMB,
		FileName:        accepted.fileName,
	}, nil
}

// plan is everything the async pipeline needs, resolved while the request is
// still synchronous.
type plan struct {
	url           string
	meta          *runner.Metadata
	estimatedMB   int64
	fileName      string
	tempPath      string
	remotePath    string
	relPath       string
	destinationID int64
}

func (o *Orchestrator) prepare(ctx context.Context, j *job.Job, ownerID int64, url string, destinationID int64) (*plan, error) {
	if err := o.runner.CheckDownloadTools(); err != nil {
		return nil, err
	}

	meta, err := o.runner.FetchMetadata(ctx, url, o.cfg.MetadataTimeout)
	if err != nil {
		return nil, err
	}

	dest, err := o.destinations.ReadDestination(destinationID, ownerID)
	if err != nil {
		return nil, err
	}

	estimatedMB := meta.EstimatedSizeMB()

	quota, err := o.catalog.ReadAvailableQuota(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read quota: %w", err)
	}

	available := quota.AvailableMB()

	if meta.Filesize == 0 && meta.FilesizeApprox == 0 {
		// size unknown: the estimate is a guess, so demand floor headroom
		if available < o.cfg.QuotaFloorMB {
			return nil, &job.QuotaError{AvailableMB: available, Reason: "insufficient space"}
		}
	} else if estimatedMB > available {
		return nil, &job.QuotaError{AvailableMB: available, RequiredMB: estimatedMB, Reason: "file too large"}
	}

	login := dest.Login
	if login == "" {
		login = o.destinations.ResolveLoginName(ownerID)
	}

	fileName := meta.SanitizedTitle + ".mp4"
	tempPath := filepath.Join(o.cfg.TempDir, fmt.Sprintf("%d_%s", ownerID, fileName))
	relPath := path.Join(login, dest.Folder, fileName)
	remotePath := path.Join(o.cfg.RemotePathRoot, relPath)

	if err := os.MkdirAll(o.cfg.TempDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	j.SetTempPath(tempPath)

	return &plan{
		url:           url,
		meta:          meta,
		estimatedMB:   estimatedMB,
		fileName:      fileName,
		tempPath:      tempPath,
		remotePath:    remotePath,
		relPath:       relPath,
		destinationID: destinationID,
	}, nil
}

// runPipeline is the explicit continuation of an accepted download. Every
// exit path removes the temp artifact and releases the registry slot.
func (o *Orchestrator) runPipeline(ctx context.Context, j *job.Job, p *plan) {
	logger := logctx.LoggerFromContext(ctx).With("owner_id", j.OwnerID, "job_id", j.ID)
	start := time.Now()

	outcome := "completed"

	defer func() {
		if err := os.Remove(p.tempPath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to remove temp artifact", "path", p.tempPath, "err", err)
		}

		o.reg.Release(j)
		o.telemetry.RecordDownloadFinished(ctx, outcome, time.Since(start))
	}()

	fail := func(msg string, err error) {
		logger.Error("download failed", "step", msg, "err", err)
		j.Fail(err.Error())

		outcome = "error"

		o.emit(o.OnDownloadError, Event{OwnerID: j.OwnerID, Title: p.meta.Title, Error: err.Error()})
	}

	j.SetStatus(job.StatusRunning)

	err := o.runner.Run(ctx, runner.DownloadArgs(p.url, p.tempPath), o.cfg.OutputTimeout, j.SetProgress)
	if err != nil {
		if ctx.Err() == context.Canceled {
			j.SetStatus(job.StatusCancelled)

			outcome = "cancelled"

			logger.Info("download cancelled")

			return
		}

		fail("subprocess", err)

		return
	}

	j.SetStatus(job.StatusTransferring)

	info, err := os.Stat(p.tempPath)
	if err != nil {
		fail("stat", fmt.Errorf("downloaded artifact missing: %w", err))

		return
	}

	if err := o.uploader.Upload(ctx, p.tempPath, p.remotePath); err != nil {
		fail("transfer", err)

		return
	}

	recordID, err := o.catalog.InsertCatalogRecord(storage.CatalogRecord{
		OwnerID:      j.OwnerID,
		Name:         p.meta.Title,
		RelPath:      p.relPath,
		RemotePath:   p.remotePath,
		DurationSecs: p.meta.Duration,
		SizeBytes:    info.Size(),
		Origin:       "youtube",
	})
	if err != nil {
		fail("catalog", err)

		return
	}

	sizeMB := (info.Size() + 1024*1024 - 1) / (1024 * 1024)
	if err := o.catalog.IncrementConsumedSpace(p.destinationID, sizeMB); err != nil {
		// The artifact is already on the remote host; log and keep the record.
		logger.Error("failed to update consumed space", "err", err)
	}

	j.SetStatus(job.StatusCompleted)

	logger.Info("download completed",
		"title", p.meta.Title,
		"size", humanize.Bytes(uint64(info.Size())),
		"record_id", recordID,
	)

	o.emit(o.OnDownloadFinished, Event{OwnerID: j.OwnerID, Title: p.meta.Title, RecordID: recordID})
}

func (o *Orchestrator) emit(ch chan Event, ev Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	if o.closed {
		return
	}

	select {
	case ch <- ev:
	default:
	}
}

// StatusView is the stable shape exposed to the API layer.
type StatusView struct {
	Downloading bool    `json:"downloading"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	UptimeSecs  int64   `json:"uptime"`
	Error       string  `json:"error,omitempty"`
}

// Status reports the owner's current download job, or an idle view.
func (o *Orchestrator) Status(ownerID int64) StatusView {
	j := o.reg.Get(ownerID, job.KindDownload)
	if j == nil {
		return StatusView{Status: "idle"}
	}

	snap := j.Snapshot()

	return StatusView{
		Downloading: snap.Status == job.StatusRunning || snap.Status == job.StatusTransferring,
		Status:      string(snap.Status),
		Progress:    snap.Progress,
		UptimeSecs:  int64(time.Since(snap.StartedAt).Seconds()),
		Error:       snap.Error,
	}
}

// Cancel terminates the owner's download if one is live. Cancelling when
// nothing is active is a successful no-op.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID int64) error {
	j := o.reg.Get(ownerID, job.KindDownload)
	if j == nil {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.Info("cancelling download", "owner_id", ownerID, "job_id", j.ID)

	j.Terminate()
	j.SetStatus(job.StatusCancelled)

	if tmp := j.TempPath(); tmp != "" {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to remove temp artifact on cancel", "path", tmp, "err", err)
		}
	}

	o.reg.Release(j)

	return nil
}

// Recent lists the owner's latest finished downloads from the catalog.
func (o *Orchestrator) Recent(ownerID int64, limit int) ([]storage.CatalogRecord, error) {
	return o.catalog.RecentDownloads(ownerID, limit)
}
