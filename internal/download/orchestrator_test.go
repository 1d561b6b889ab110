package download

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/registry"
	"github.com/streamforge/media_orchestrator/internal/runner"
	"github.com/streamforge/media_orchestrator/internal/storage"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// fakeRunner drives the pipeline without spawning subprocesses.
type fakeRunner struct {
	meta    *runner.Metadata
	metaErr error
	runFunc func(ctx context.Context, args []string, onProgress func(float64)) error
}

func (f *fakeRunner) CheckDownloadTools() error { return nil }

func (f *fakeRunner) FetchMetadata(context.Context, string, time.Duration) (*runner.Metadata, error) {
	return f.meta, f.metaErr
}

func (f *fakeRunner) Run(ctx context.Context, args []string, _ time.Duration, onProgress func(float64)) error {
	if f.runFunc != nil {
		return f.runFunc(ctx, args, onProgress)
	}

	return nil
}

type fakeUploader struct {
	uploaded map[string]string // localPath -> remotePath
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, localPath, remotePath string) error {
	if f.err != nil {
		return f.err
	}

	if f.uploaded == nil {
		f.uploaded = make(map[string]string)
	}

	f.uploaded[localPath] = remotePath

	return nil
}

type fakeCatalog struct {
	quota      storage.Quota
	quotaErr   error
	records    []storage.CatalogRecord
	consumedMB int64
}

func (f *fakeCatalog) InsertCatalogRecord(rec storage.CatalogRecord) (int64, error) {
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)

	return rec.ID, nil
}

func (f *fakeCatalog) IncrementConsumedSpace(_ int64, megabytes int64) error {
	f.consumedMB += megabytes

	return nil
}

func (f *fakeCatalog) ReadAvailableQuota(int64) (storage.Quota, error) {
	return f.quota, f.quotaErr
}

func (f *fakeCatalog) RecentDownloads(int64, int) ([]storage.CatalogRecord, error) {
	return f.records, nil
}

type fakeDestinations struct {
	dest    storage.Destination
	destErr error
}

func (f *fakeDestinations) ReadDestination(int64, int64) (storage.Destination, error) {
	return f.dest, f.destErr
}

func (f *fakeDestinations) ReadOwnerDestination(int64) (storage.Destination, error) {
	return f.dest, f.destErr
}

func (f *fakeDestinations) ResolveLoginName(ownerID int64) string {
	return "user_7"
}

func testMeta(sizeMB int64) *runner.Metadata {
	return &runner.Metadata{
		ID:             "dQw4w9WgXcQ",
		Title:          "Test Clip",
		SanitizedTitle: "Test_Clip",
		Duration:       212,
		Filesize:       sizeMB * 1024 * 1024,
	}
}

func newTestOrchestrator(t *testing.T, r MediaRunner, up *fakeUploader, cat *fakeCatalog) *Orchestrator {
	t.Helper()

	return NewOrchestrator(Config{
		TempDir:         t.TempDir(),
		RemotePathRoot:  "/home/streaming",
		MetadataTimeout: time.Second,
		OutputTimeout:   time.Second,
		QuotaFloorMB:    100,
	}, registry.New(nil), r, up, cat, &fakeDestinations{
		dest: storage.Destination{ID: 3, OwnerID: 7, Login: "tv1", Folder: "videos"},
	}, nil)
}

func TestStart_RejectsUnknownURL(t *testing.T) {
	o := newTestOrchestrator(t, &fakeRunner{}, &fakeUploader{}, &fakeCatalog{})

	_, err := o.Start(context.Background(), 7, "https://vimeo.com/123", 3)

	var vErr *job.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestStart_UnknownSizeRequiresFloorHeadroom(t *testing.T) {
	// no reported size: the 50MB fallback estimate is a guess, so the start
	// demands the full floor of free space
	cat := &fakeCatalog{quota: storage.Quota{TotalMB: 1000, UsedMB: 960}}
	o := newTestOrchestrator(t, &fakeRunner{meta: testMeta(0)}, &fakeUploader{}, cat)

	_, err := o.Start(context.Background(), 7, testURL, 3)

	var qErr *job.QuotaError
	require.ErrorAs(t, err, &qErr)
	require.Equal(t, int64(40), qErr.AvailableMB)

	// rejection must free the slot for the next attempt
	cat.quota = storage.Quota{TotalMB: 1000, UsedMB: 0}
	_, err = o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)
}

func TestStart_RejectsOversizedFile(t *testing.T) {
	cat := &fakeCatalog{quota: storage.Quota{TotalMB: 1000, UsedMB: 950}}
	o := newTestOrchestrator(t, &fakeRunner{meta: testMeta(100)}, &fakeUploader{}, cat)

	_, err := o.Start(context.Background(), 7, testURL, 3)

	var qErr *job.QuotaError
	require.ErrorAs(t, err, &qErr)
	require.Equal(t, int64(100), qErr.RequiredMB)
	require.Equal(t, int64(50), qErr.AvailableMB)
}

func TestStart_AcceptsFileWithinRemainingQuota(t *testing.T) {
	blocked := make(chan struct{})

	r := &fakeRunner{
		meta: testMeta(30),
		runFunc: func(ctx context.Context, _ []string, _ func(float64)) error {
			<-blocked

			return nil
		},
	}

	cat := &fakeCatalog{quota: storage.Quota{TotalMB: 1000, UsedMB: 950}}
	o := newTestOrchestrator(t, r, &fakeUploader{}, cat)
	defer close(blocked)

	accepted, err := o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)
	require.Equal(t, int64(30), accepted.EstimatedSizeMB)
}

func TestStart_RejectsSecondConcurrentDownload(t *testing.T) {
	blocked := make(chan struct{})

	r := &fakeRunner{
		meta: testMeta(10),
		runFunc: func(ctx context.Context, _ []string, _ func(float64)) error {
			select {
			case <-blocked:
			case <-ctx.Done():
			}

			return ctx.Err()
		},
	}

	o := newTestOrchestrator(t, r, &fakeUploader{}, &fakeCatalog{quota: storage.Quota{TotalMB: 1000}})
	defer close(blocked)

	_, err := o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)

	_, err = o.Start(context.Background(), 7, testURL, 3)

	var activeErr *job.AlreadyActiveError
	require.ErrorAs(t, err, &activeErr)
}

func TestPipeline_Completes(t *testing.T) {
	r := &fakeRunner{
		meta: testMeta(10),
		runFunc: func(_ context.Context, args []string, onProgress func(float64)) error {
			onProgress(50)
			onProgress(100)

			// -o path is the element after --output
			for i, a := range args {
				if a == "--output" {
					return os.WriteFile(args[i+1], []byte("artifact"), 0o600)
				}
			}

			return errors.New("no output path in args")
		},
	}

	up := &fakeUploader{}
	cat := &fakeCatalog{quota: storage.Quota{TotalMB: 1000}}
	o := newTestOrchestrator(t, r, up, cat)

	accepted, err := o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)
	require.Equal(t, "Test_Clip.mp4", accepted.FileName)
	require.Equal(t, int64(10), accepted.EstimatedSizeMB)

	select {
	case ev := <-o.OnDownloadFinished:
		require.Equal(t, int64(7), ev.OwnerID)
		require.Equal(t, "Test Clip", ev.Title)
		require.NotZero(t, ev.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	require.Len(t, cat.records, 1)
	rec := cat.records[0]
	require.Equal(t, "tv1/videos/Test_Clip.mp4", rec.RelPath)
	require.Equal(t, "/home/streaming/tv1/videos/Test_Clip.mp4", rec.RemotePath)
	require.Equal(t, int64(1), cat.consumedMB)

	require.Len(t, up.uploaded, 1)

	// slot freed, temp artifact gone
	require.Eventually(t, func() bool {
		return o.Status(7).Status == "idle"
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := os.ReadDir(o.cfg.TempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPipeline_SubprocessFailureEmitsError(t *testing.T) {
	r := &fakeRunner{
		meta: testMeta(10),
		runFunc: func(context.Context, []string, func(float64)) error {
			return &job.ProcessError{ExitCode: 1, Cause: "video is private"}
		},
	}

	cat := &fakeCatalog{quota: storage.Quota{TotalMB: 1000}}
	o := newTestOrchestrator(t, r, &fakeUploader{}, cat)

	_, err := o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)

	select {
	case ev := <-o.OnDownloadError:
		require.Equal(t, "video is private", ev.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no error event emitted")
	}

	require.Empty(t, cat.records, "failed download must not reach the catalog")
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})

	r := &fakeRunner{
		meta: testMeta(10),
		runFunc: func(ctx context.Context, _ []string, _ func(float64)) error {
			close(started)
			<-ctx.Done()

			return ctx.Err()
		},
	}

	o := newTestOrchestrator(t, r, &fakeUploader{}, &fakeCatalog{quota: storage.Quota{TotalMB: 1000}})

	// cancelling with nothing running is a successful no-op
	require.NoError(t, o.Cancel(context.Background(), 7))

	_, err := o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never started")
	}

	require.NoError(t, o.Cancel(context.Background(), 7))

	require.Eventually(t, func() bool {
		return o.Status(7).Status == "idle"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_DropsLateEmits(t *testing.T) {
	o := newTestOrchestrator(t, &fakeRunner{}, &fakeUploader{}, &fakeCatalog{})

	o.Close()

	// a detached pipeline finishing after shutdown must not hit the closed
	// channels
	require.NotPanics(t, func() {
		o.emit(o.OnDownloadFinished, Event{OwnerID: 7, Title: "late"})
		o.emit(o.OnDownloadError, Event{OwnerID: 7, Error: "late"})
	})

	require.NotPanics(t, o.Close, "closing twice is a no-op")
}

func TestStatus_ReportsProgress(t *testing.T) {
	progressed := make(chan struct{})
	release := make(chan struct{})

	r := &fakeRunner{
		meta: testMeta(10),
		runFunc: func(ctx context.Context, _ []string, onProgress func(float64)) error {
			onProgress(37.5)
			close(progressed)

			select {
			case <-release:
			case <-ctx.Done():
			}

			return ctx.Err()
		},
	}

	o := newTestOrchestrator(t, r, &fakeUploader{}, &fakeCatalog{quota: storage.Quota{TotalMB: 1000}})
	defer close(release)

	_, err := o.Start(context.Background(), 7, testURL, 3)
	require.NoError(t, err)

	<-progressed

	view := o.Status(7)
	require.True(t, view.Downloading)
	require.Equal(t, "running", view.Status)
	require.Equal(t, 37.5, view.Progress)
}
