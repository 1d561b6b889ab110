package registry

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

type key struct {
	ownerID int64
	kind    job.Kind
}

// Registry is the single source of truth for "is something running right now".
// It enforces at most one active job per owner per kind; TryAcquire is the
// only concurrency gate in the system.
type Registry struct {
	mu   sync.Mutex
	jobs map[key]*job.Job

	telemetry *telemetry.Telemetry
}

func New(tel *telemetry.Telemetry) *Registry {
	return &Registry{
		jobs:      make(map[key]*job.Job),
		telemetry: tel,
	}
}

// TryAcquire reserves the (owner, kind) slot. Two simultaneous calls for the
// same pair yield exactly one new job and one AlreadyActiveError.
func (r *Registry) TryAcquire(ownerID int64, kind job.Kind) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{ownerID: ownerID, kind: kind}
	if existing, ok := r.jobs[k]; ok && !existing.Status().IsTerminal() {
		return nil, &job.AlreadyActiveError{OwnerID: ownerID, Kind: kind}
	}

	j := job.New(ownerID, kind, time.Now())
	r.jobs[k] = j

	return j, nil
}

// Get returns the owner's active job for the kind, or nil.
func (r *Registry) Get(ownerID int64, kind job.Kind) *job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.jobs[key{ownerID: ownerID, kind: kind}]
}

// Release removes the job from the registry. Safe to call after the job
// already left the map.
func (r *Registry) Release(j *job.Job) {
	if j == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{ownerID: j.OwnerID, kind: j.Kind}
	if current, ok := r.jobs[k]; ok && current.ID == j.ID {
		delete(r.jobs, k)
	}
}

// ActiveCount reports how many slots are currently held.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.jobs)
}

// Sweep force-releases every job older than maxAge: the safety net against
// jobs that never reach a terminal callback. Each stuck job gets a best-effort
// termination signal and its temp artifact deleted.
func (r *Registry) Sweep(ctx context.Context, now time.Time, maxAge time.Duration) int {
	logger := logctx.LoggerFromContext(ctx)

	r.mu.Lock()

	var stuck []*job.Job

	for k, j := range r.jobs {
		if now.Sub(j.StartedAt()) > maxAge {
			stuck = append(stuck, j)

			delete(r.jobs, k)
		}
	}

	r.mu.Unlock()

	for _, j := range stuck {
		logger.Warn("force-releasing stuck job",
			"job_id", j.ID,
			"owner_id", j.OwnerID,
			"kind", j.Kind,
			"started_at", j.StartedAt(),
		)

		j.Terminate()
		j.Fail("job exceeded maximum age and was force-released")

		if tmp := j.TempPath(); tmp != "" {
			if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete temp artifact of stuck job", "path", tmp, "err", err)
			}
		}

		r.telemetry.RecordSweepRelease(ctx, string(j.Kind))
	}

	return len(stuck)
}
