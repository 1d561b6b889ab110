package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the class of work a job performs.
type Kind string

const (
	KindDownload Kind = "download"
	KindRelay    Kind = "relay"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether the status causes removal from the active registry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Terminator is invoked to best-effort kill the underlying process or remote
// session of a job. It must be safe to call more than once.
type Terminator func()

// Job is one active unit of work owned by a single account. Fields behind the
// mutex are mutated concurrently by the running pipeline, status queries and
// the sweeper.
type Job struct {
	ID      string
	OwnerID int64
	Kind    Kind

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	progress  float64
	errMsg    string
	handle    string
	tempPath  string
	terminate Terminator
}

func New(ownerID int64, kind Kind, now time.Time) *Job {
	return &Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      kind,
		status:    StatusPending,
		startedAt: now,
	}
}

func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.startedAt
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.status
}

func (j *Job) SetStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = s
}

// SetProgress records the latest reported completion percentage. The source
// process can emit garbage, so the value is clamped to [0, 100] here and not
// forced monotonic.
func (j *Job) SetProgress(pct float64) {
	if pct < 0 {
		pct = 0
	}

	if pct > 100 {
		pct = 100
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.progress = pct
}

func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.progress
}

func (j *Job) Fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = StatusError
	j.errMsg = msg
}

func (j *Job) ErrorMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.errMsg
}

// SetHandle stores the process reference: a local PID rendered as text, or a
// remote session name.
func (j *Job) SetHandle(handle string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.handle = handle
}

func (j *Job) Handle() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.handle
}

func (j *Job) SetTempPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.tempPath = path
}

func (j *Job) TempPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.tempPath
}

func (j *Job) SetTerminator(t Terminator) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.terminate = t
}

// Terminate fires the registered terminator, if any.
func (j *Job) Terminate() {
	j.mu.Lock()
	t := j.terminate
	j.mu.Unlock()

	if t != nil {
		t()
	}
}

// Snapshot is a point-in-time copy of the mutable job state, safe to hand to
// API consumers.
type Snapshot struct {
	ID        string
	OwnerID   int64
	Kind      Kind
	Status    Status
	StartedAt time.Time
	Progress  float64
	Error     string
	Handle    string
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return Snapshot{
		ID:        j.ID,
		OwnerID:   j.OwnerID,
		Kind:      j.Kind,
		Status:    j.status,
		StartedAt: j.startedAt,
		Progress:  j.progress,
		Error:     j.errMsg,
		Handle:    j.handle,
	}
}
