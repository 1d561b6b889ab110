package job

import "fmt"

// ToolUnavailableError means a required external binary is missing from the
// execution environment. Raised before any process is spawned.
type ToolUnavailableError struct {
	Tool string // binary name, e.g. "yt-dlp"
	Err  error  // underlying lookup error, if any
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("required tool %q is not installed", e.Tool)
}

func (e *ToolUnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError means a bounded operation produced no result within its limit.
type TimeoutError struct {
	Operation string // what timed out (e.g. "metadata_fetch", "download")
	Limit     string // human-readable bound (e.g. "30s")
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its %s limit", e.Operation, e.Limit)
}

// ProcessError means a spawned subprocess exited non-zero. Cause holds the
// human-readable classification of its stderr output.
type ProcessError struct {
	ExitCode int
	Cause    string
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Cause != "" {
		return e.Cause
	}

	return fmt.Sprintf("process failed with exit code %d", e.ExitCode)
}

// QuotaError means the owner's remaining storage cannot hold the requested
// artifact.
type QuotaError struct {
	AvailableMB int64
	RequiredMB  int64
	Reason      string
}

func (e *QuotaError) Error() string {
	if e.RequiredMB > 0 {
		return fmt.Sprintf("%s: requires %dMB, %dMB available", e.Reason, e.RequiredMB, e.AvailableMB)
	}

	return fmt.Sprintf("%s: %dMB available", e.Reason, e.AvailableMB)
}

// AlreadyActiveError means the owner already holds the registry slot for this
// job kind.
type AlreadyActiveError struct {
	OwnerID int64
	Kind    Kind
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("a %s job is already active for owner %d", e.Kind, e.OwnerID)
}

// NotFoundError means a referenced job, schedule or destination does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// RemoteError means a command on the remote host could not run or reported
// failure.
type RemoteError struct {
	Host      string
	Operation string
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed on %s: %v", e.Operation, e.Host, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ValidationError means a source reference or request field is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnauthorizedError means the requested resource belongs to another owner.
type UnauthorizedError struct {
	Resource string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s belongs to another owner", e.Resource)
}
