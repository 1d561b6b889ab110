package storage

import "time"

// Schedule statuses persisted in the relay_config table. The registry is
// authoritative for "running right now"; these columns are eventually
// consistent with it and repaired by the startup reconciliation pass.
const (
	ScheduleStatusScheduled = "scheduled"
	ScheduleStatusStarting  = "starting"
	ScheduleStatusActive    = "active"
	ScheduleStatusError     = "error"
	ScheduleStatusInactive  = "inactive"
)

// Recurrence frequency codes.
const (
	FrequencyOnce   = 1 // fires on one specific date
	FrequencyDaily  = 2
	FrequencyWeekly = 3 // fires on a set of weekdays
)

// CatalogRecord is one finished download persisted in the media catalog.
type CatalogRecord struct {
	ID           int64
	OwnerID      int64
	Name         string
	RelPath      string
	RemotePath   string
	DurationSecs int64
	SizeBytes    int64
	Origin       string
	CreatedAt    time.Time
}

// Destination describes where an owner's artifacts land on the remote host and
// how much space the owner is allotted.
type Destination struct {
	ID             int64
	OwnerID        int64
	Login          string
	Folder         string
	HostAddr       string
	TotalMB        int64
	UsedMB         int64
	AuthLive       bool
	StreamPassword string
	Application    string
}

// Quota is a point-in-time read of an owner's allotted and consumed space.
type Quota struct {
	TotalMB int64
	UsedMB  int64
}

func (q Quota) AvailableMB() int64 {
	return q.TotalMB - q.UsedMB
}

// RelaySchedule is a persisted relay definition: either a live relay record or
// a recurring schedule waiting to fire. Weekdays uses 1=Monday..7=Sunday.
type RelaySchedule struct {
	ID           int64
	OwnerID      int64
	SourceURL    string
	RelayType    string
	Status       string
	Frequency    int
	OnDate       string // YYYY-MM-DD, one-time schedules only
	Hour         int
	Minute       int
	Weekdays     []int
	DurationCap  string
	SessionName  string
	ErrorDetails string
	StartedAt    time.Time
	EndedAt      time.Time
	CreatedAt    time.Time
}

// CatalogStore is the narrow catalog surface the download orchestrator needs.
type CatalogStore interface {
	InsertCatalogRecord(rec CatalogRecord) (int64, error)
	IncrementConsumedSpace(destinationID int64, megabytes int64) error
	ReadAvailableQuota(ownerID int64) (Quota, error)
	RecentDownloads(ownerID int64, limit int) ([]CatalogRecord, error)
}

// DestinationStore resolves destinations and owner login names.
type DestinationStore interface {
	ReadDestination(destinationID, ownerID int64) (Destination, error)
	// ReadOwnerDestination returns the owner's primary destination row.
	ReadOwnerDestination(ownerID int64) (Destination, error)
	// ResolveLoginName returns the owner's login, falling back to
	// "user_<ownerID>" when no destination row exists.
	ResolveLoginName(ownerID int64) string
}

// ScheduleStore is the persistence surface for relay records and schedules.
type ScheduleStore interface {
	CreateSchedule(s RelaySchedule) (int64, error)
	GetSchedule(id int64) (RelaySchedule, error)
	ListSchedules(ownerID int64) ([]RelaySchedule, error)
	DeleteSchedule(id, ownerID int64) error
	// DueScheduled returns every schedule currently in scheduled status with a
	// recurrence rule set.
	DueScheduled() ([]RelaySchedule, error)
	// ActiveRelay returns the owner's most recent record in active or error
	// status, or a NotFound error.
	ActiveRelay(ownerID int64) (RelaySchedule, error)
	UpdateStatus(id int64, status, errorDetails string) error
	SetSession(id int64, sessionName string) error
	// MarkActiveErrored flips every active record to error with the given
	// diagnostic. Used once per process at startup.
	MarkActiveErrored(details string) (int64, error)
}
