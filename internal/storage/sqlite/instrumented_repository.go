package sqlite

import (
	"context"
	"database/sql"

	"github.com/streamforge/media_orchestrator/internal/storage"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

// InstrumentedScheduleRepository wraps ScheduleRepository with telemetry.
type InstrumentedScheduleRepository struct {
	repo      *ScheduleRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedScheduleRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedScheduleRepository {
	return &InstrumentedScheduleRepository{
		repo:      NewScheduleRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedScheduleRepository) CreateSchedule(s storage.RelaySchedule) (int64, error) {
	var id int64

	err := r.telemetry.InstrumentDBOperation(context.Background(), "create_schedule", func(context.Context) error {
		var err error
		id, err = r.repo.CreateSchedule(s)

		return err
	})

	return id, err
}

func (r *InstrumentedScheduleRepository) GetSchedule(id int64) (storage.RelaySchedule, error) {
	var rec storage.RelaySchedule

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_schedule", func(context.Context) error {
		var err error
		rec, err = r.repo.GetSchedule(id)

		return err
	})

	return rec, err
}

func (r *InstrumentedScheduleRepository) ListSchedules(ownerID int64) ([]storage.RelaySchedule, error) {
	var recs []storage.RelaySchedule

	err := r.telemetry.InstrumentDBOperation(context.Background(), "list_schedules", func(context.Context) error {
		var err error
		recs, err = r.repo.ListSchedules(ownerID)

		return err
	})

	return recs, err
}

func (r *InstrumentedScheduleRepository) DeleteSchedule(id, ownerID int64) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "delete_schedule", func(context.Context) error {
		return r.repo.DeleteSchedule(id, ownerID)
	})
}

func (r *InstrumentedScheduleRepository) DueScheduled() ([]storage.RelaySchedule, error) {
	var recs []storage.RelaySchedule

	err := r.telemetry.InstrumentDBOperation(context.Background(), "due_scheduled", func(context.Context) error {
		var err error
		recs, err = r.repo.DueScheduled()

		return err
	})

	return recs, err
}

func (r *InstrumentedScheduleRepository) ActiveRelay(ownerID int64) (storage.RelaySchedule, error) {
	var rec storage.RelaySchedule

	err := r.telemetry.InstrumentDBOperation(context.Background(), "active_relay", func(context.Context) error {
		var err error
		rec, err = r.repo.ActiveRelay(ownerID)

		return err
	})

	return rec, err
}

func (r *InstrumentedScheduleRepository) UpdateStatus(id int64, status, errorDetails string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "update_status", func(context.Context) error {
		return r.repo.UpdateStatus(id, status, errorDetails)
	})
}

func (r *InstrumentedScheduleRepository) SetSession(id int64, sessionName string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "set_session", func(context.Context) error {
		return r.repo.SetSession(id, sessionName)
	})
}

func (r *InstrumentedScheduleRepository) MarkActiveErrored(details string) (int64, error) {
	var n int64

	err := r.telemetry.InstrumentDBOperation(context.Background(), "mark_active_errored", func(context.Context) error {
		var err error
		n, err = r.repo.MarkActiveErrored(details)

		return err
	})

	return n, err
}

// InstrumentedCatalogRepository wraps CatalogRepository with telemetry.
type InstrumentedCatalogRepository struct {
	repo      *CatalogRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedCatalogRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCatalogRepository {
	return &InstrumentedCatalogRepository{
		repo:      NewCatalogRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedCatalogRepository) InsertCatalogRecord(rec storage.CatalogRecord) (int64, error) {
	var id int64

	err := r.telemetry.InstrumentDBOperation(context.Background(), "insert_catalog_record", func(context.Context) error {
		var err error
		id, err = r.repo.InsertCatalogRecord(rec)

		return err
	})

	return id, err
}

func (r *InstrumentedCatalogRepository) IncrementConsumedSpace(destinationID int64, megabytes int64) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "increment_consumed_space", func(context.Context) error {
		return r.repo.IncrementConsumedSpace(destinationID, megabytes)
	})
}

func (r *InstrumentedCatalogRepository) ReadAvailableQuota(ownerID int64) (storage.Quota, error) {
	var q storage.Quota

	err := r.telemetry.InstrumentDBOperation(context.Background(), "read_available_quota", func(context.Context) error {
		var err error
		q, err = r.repo.ReadAvailableQuota(ownerID)

		return err
	})

	return q, err
}

func (r *InstrumentedCatalogRepository) RecentDownloads(ownerID int64, limit int) ([]storage.CatalogRecord, error) {
	var recs []storage.CatalogRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "recent_downloads", func(context.Context) error {
		var err error
		recs, err = r.repo.RecentDownloads(ownerID, limit)

		return err
	})

	return recs, err
}
