package sqlite

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/storage"
)

// ScheduleRepository persists relay records and their recurrence rules.
type ScheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(dbConn *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: dbConn}
}

const scheduleColumns = `id, owner_id, source_url, relay_type, status, frequency,
	on_date, hour, minute, days, duration_cap, session_name, error_details,
	started_at, ended_at, created_at`

func (r *ScheduleRepository) CreateSchedule(s storage.RelaySchedule) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO relay_config (owner_id, source_url, relay_type, status, frequency,
			on_date, hour, minute, days, duration_cap, session_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.OwnerID, s.SourceURL, s.RelayType, s.Status, s.Frequency,
		s.OnDate, s.Hour, s.Minute, joinWeekdays(s.Weekdays), s.DurationCap,
		s.SessionName, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *ScheduleRepository) GetSchedule(id int64) (storage.RelaySchedule, error) {
	row := r.db.QueryRow(`SELECT `+scheduleColumns+` FROM relay_config WHERE id = ?`, id)

	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return storage.RelaySchedule{}, &job.NotFoundError{Resource: "schedule", ID: strconv.FormatInt(id, 10)}
	}

	return s, err
}

func (r *ScheduleRepository) ListSchedules(ownerID int64) ([]storage.RelaySchedule, error) {
	rows, err := r.db.Query(`
		SELECT `+scheduleColumns+` FROM relay_config
		WHERE owner_id = ? ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func (r *ScheduleRepository) DeleteSchedule(id, ownerID int64) error {
	res, err := r.db.Exec(`DELETE FROM relay_config WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return &job.NotFoundError{Resource: "schedule", ID: strconv.FormatInt(id, 10)}
	}

	return nil
}

func (r *ScheduleRepository) DueScheduled() ([]storage.RelaySchedule, error) {
	rows, err := r.db.Query(`
		SELECT ` + scheduleColumns + ` FROM relay_config
		WHERE status = 'scheduled' AND frequency > 0 LIMIT 100
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func (r *ScheduleRepository) ActiveRelay(ownerID int64) (storage.RelaySchedule, error) {
	row := r.db.QueryRow(`
		SELECT `+scheduleColumns+` FROM relay_config
		WHERE owner_id = ? AND status IN ('starting', 'active', 'error')
		ORDER BY started_at DESC LIMIT 1
	`, ownerID)

	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return storage.RelaySchedule{}, &job.NotFoundError{Resource: "relay", ID: strconv.FormatInt(ownerID, 10)}
	}

	return s, err
}

func (r *ScheduleRepository) UpdateStatus(id int64, status, errorDetails string) error {
	now := time.Now().Format(time.RFC3339)

	var err error

	switch status {
	case storage.ScheduleStatusActive, storage.ScheduleStatusStarting:
		_, err = r.db.Exec(`UPDATE relay_config SET status = ?, error_details = ?, started_at = ? WHERE id = ?`,
			status, errorDetails, now, id)
	case storage.ScheduleStatusInactive:
		_, err = r.db.Exec(`UPDATE relay_config SET status = ?, error_details = ?, ended_at = ? WHERE id = ?`,
			status, errorDetails, now, id)
	default:
		_, err = r.db.Exec(`UPDATE relay_config SET status = ?, error_details = ? WHERE id = ?`,
			status, errorDetails, id)
	}

	return err
}

func (r *ScheduleRepository) SetSession(id int64, sessionName string) error {
	_, err := r.db.Exec(`UPDATE relay_config SET session_name = ? WHERE id = ?`, sessionName, id)

	return err
}

func (r *ScheduleRepository) MarkActiveErrored(details string) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE relay_config SET status = 'error', error_details = ?
		WHERE status IN ('starting', 'active')
	`, details)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (storage.RelaySchedule, error) {
	var s storage.RelaySchedule

	var onDate, days, durationCap, sessionName, errDetails sql.NullString

	var startedAt, endedAt, createdAt sql.NullString

	err := row.Scan(&s.ID, &s.OwnerID, &s.SourceURL, &s.RelayType, &s.Status, &s.Frequency,
		&onDate, &s.Hour, &s.Minute, &days, &durationCap, &sessionName, &errDetails,
		&startedAt, &endedAt, &createdAt)
	if err != nil {
		return storage.RelaySchedule{}, err
	}

	s.OnDate = onDate.String
	s.Weekdays = splitWeekdays(days.String)
	s.DurationCap = durationCap.String
	s.SessionName = sessionName.String
	s.ErrorDetails = errDetails.String
	s.StartedAt = parseTime(startedAt)
	s.EndedAt = parseTime(endedAt)
	s.CreatedAt = parseTime(createdAt)

	return s, nil
}

func collectSchedules(rows *sql.Rows) ([]storage.RelaySchedule, error) {
	var schedules []storage.RelaySchedule

	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}

		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}

	t, _ := time.Parse(time.RFC3339, v.String)

	return t
}

// Weekday sets are stored as a comma-delimited list, e.g. "1,3,5".
func joinWeekdays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}

	return strings.Join(parts, ",")
}

func splitWeekdays(csv string) []int {
	if csv == "" {
		return nil
	}

	var days []int

	for _, part := range strings.Split(csv, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		days = append(days, d)
	}

	return days
}
