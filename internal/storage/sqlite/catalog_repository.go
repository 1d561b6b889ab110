package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/storage"
)

// CatalogRepository persists finished downloads and owner quota counters.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(dbConn *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: dbConn}
}

func (r *CatalogRepository) InsertCatalogRecord(rec storage.CatalogRecord) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO videos (owner_id, name, rel_path, remote_path, duration_secs, size_bytes, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.OwnerID, rec.Name, rec.RelPath, rec.RemotePath, rec.DurationSecs, rec.SizeBytes, rec.Origin, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to insert catalog record: %w", err)
	}

	return res.LastInsertId()
}

func (r *CatalogRepository) IncrementConsumedSpace(destinationID int64, megabytes int64) error {
	_, err := r.db.Exec(`UPDATE destinations SET used_mb = used_mb + ? WHERE id = ?`, megabytes, destinationID)

	return err
}

func (r *CatalogRepository) ReadAvailableQuota(ownerID int64) (storage.Quota, error) {
	var q storage.Quota

	err := r.db.QueryRow(`
		SELECT d.total_mb,
			COALESCE((SELECT SUM(size_bytes)/(1024*1024) FROM videos WHERE owner_id = ?), 0)
		FROM destinations d WHERE d.owner_id = ? LIMIT 1
	`, ownerID, ownerID).Scan(&q.TotalMB, &q.UsedMB)
	if err == sql.ErrNoRows {
		// owner without a destination row gets the default allotment
		return storage.Quota{TotalMB: 1000}, nil
	}

	if err != nil {
		return storage.Quota{}, err
	}

	return q, nil
}

func (r *CatalogRepository) RecentDownloads(ownerID int64, limit int) ([]storage.CatalogRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, owner_id, name, rel_path, remote_path, duration_secs, size_bytes, origin, created_at
		FROM videos WHERE owner_id = ? AND origin = 'youtube'
		ORDER BY created_at DESC LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.CatalogRecord

	for rows.Next() {
		var rec storage.CatalogRecord

		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.RelPath, &rec.RemotePath,
			&rec.DurationSecs, &rec.SizeBytes, &rec.Origin, &createdAt); err != nil {
			return nil, err
		}

		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		records = append(records, rec)
	}

	return records, rows.Err()
}

// DestinationRepository resolves destination rows and owner logins.
type DestinationRepository struct {
	db *sql.DB
}

func NewDestinationRepository(dbConn *sql.DB) *DestinationRepository {
	return &DestinationRepository{db: dbConn}
}

func (r *DestinationRepository) ReadDestination(destinationID, ownerID int64) (storage.Destination, error) {
	var d storage.Destination

	var authLive int

	var password, application sql.NullString

	err := r.db.QueryRow(`
		SELECT id, owner_id, login, folder, host_addr, total_mb, used_mb, auth_live, stream_password, application
		FROM destinations WHERE id = ? AND owner_id = ?
	`, destinationID, ownerID).Scan(&d.ID, &d.OwnerID, &d.Login, &d.Folder, &d.HostAddr,
		&d.TotalMB, &d.UsedMB, &authLive, &password, &application)
	if err == sql.ErrNoRows {
		return storage.Destination{}, &job.NotFoundError{Resource: "destination", ID: strconv.FormatInt(destinationID, 10)}
	}

	if err != nil {
		return storage.Destination{}, err
	}

	d.AuthLive = authLive == 1
	d.StreamPassword = password.String
	d.Application = application.String

	return d, nil
}

func (r *DestinationRepository) ReadOwnerDestination(ownerID int64) (storage.Destination, error) {
	var d storage.Destination

	var authLive int

	var password, application sql.NullString

	err := r.db.QueryRow(`
		SELECT id, owner_id, login, folder, host_addr, total_mb, used_mb, auth_live, stream_password, application
		FROM destinations WHERE owner_id = ? LIMIT 1
	`, ownerID).Scan(&d.ID, &d.OwnerID, &d.Login, &d.Folder, &d.HostAddr,
		&d.TotalMB, &d.UsedMB, &authLive, &password, &application)
	if err == sql.ErrNoRows {
		return storage.Destination{}, &job.NotFoundError{Resource: "destination", ID: strconv.FormatInt(ownerID, 10)}
	}

	if err != nil {
		return storage.Destination{}, err
	}

	d.AuthLive = authLive == 1
	d.StreamPassword = password.String
	d.Application = application.String

	return d, nil
}

func (r *DestinationRepository) ResolveLoginName(ownerID int64) string {
	var login sql.NullString

	err := r.db.QueryRow(`SELECT login FROM destinations WHERE owner_id = ? LIMIT 1`, ownerID).Scan(&login)
	if err != nil || !login.Valid || login.String == "" {
		return fmt.Sprintf("user_%d", ownerID)
	}

	return login.String
}
