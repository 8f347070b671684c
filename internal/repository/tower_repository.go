package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

const towerColumns = `id, mcc, mnc, lac, cid, lat, lon, radio, range_m, address, created_at, updated_at`

// TowerRepository handles database operations for cached cell towers
type TowerRepository struct {
	db *sql.DB
}

// NewTowerRepository creates a new tower repository
func NewTowerRepository(db *sql.DB) *TowerRepository {
	return &TowerRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTower(row rowScanner) (*models.TowerRecord, error) {
	var rec models.TowerRecord
	var createdAt, updatedAt int64
	err := row.Scan(
		&rec.ID, &rec.MCC, &rec.MNC, &rec.LAC, &rec.CID,
		&rec.Lat, &rec.Lon, &rec.Radio, &rec.RangeMeters, &rec.Address,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

// Get returns the cached tower, or nil when it is not cached
func (r *TowerRepository) Get(ctx context.Context, id models.TowerIdentifier) (*models.TowerRecord, error) {
	query := `SELECT ` + towerColumns + ` FROM bts_stations
		WHERE mcc = ? AND mnc = ? AND lac = ? AND cid = ?`

	rec, err := scanTower(r.db.QueryRowContext(ctx, query, id.MCC, id.MNC, id.LAC, id.CID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tower %s: %w", id.Key(), err)
	}
	return rec, nil
}

const insertTowerQuery = `INSERT INTO bts_stations
	(mcc, mnc, lac, cid, lat, lon, radio, range_m, address, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (mcc, mnc, lac, cid) DO NOTHING`

// InsertIfAbsent writes rec unless a record with the same identifier exists.
// Returns false when the existing record was kept.
func (r *TowerRepository) InsertIfAbsent(ctx context.Context, rec *models.TowerRecord) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := r.db.ExecContext(ctx, insertTowerQuery,
		rec.MCC, rec.MNC, rec.LAC, rec.CID, rec.Lat, rec.Lon,
		rec.Radio, rec.RangeMeters, rec.Address, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert tower %s: %w", rec.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// BulkInsertIgnore writes a batch in a single transaction, skipping identifiers
// already present. Returns the number of rows actually inserted.
func (r *TowerRepository) BulkInsertIgnore(ctx context.Context, recs []models.TowerRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertTowerQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	inserted := 0
	for i := range recs {
		rec := &recs[i]
		res, err := stmt.ExecContext(ctx,
			rec.MCC, rec.MNC, rec.LAC, rec.CID, rec.Lat, rec.Lon,
			rec.Radio, rec.RangeMeters, rec.Address, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert tower %s: %w", rec.Key(), err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tower batch: %w", err)
	}
	return inserted, nil
}

// ListMissingAddress returns up to limit towers with an empty address whose
// last failed geocoding attempt is older than retryBefore.
func (r *TowerRepository) ListMissingAddress(ctx context.Context, limit int, retryBefore time.Time) ([]models.TowerRecord, error) {
	query := `SELECT ` + towerColumns + ` FROM bts_stations
		WHERE address = '' AND (geocode_attempted_at IS NULL OR geocode_attempted_at < ?)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, retryBefore.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query towers without address: %w", err)
	}
	defer rows.Close()

	var towers []models.TowerRecord
	for rows.Next() {
		rec, err := scanTower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tower: %w", err)
		}
		towers = append(towers, *rec)
	}
	return towers, rows.Err()
}

// UpdateAddress sets the address of a tower that has none yet. Coordinates are
// never touched. Returns false when the tower is missing or already has one.
func (r *TowerRepository) UpdateAddress(ctx context.Context, id models.TowerIdentifier, address string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE bts_stations
		SET address = ?, updated_at = ?
		WHERE mcc = ? AND mnc = ? AND lac = ? AND cid = ? AND address = ''`,
		address, time.Now().UnixMilli(), id.MCC, id.MNC, id.LAC, id.CID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update address of tower %s: %w", id.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkGeocodeAttempt records a failed geocoding attempt so later batches skip the tower for a while
func (r *TowerRepository) MarkGeocodeAttempt(ctx context.Context, id models.TowerIdentifier, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bts_stations SET geocode_attempted_at = ?
		WHERE mcc = ? AND mnc = ? AND lac = ? AND cid = ?`,
		at.UnixMilli(), id.MCC, id.MNC, id.LAC, id.CID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark geocode attempt for tower %s: %w", id.Key(), err)
	}
	return nil
}

// InBoundingBox returns the towers inside box, edges included
func (r *TowerRepository) InBoundingBox(ctx context.Context, box models.BoundingBox) ([]models.TowerRecord, error) {
	query := `SELECT ` + towerColumns + ` FROM bts_stations
		WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query towers in bounding box: %w", err)
	}
	defer rows.Close()

	towers := []models.TowerRecord{}
	for rows.Next() {
		rec, err := scanTower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tower: %w", err)
		}
		towers = append(towers, *rec)
	}
	return towers, rows.Err()
}

// Count returns the number of cached towers
func (r *TowerRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bts_stations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count towers: %w", err)
	}
	return n, nil
}
