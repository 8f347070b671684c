package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 5000
)

// LocationRepository handles device positions and the tower observations recorded with them
type LocationRepository struct {
	db *sql.DB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *sql.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Latest returns the most recent persisted sample for a device, or nil
func (r *LocationRepository) Latest(ctx context.Context, deviceID string) (*models.LocationSample, error) {
	var s models.LocationSample
	var recordedAt int64
	err := r.db.QueryRowContext(ctx, `SELECT id, device_id, latitude, longitude, address, recorded_at
		FROM location_history
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`, deviceID,
	).Scan(&s.ID, &s.DeviceID, &s.Lat, &s.Lon, &s.Address, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest location of %s: %w", deviceID, err)
	}
	s.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return &s, nil
}

// InsertSampleTx writes the sample and its observations inside the caller's transaction
func (r *LocationRepository) InsertSampleTx(ctx context.Context, tx *sql.Tx, sample *models.LocationSample, observations []models.TowerObservation) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO location_history (device_id, latitude, longitude, address, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		sample.DeviceID, sample.Lat, sample.Lon, sample.Address, sample.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert location sample: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sample.ID = id
	}

	if len(observations) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cell_tower_history
		(device_id, radio, mcc, mnc, lac, cid, signal_strength, signal_dbm, pci, is_serving, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for i := range observations {
		o := &observations[i]
		res, err := stmt.ExecContext(ctx,
			o.DeviceID, o.Radio, o.MCC, o.MNC, o.LAC, o.CID,
			nullableInt(o.SignalStrength), nullableInt(o.SignalDBM), nullableInt(o.PCI),
			o.IsServing, o.RecordedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert tower observation %s: %w", o.Key(), err)
		}
		if id, err := res.LastInsertId(); err == nil {
			o.ID = id
		}
	}
	return nil
}

// History returns samples for a device in [start, end], oldest first.
// Zero start or end leaves that side open.
func (r *LocationRepository) History(ctx context.Context, deviceID string, filter models.HistoryFilter) ([]models.LocationSample, error) {
	query := `SELECT id, device_id, latitude, longitude, address, recorded_at
		FROM location_history WHERE device_id = ?`
	args := []any{deviceID}

	if !filter.Start.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, filter.Start.UnixMilli())
	}
	if !filter.End.IsZero() {
		query += " AND recorded_at <= ?"
		args = append(args, filter.End.UnixMilli())
	}

	limit := filter.Limit
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	query += " ORDER BY recorded_at ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	defer rows.Close()

	samples := []models.LocationSample{}
	for rows.Next() {
		var s models.LocationSample
		var recordedAt int64
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Lat, &s.Lon, &s.Address, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location sample: %w", err)
		}
		s.RecordedAt = time.UnixMilli(recordedAt).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// ObservationsBetween returns tower observations for a device in [start, end], oldest first
func (r *LocationRepository) ObservationsBetween(ctx context.Context, deviceID string, start, end time.Time) ([]models.TowerObservation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+observationColumns+`
		FROM cell_tower_history
		WHERE device_id = ? AND recorded_at BETWEEN ? AND ?
		ORDER BY recorded_at ASC, id ASC`,
		deviceID, start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tower observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// LatestObservationBatch returns every observation sharing the most recent
// recorded_at for the device. Empty when the device has none.
func (r *LocationRepository) LatestObservationBatch(ctx context.Context, deviceID string) ([]models.TowerObservation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+observationColumns+`
		FROM cell_tower_history
		WHERE device_id = ? AND recorded_at = (
			SELECT MAX(recorded_at) FROM cell_tower_history WHERE device_id = ?
		)
		ORDER BY id ASC`,
		deviceID, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest tower observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

const observationColumns = `id, device_id, radio, mcc, mnc, lac, cid, signal_strength, signal_dbm, pci, is_serving, recorded_at`

func scanObservations(rows *sql.Rows) ([]models.TowerObservation, error) {
	out := []models.TowerObservation{}
	for rows.Next() {
		var o models.TowerObservation
		var signal, dbm, pci sql.NullInt64
		var recordedAt int64
		err := rows.Scan(&o.ID, &o.DeviceID, &o.Radio, &o.MCC, &o.MNC, &o.LAC, &o.CID,
			&signal, &dbm, &pci, &o.IsServing, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tower observation: %w", err)
		}
		o.SignalStrength = intPtr(signal)
		o.SignalDBM = intPtr(dbm)
		o.PCI = intPtr(pci)
		o.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
