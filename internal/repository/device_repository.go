package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

const deviceColumns = `id, device_code, phone_number, display_name, is_active, last_seen_at, created_at`

// DeviceRepository handles database operations for devices
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var phone sql.NullString
	var lastSeen sql.NullInt64
	var createdAt int64
	if err := row.Scan(&d.ID, &d.DeviceCode, &phone, &d.DisplayName, &d.IsActive, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	d.PhoneNumber = phone.String
	if lastSeen.Valid {
		t := time.UnixMilli(lastSeen.Int64).UTC()
		d.LastSeenAt = &t
	}
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &d, nil
}

// GetByID returns the device, or nil when it does not exist
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", id, err)
	}
	return d, nil
}

// GetByPhone returns the device registered with phone, or nil
func (r *DeviceRepository) GetByPhone(ctx context.Context, phone string) (*models.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE phone_number = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device by phone: %w", err)
	}
	return d, nil
}

// UpsertByPhone returns the device for phone, creating it on first sight
// with the phone as its display name. An existing device is re-activated.
func (r *DeviceRepository) UpsertByPhone(ctx context.Context, phone string) (*models.Device, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO devices (id, device_code, phone_number, display_name, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (phone_number) DO UPDATE SET is_active = 1`,
		uuid.NewString(), models.AutoDeviceCode(phone), phone, phone, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device by phone: %w", err)
	}

	d, err := r.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("device for phone vanished after upsert")
	}
	return d, nil
}

// Create inserts a new device and fills in its generated id
func (r *DeviceRepository) Create(ctx context.Context, d *models.Device) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	var phone any
	if d.PhoneNumber != "" {
		phone = d.PhoneNumber
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO devices (id, device_code, phone_number, display_name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.DeviceCode, phone, d.DisplayName, d.IsActive, d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// TouchTx sets last_seen_at inside the caller's transaction
func (r *DeviceRepository) TouchTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE devices SET last_seen_at = ?, is_active = 1 WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to touch device %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to touch device %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// List returns all devices ordered by device code
func (r *DeviceRepository) List(ctx context.Context) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY device_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}
