package repository

import (
	"context"
	"time"

	"github.com/stemsi/exstem-guard/internal/model"
)

// DeviceSessionRepository persists device fingerprints.
type DeviceSessionRepository struct {
	db DBTX
}

// NewDeviceSessionRepository creates a new DeviceSessionRepository.
func NewDeviceSessionRepository(db DBTX) *DeviceSessionRepository {
	return &DeviceSessionRepository{db: db}
}

// GetByUserAndHash retrieves the device row for a (user, hash) pair.
func (r *DeviceSessionRepository) GetByUserAndHash(ctx context.Context, userID int, deviceHash string) (*model.DeviceSession, error) {
	d := &model.DeviceSession{}
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, device_hash, browser, os, device_type, user_agent,
		        ip_address, first_seen, last_activity, is_active
		 FROM device_sessions
		 WHERE user_id = $1 AND device_hash = $2`, userID, deviceHash,
	).Scan(&d.ID, &d.UserID, &d.DeviceHash, &d.Browser, &d.OS, &d.DeviceType, &d.UserAgent,
		&d.IPAddress, &d.FirstSeen, &d.LastActivity, &d.IsActive)
	if err != nil {
		return nil, mapErr(err)
	}
	return d, nil
}

// Create inserts a new device row. A concurrent insert for the same
// (user, hash) surfaces as ErrUniqueViolation.
func (r *DeviceSessionRepository) Create(ctx context.Context, d *model.DeviceSession) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO device_sessions (id, user_id, device_hash, browser, os, device_type,
		                              user_agent, ip_address, first_seen, last_activity, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.UserID, d.DeviceHash, d.Browser, d.OS, d.DeviceType,
		d.UserAgent, d.IPAddress, d.FirstSeen, d.LastActivity, d.IsActive,
	)
	return mapErr(err)
}

// Update refreshes liveness and metadata.
func (r *DeviceSessionRepository) Update(ctx context.Context, d *model.DeviceSession) error {
	_, err := r.db.Exec(ctx,
		`UPDATE device_sessions
		 SET ip_address = $1, last_activity = $2, is_active = $3
		 WHERE id = $4`,
		d.IPAddress, d.LastActivity, d.IsActive, d.ID,
	)
	return mapErr(err)
}

// DeactivateIdle soft-deletes devices idle since before.
func (r *DeviceSessionRepository) DeactivateIdle(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE device_sessions SET is_active = FALSE
		 WHERE is_active AND last_activity < $1`, before,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
