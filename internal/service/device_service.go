package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

// DeviceService resolves request fingerprints into device sessions.
type DeviceService struct {
	store   repository.Store
	secret  string
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(store repository.Store, secret string, timeout time.Duration, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		store:   store,
		secret:  secret,
		timeout: timeout,
		log:     log.With().Str("component", "device_service").Logger(),
		now:     time.Now,
	}
}

// Resolve finds or creates the device session for a user and refreshes its
// liveness. Refreshing a device never extends an exam session.
func (s *DeviceService) Resolve(ctx context.Context, userID int, sig model.DeviceSignal) (*model.DeviceSession, error) {
	hash := sig.Hash(s.secret)
	now := s.now()
	repo := s.store.DeviceSessions()

	d, err := repo.GetByUserAndHash(ctx, userID, hash)
	if err == nil {
		if d.ShouldTimeout(now, s.timeout) || !d.IsActive {
			s.log.Debug().Int("user_id", userID).Str("device_id", d.ID.String()).Msg("Device returned after timeout")
		}
		d.Touch(sig.IPAddress, now)
		if err := repo.Update(ctx, d); err != nil {
			return nil, fmt.Errorf("refresh device: %w", err)
		}
		return d, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get device: %w", err)
	}

	browser, os, deviceType := sig.Describe()
	d = &model.DeviceSession{
		ID:           uuid.New(),
		UserID:       userID,
		DeviceHash:   hash,
		Browser:      browser,
		OS:           os,
		DeviceType:   deviceType,
		UserAgent:    sig.UserAgent,
		IPAddress:    sig.IPAddress,
		FirstSeen:    now,
		LastActivity: now,
		IsActive:     true,
	}
	if err := repo.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			// Lost a race with a parallel request from the same browser.
			return repo.GetByUserAndHash(ctx, userID, hash)
		}
		return nil, fmt.Errorf("create device: %w", err)
	}

	s.log.Info().Int("user_id", userID).Str("device_id", d.ID.String()).
		Str("browser", browser).Str("os", os).Msg("New device registered")
	return d, nil
}

// DeactivateIdle soft-deletes devices idle longer than the timeout.
func (s *DeviceService) DeactivateIdle(ctx context.Context) (int64, error) {
	return s.store.DeviceSessions().DeactivateIdle(ctx, s.now().Add(-s.timeout))
}
