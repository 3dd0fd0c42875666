package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/service"
)

// SweepBatch bounds how many rows one tick touches per sweep.
const SweepBatch = 200

// ExpirySweeper applies the time-based transitions nobody asked for yet:
// exhausted attempts, lapsed sessions and idle devices. Every transition also
// happens lazily on the next request, so the sweeper only keeps reads fresh.
type ExpirySweeper struct {
	attempts *service.AttemptService
	devices  *service.DeviceService
	interval time.Duration
	log      zerolog.Logger
}

func NewExpirySweeper(attempts *service.AttemptService, devices *service.DeviceService, interval time.Duration, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		attempts: attempts,
		devices:  devices,
		interval: interval,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start blocks until ctx is cancelled. A zero interval disables the sweeper.
func (w *ExpirySweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info().Msg("ExpirySweeper disabled")
		return
	}
	w.log.Info().Dur("interval", w.interval).Msg("ExpirySweeper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpirySweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass.
func (w *ExpirySweeper) Sweep(ctx context.Context) {
	submitted, err := w.attempts.SweepExpired(ctx, SweepBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Attempt sweep failed")
	}
	expired, err := w.attempts.ExpireLapsedSessions(ctx, SweepBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Session sweep failed")
	}
	var idle int64
	if w.devices != nil {
		idle, err = w.devices.DeactivateIdle(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("Device sweep failed")
		}
	}

	if submitted+expired > 0 || idle > 0 {
		w.log.Info().
			Int("auto_submitted", submitted).
			Int("sessions_expired", expired).
			Int64("devices_deactivated", idle).
			Msg("Sweep complete")
	}
}
