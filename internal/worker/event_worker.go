package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventSink persists drained monitoring events. *repository.PostgresStore
// satisfies it.
type EventSink interface {
	CopyMonitoringEvents(ctx context.Context, events []*model.MonitoringEvent) (int64, error)
	MonitoringEvents() repository.MonitoringEvents
}

// EventWorker drains the telemetry queue filled by MonitorService and writes
// the events in batches.
type EventWorker struct {
	sink EventSink
	rdb  *redis.Client
	log  zerolog.Logger

	requeueBackoff time.Duration
}

func NewEventWorker(sink EventSink, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		sink:           sink,
		rdb:            rdb,
		log:            log.With().Str("component", "event_worker").Logger(),
		requeueBackoff: 2 * time.Second,
	}
}

func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]*model.MonitoringEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop returns immediately when the queue has data.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		ev, err := decodeEvent([]byte(result[1]))
		if err != nil {
			// Malformed payloads can never succeed; drop them.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}
		buffer = append(buffer, ev)
	}
}

func decodeEvent(raw []byte) (*model.MonitoringEvent, error) {
	var ev model.MonitoringEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.ReviewedStatus == "" {
		ev.ReviewedStatus = model.ReviewPending
	}
	if len(ev.Evidence) == 0 {
		ev.Evidence = json.RawMessage(`{}`)
	}
	return &ev, nil
}

// flushSafe tries COPY first, then row-by-row, then requeues what is left.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*model.MonitoringEvent) {
	if len(batch) == 0 {
		return
	}
	_, err := w.sink.CopyMonitoringEvents(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Events persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	if failed := w.fallbackInsert(ctx, batch); len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

// fallbackInsert writes events one at a time and returns those worth retrying.
// An event that already exists was written by an earlier partial flush.
func (w *EventWorker) fallbackInsert(ctx context.Context, batch []*model.MonitoringEvent) []*model.MonitoringEvent {
	var failed []*model.MonitoringEvent
	repo := w.sink.MonitoringEvents()
	for _, ev := range batch {
		err := repo.Create(ctx, ev)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrUniqueViolation):
			w.log.Debug().Str("event_id", ev.ID.String()).Msg("Event already persisted")
		default:
			w.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, ev)
		}
	}
	return failed
}

func (w *EventWorker) requeue(ctx context.Context, items []*model.MonitoringEvent) {
	if w.rdb == nil {
		w.log.Error().Int("count", len(items)).Msg("No queue to requeue into, events dropped")
		return
	}
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events")
	// Avoid thrashing while the database is down.
	time.Sleep(w.requeueBackoff)
}

func (w *EventWorker) shutdown(buffer []*model.MonitoringEvent) {
	w.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}
