package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/config"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports liveness of the service and its backing stores.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status      string `json:"status"`
	Postgres    string `json:"postgres"`
	Redis       string `json:"redis"`
	EventQueue  int64  `json:"event_queue"`
	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	Uptime      string `json:"uptime"`
	GoVersion   string `json:"go_version"`
	CheckedAtMS int64  `json:"checked_at_ms"`
}

// Health godoc
// GET /health
// 200 when Postgres and Redis answer, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	rep := healthReport{
		Status:      "ok",
		Postgres:    "ok",
		Redis:       "ok",
		Goroutines:  runtime.NumGoroutine(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		GoVersion:   runtime.Version(),
		CheckedAtMS: time.Now().UnixMilli(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rep.HeapAlloc = ms.HeapAlloc

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Postgres health check failed")
			rep.Postgres = "down"
			rep.Status = "degraded"
		}
	}
	if h.rdb != nil {
		pipe := h.rdb.Pipeline()
		ping := pipe.Ping(ctx)
		depth := pipe.LLen(ctx, config.WorkerKey.PersistEventsQueue)
		_, _ = pipe.Exec(ctx)
		if ping.Err() != nil {
			h.log.Warn().Err(ping.Err()).Msg("Redis health check failed")
			rep.Redis = "down"
			rep.Status = "degraded"
		} else {
			rep.EventQueue, _ = depth.Result()
		}
	}

	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}
