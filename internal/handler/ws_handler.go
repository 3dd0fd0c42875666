package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
	ws "github.com/stemsi/exstem-guard/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs the student's attempt stream: the same writes as the REST
// routes over one socket.
type WSHandler struct {
	attemptService *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, monitorService *service.MonitorService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		monitorService: monitorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// streamConn carries what every action needs.
type streamConn struct {
	conn       *websocket.Conn
	attemptID  uuid.UUID
	studentID  int
	deviceHash string
	log        zerolog.Logger
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// The attempt must be IN_PROGRESS with a live session on this device before
// the upgrade.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	state, err := h.attemptService.GetState(ctx, attemptID, claims.UserID, device.DeviceHash)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	if state.Status != model.AttemptInProgress {
		response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
		return
	}
	if state.SessionState != model.ActiveSessionActive {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionExpired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &streamConn{
		conn:       conn,
		attemptID:  attemptID,
		studentID:  claims.UserID,
		deviceHash: device.DeviceHash,
		log: h.log.With().
			Int("student_id", claims.UserID).
			Str("attempt_id", attemptID.String()).
			Logger(),
	}

	sc.log.Info().Msg("Student connected")
	_ = ws.WriteMessage(conn, ws.EventState, "", state)

	for {
		raw, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				sc.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			_ = ws.WriteError(conn, "", string(response.ErrInvalidPayload), "malformed message")
			continue
		}

		if done := h.dispatch(ctx, sc, env, raw); done {
			return
		}
	}
}

// dispatch handles one client frame and reports whether the stream is over.
func (h *WSHandler) dispatch(ctx context.Context, sc *streamConn, env ws.RequestEnvelope, raw []byte) bool {
	switch env.Action {
	case ws.ActionPing:
		_ = ws.WriteMessage(sc.conn, ws.EventPong, env.Ref, nil)
		return false

	case ws.ActionHeartbeat:
		state, err := h.attemptService.Heartbeat(ctx, sc.attemptID, sc.studentID, sc.deviceHash)
		if err != nil {
			return h.fail(sc, env.Ref, err)
		}
		_ = ws.WriteMessage(sc.conn, ws.EventState, env.Ref, state)
		return false

	case ws.ActionAutosave, ws.ActionFinalize:
		var req ws.AnswerRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.QuestionID == uuid.Nil {
			_ = ws.WriteError(sc.conn, env.Ref, string(response.ErrValidation), "q_id is required")
			return false
		}
		write := h.attemptService.AutoSave
		if env.Action == ws.ActionFinalize {
			write = h.attemptService.FinalizeAnswer
		}
		resp, err := write(ctx, sc.attemptID, req.QuestionID, sc.studentID, sc.deviceHash, req.Answer)
		if err != nil {
			return h.fail(sc, env.Ref, err)
		}
		_ = ws.WriteMessage(sc.conn, ws.EventSaved, env.Ref, toResponseView(resp))
		return false

	case ws.ActionEvent:
		var req ws.EventRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = ws.WriteError(sc.conn, env.Ref, string(response.ErrInvalidPayload), "malformed event")
			return false
		}
		ev, err := h.monitorService.RecordForStudent(ctx, sc.attemptID, sc.studentID, sc.deviceHash, model.RecordEventRequest{
			EventType: req.EventType,
			Severity:  req.Severity,
			Evidence:  req.Evidence,
		})
		if err != nil {
			return h.fail(sc, env.Ref, err)
		}
		_ = ws.WriteMessage(sc.conn, ws.EventRecorded, env.Ref, map[string]uuid.UUID{"event_id": ev.ID})
		return false

	case ws.ActionSubmit:
		summary, err := h.attemptService.Submit(ctx, sc.attemptID, sc.studentID, sc.deviceHash)
		if err != nil {
			return h.fail(sc, env.Ref, err)
		}
		sc.log.Info().Str("status", string(summary.Attempt.Status)).Msg("Attempt submitted over stream")
		_ = ws.WriteMessage(sc.conn, ws.EventSubmitted, env.Ref, SubmitView{
			Attempt:    toAttemptView(summary.Attempt),
			Answered:   summary.Answered,
			Unanswered: summary.Unanswered,
		})
		return true

	default:
		sc.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = ws.WriteError(sc.conn, env.Ref, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		return false
	}
}

// fail reports a service error on the socket. Errors that leave the attempt
// unusable from this connection end the stream.
func (h *WSHandler) fail(sc *streamConn, ref string, err error) bool {
	_, code := classify(err)
	if code == response.ErrInternal {
		sc.log.Error().Err(err).Msg("Stream action failed")
	}
	_ = ws.WriteError(sc.conn, ref, string(code), response.GetMessage(code))

	return errors.Is(err, service.ErrSessionExpired) ||
		errors.Is(err, service.ErrAttemptClosed) ||
		errors.Is(err, service.ErrDeviceMismatch)
}
