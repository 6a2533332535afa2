package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"socialwall/internal/hub"
	"socialwall/internal/presence"
	"socialwall/internal/router"
	"socialwall/internal/session"
	"socialwall/pkg/types"
)

var tracer = otel.Tracer("socialwall/websocket")

// Handler admits websocket connections and pumps client frames into the hub.
type Handler struct {
	gatekeeper *session.Gatekeeper
	hub        *hub.Hub
	cfg        Config
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	rejections RejectionRecorder
	closed     atomic.Bool
}

// RejectionRecorder counts handshakes refused before the upgrade.
type RejectionRecorder interface {
	HandshakeRejected(status int)
}

var (
	_ hub.Transport = (*Handler)(nil)
	_ hub.Reopener  = (*Handler)(nil)
)

// NewHandler creates the transport handler.
func NewHandler(gatekeeper *session.Gatekeeper, h *hub.Hub, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	handler := &Handler{
		gatekeeper: gatekeeper,
		hub:        h,
		cfg:        cfg,
		logger:     logger.With("component", "websocket"),
	}
	handler.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      handler.checkOrigin,
	}
	return handler
}

// SetRejectionRecorder installs a recorder for refused handshakes.
func (h *Handler) SetRejectionRecorder(r RejectionRecorder) {
	h.rejections = r
}

// Register mounts the unscoped and class-scoped endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", h)
	mux.Handle("GET /ws/{namespace}", h)
}

// Close stops accepting new connections. Live connections are closed by the
// hub.
func (h *Handler) Close() error {
	h.closed.Store(true)
	return nil
}

// Reopen accepts connections again after Close. The hub calls it from
// Initialize.
func (h *Handler) Reopen() {
	h.closed.Store(false)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Status: status})
}

func (h *Handler) reject(w http.ResponseWriter, status int, message string) {
	if h.rejections != nil {
		h.rejections.HandshakeRejected(status)
	}
	writeError(w, status, message)
}

// ServeHTTP runs the gatekeeper before upgrading, then hands the
// connection to the hub. A W3C traceparent header on the handshake becomes
// the parent of the handshake span.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	namespace := r.PathValue("namespace")

	ctx := propagation.TraceContext{}.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := tracer.Start(ctx, "websocket.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("ws.namespace", namespace)),
	)
	defer span.End()

	if h.closed.Load() || !h.hub.Running() {
		span.SetStatus(codes.Error, "shutting down")
		h.reject(w, http.StatusServiceUnavailable, "Server shutting down")
		return
	}

	if namespace != "" {
		if _, ok := router.ClassIDFromNamespace(namespace); !ok {
			span.SetStatus(codes.Error, "unknown namespace")
			h.reject(w, http.StatusNotFound, "Unknown namespace")
			return
		}
	}

	token := session.TokenFromRequest(r, h.cfg.CookieName)
	user, classID, err := h.gatekeeper.Admit(ctx, token, namespace)
	if err != nil {
		status := session.StatusCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		h.logger.InfoContext(ctx, "handshake rejected",
			"namespace", namespace, "status", status, "reason", err.Error())
		h.reject(w, status, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.String("class.id", classID),
	)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, h.cfg.SendBuffer, h.cfg.WriteWait, h.logger)
	span.SetAttributes(attribute.String("ws.conn_id", conn.ID()))

	if err := h.hub.Accept(conn, user); err != nil {
		if !errors.Is(err, hub.ErrCapacityExceeded) {
			h.logger.WarnContext(ctx, "connection not admitted", "conn_id", conn.ID(), "error", err)
		}
		span.SetStatus(codes.Error, err.Error())
		_ = conn.Close()
		return
	}

	if classID != "" {
		if err := h.hub.Join(conn.ID(), classID); err != nil {
			span.RecordError(err)
			h.logger.WarnContext(ctx, "class join failed", "conn_id", conn.ID(), "class_id", classID, "error", err)
			_ = h.hub.Leave(conn.ID())
			return
		}
	}

	h.logger.DebugContext(ctx, "connection admitted",
		"conn_id", conn.ID(), "user_id", user.ID, "class_id", classID)
	go h.serveConnection(conn, ws)
}

// serveConnection runs the heartbeat and the read pump until the socket
// fails or is closed.
func (h *Handler) serveConnection(conn *Connection, ws *websocket.Conn) {
	defer func() {
		if err := h.hub.Leave(conn.ID()); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			h.logger.Warn("leave failed", "conn_id", conn.ID(), "error", err)
		}
		_ = conn.Close()
	}()

	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	go h.heartbeat(conn, ws)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

func (h *Handler) heartbeat(conn *Connection, ws *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) dispatch(conn *Connection, data []byte) {
	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.logger.Debug("malformed frame", "conn_id", conn.ID(), "error", err)
		return
	}
	if err := frame.Validate(); err != nil {
		h.logger.Debug("invalid frame", "conn_id", conn.ID(), "event", frame.Event, "error", err)
		return
	}
	if !presence.IsClientEvent(frame.Event) {
		h.logger.Debug("server event sent by client", "conn_id", conn.ID(), "event", frame.Event)
		return
	}

	if err := h.hub.Signal(conn.ID(), frame.Event, frame.Data); err != nil {
		switch {
		case errors.Is(err, router.ErrRateLimitExceeded):
			h.logger.Warn("signal rate limited", "conn_id", conn.ID(), "event", frame.Event)
		case errors.Is(err, hub.ErrHubNotRunning):
		default:
			h.logger.Debug("signal rejected", "conn_id", conn.ID(), "event", frame.Event, "error", err)
		}
	}
}
