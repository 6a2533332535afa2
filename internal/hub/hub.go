// Package hub owns every live connection and the class room table. All
// state is mutated on a single loop goroutine; public methods hand closures
// to that loop.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"socialwall/internal/presence"
	"socialwall/internal/router"
	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

var tracer = otel.Tracer("socialwall/hub")

// Transport is the server-side transport handle the hub tears down on
// shutdown.
type Transport interface {
	Close() error
}

// Reopener is implemented by transports that can accept connections again
// after Close. Initialize reopens them.
type Reopener interface {
	Reopen()
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Running         bool `json:"running"`
	LiveConnections int  `json:"liveConnections"`
	MaxConnections  int  `json:"maxConnections"`
	Classes         int  `json:"classes"`
	Unscoped        int  `json:"unscoped"`
}

// RoomSnapshot lists the connection ids in each room of a class.
type RoomSnapshot struct {
	ClassID    string   `json:"classId"`
	Members    []string `json:"members"`
	Teachers   []string `json:"teachers"`
	Moderators []string `json:"moderators"`
}

type client struct {
	conn          interfaces.Connection
	user          types.User
	classID       string
	connectedAt   time.Time
	lastActivity  time.Time
	authenticated bool
	authTimer     *time.Timer
	state         presence.State
}

// lastSeen falls back to the connect time when the client never signalled.
func (c *client) lastSeen() time.Time {
	if c.lastActivity.IsZero() {
		return c.connectedAt
	}
	return c.lastActivity
}

// Hub is the lifecycle and fan-out manager.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	mu        sync.RWMutex
	running   bool
	transport Transport
	ops       chan func()
	stop      chan struct{}
	done      chan struct{}

	// Loop-owned state.
	clients map[string]*client
	rooms   *router.Router
	limiter *router.RateLimiter
	live    int
}

var _ interfaces.Broadcaster = (*Hub)(nil)

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithClock replaces time.Now for activity bookkeeping and sweeps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a hub. It does nothing until Initialize is called.
func New(cfg Config, opts ...Option) *Hub {
	h := &Hub{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// Initialize starts the loop and the idle sweep. When the hub is already
// running the existing transport handle is returned and transport is
// ignored.
func (h *Hub) Initialize(transport Transport) Transport {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return h.transport
	}
	if h.done != nil {
		<-h.done
	}

	if r, ok := transport.(Reopener); ok {
		r.Reopen()
	}
	h.transport = transport
	h.clients = make(map[string]*client)
	h.rooms = router.NewRouter()
	h.limiter = router.NewRateLimiter(h.cfg.SignalLimit, h.cfg.SignalWindow)
	h.live = 0
	h.ops = make(chan func(), 1024)
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.running = true

	go h.run(h.ops, h.stop, h.done, transport)

	h.logger.Info("hub initialized",
		"max_connections", h.cfg.MaxConnections,
		"sweep_interval", h.cfg.SweepInterval,
		"idle_timeout", h.cfg.IdleTimeout)
	h.metrics.SetLiveConnections(0)

	return transport
}

// Shutdown stops the sweep, closes the transport and every live connection
// and resets the counter. Calling it on a stopped hub does nothing.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stop, done := h.stop, h.done
	h.transport = nil
	h.mu.Unlock()

	close(stop)
	<-done

	h.logger.Info("hub shut down")
}

// Running reports whether the hub has been initialized and not shut down.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ops <-chan func(), stop <-chan struct{}, done chan<- struct{}, transport Transport) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.SweepInterval)

	for {
		select {
		case op := <-ops:
			h.safely("operation", op)

		case <-ticker.C:
			h.sweep()

		case <-stop:
			ticker.Stop()
			h.teardown(transport)
			return
		}
	}
}

func (h *Hub) teardown(transport Transport) {
	if transport != nil {
		if err := transport.Close(); err != nil {
			h.logger.Warn("transport close failed", "error", err)
		}
	}

	for id, c := range h.clients {
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.state = presence.StateDisconnected
		if err := c.conn.Close(); err != nil {
			h.logger.Debug("connection close failed", "conn_id", id, "error", err)
		}
		h.metrics.ConnectionClosed(ReasonShutdown)
	}

	h.clients = make(map[string]*client)
	h.rooms = router.NewRouter()
	h.live = 0
	h.metrics.SetLiveConnections(0)
}

func (h *Hub) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hub "+name+" panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// do runs fn on the loop and waits for it to finish.
func (h *Hub) do(fn func()) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	ops, done := h.ops, h.done
	h.mu.RUnlock()

	finished := make(chan struct{})
	select {
	case ops <- func() {
		defer close(finished)
		fn()
	}:
	case <-done:
		return ErrHubNotRunning
	}

	select {
	case <-finished:
		return nil
	case <-done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubNotRunning
		}
	}
}

// post queues fn on the loop without waiting. It reports false when the
// hub is not running.
func (h *Hub) post(fn func()) bool {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return false
	}
	ops, done := h.ops, h.done
	h.mu.RUnlock()

	select {
	case ops <- fn:
		return true
	case <-done:
		return false
	}
}

// Accept admits an authenticated connection. Over capacity the connection
// is closed and ErrCapacityExceeded returned.
func (h *Hub) Accept(conn interfaces.Connection, user types.User) error {
	if conn.ID() == "" {
		return ErrInvalidConnectionID
	}
	var err error
	if runErr := h.do(func() { err = h.accept(conn, user) }); runErr != nil {
		return runErr
	}
	return err
}

func (h *Hub) accept(conn interfaces.Connection, user types.User) error {
	h.live++
	if h.live > h.cfg.MaxConnections {
		h.live--
		h.logger.Warn("connection rejected: capacity reached",
			"conn_id", conn.ID(), "user_id", user.ID, "max_connections", h.cfg.MaxConnections)
		h.metrics.ConnectionRejected(ReasonCapacity)
		_ = conn.Close()
		return ErrCapacityExceeded
	}

	c := &client{
		conn:        conn,
		user:        user,
		connectedAt: h.now(),
		state:       presence.StateAuthenticated,
	}
	id := conn.ID()
	c.authTimer = time.AfterFunc(h.cfg.AuthTimeout, func() {
		h.post(func() { h.authExpired(id, c) })
	})
	h.clients[id] = c

	h.metrics.ConnectionAdmitted()
	h.metrics.SetLiveConnections(h.live)
	h.logger.Debug("connection admitted", "conn_id", id, "user_id", user.ID, "live", h.live)
	return nil
}

func (h *Hub) authExpired(id string, c *client) {
	current, ok := h.clients[id]
	if !ok || current != c || c.authenticated {
		return
	}
	h.logger.Info("authentication milestone not reached, disconnecting",
		"conn_id", id, "user_id", c.user.ID, "timeout", h.cfg.AuthTimeout)
	h.disconnect(id, ReasonAuthTimeout)
}

// Join scopes a connection to classID and announces it to the class.
// Joining the same class again is a no-op.
func (h *Hub) Join(connID, classID string) error {
	var err error
	if runErr := h.do(func() { err = h.join(connID, classID) }); runErr != nil {
		return runErr
	}
	return err
}

func (h *Hub) join(connID, classID string) error {
	c, ok := h.clients[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	if joined, ok := h.rooms.ClassOf(connID); ok {
		if joined == classID {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrClassAlreadySet, joined)
	}

	if err := h.rooms.Join(classID, connID, c.user.IsTeacherEquivalent()); err != nil {
		return err
	}
	c.classID = classID
	c.state = presence.StateJoined

	h.emitToClass(classID, types.Frame{
		Event: presence.EventUserJoined,
		Data:  presence.Joined(classID, c.user, h.now()),
	}, connID)

	h.logger.Debug("connection joined class",
		"conn_id", connID, "user_id", c.user.ID, "class_id", classID,
		"teacher", c.user.IsTeacherEquivalent())
	return nil
}

// Leave handles a transport close. It is safe to call for connections the
// hub already dropped.
func (h *Hub) Leave(connID string) error {
	return h.do(func() { h.disconnect(connID, ReasonClientClosed) })
}

func (h *Hub) disconnect(connID, reason string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	h.rooms.Leave(connID)
	h.live--
	c.state = presence.StateDisconnected

	if c.classID != "" {
		h.emitToClass(c.classID, types.Frame{
			Event: presence.EventUserLeft,
			Data:  presence.Left(c.classID, c.user, h.now()),
		}, connID)
	}

	if err := c.conn.Close(); err != nil {
		h.logger.Debug("connection close failed", "conn_id", connID, "error", err)
	}

	h.metrics.ConnectionClosed(reason)
	h.metrics.SetLiveConnections(h.live)
	h.logger.Debug("connection disconnected",
		"conn_id", connID, "user_id", c.user.ID, "class_id", c.classID, "reason", reason, "live", h.live)
}

// Signal handles a client event: the authenticated milestone or one of the
// presence signals relayed to the rest of the class.
func (h *Hub) Signal(connID, event string, data json.RawMessage) error {
	var err error
	if runErr := h.do(func() { err = h.signal(connID, event, data) }); runErr != nil {
		return runErr
	}
	return err
}

func (h *Hub) signal(connID, event string, data json.RawMessage) error {
	c, ok := h.clients[connID]
	if !ok {
		return ErrConnectionNotFound
	}

	if event == presence.EventAuthenticated {
		if !c.authenticated {
			c.authenticated = true
			if c.authTimer != nil {
				c.authTimer.Stop()
			}
		}
		return nil
	}

	sig, ok := presence.LookupSignal(event)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	now := h.now()
	if sig.RefreshActivity {
		c.lastActivity = now
	}

	// Returning from idle bypasses the limiter.
	next := presence.Next(c.state, event)
	resumed := c.state == presence.StateIdle && next == presence.StateActive
	if !resumed && !h.limiter.Allow(c.user.ID, now) {
		return router.ErrRateLimitExceeded
	}
	c.state = next

	if c.classID == "" {
		return nil
	}

	h.emitToClass(c.classID, types.Frame{
		Event: sig.Relay,
		Data:  presence.Relay(sig, c.classID, c.user, now, data),
	}, connID)
	h.metrics.SignalRelayed(sig.Relay)
	return nil
}

// emitToClass sends frame to the general room of classID, skipping exclude.
func (h *Hub) emitToClass(classID string, frame types.Frame, exclude string) {
	h.deliver(h.rooms.Members(classID), frame, exclude)
}

func (h *Hub) deliver(connIDs []string, frame types.Frame, exclude string) int {
	sent := 0
	for _, id := range connIDs {
		if id == exclude {
			continue
		}
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if err := c.conn.Send(frame); err != nil {
			h.logger.Warn("frame dropped", "conn_id", id, "event", frame.Event, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// BroadcastToClass sends event to every connection in the class room.
func (h *Hub) BroadcastToClass(classID, event string, data any) {
	h.post(func() {
		h.deliver(h.rooms.Members(classID), types.Frame{Event: event, Data: data}, "")
		h.metrics.BroadcastSent("class")
	})
}

// BroadcastToTeachers sends event to the teacher room of the class.
func (h *Hub) BroadcastToTeachers(classID, event string, data any) {
	h.post(func() {
		h.deliver(h.rooms.Teachers(classID), types.Frame{Event: event, Data: data}, "")
		h.metrics.BroadcastSent("teachers")
	})
}

// BroadcastToUser sends event to every connection of userID, scoped or not.
func (h *Hub) BroadcastToUser(userID, event string, data any) {
	h.post(func() {
		var ids []string
		for id, c := range h.clients {
			if c.user.ID == userID {
				ids = append(ids, id)
			}
		}
		h.deliver(ids, types.Frame{Event: event, Data: data}, "")
		h.metrics.BroadcastSent("user")
	})
}

// Sweep runs an idle sweep immediately.
func (h *Hub) Sweep() error {
	return h.do(h.sweep)
}

// sweep disconnects connections idle for longer than IdleTimeout.
func (h *Hub) sweep() {
	ctx, span := tracer.Start(context.Background(), "hub.sweep")
	start := time.Now()
	reaped := 0
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			h.logger.ErrorContext(ctx, "idle sweep panicked", "panic", fmt.Sprint(r))
		}
		span.SetAttributes(attribute.Int("hub.reaped", reaped), attribute.Int("hub.live", h.live))
		span.End()
		h.metrics.SweepCompleted(time.Since(start), reaped)
	}()

	now := h.now()
	cutoff := now.Add(-h.cfg.IdleTimeout)

	var idle []string
	for id, c := range h.clients {
		if c.lastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}

	for _, id := range idle {
		h.disconnect(id, ReasonIdle)
		reaped++
	}

	h.limiter.Cleanup(now)

	if reaped > 0 {
		h.logger.InfoContext(ctx, "idle sweep disconnected connections", "reaped", reaped, "live", h.live)
	}
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	stats := Stats{MaxConnections: h.cfg.MaxConnections}
	_ = h.do(func() {
		stats.Running = true
		stats.LiveConnections = h.live
		stats.Classes = len(h.rooms.Classes())
		for _, c := range h.clients {
			if c.classID == "" {
				stats.Unscoped++
			}
		}
	})
	return stats
}

// LiveConnections returns the admission counter.
func (h *Hub) LiveConnections() int {
	return h.Stats().LiveConnections
}

// Room returns the room membership of classID.
func (h *Hub) Room(classID string) (RoomSnapshot, error) {
	snap := RoomSnapshot{ClassID: classID}
	err := h.do(func() {
		snap.Members = h.rooms.Members(classID)
		snap.Teachers = h.rooms.Teachers(classID)
		snap.Moderators = h.rooms.Moderators(classID)
	})
	return snap, err
}

// OnlineUsers lists the distinct users connected to classID, ordered by id.
func (h *Hub) OnlineUsers(classID string) ([]types.User, error) {
	var users []types.User
	err := h.do(func() {
		seen := make(map[string]bool)
		for _, id := range h.rooms.Members(classID) {
			c, ok := h.clients[id]
			if !ok || seen[c.user.ID] {
				continue
			}
			seen[c.user.ID] = true
			users = append(users, c.user)
		}
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, err
}

// State returns the presence state of a connection.
func (h *Hub) State(connID string) (presence.State, error) {
	var (
		state presence.State
		found bool
	)
	if err := h.do(func() {
		if c, ok := h.clients[connID]; ok {
			state, found = c.state, true
		}
	}); err != nil {
		return presence.StateDisconnected, err
	}
	if !found {
		return presence.StateDisconnected, ErrConnectionNotFound
	}
	return state, nil
}
