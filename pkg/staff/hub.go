package staff

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/metrics"
)

// Broadcast event names originated by the hub itself.
const (
	EventStaffDisconnected = "staff_disconnected"
)

// Sender pushes one envelope to a staff client. Implementations must be
// safe for concurrent use; the websocket adapter lives in the gateway.
type Sender interface {
	Send(env Envelope) error
	Close() error
}

// Connection is one registered staff client.
type Connection struct {
	id            string
	staffID       string
	department    types.Department
	presence      PresenceStatus
	lastHeartbeat time.Time
	sender        Sender
}

// ID returns the opaque connection id.
func (c *Connection) ID() string { return c.id }

// StaffID returns the registered staff member id.
func (c *Connection) StaffID() string { return c.staffID }

// Department returns the department the connection registered under.
func (c *Connection) Department() types.Department { return c.department }

// queueEntry is an undelivered notification waiting for a department
// connection.
type queueEntry struct {
	ID         string
	Department types.Department
	Event      string
	Data       any
	Priority   types.Priority
	CreatedAt  time.Time
	Attempts   int
}

// Config tunes heartbeat eviction and queue retry behavior.
type Config struct {
	// HeartbeatTimeout evicts connections silent for longer than this.
	HeartbeatTimeout time.Duration
	// SweepInterval is how often eviction and queue retry run.
	SweepInterval time.Duration
	// QueueMaxAttempts drops a queued entry after this many failed retries.
	QueueMaxAttempts int
	// QueueMaxAge drops a queued entry older than this.
	QueueMaxAge time.Duration
}

// Hub is the staff connection table and notification queue. All fields are
// guarded by mu; sends happen outside the lock.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
	cfg     Config

	mu     sync.Mutex
	conns  map[string]*Connection
	byDept map[types.Department]map[string]*Connection
	queue  []*queueEntry

	stop chan struct{}
	done chan struct{}
}

// NewHub applies defaults, builds the hub, and starts the sweep loop.
func NewHub(logger *slog.Logger, collector *metrics.Collector, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 3
	}
	if cfg.QueueMaxAge <= 0 {
		cfg.QueueMaxAge = time.Hour
	}

	h := &Hub{
		logger:  logger,
		metrics: collector,
		now:     time.Now,
		cfg:     cfg,
		conns:   make(map[string]*Connection),
		byDept:  make(map[types.Department]map[string]*Connection),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.sweepLoop()
	return h
}

// Register adds a staff connection and returns it. The caller owns the read
// loop and must call Unregister when the connection drops.
func (h *Hub) Register(staffID string, department types.Department, sender Sender) *Connection {
	c := &Connection{
		id:            "sc_" + randHex(8),
		staffID:       staffID,
		department:    department,
		presence:      PresenceAvailable,
		lastHeartbeat: h.now(),
		sender:        sender,
	}

	h.mu.Lock()
	h.conns[c.id] = c
	if h.byDept[department] == nil {
		h.byDept[department] = make(map[string]*Connection)
	}
	h.byDept[department][c.id] = c
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.StaffConnections.WithLabelValues(string(department)).Inc()
	}
	h.logger.Info("staff connected",
		"connection_id", c.id, "staff_id", staffID, "department", department)
	return c
}

// Unregister removes a connection. Idempotent.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if ok {
		delete(h.conns, connectionID)
		delete(h.byDept[c.department], connectionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	c.sender.Close()
	if h.metrics != nil {
		h.metrics.StaffConnections.WithLabelValues(string(c.department)).Dec()
	}
	h.logger.Info("staff disconnected", "connection_id", connectionID, "staff_id", c.staffID)
}

// Heartbeat refreshes the connection's liveness.
func (h *Hub) Heartbeat(connectionID string) {
	h.mu.Lock()
	if c, ok := h.conns[connectionID]; ok {
		c.lastHeartbeat = h.now()
	}
	h.mu.Unlock()
}

// SetPresence updates the connection's availability.
func (h *Hub) SetPresence(connectionID string, status PresenceStatus) {
	h.mu.Lock()
	if c, ok := h.conns[connectionID]; ok {
		c.presence = status
	}
	h.mu.Unlock()
}

// NotifyDepartment delivers an event to every open connection in the
// department, ordered available before busy before away. With nobody
// online, or when every send fails, the event is queued for the sweep to
// retry and delivered=false is returned.
func (h *Hub) NotifyDepartment(department types.Department, event string, data any, priority types.Priority) bool {
	targets := h.departmentConns(department)
	if len(targets) == 0 {
		h.enqueue(department, event, data, priority)
		return false
	}

	delivered := h.sendAll(targets, Envelope{Event: event, Data: data})
	if !delivered {
		h.enqueue(department, event, data, priority)
		return false
	}
	if h.metrics != nil {
		h.metrics.NotificationsSent.WithLabelValues(string(department)).Inc()
	}
	return true
}

// Broadcast sends an event to every open connection regardless of
// department.
func (h *Hub) Broadcast(event string, data any) {
	h.mu.Lock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.sendAll(targets, Envelope{Event: event, Data: data})
}

// QueueDepth reports how many notifications are waiting for delivery.
func (h *Hub) QueueDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Close stops the sweep loop and drops every connection.
func (h *Hub) Close() {
	close(h.stop)
	<-h.done

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Connection)
	h.byDept = make(map[types.Department]map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.sender.Close()
	}
}

// departmentConns snapshots the department's connections in presence order.
func (h *Hub) departmentConns(department types.Department) []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	targets := make([]*Connection, 0, len(h.byDept[department]))
	for _, c := range h.byDept[department] {
		targets = append(targets, c)
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].presence.rank() < targets[j].presence.rank()
	})
	return targets
}

// sendAll delivers the envelope to every target. Individual failures are
// logged and skipped; true means at least one send succeeded.
func (h *Hub) sendAll(targets []*Connection, env Envelope) bool {
	delivered := false
	for _, c := range targets {
		if err := c.sender.Send(env); err != nil {
			h.logger.Warn("staff send failed",
				"connection_id", c.id, "staff_id", c.staffID, "event", env.Event, "error", err)
			continue
		}
		delivered = true
	}
	return delivered
}

func (h *Hub) enqueue(department types.Department, event string, data any, priority types.Priority) {
	entry := &queueEntry{
		ID:         uuid.NewString(),
		Department: department,
		Event:      event,
		Data:       data,
		Priority:   priority,
		CreatedAt:  h.now(),
	}
	h.mu.Lock()
	h.queue = append(h.queue, entry)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.NotificationsQueued.Inc()
	}
	h.logger.Info("notification queued",
		"queue_id", entry.ID, "department", department, "event", event, "priority", priority)
}

func (h *Hub) sweepLoop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			return
		}
	}
}

// sweep evicts stale connections and retries the notification queue.
func (h *Hub) sweep() {
	now := h.now()

	// Evict connections whose heartbeat went stale.
	h.mu.Lock()
	var stale []*Connection
	for id, c := range h.conns {
		if now.Sub(c.lastHeartbeat) > h.cfg.HeartbeatTimeout {
			stale = append(stale, c)
			delete(h.conns, id)
			delete(h.byDept[c.department], id)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		c.sender.Close()
		if h.metrics != nil {
			h.metrics.StaffConnections.WithLabelValues(string(c.department)).Dec()
		}
		h.logger.Warn("staff connection evicted, heartbeat stale",
			"connection_id", c.id, "staff_id", c.staffID,
			"last_heartbeat", c.lastHeartbeat)
		h.notifyDisconnect(c)
	}

	// Retry queued notifications.
	h.mu.Lock()
	pending := h.queue
	h.queue = nil
	h.mu.Unlock()

	var kept []*queueEntry
	for _, entry := range pending {
		if now.Sub(entry.CreatedAt) > h.cfg.QueueMaxAge {
			h.drop(entry, "expired")
			continue
		}

		// A sweep with nobody online is not a delivery attempt; the age cap
		// bounds how long such entries wait.
		targets := h.departmentConns(entry.Department)
		if len(targets) == 0 {
			kept = append(kept, entry)
			continue
		}

		if h.sendAll(targets, Envelope{Event: entry.Event, Data: entry.Data}) {
			if h.metrics != nil {
				h.metrics.NotificationsSent.WithLabelValues(string(entry.Department)).Inc()
			}
			h.logger.Info("queued notification delivered",
				"queue_id", entry.ID, "department", entry.Department, "attempts", entry.Attempts)
			continue
		}

		entry.Attempts++
		if entry.Attempts >= h.cfg.QueueMaxAttempts {
			h.drop(entry, "max_attempts")
			continue
		}
		kept = append(kept, entry)
	}

	if len(kept) > 0 {
		h.mu.Lock()
		h.queue = append(kept, h.queue...)
		h.mu.Unlock()
	}
}

// notifyDisconnect broadcasts a disconnect notice to the evicted
// connection's department.
func (h *Hub) notifyDisconnect(c *Connection) {
	targets := h.departmentConns(c.department)
	if len(targets) == 0 {
		return
	}
	h.sendAll(targets, Envelope{Event: EventStaffDisconnected, Data: map[string]any{
		"staff_id":   c.staffID,
		"department": c.department,
	}})
}

func (h *Hub) drop(entry *queueEntry, reason string) {
	if h.metrics != nil {
		h.metrics.NotificationsDropped.WithLabelValues(reason).Inc()
	}
	h.logger.Warn("queued notification dropped",
		"queue_id", entry.ID, "department", entry.Department,
		"reason", reason, "attempts", entry.Attempts)
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
