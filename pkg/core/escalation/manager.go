package escalation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/sched"
	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/metrics"
)

// Broadcast event names sent to staff clients.
const (
	EventEscalationNew          = "escalation_new"
	EventEscalationAcknowledged = "escalation_acknowledged"
	EventEscalationResolved     = "escalation_resolved"
	EventSLABreach              = "escalation_sla_breach"
)

// Notifier delivers escalation events to staff. Implemented by the staff
// hub; delivery is best-effort and must never block the caller for long.
type Notifier interface {
	NotifyDepartment(department types.Department, event string, data any, priority types.Priority) bool
	Broadcast(event string, data any)
}

// ManagerConfig tunes SLA deadlines and retention.
type ManagerConfig struct {
	// SLATimeouts maps priority to the acknowledgement deadline. Missing
	// priorities get the defaults (CRITICAL shortest, LOW longest).
	SLATimeouts map[types.Priority]time.Duration
	// AbandonAfter marks still-open escalations ABANDONED after this long.
	AbandonAfter time.Duration
	// PurgeAfter deletes terminal escalations after this long.
	PurgeAfter time.Duration
	// RetentionSweepInterval is how often the retention sweep runs.
	RetentionSweepInterval time.Duration
}

// Dependencies carries the manager's collaborators.
type Dependencies struct {
	Repository *Repository
	Detector   *Detector
	Scheduler  *sched.Scheduler
	Notifier   Notifier
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Now        func() time.Time
}

// Manager owns the escalation lifecycle: trigger, notify, acknowledge,
// resolve, SLA timers, and retention. The active map and timer table are
// the only internally locked resources.
type Manager struct {
	repo     *Repository
	detector *Detector
	sched    *sched.Scheduler
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	cfg      ManagerConfig

	mu        sync.Mutex
	active    map[string]*types.EscalationEvent // escalation id -> event
	byConv    map[string]string                 // conversation id -> escalation id
	slaTimers map[string]*sched.Handle          // escalation id -> timer
	retention *sched.Handle
	closed    bool
}

func defaultSLATimeouts() map[types.Priority]time.Duration {
	return map[types.Priority]time.Duration{
		types.PriorityCritical: 2 * time.Minute,
		types.PriorityHigh:     5 * time.Minute,
		types.PriorityNormal:   15 * time.Minute,
		types.PriorityLow:      30 * time.Minute,
	}
}

// NewManager validates dependencies, applies defaults, and starts the
// retention sweep.
func NewManager(deps Dependencies, cfg ManagerConfig) (*Manager, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	sla := defaultSLATimeouts()
	for p, d := range cfg.SLATimeouts {
		if d > 0 {
			sla[p] = d
		}
	}
	cfg.SLATimeouts = sla
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 24 * time.Hour
	}
	if cfg.PurgeAfter <= 0 {
		cfg.PurgeAfter = 30 * 24 * time.Hour
	}
	if cfg.RetentionSweepInterval <= 0 {
		cfg.RetentionSweepInterval = time.Hour
	}

	m := &Manager{
		repo:      deps.Repository,
		detector:  deps.Detector,
		sched:     deps.Scheduler,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		cfg:       cfg,
		active:    make(map[string]*types.EscalationEvent),
		byConv:    make(map[string]string),
		slaTimers: make(map[string]*sched.Handle),
	}
	m.scheduleRetentionSweep()
	return m, nil
}

// ProcessConversation runs detection over a conversation snapshot and
// triggers an escalation on a positive result. It is a no-op when the
// conversation already has an active escalation.
func (m *Manager) ProcessConversation(ctx context.Context, ec types.EscalationContext) (*types.EscalationEvent, error) {
	m.mu.Lock()
	_, hasActive := m.byConv[ec.ConversationID]
	m.mu.Unlock()
	if hasActive {
		return nil, nil
	}

	res := m.detector.Detect(ec)
	if !res.ShouldEscalate {
		return nil, nil
	}
	return m.Trigger(ctx, ec, res.Trigger, res.Priority, res.Reason)
}

// Trigger creates and persists a TRIGGERED event, arms the SLA timer, and
// asynchronously notifies the owning department. At most one active
// escalation may exist per conversation; a second returns a conflict error.
func (m *Manager) Trigger(ctx context.Context, ec types.EscalationContext, trigger types.EscalationTrigger, priority types.Priority, reason string) (*types.EscalationEvent, error) {
	if ec.ConversationID == "" {
		return nil, core.NewInvalidRequestError("conversation id is required")
	}
	ec.Reason = reason

	ev := &types.EscalationEvent{
		ID:             "esc_" + randHex(8),
		ConversationID: ec.ConversationID,
		Trigger:        trigger,
		Priority:       priority,
		Status:         types.EscalationTriggered,
		Context:        ec,
		TriggeredAt:    m.now(),
	}

	m.mu.Lock()
	if existing, ok := m.byConv[ec.ConversationID]; ok {
		m.mu.Unlock()
		return nil, core.NewConflictError("conversation already has active escalation " + existing)
	}
	m.active[ev.ID] = ev
	m.byConv[ev.ConversationID] = ev.ID
	m.mu.Unlock()

	if err := m.repo.Insert(ctx, ev); err != nil {
		m.mu.Lock()
		delete(m.active, ev.ID)
		delete(m.byConv, ev.ConversationID)
		m.mu.Unlock()
		return nil, err
	}

	m.armSLA(ev.ID, priority)

	// Department notification rides a fresh context: the triggering call
	// should not wait on delivery.
	go m.notify(ev)

	if m.metrics != nil {
		m.metrics.EscalationsTriggered.WithLabelValues(string(trigger), string(priority)).Inc()
	}
	m.logger.Info("escalation triggered",
		"escalation_id", ev.ID, "conversation_id", ev.ConversationID,
		"trigger", trigger, "priority", priority, "reason", reason)
	return ev, nil
}

// Acknowledge marks an active escalation ACKNOWLEDGED, cancels its SLA
// timer, and broadcasts the change.
func (m *Manager) Acknowledge(ctx context.Context, escalationID, staffID string) (*types.EscalationEvent, error) {
	m.mu.Lock()
	ev, ok := m.active[escalationID]
	if !ok {
		m.mu.Unlock()
		return nil, core.NewNotFoundError("escalation", escalationID)
	}
	if ev.Status == types.EscalationAcknowledged {
		m.mu.Unlock()
		return nil, core.NewConflictError("escalation already acknowledged by " + ev.AcknowledgedBy)
	}
	now := m.now()
	ev.Status = types.EscalationAcknowledged
	ev.AcknowledgedAt = &now
	ev.AcknowledgedBy = staffID
	m.cancelSLALocked(escalationID)
	m.mu.Unlock()

	if err := m.repo.Update(ctx, ev); err != nil {
		return nil, err
	}

	if m.notifier != nil {
		m.notifier.Broadcast(EventEscalationAcknowledged, ev)
	}
	if m.metrics != nil {
		m.metrics.TimeToAcknowledge.Observe(now.Sub(ev.TriggeredAt).Seconds())
	}
	m.logger.Info("escalation acknowledged", "escalation_id", escalationID, "staff_id", staffID)
	return ev, nil
}

// Resolve marks an active escalation RESOLVED, removes it from the active
// map, cancels any timer, and broadcasts the change. The durable record
// remains until the retention sweep purges it.
func (m *Manager) Resolve(ctx context.Context, escalationID, staffID, resolution string, followUpRequired bool) (*types.EscalationEvent, error) {
	m.mu.Lock()
	ev, ok := m.active[escalationID]
	if !ok {
		m.mu.Unlock()
		return nil, core.NewNotFoundError("escalation", escalationID)
	}
	now := m.now()
	ev.Status = types.EscalationResolved
	ev.ResolvedAt = &now
	ev.ResolvedBy = staffID
	ev.Resolution = resolution
	ev.FollowUpRequired = followUpRequired
	m.cancelSLALocked(escalationID)
	delete(m.active, escalationID)
	delete(m.byConv, ev.ConversationID)
	m.mu.Unlock()

	if err := m.repo.Update(ctx, ev); err != nil {
		return nil, err
	}

	if m.notifier != nil {
		m.notifier.Broadcast(EventEscalationResolved, ev)
	}
	if m.metrics != nil {
		m.metrics.TimeToResolve.Observe(now.Sub(ev.TriggeredAt).Seconds())
	}
	m.logger.Info("escalation resolved",
		"escalation_id", escalationID, "staff_id", staffID, "follow_up", followUpRequired)
	return ev, nil
}

// Get returns an escalation, preferring the live copy over the durable one.
func (m *Manager) Get(ctx context.Context, escalationID string) (*types.EscalationEvent, error) {
	m.mu.Lock()
	if ev, ok := m.active[escalationID]; ok {
		m.mu.Unlock()
		return ev, nil
	}
	m.mu.Unlock()
	return m.repo.Get(ctx, escalationID)
}

// ActiveForConversation returns the conversation's active escalation, if any.
func (m *Manager) ActiveForConversation(conversationID string) (*types.EscalationEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byConv[conversationID]
	if !ok {
		return nil, false
	}
	return m.active[id], true
}

// GetMetrics aggregates durable records over the date range.
func (m *Manager) GetMetrics(ctx context.Context, start, end time.Time) (*types.EscalationMetrics, error) {
	return m.repo.Metrics(ctx, start, end)
}

// Close cancels every SLA timer and the retention sweep.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id := range m.slaTimers {
		m.cancelSLALocked(id)
	}
	if m.retention != nil {
		m.retention.Cancel()
		m.retention = nil
	}
}

func (m *Manager) notify(ev *types.EscalationEvent) {
	if m.notifier == nil {
		return
	}
	dept := types.DepartmentForTrigger(ev.Trigger)
	delivered := m.notifier.NotifyDepartment(dept, EventEscalationNew, ev, ev.Priority)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	live, ok := m.active[ev.ID]
	if ok && live.NotifiedAt == nil {
		now := m.now()
		live.NotifiedAt = &now
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := m.repo.Update(ctx, live); err != nil {
		m.logger.Warn("escalation notify update failed", "escalation_id", ev.ID, "error", err)
	}
	if !delivered {
		m.logger.Warn("escalation not delivered, queued for department",
			"escalation_id", ev.ID, "department", dept)
	}
	if m.metrics != nil {
		m.metrics.NotificationsSent.WithLabelValues(string(dept)).Inc()
	}
}

func (m *Manager) armSLA(escalationID string, priority types.Priority) {
	deadline := m.cfg.SLATimeouts[priority]
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.slaTimers[escalationID] = m.sched.Schedule(deadline, func() {
		m.onSLABreach(escalationID)
	})
}

func (m *Manager) cancelSLALocked(escalationID string) {
	if h, ok := m.slaTimers[escalationID]; ok {
		h.Cancel()
		delete(m.slaTimers, escalationID)
	}
}

// onSLABreach fires when the SLA timer elapses while the escalation is still
// unacknowledged. The breach is informational only: broadcast once, logged,
// no status change.
func (m *Manager) onSLABreach(escalationID string) {
	m.mu.Lock()
	delete(m.slaTimers, escalationID)
	ev, ok := m.active[escalationID]
	if !ok || ev.Status != types.EscalationTriggered {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.notifier != nil {
		m.notifier.Broadcast(EventSLABreach, ev)
	}
	if m.metrics != nil {
		m.metrics.EscalationSLABreaches.WithLabelValues(string(ev.Priority)).Inc()
	}
	m.logger.Warn("escalation SLA breached",
		"escalation_id", escalationID, "priority", ev.Priority,
		"age", m.now().Sub(ev.TriggeredAt).Round(time.Second))
}

func (m *Manager) scheduleRetentionSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.retention = m.sched.Schedule(m.cfg.RetentionSweepInterval, func() {
		m.runRetentionSweep()
		m.scheduleRetentionSweep()
	})
}

// runRetentionSweep abandons stale open escalations and purges old terminal
// ones. Failures here are housekeeping, logged and swallowed.
func (m *Manager) runRetentionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := m.now()
	abandoned, err := m.repo.AbandonStale(ctx, now.Add(-m.cfg.AbandonAfter))
	if err != nil {
		m.logger.Warn("retention sweep: abandon failed", "error", err)
	}
	if abandoned > 0 {
		// Drop any live copies that the sweep just closed out.
		cutoff := now.Add(-m.cfg.AbandonAfter)
		m.mu.Lock()
		for id, ev := range m.active {
			if ev.TriggeredAt.Before(cutoff) {
				ev.Status = types.EscalationAbandoned
				m.cancelSLALocked(id)
				delete(m.active, id)
				delete(m.byConv, ev.ConversationID)
			}
		}
		m.mu.Unlock()
	}

	purged, err := m.repo.PurgeTerminal(ctx, now.Add(-m.cfg.PurgeAfter))
	if err != nil {
		m.logger.Warn("retention sweep: purge failed", "error", err)
	}
	if abandoned > 0 || purged > 0 {
		m.logger.Info("escalation retention sweep", "abandoned", abandoned, "purged", purged)
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
