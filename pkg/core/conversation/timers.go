package conversation

import (
	"context"
	"time"

	"github.com/carevox/carevox/pkg/core/sched"
	"github.com/carevox/carevox/pkg/core/types"
)

// Inactivity messages appended by the timer callbacks.
const (
	warningGentleText = "Just a heads up, we may need to wrap up our call soon. Is there anything else I can help you with today?"
	warningFirmText   = "We are almost out of time for this call. Let's wrap up in the next minute."
	checkInText       = "Are you still there? I have not heard from you in a little while."
	timeoutCloseText  = "It seems we have been disconnected. I will end the call now. Please call back any time."
)

type convTimers struct {
	warnings []*sched.Handle
	hard     *sched.Handle
	grace    *sched.Handle
}

func (t *convTimers) cancelAll() {
	for _, w := range t.warnings {
		w.Cancel()
	}
	t.warnings = nil
	if t.hard != nil {
		t.hard.Cancel()
		t.hard = nil
	}
	if t.grace != nil {
		t.grace.Cancel()
		t.grace = nil
	}
}

// armTimers cancels any timers for the conversation and rearms the warning
// and hard timeout timers from now. Called on start and on every activity.
func (m *Manager) armTimers(conversationID string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()

	t, ok := m.timers[conversationID]
	if ok {
		t.cancelAll()
	} else {
		t = &convTimers{}
		m.timers[conversationID] = t
		if m.metrics != nil {
			m.metrics.ActiveConversations.Inc()
		}
	}

	for i, d := range m.cfg.WarningTimeouts {
		idx := i
		t.warnings = append(t.warnings, m.scheduler.Schedule(d, func() {
			m.onWarning(conversationID, idx)
		}))
	}
	t.hard = m.scheduler.Schedule(m.cfg.SessionTimeout, func() {
		m.onHardTimeout(conversationID)
	})
}

// cancelTimers synchronously cancels every timer for the conversation.
func (m *Manager) cancelTimers(conversationID string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.timers[conversationID]; ok {
		t.cancelAll()
		delete(m.timers, conversationID)
		if m.metrics != nil {
			m.metrics.ActiveConversations.Dec()
		}
	}
}

// startGrace arms the grace-period timer after the hard timeout fired.
func (m *Manager) startGrace(conversationID string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	t, ok := m.timers[conversationID]
	if !ok {
		return
	}
	t.grace = m.scheduler.Schedule(m.cfg.GracePeriod, func() {
		m.onGraceExpired(conversationID)
	})
}

// onWarning fires when a warning timeout elapses with no activity. It
// appends an AI wrap-up prompt without rearming any timers; the hard timer
// keeps its original deadline. Warnings apply to any live call, including
// one still INITIATED because the caller never spoke.
func (m *Manager) onWarning(conversationID string, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
	defer cancel()

	state, err := m.load(ctx, conversationID)
	if err != nil {
		m.logger.Warn("warning timer: load failed", "conversation_id", conversationID, "error", err)
		return
	}
	if state.Status.Terminal() {
		return
	}

	text := warningGentleText
	if index > 0 {
		text = warningFirmText
	}
	m.appendInternalTurn(ctx, state, types.SpeakerAI, text)
	m.logger.Info("inactivity warning issued", "conversation_id", conversationID, "warning", index+1)
}

// onHardTimeout fires at the session limit. It appends a check-in message
// and opens the grace period; only grace expiry ends the conversation.
func (m *Manager) onHardTimeout(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
	defer cancel()

	state, err := m.load(ctx, conversationID)
	if err != nil {
		m.logger.Warn("hard timer: load failed", "conversation_id", conversationID, "error", err)
		return
	}
	if state.Status.Terminal() {
		return
	}

	m.appendInternalTurn(ctx, state, types.SpeakerAI, checkInText)
	m.startGrace(conversationID)
	m.logger.Info("session timeout reached, grace period started",
		"conversation_id", conversationID, "grace", m.cfg.GracePeriod)
}

// onGraceExpired ends the conversation by timeout when the grace period
// passes with no further activity.
func (m *Manager) onGraceExpired(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
	defer cancel()

	if _, err := m.End(ctx, conversationID, types.EndingTimeout, "inactivity grace period expired", timeoutCloseText); err != nil {
		m.logger.Warn("grace timer: end failed", "conversation_id", conversationID, "error", err)
	}
}

const timerOpTimeout = 10 * time.Second
