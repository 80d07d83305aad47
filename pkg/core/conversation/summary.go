package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/types"
)

// summaryTurnCount is how many trailing turns ride along with a handoff.
const summaryTurnCount = 10

// Summary is the staff-facing handoff snapshot of a conversation, generated
// at end-of-call and on escalation.
type Summary struct {
	ConversationID string        `json:"conversation_id"`
	SessionID      string        `json:"session_id"`
	PhoneNumber    string        `json:"phone_number"`
	PatientID      string        `json:"patient_id,omitempty"`
	PatientName    string        `json:"patient_name,omitempty"`
	Status         string        `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	Duration       time.Duration `json:"duration"`
	Topics         []string      `json:"topics,omitempty"`
	Goals          []string      `json:"goals,omitempty"`
	CompletedGoals []string      `json:"completed_goals,omitempty"`
	EmotionalState string        `json:"emotional_state"`
	UrgentFlags    []string      `json:"urgent_flags,omitempty"`
	LastTurns      []types.Turn  `json:"last_turns,omitempty"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// BuildSummary assembles the handoff snapshot for a conversation.
func (m *Manager) BuildSummary(state *types.ConversationState, reason string) Summary {
	turns := state.Turns
	if len(turns) > summaryTurnCount {
		turns = turns[len(turns)-summaryTurnCount:]
	}
	return Summary{
		ConversationID: state.ConversationID,
		SessionID:      state.SessionID,
		PhoneNumber:    state.PhoneNumber,
		PatientID:      state.PatientID,
		PatientName:    state.PatientName,
		Status:         string(state.Status),
		Reason:         reason,
		Duration:       state.TotalDuration,
		Topics:         state.ContextualMemory.DiscussedTopics,
		Goals:          state.ConversationGoals,
		CompletedGoals: state.CompletedGoals,
		EmotionalState: string(state.EmotionalState.Overall),
		UrgentFlags:    state.EscalationFlags,
		LastTurns:      turns,
		GeneratedAt:    m.now(),
	}
}

// persistAnalytics stores the end-of-call summary under the analytics key
// with the post-call retention TTL.
func (m *Manager) persistAnalytics(ctx context.Context, state *types.ConversationState, reason string) error {
	summary := m.BuildSummary(state, reason)
	raw, err := json.Marshal(summary)
	if err != nil {
		return core.NewStorageError("encode analytics", err)
	}
	if err := m.store.Set(ctx, analyticsKeyPrefix+state.ConversationID, raw, m.cfg.PostCallRetention); err != nil {
		return core.NewStorageError("persist analytics", err)
	}
	return nil
}
