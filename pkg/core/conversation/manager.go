// Package conversation owns the per-call lifecycle: starting calls,
// appending turns, tracking contextual memory and emotional state, and
// running the inactivity timeout machinery.
package conversation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/flow"
	"github.com/carevox/carevox/pkg/core/sched"
	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/metrics"
	"github.com/carevox/carevox/pkg/store"
)

const (
	conversationKeyPrefix = "conversation:"
	analyticsKeyPrefix    = "analytics:"
)

// Config tunes the conversation manager's timers and retention.
type Config struct {
	// SessionTimeout is the hard inactivity limit.
	SessionTimeout time.Duration
	// WarningTimeouts fire wrap-up prompts before the hard limit. Each must
	// be strictly less than SessionTimeout.
	WarningTimeouts []time.Duration
	// GracePeriod runs after the hard limit; activity during it rescues the
	// call, silence ends it by timeout.
	GracePeriod time.Duration
	// ActiveTTL is the store TTL refreshed on every mutation of a live call.
	ActiveTTL time.Duration
	// PostCallRetention keeps ended conversations around for handoff/audit.
	PostCallRetention time.Duration
}

// Dependencies carries the manager's collaborators.
type Dependencies struct {
	Store     store.Store
	Scheduler *sched.Scheduler
	Flow      *flow.Handler
	Logger    *slog.Logger
	Metrics   *metrics.Collector
	Now       func() time.Time
}

// StartOptions are the optional identifiers supplied at call start.
type StartOptions struct {
	PatientID   string
	PatientName string
	SessionID   string
}

// Manager owns conversation lifecycle and timers. Mutating operations on a
// single conversation are expected to be serialized by the caller; the
// timer table is the only internally locked resource.
type Manager struct {
	store     store.Store
	scheduler *sched.Scheduler
	flowh     *flow.Handler
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
	cfg       Config

	timersMu sync.Mutex
	timers   map[string]*convTimers
}

// New validates configuration, applies defaults, and builds a manager.
func New(deps Dependencies, cfg Config) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
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
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.ActiveTTL <= 0 {
		cfg.ActiveTTL = time.Hour
	}
	if cfg.PostCallRetention <= 0 {
		cfg.PostCallRetention = 7 * 24 * time.Hour
	}
	for _, w := range cfg.WarningTimeouts {
		if w <= 0 || w >= cfg.SessionTimeout {
			return nil, fmt.Errorf("warning timeout %s must be positive and less than session timeout %s", w, cfg.SessionTimeout)
		}
	}

	return &Manager{
		store:     deps.Store,
		scheduler: deps.Scheduler,
		flowh:     deps.Flow,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		cfg:       cfg,
		timers:    make(map[string]*convTimers),
	}, nil
}

// Start allocates identifiers, initializes a conversation with status
// INITIATED and zero turns, persists it, and arms the inactivity timers.
func (m *Manager) Start(ctx context.Context, phoneNumber string, opts StartOptions) (*types.ConversationState, error) {
	if phoneNumber == "" {
		return nil, core.NewInvalidRequestError("phone number is required")
	}

	now := m.now()
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "s_" + randHex(8)
	}
	state := &types.ConversationState{
		ConversationID:     "conv_" + randHex(8),
		SessionID:          sessionID,
		PhoneNumber:        phoneNumber,
		PatientID:          opts.PatientID,
		PatientName:        opts.PatientName,
		Status:             types.StatusInitiated,
		Turns:              []types.Turn{},
		IntentHistory:      []string{},
		PreviousTopics:     []string{},
		VerificationStatus: types.VerificationUnverified,
		EmotionalState:     types.EmotionalState{Overall: types.EmotionNeutral},
		StartTime:          now,
		LastActivity:       now,
		CreatedAt:          now,
	}

	if err := m.persist(ctx, state, m.cfg.ActiveTTL); err != nil {
		return nil, err
	}
	m.armTimers(state.ConversationID)

	if m.metrics != nil {
		m.metrics.ConversationsStarted.Inc()
	}
	m.logger.Info("conversation started",
		"conversation_id", state.ConversationID, "session_id", sessionID)
	return state, nil
}

// Get loads a conversation or returns a not-found error.
func (m *Manager) Get(ctx context.Context, conversationID string) (*types.ConversationState, error) {
	return m.load(ctx, conversationID)
}

// AddTurn appends an immutable turn, folds the classifier outputs into
// derived state, evaluates the flow table, resets the inactivity timers,
// and persists with a refreshed TTL.
func (m *Manager) AddTurn(ctx context.Context, conversationID string, speaker types.Speaker, text string, opts types.TurnOptions) (*types.ConversationState, error) {
	state, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, core.NewConflictError("conversation has ended")
	}

	now := m.now()
	turn := types.Turn{
		ID:               uuid.NewString(),
		Timestamp:        now,
		Speaker:          speaker,
		Text:             text,
		Intent:           opts.Intent,
		Confidence:       opts.Confidence,
		Sentiment:        opts.Sentiment,
		EmotionalMarkers: opts.EmotionalMarkers,
		Topics:           opts.Topics,
		Entities:         opts.Entities,
		FollowUpRequired: opts.FollowUpRequired,
	}

	if state.Status == types.StatusInitiated {
		state.Status = types.StatusActive
	}

	if speaker == types.SpeakerPatient && opts.Intent != "" && opts.Intent != state.CurrentIntent {
		if state.CurrentIntent != "" {
			state.IntentHistory = append(state.IntentHistory, state.CurrentIntent)
		}
		state.CurrentIntent = opts.Intent
	}

	mergeTopics(&state.ContextualMemory, opts.Topics)
	mergeEntities(&state.ContextualMemory, opts.Entities)

	if speaker == types.SpeakerPatient {
		if goal, ok := extractGoal(text, state.ConversationGoals); ok {
			state.ConversationGoals = append(state.ConversationGoals, goal)
			state.ContextualMemory.SessionGoals = append(state.ContextualMemory.SessionGoals, goal)
		}
	}

	if opts.Sentiment != nil {
		applyEmotionalUpdate(state, *opts.Sentiment, opts.EmotionalMarkers, now)
	}

	// Flow evaluation runs against the state as it stood before this turn.
	if m.flowh != nil {
		res := m.flowh.ProcessTurn(state, turn)
		if res.RequiresFollowUp {
			turn.FollowUpRequired = true
		}
	}

	state.Turns = append(state.Turns, turn)
	state.LastActivity = now
	state.TotalDuration = now.Sub(state.StartTime)

	if err := m.persist(ctx, state, m.cfg.ActiveTTL); err != nil {
		return nil, err
	}
	m.armTimers(conversationID)

	if m.metrics != nil {
		m.metrics.TurnsAppended.WithLabelValues(string(speaker)).Inc()
	}
	return state, nil
}

// HandleTopicChange switches the current topic. A change to the current
// topic is a no-op. A real switch bumps topicSwitches, archives the old
// topic, documents the change as a system turn, and resets timers.
func (m *Manager) HandleTopicChange(ctx context.Context, conversationID, newTopic, changeContext string) (*types.ConversationState, error) {
	state, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, core.NewConflictError("conversation has ended")
	}
	if newTopic == "" || newTopic == state.CurrentTopic {
		return state, nil
	}

	now := m.now()
	oldTopic := state.CurrentTopic
	if oldTopic != "" {
		state.TopicSwitches++
		state.PreviousTopics = append(state.PreviousTopics, oldTopic)

		text := fmt.Sprintf("Topic changed from %q to %q", oldTopic, newTopic)
		if changeContext != "" {
			text += ": " + changeContext
		}
		state.Turns = append(state.Turns, types.Turn{
			ID:        uuid.NewString(),
			Timestamp: now,
			Speaker:   types.SpeakerSystem,
			Text:      text,
			Topics:    []string{newTopic},
		})

		if m.flowh != nil {
			if tt := m.flowh.HandleTopicTransition(state, oldTopic, newTopic); tt.Bridge != "" {
				state.Turns = append(state.Turns, types.Turn{
					ID:        uuid.NewString(),
					Timestamp: now,
					Speaker:   types.SpeakerAI,
					Text:      tt.Bridge,
				})
			}
		}
	}

	state.CurrentTopic = newTopic
	mergeTopics(&state.ContextualMemory, []string{newTopic})
	state.LastActivity = now
	state.TotalDuration = now.Sub(state.StartTime)

	if err := m.persist(ctx, state, m.cfg.ActiveTTL); err != nil {
		return nil, err
	}
	m.armTimers(conversationID)
	return state, nil
}

// Context derives the TurnContext view of a conversation.
func (m *Manager) Context(ctx context.Context, conversationID string) (*types.TurnContext, error) {
	state, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return deriveContext(state), nil
}

// End closes a conversation: appends the final message, maps the ending
// type to its terminal status, synchronously cancels all timers, snapshots
// analytics, and persists with the post-call retention TTL.
func (m *Manager) End(ctx context.Context, conversationID string, ending types.EndingType, reason, finalMessage string) (*types.ConversationState, error) {
	state, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, core.NewConflictError("conversation already ended")
	}

	now := m.now()
	if finalMessage != "" {
		state.Turns = append(state.Turns, types.Turn{
			ID:        uuid.NewString(),
			Timestamp: now,
			Speaker:   types.SpeakerSystem,
			Text:      finalMessage,
		})
	}
	state.Status = types.StatusForEnding(ending)
	state.LastActivity = now
	state.TotalDuration = now.Sub(state.StartTime)

	m.cancelTimers(conversationID)

	// Analytics snapshots are best-effort housekeeping.
	if err := m.persistAnalytics(ctx, state, reason); err != nil {
		m.logger.Warn("analytics snapshot failed", "conversation_id", conversationID, "error", err)
	}

	if err := m.persist(ctx, state, m.cfg.PostCallRetention); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.ConversationsEnded.WithLabelValues(string(ending)).Inc()
	}
	m.logger.Info("conversation ended",
		"conversation_id", conversationID, "ending", ending, "reason", reason,
		"turns", len(state.Turns), "duration", state.TotalDuration)
	return state, nil
}

// RecordMisunderstanding bumps the misunderstanding counter.
func (m *Manager) RecordMisunderstanding(ctx context.Context, conversationID string) (*types.ConversationState, error) {
	return m.bump(ctx, conversationID, func(s *types.ConversationState) { s.MisunderstandingCount++ })
}

// RecordClarificationRequest bumps the clarification counter.
func (m *Manager) RecordClarificationRequest(ctx context.Context, conversationID string) (*types.ConversationState, error) {
	return m.bump(ctx, conversationID, func(s *types.ConversationState) { s.ClarificationRequests++ })
}

// RecordVerificationAttempt bumps the verification attempt counter and
// updates the verification status.
func (m *Manager) RecordVerificationAttempt(ctx context.Context, conversationID string, status types.VerificationStatus) (*types.ConversationState, error) {
	return m.bump(ctx, conversationID, func(s *types.ConversationState) {
		s.VerificationAttempts++
		s.VerificationStatus = status
	})
}

// CompleteGoal marks a conversation goal complete by explicit membership.
func (m *Manager) CompleteGoal(ctx context.Context, conversationID, goal string) (*types.ConversationState, error) {
	return m.bump(ctx, conversationID, func(s *types.ConversationState) {
		for _, c := range s.CompletedGoals {
			if c == goal {
				return
			}
		}
		s.CompletedGoals = append(s.CompletedGoals, goal)
	})
}

// AddPendingAction records a promised follow-up action.
func (m *Manager) AddPendingAction(ctx context.Context, conversationID, description string) (*types.ConversationState, error) {
	return m.bump(ctx, conversationID, func(s *types.ConversationState) {
		s.PendingActions = append(s.PendingActions, types.PendingAction{
			Description: description,
			Status:      "pending",
		})
	})
}

// Snapshot builds the escalation-detector view of a conversation.
func (m *Manager) Snapshot(state *types.ConversationState) types.EscalationContext {
	ec := types.EscalationContext{
		ConversationID:        state.ConversationID,
		PhoneNumber:           state.PhoneNumber,
		PatientID:             state.PatientID,
		PatientName:           state.PatientName,
		RecentTurns:           state.PatientTurns(5),
		CurrentTopic:          state.CurrentTopic,
		MisunderstandingCount: state.MisunderstandingCount,
		VerificationAttempts:  state.VerificationAttempts,
		CallDuration:          m.now().Sub(state.StartTime),
		EmotionalMarkers:      state.EmotionalState.Markers,
		EscalationFlags:       state.EscalationFlags,
	}
	for i := len(ec.RecentTurns) - 1; i >= 0; i-- {
		if ec.RecentTurns[i].Sentiment != nil {
			ec.Sentiment = ec.RecentTurns[i].Sentiment
			break
		}
	}
	return ec
}

// Close cancels every outstanding conversation timer.
func (m *Manager) Close() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for id, t := range m.timers {
		t.cancelAll()
		delete(m.timers, id)
	}
}

func (m *Manager) bump(ctx context.Context, conversationID string, mutate func(*types.ConversationState)) (*types.ConversationState, error) {
	state, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, core.NewConflictError("conversation has ended")
	}
	mutate(state)
	if err := m.persist(ctx, state, m.cfg.ActiveTTL); err != nil {
		return nil, err
	}
	return state, nil
}

// appendInternalTurn appends a system-originated turn without touching
// lastActivity or rearming timers. Used by timer callbacks.
func (m *Manager) appendInternalTurn(ctx context.Context, state *types.ConversationState, speaker types.Speaker, text string) {
	state.Turns = append(state.Turns, types.Turn{
		ID:        uuid.NewString(),
		Timestamp: m.now(),
		Speaker:   speaker,
		Text:      text,
	})
	if err := m.persist(ctx, state, m.cfg.ActiveTTL); err != nil {
		m.logger.Warn("internal turn persist failed",
			"conversation_id", state.ConversationID, "error", err)
	}
}

func (m *Manager) load(ctx context.Context, conversationID string) (*types.ConversationState, error) {
	raw, err := m.store.Get(ctx, conversationKeyPrefix+conversationID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, core.NewNotFoundError("conversation", conversationID)
		}
		return nil, core.NewStorageError("load conversation", err)
	}
	var state types.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, core.NewStorageError("decode conversation", err)
	}
	return &state, nil
}

// persist bumps the version and writes the state blob. Store failures on
// this path fail loud.
func (m *Manager) persist(ctx context.Context, state *types.ConversationState, ttl time.Duration) error {
	state.Version++
	state.UpdatedAt = m.now()

	raw, err := json.Marshal(state)
	if err != nil {
		return core.NewStorageError("encode conversation", err)
	}
	if err := m.store.Set(ctx, conversationKeyPrefix+state.ConversationID, raw, ttl); err != nil {
		return core.NewStorageError("persist conversation", err)
	}
	return nil
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
