package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/flow"
	"github.com/carevox/carevox/pkg/core/sched"
	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/store"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	s := sched.New()
	t.Cleanup(s.Stop)
	m, err := New(Dependencies{
		Store:     store.NewMemoryStore(),
		Scheduler: s,
		Flow:      flow.New(flow.Config{SmartTransitions: true}, nil),
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func floatPtr(f float64) *float64 { return &f }

func TestStart_InitiatedWithZeroTurns(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	state, err := m.Start(ctx, "+15551234567", StartOptions{PatientName: "Ada"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state.Status != types.StatusInitiated {
		t.Fatalf("Status = %s, want INITIATED", state.Status)
	}
	if len(state.Turns) != 0 {
		t.Fatalf("Turns = %d, want 0", len(state.Turns))
	}
	if state.Version != 1 {
		t.Fatalf("Version = %d, want 1", state.Version)
	}
	if !strings.HasPrefix(state.ConversationID, "conv_") {
		t.Fatalf("ConversationID = %q", state.ConversationID)
	}

	loaded, err := m.Get(ctx, state.ConversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.PhoneNumber != "+15551234567" || loaded.PatientName != "Ada" {
		t.Fatalf("persisted state mismatch: %+v", loaded)
	}
}

func TestAddTurn_NotFound(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.AddTurn(context.Background(), "conv_missing", types.SpeakerPatient, "hi", types.TurnOptions{})
	if !core.IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestAddTurn_VersionStrictlyIncreases(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	prev := state.Version
	for i := 0; i < 3; i++ {
		next, err := m.AddTurn(ctx, state.ConversationID, types.SpeakerPatient, "hello", types.TurnOptions{})
		if err != nil {
			t.Fatalf("AddTurn() error = %v", err)
		}
		if next.Version <= prev {
			t.Fatalf("Version = %d after %d, want strictly increasing", next.Version, prev)
		}
		prev = next.Version
	}
}

func TestAddTurn_TurnsAppendOnly(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	first, _ := m.AddTurn(ctx, id, types.SpeakerPatient, "first", types.TurnOptions{})
	firstID := first.Turns[0].ID

	second, _ := m.AddTurn(ctx, id, types.SpeakerAI, "second", types.TurnOptions{})
	if len(second.Turns) != 2 {
		t.Fatalf("Turns = %d, want 2", len(second.Turns))
	}
	if second.Turns[0].ID != firstID || second.Turns[0].Text != "first" {
		t.Fatalf("earlier turn mutated: %+v", second.Turns[0])
	}
	if second.Status != types.StatusActive {
		t.Fatalf("Status = %s, want ACTIVE after first turn", second.Status)
	}
}

func TestAddTurn_IntentHistory(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	s, _ := m.AddTurn(ctx, id, types.SpeakerPatient, "when are you open", types.TurnOptions{Intent: "practice_hours"})
	if s.CurrentIntent != "practice_hours" || len(s.IntentHistory) != 0 {
		t.Fatalf("state = intent %q history %v", s.CurrentIntent, s.IntentHistory)
	}

	// Same intent again: no history push.
	s, _ = m.AddTurn(ctx, id, types.SpeakerPatient, "on weekends too?", types.TurnOptions{Intent: "practice_hours"})
	if len(s.IntentHistory) != 0 {
		t.Fatalf("history = %v after repeated intent", s.IntentHistory)
	}

	s, _ = m.AddTurn(ctx, id, types.SpeakerPatient, "also need a refill", types.TurnOptions{Intent: "prescription_refill"})
	if s.CurrentIntent != "prescription_refill" {
		t.Fatalf("CurrentIntent = %q", s.CurrentIntent)
	}
	if len(s.IntentHistory) != 1 || s.IntentHistory[0] != "practice_hours" {
		t.Fatalf("IntentHistory = %v", s.IntentHistory)
	}

	// AI turns never shift intent.
	s, _ = m.AddTurn(ctx, id, types.SpeakerAI, "sure", types.TurnOptions{Intent: "other"})
	if s.CurrentIntent != "prescription_refill" {
		t.Fatalf("AI turn changed intent to %q", s.CurrentIntent)
	}
}

func TestAddTurn_ContextualMemoryBounds(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	topics := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	var s *types.ConversationState
	for _, topic := range topics {
		s, _ = m.AddTurn(ctx, id, types.SpeakerPatient, "about "+topic, types.TurnOptions{Topics: []string{topic}})
	}
	if len(s.ContextualMemory.RecentTopics) != types.MaxRecentTopics {
		t.Fatalf("RecentTopics = %v", s.ContextualMemory.RecentTopics)
	}
	if s.ContextualMemory.RecentTopics[0] != "t7" {
		t.Fatalf("RecentTopics[0] = %q, want most recent first", s.ContextualMemory.RecentTopics[0])
	}
	if len(s.ContextualMemory.DiscussedTopics) != len(topics) {
		t.Fatalf("DiscussedTopics = %v, want full set", s.ContextualMemory.DiscussedTopics)
	}

	var entities []string
	for i := 0; i < 25; i++ {
		entities = append(entities, fmt.Sprintf("entity-%02d", i))
	}
	s, _ = m.AddTurn(ctx, id, types.SpeakerPatient, "lots of entities", types.TurnOptions{Entities: entities})
	if len(s.ContextualMemory.MentionedEntities) != types.MaxMentionedEntities {
		t.Fatalf("MentionedEntities = %d, want %d", len(s.ContextualMemory.MentionedEntities), types.MaxMentionedEntities)
	}
	// Oldest evicted: the tail must be the most recent entity.
	last := s.ContextualMemory.MentionedEntities[types.MaxMentionedEntities-1]
	if last != entities[len(entities)-1] {
		t.Fatalf("newest entity missing, tail = %q", last)
	}
}

func TestAddTurn_GoalExtractionAndDedupe(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	s, _ := m.AddTurn(ctx, id, types.SpeakerPatient, "I need to reschedule my appointment for next week", types.TurnOptions{})
	if len(s.ConversationGoals) != 1 {
		t.Fatalf("goals = %v", s.ConversationGoals)
	}

	// Same leading text: deduped.
	s, _ = m.AddTurn(ctx, id, types.SpeakerPatient, "I need to reschedule my appointment please", types.TurnOptions{})
	if len(s.ConversationGoals) != 1 {
		t.Fatalf("goals after duplicate = %v", s.ConversationGoals)
	}

	s, _ = m.AddTurn(ctx, id, types.SpeakerPatient, "I also want to ask about my bill", types.TurnOptions{})
	if len(s.ConversationGoals) != 2 {
		t.Fatalf("goals after second goal = %v", s.ConversationGoals)
	}

	// AI phrasing never creates goals.
	s, _ = m.AddTurn(ctx, id, types.SpeakerAI, "you may want to arrive early", types.TurnOptions{})
	if len(s.ConversationGoals) != 2 {
		t.Fatalf("AI turn created goal: %v", s.ConversationGoals)
	}
}

func TestAddTurn_EmotionalStateAndFlag(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	s, err := m.AddTurn(ctx, id, types.SpeakerPatient, "this is awful", types.TurnOptions{
		Sentiment:        floatPtr(-0.85),
		EmotionalMarkers: []string{"distress"},
	})
	if err != nil {
		t.Fatalf("AddTurn() error = %v", err)
	}
	if s.EmotionalState.Overall != types.EmotionDistressed {
		t.Fatalf("Overall = %s, want distressed", s.EmotionalState.Overall)
	}
	if !s.HasEscalationFlag(FlagEmotionalDistress) {
		t.Fatalf("escalation flag missing, flags = %v", s.EscalationFlags)
	}
	if len(s.EmotionalState.Trends) != 1 {
		t.Fatalf("Trends = %v", s.EmotionalState.Trends)
	}
}

func TestHandleTopicChange(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	s, err := m.HandleTopicChange(ctx, id, "billing", "")
	if err != nil {
		t.Fatalf("HandleTopicChange() error = %v", err)
	}
	if s.CurrentTopic != "billing" || s.TopicSwitches != 0 {
		t.Fatalf("first topic: topic=%q switches=%d", s.CurrentTopic, s.TopicSwitches)
	}

	// Same topic: no-op with respect to topicSwitches.
	s, _ = m.HandleTopicChange(ctx, id, "billing", "")
	if s.TopicSwitches != 0 {
		t.Fatalf("switches = %d after same-topic change", s.TopicSwitches)
	}

	s, _ = m.HandleTopicChange(ctx, id, "insurance", "patient asked about coverage")
	if s.TopicSwitches != 1 {
		t.Fatalf("switches = %d, want 1", s.TopicSwitches)
	}
	if len(s.PreviousTopics) != 1 || s.PreviousTopics[0] != "billing" {
		t.Fatalf("PreviousTopics = %v", s.PreviousTopics)
	}

	var sysTurn *types.Turn
	for i := range s.Turns {
		if s.Turns[i].Speaker == types.SpeakerSystem {
			sysTurn = &s.Turns[i]
		}
	}
	if sysTurn == nil || !strings.Contains(sysTurn.Text, "billing") || !strings.Contains(sysTurn.Text, "insurance") {
		t.Fatalf("topic change not documented as system turn: %+v", sysTurn)
	}
}

func TestContextDerivation(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	m.AddTurn(ctx, id, types.SpeakerPatient, "I take metformin", types.TurnOptions{
		Entities: []string{"metformin"}, Topics: []string{"medication"},
	})
	m.AddTurn(ctx, id, types.SpeakerAI, "Noted. Anything else?", types.TurnOptions{Topics: []string{"medication"}})
	m.AddTurn(ctx, id, types.SpeakerPatient, "you said earlier the metformin refill was ready, sorry, what time?", types.TurnOptions{Topics: []string{"medication"}})

	tc, err := m.Context(ctx, id)
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if tc.TurnNumber != 3 {
		t.Fatalf("TurnNumber = %d", tc.TurnNumber)
	}
	if !tc.TopicContinuity {
		t.Fatalf("TopicContinuity = false, want true")
	}
	if !tc.ReferencesHistory {
		t.Fatalf("ReferencesHistory = false, want true")
	}
	if !tc.RequiresClarification {
		t.Fatalf("RequiresClarification = false, want true")
	}
	found := false
	for _, ref := range tc.ContextualReferences {
		if ref == "metformin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ContextualReferences = %v, want metformin echoed", tc.ContextualReferences)
	}
}

func TestEnd_TerminalStatusAndFinalMessage(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID
	m.AddTurn(ctx, id, types.SpeakerPatient, "bye", types.TurnOptions{})

	s, err := m.End(ctx, id, types.EndingPatientRequest, "caller hung up", "Thanks for calling.")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if s.Status != types.StatusEndedByPatient {
		t.Fatalf("Status = %s", s.Status)
	}
	last := s.Turns[len(s.Turns)-1]
	if last.Speaker != types.SpeakerSystem || last.Text != "Thanks for calling." {
		t.Fatalf("final message turn = %+v", last)
	}

	if _, err := m.End(ctx, id, types.EndingNatural, "", ""); !core.IsConflict(err) {
		t.Fatalf("second End error = %v, want conflict", err)
	}
	if _, err := m.AddTurn(ctx, id, types.SpeakerPatient, "hello?", types.TurnOptions{}); !core.IsConflict(err) {
		t.Fatalf("AddTurn after end error = %v, want conflict", err)
	}
}

func TestTimeoutLifecycle(t *testing.T) {
	m := newTestManager(t, Config{
		SessionTimeout:  300 * time.Millisecond,
		WarningTimeouts: []time.Duration{150 * time.Millisecond},
		GracePeriod:     150 * time.Millisecond,
	})
	ctx := context.Background()

	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID
	// A first turn moves the call to ACTIVE and rearms all timers from now.
	m.AddTurn(ctx, id, types.SpeakerPatient, "hello", types.TurnOptions{})

	// After the warning timeout an AI wrap-up turn appears.
	time.Sleep(220 * time.Millisecond)
	s, _ := m.Get(ctx, id)
	foundWarning := false
	for _, turn := range s.Turns {
		if turn.Speaker == types.SpeakerAI && strings.Contains(turn.Text, "wrap up") {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Fatalf("no warning turn after warning timeout: %+v", s.Turns)
	}
	if s.Status != types.StatusActive {
		t.Fatalf("warning ended the conversation: %s", s.Status)
	}

	// After hard timeout + grace with no activity the call times out.
	time.Sleep(400 * time.Millisecond)
	s, _ = m.Get(ctx, id)
	if s.Status != types.StatusEndedByTimeout {
		t.Fatalf("Status = %s, want ENDED_BY_TIMEOUT", s.Status)
	}
}

func TestTimeoutWarningWithoutFirstTurn(t *testing.T) {
	m := newTestManager(t, Config{
		SessionTimeout:  400 * time.Millisecond,
		WarningTimeouts: []time.Duration{200 * time.Millisecond},
		GracePeriod:     150 * time.Millisecond,
	})
	ctx := context.Background()

	// The caller never speaks: the call stays INITIATED, and the warning
	// must still fire.
	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID

	time.Sleep(300 * time.Millisecond)
	s, _ := m.Get(ctx, id)
	if s.Status != types.StatusInitiated {
		t.Fatalf("Status = %s, want INITIATED before hard timeout", s.Status)
	}
	foundWarning := false
	for _, turn := range s.Turns {
		if turn.Speaker == types.SpeakerAI && strings.Contains(turn.Text, "wrap up") {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Fatalf("no AI warning turn after warning timeout with zero turns: %+v", s.Turns)
	}

	// Continued silence runs through the hard timeout and grace period.
	time.Sleep(450 * time.Millisecond)
	s, _ = m.Get(ctx, id)
	if s.Status != types.StatusEndedByTimeout {
		t.Fatalf("Status = %s, want ENDED_BY_TIMEOUT", s.Status)
	}
}

func TestActivityRescuesTimeout(t *testing.T) {
	m := newTestManager(t, Config{
		SessionTimeout: 250 * time.Millisecond,
		GracePeriod:    300 * time.Millisecond,
	})
	ctx := context.Background()

	state, _ := m.Start(ctx, "+15550001111", StartOptions{})
	id := state.ConversationID
	m.AddTurn(ctx, id, types.SpeakerPatient, "hello", types.TurnOptions{})

	// Let the hard timer fire, then answer during the grace period.
	time.Sleep(300 * time.Millisecond)
	if _, err := m.AddTurn(ctx, id, types.SpeakerPatient, "still here", types.TurnOptions{}); err != nil {
		t.Fatalf("AddTurn during grace error = %v", err)
	}

	// The rearm cancelled the grace timer; the call must survive past the
	// original grace deadline.
	time.Sleep(200 * time.Millisecond)
	s, _ := m.Get(ctx, id)
	if s.Status.Terminal() {
		t.Fatalf("conversation ended despite activity during grace: %s", s.Status)
	}
}

func TestBuildSummary(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	state, _ := m.Start(ctx, "+15550001111", StartOptions{PatientName: "Ada"})
	id := state.ConversationID

	m.AddTurn(ctx, id, types.SpeakerPatient, "I need to sort out a billing issue", types.TurnOptions{
		Topics: []string{"billing"}, Sentiment: floatPtr(-0.85), EmotionalMarkers: []string{"distress"},
	})
	s, _ := m.Get(ctx, id)

	sum := m.BuildSummary(s, "escalation")
	if sum.PatientName != "Ada" || sum.EmotionalState != string(types.EmotionDistressed) {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.UrgentFlags) == 0 {
		t.Fatalf("urgent flags missing")
	}
	if len(sum.Goals) != 1 {
		t.Fatalf("goals = %v", sum.Goals)
	}
}
