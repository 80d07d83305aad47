package flow

import (
	"strings"
	"testing"

	"github.com/carevox/carevox/pkg/core/types"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return New(Config{SmartTransitions: true}, nil)
}

func TestProcessTurn_GreetingToVerification(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{
		Status:             types.StatusInitiated,
		VerificationStatus: types.VerificationUnverified,
	}
	turn := types.Turn{Speaker: types.SpeakerPatient, Text: "Hi, I'd like to book an appointment"}

	res := h.ProcessTurn(state, turn)
	if res.Transition == nil {
		t.Fatalf("expected a transition out of GREETING")
	}
	if res.Transition.To != PhasePatientVerification {
		t.Fatalf("transition to %s, want %s", res.Transition.To, PhasePatientVerification)
	}
	if res.Transition.From != PhaseGreeting {
		t.Fatalf("transition from %s, want %s", res.Transition.From, PhaseGreeting)
	}
}

func TestProcessTurn_FirstMatchWins(t *testing.T) {
	h := newTestHandler(t)
	// Verified patient in GREETING: the verification_required entry does not
	// match, so the later greeting_complete entry is selected.
	state := &types.ConversationState{
		Status:             types.StatusInitiated,
		VerificationStatus: types.VerificationVerified,
	}
	turn := types.Turn{Speaker: types.SpeakerPatient, Text: "hello"}

	res := h.ProcessTurn(state, turn)
	if res.Transition == nil || res.Transition.To != PhaseIntentDiscovery {
		t.Fatalf("result = %+v, want transition to INTENT_DISCOVERY", res.Transition)
	}
}

func TestProcessTurn_NoTransitionWhenNoneMatch(t *testing.T) {
	h := newTestHandler(t)
	// Active conversation with an intent but only one entity: neither
	// INFORMATION_GATHERING entry matches.
	state := &types.ConversationState{
		Status:             types.StatusActive,
		VerificationStatus: types.VerificationVerified,
		CurrentIntent:      "schedule_appointment",
		ContextualMemory:   types.ContextualMemory{MentionedEntities: []string{"Dr. Reyes"}},
	}
	turn := types.Turn{Speaker: types.SpeakerPatient, Text: "next week maybe"}

	res := h.ProcessTurn(state, turn)
	if res.Transition != nil {
		t.Fatalf("transition = %+v, want none", res.Transition)
	}
}

func TestContextPreserved_AIQuestionThenPatientAnswer(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{
		Status: types.StatusActive,
		Turns: []types.Turn{
			{Speaker: types.SpeakerAI, Text: "Which day works best for you?"},
		},
	}
	turn := types.Turn{Speaker: types.SpeakerPatient, Text: "Tuesday"}

	res := h.ProcessTurn(state, turn)
	if !res.ContextPreserved {
		t.Fatalf("ContextPreserved = false for question/answer pattern")
	}
}

func TestContextPreserved_UnrelatedTurn(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{
		Status: types.StatusActive,
		Turns: []types.Turn{
			{Speaker: types.SpeakerPatient, Text: "I need a refill", Topics: []string{"medication"}},
		},
	}
	turn := types.Turn{Speaker: types.SpeakerPatient, Text: "what color is the building", Topics: []string{"trivia"}}

	if res := h.ProcessTurn(state, turn); res.ContextPreserved {
		t.Fatalf("ContextPreserved = true for unrelated turn")
	}
}

func TestRequiresFollowUp(t *testing.T) {
	h := newTestHandler(t)

	state := &types.ConversationState{Status: types.StatusActive}
	if res := h.ProcessTurn(state, types.Turn{Speaker: types.SpeakerPatient, Text: "thanks"}); res.RequiresFollowUp {
		t.Fatalf("RequiresFollowUp = true with nothing outstanding")
	}

	if res := h.ProcessTurn(state, types.Turn{Speaker: types.SpeakerPatient, Text: "actually, one more thing"}); !res.RequiresFollowUp {
		t.Fatalf("RequiresFollowUp = false for open-ended utterance")
	}

	withGoals := &types.ConversationState{
		Status:            types.StatusActive,
		ConversationGoals: []string{"need to reschedule my appointment"},
	}
	if res := h.ProcessTurn(withGoals, types.Turn{Speaker: types.SpeakerPatient, Text: "ok"}); !res.RequiresFollowUp {
		t.Fatalf("RequiresFollowUp = false with outstanding goal")
	}
}

func TestHandleTopicTransition_RelatedTopics(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{}

	tt := h.HandleTopicTransition(state, "billing", "insurance")
	if tt.ContextLost {
		t.Fatalf("ContextLost = true for related topics billing/insurance")
	}
}

func TestHandleTopicTransition_UnrelatedLosesContext(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{
		Turns: []types.Turn{
			{Speaker: types.SpeakerPatient, Text: "when are you open"},
		},
	}

	tt := h.HandleTopicTransition(state, "billing", "symptoms")
	if !tt.ContextLost {
		t.Fatalf("ContextLost = false for unrelated topics with no bridge")
	}
	if tt.Bridge == "" {
		t.Fatalf("smart transitions enabled but no bridge generated")
	}
	if !strings.Contains(tt.Bridge, "symptoms") || !strings.Contains(tt.Bridge, "billing") {
		t.Fatalf("bridge does not name both topics: %q", tt.Bridge)
	}
}

func TestHandleTopicTransition_BridgeInRecentTurns(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{
		Turns: []types.Turn{
			{Speaker: types.SpeakerPatient, Text: "while we're at it, about my symptoms"},
		},
	}

	tt := h.HandleTopicTransition(state, "billing", "symptoms")
	if tt.ContextLost {
		t.Fatalf("ContextLost = true although a recent turn mentions the new topic")
	}
}

func TestHandleTopicTransition_SameTopicNoop(t *testing.T) {
	h := newTestHandler(t)
	tt := h.HandleTopicTransition(&types.ConversationState{}, "billing", "Billing")
	if tt.ContextLost || tt.Bridge != "" {
		t.Fatalf("same-topic transition should be a no-op: %+v", tt)
	}
}

func TestGenerateFollowUpQuestion(t *testing.T) {
	h := newTestHandler(t)
	state := &types.ConversationState{CurrentTopic: "insurance"}

	for _, kind := range []ContextKind{ContextClarification, ContextElaboration, ContextConfirmation} {
		q := h.GenerateFollowUpQuestion(state, kind)
		if !strings.Contains(q, "insurance") {
			t.Errorf("GenerateFollowUpQuestion(%s) = %q, want topic-aware prompt", kind, q)
		}
	}
	if q := h.GenerateFollowUpQuestion(state, ContextNextSteps); q == "" {
		t.Errorf("GenerateFollowUpQuestion(next_steps) empty")
	}
}

func TestPhaseForState(t *testing.T) {
	cases := []struct {
		name  string
		state *types.ConversationState
		want  Phase
	}{
		{"initiated", &types.ConversationState{Status: types.StatusInitiated}, PhaseGreeting},
		{"escalated", &types.ConversationState{Status: types.StatusEscalated}, PhaseEscalation},
		{"pending verification", &types.ConversationState{Status: types.StatusActive, VerificationStatus: types.VerificationPending}, PhasePatientVerification},
		{"no intent yet", &types.ConversationState{Status: types.StatusActive, VerificationStatus: types.VerificationVerified}, PhaseIntentDiscovery},
		{"gathering", &types.ConversationState{Status: types.StatusActive, VerificationStatus: types.VerificationVerified, CurrentIntent: "schedule_appointment"}, PhaseInformationGathering},
	}
	for _, tc := range cases {
		if got := PhaseForState(tc.state); got != tc.want {
			t.Errorf("%s: PhaseForState() = %s, want %s", tc.name, got, tc.want)
		}
	}
}
