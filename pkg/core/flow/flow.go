// Package flow evaluates conversation phase transitions and generates
// contextual follow-up text from conversation state and the latest turn.
package flow

import (
	"log/slog"
	"strings"

	"github.com/carevox/carevox/pkg/core/types"
)

// Config tunes the flow handler.
type Config struct {
	// SmartTransitions enables bridging sentences on topic changes that
	// would otherwise lose context.
	SmartTransitions bool
}

// Handler evaluates the phase-transition table and derives per-turn context
// signals. Handlers are stateless and safe for concurrent use.
type Handler struct {
	cfg    Config
	logger *slog.Logger
	table  []transition
}

// Transition describes a phase change selected for a turn.
type Transition struct {
	From    Phase  `json:"from"`
	To      Phase  `json:"to"`
	Trigger string `json:"trigger"`
}

// Result is the flow handler's verdict for one turn.
type Result struct {
	Transition       *Transition `json:"transition,omitempty"`
	ContextPreserved bool        `json:"context_preserved"`
	RequiresFollowUp bool        `json:"requires_follow_up"`
}

type transition struct {
	from    Phase
	to      Phase
	trigger string
	when    func(state *types.ConversationState, turn types.Turn) bool
}

// New creates a flow handler with the fixed transition table.
func New(cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{cfg: cfg, logger: logger}
	h.table = buildTable()
	return h
}

// buildTable returns the ordered transition table. Entries are evaluated in
// order; the first whose predicate holds wins.
func buildTable() []transition {
	return []transition{
		{PhaseGreeting, PhasePatientVerification, "verification_required", func(s *types.ConversationState, t types.Turn) bool {
			return s.VerificationStatus == types.VerificationUnverified && t.Speaker == types.SpeakerPatient
		}},
		{PhaseGreeting, PhaseIntentDiscovery, "greeting_complete", func(s *types.ConversationState, t types.Turn) bool {
			return t.Speaker == types.SpeakerPatient
		}},
		{PhasePatientVerification, PhaseIntentDiscovery, "identity_verified", func(s *types.ConversationState, t types.Turn) bool {
			return s.VerificationStatus == types.VerificationVerified
		}},
		{PhasePatientVerification, PhaseEscalation, "verification_failed", func(s *types.ConversationState, t types.Turn) bool {
			return s.VerificationStatus == types.VerificationFailed
		}},
		{PhaseIntentDiscovery, PhaseInformationProviding, "question_intent", func(s *types.ConversationState, t types.Turn) bool {
			return questionIntent(s.CurrentIntent) || strings.HasSuffix(strings.TrimSpace(t.Text), "?")
		}},
		{PhaseIntentDiscovery, PhaseInformationGathering, "intent_identified", func(s *types.ConversationState, t types.Turn) bool {
			return s.CurrentIntent != ""
		}},
		{PhaseInformationGathering, PhaseActionPlanning, "details_collected", func(s *types.ConversationState, t types.Turn) bool {
			return len(s.ContextualMemory.MentionedEntities) >= 2
		}},
		{PhaseInformationProviding, PhaseConfirmation, "information_delivered", func(s *types.ConversationState, t types.Turn) bool {
			return t.Speaker == types.SpeakerAI
		}},
		{PhaseActionPlanning, PhaseConfirmation, "plan_proposed", func(s *types.ConversationState, t types.Turn) bool {
			return len(s.PendingActions) > 0
		}},
		{PhaseConfirmation, PhaseResolution, "confirmed", func(s *types.ConversationState, t types.Turn) bool {
			return t.Speaker == types.SpeakerPatient && affirmative(t.Text)
		}},
		{PhaseConfirmation, PhaseInformationGathering, "rejected", func(s *types.ConversationState, t types.Turn) bool {
			return t.Speaker == types.SpeakerPatient && negative(t.Text)
		}},
		{PhaseResolution, PhaseClosure, "goals_met", func(s *types.ConversationState, t types.Turn) bool {
			return outstandingGoals(s) == 0 || farewell(t.Text)
		}},
		{PhaseClosure, PhaseClosure, "closing", func(s *types.ConversationState, t types.Turn) bool {
			return true
		}},
	}
}

// ProcessTurn evaluates the transition table for the conversation's current
// phase and computes the turn's context signals.
func (h *Handler) ProcessTurn(state *types.ConversationState, turn types.Turn) Result {
	res := Result{
		ContextPreserved: h.contextPreserved(state, turn),
		RequiresFollowUp: h.requiresFollowUp(state, turn),
	}

	from := PhaseForState(state)
	for _, tr := range h.table {
		if tr.from != from {
			continue
		}
		if tr.when(state, turn) {
			if tr.to != from {
				res.Transition = &Transition{From: from, To: tr.to, Trigger: tr.trigger}
				h.logger.Debug("phase transition",
					"conversation_id", state.ConversationID,
					"from", from, "to", tr.to, "trigger", tr.trigger)
			}
			break
		}
	}
	return res
}

// elaborationConnectives signal the patient is building on the prior turn.
var elaborationConnectives = []string{"also", "and another", "because", "actually", "in addition", "plus"}

// contextPreserved reports whether the new turn stays connected to the
// conversation so far: it references history, continues the topic, or
// follows a logical pattern (answering an AI question, sharing the prior
// turn's intent, or elaborating).
func (h *Handler) contextPreserved(state *types.ConversationState, turn types.Turn) bool {
	if len(state.Turns) == 0 {
		return true
	}
	prev := state.Turns[len(state.Turns)-1]

	if referencesHistory(turn.Text) {
		return true
	}
	if sharesTopic(prev, turn) {
		return true
	}
	// Question from the AI immediately answered by the patient.
	if prev.Speaker == types.SpeakerAI && strings.Contains(prev.Text, "?") && turn.Speaker == types.SpeakerPatient {
		return true
	}
	if turn.Intent != "" && turn.Intent == prev.Intent {
		return true
	}
	return containsAnyFold(turn.Text, elaborationConnectives)
}

// openEnded phrases keep the floor open for more from the patient.
var openEnded = []string{"tell me more", "another question", "what about", "one more thing", "can you explain"}

// requiresFollowUp reports whether the agent owes the patient more: an
// explicit flag, outstanding goals or pending actions, a clarification
// need, or an open-ended patient utterance.
func (h *Handler) requiresFollowUp(state *types.ConversationState, turn types.Turn) bool {
	if turn.FollowUpRequired {
		return true
	}
	if outstandingGoals(state) > 0 {
		return true
	}
	for _, a := range state.PendingActions {
		if a.Status != "completed" {
			return true
		}
	}
	if containsAnyFold(turn.Text, []string{"sorry", "what do you mean", "clarify", "don't understand", "do not understand"}) {
		return true
	}
	return turn.Speaker == types.SpeakerPatient && containsAnyFold(turn.Text, openEnded)
}

func questionIntent(intent string) bool {
	switch intent {
	case "practice_hours", "insurance_question", "billing_question", "general_question":
		return true
	default:
		return false
	}
}

var affirmations = []string{"yes", "yeah", "correct", "that's right", "sounds good", "please do", "ok", "okay"}

var negations = []string{"no", "nope", "not right", "that's wrong", "don't", "do not", "incorrect"}

var farewells = []string{"goodbye", "bye", "thank you, that's all", "that's everything", "have a good day"}

func affirmative(text string) bool { return containsAnyFold(text, affirmations) }

func negative(text string) bool { return containsAnyFold(text, negations) }

func farewell(text string) bool { return containsAnyFold(text, farewells) }

func referencesHistory(text string) bool {
	return containsAnyFold(text, []string{"earlier", "before", "you said", "mentioned", "previous"})
}

func sharesTopic(a, b types.Turn) bool {
	for _, ta := range a.Topics {
		for _, tb := range b.Topics {
			if strings.EqualFold(ta, tb) {
				return true
			}
		}
	}
	return false
}

func containsAnyFold(text string, phrases []string) bool {
	lowered := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
