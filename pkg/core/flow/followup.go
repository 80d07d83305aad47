package flow

import (
	"fmt"

	"github.com/carevox/carevox/pkg/core/types"
)

// ContextKind selects the flavor of generated follow-up question.
type ContextKind string

const (
	ContextClarification ContextKind = "clarification"
	ContextElaboration   ContextKind = "elaboration"
	ContextConfirmation  ContextKind = "confirmation"
	ContextNextSteps     ContextKind = "next_steps"
)

// GenerateFollowUpQuestion produces a topic-aware prompt for the requested
// context kind.
func (h *Handler) GenerateFollowUpQuestion(state *types.ConversationState, kind ContextKind) string {
	topic := state.CurrentTopic
	switch kind {
	case ContextClarification:
		if topic != "" {
			return fmt.Sprintf("I want to make sure I have this right. Could you tell me a bit more about what you need regarding %s?", topic)
		}
		return "I want to make sure I have this right. Could you say that another way?"
	case ContextElaboration:
		if topic != "" {
			return fmt.Sprintf("Is there anything else about %s you would like to go over?", topic)
		}
		return "Is there anything else you would like to go over?"
	case ContextConfirmation:
		if topic != "" {
			return fmt.Sprintf("Just to confirm, shall I go ahead with that for %s?", topic)
		}
		return "Just to confirm, shall I go ahead with that?"
	case ContextNextSteps:
		return "Is there anything else I can help you with today?"
	default:
		return "Could you tell me more about that?"
	}
}
