package flow

import (
	"fmt"
	"strings"

	"github.com/carevox/carevox/pkg/core/types"
)

// topicGroups relates practice-domain topics. Topics in the same group are
// considered related for transition purposes.
var topicGroups = [][]string{
	{"appointments", "scheduling", "availability", "rescheduling", "cancellation"},
	{"billing", "insurance", "payment", "copay", "coverage"},
	{"medication", "prescription", "refill", "pharmacy"},
	{"symptoms", "condition", "treatment", "referral"},
	{"hours", "location", "directions", "parking"},
}

// TopicTransition is the outcome of a topic change.
type TopicTransition struct {
	FromTopic   string `json:"from_topic"`
	ToTopic     string `json:"to_topic"`
	ContextLost bool   `json:"context_lost"`
	Bridge      string `json:"bridge,omitempty"`
}

// HandleTopicTransition determines whether context is lost moving between
// two topics: the topics are unrelated and no contextual bridge appears in
// the last three turns. With smart transitions enabled, a bridging sentence
// is synthesized for context-losing changes.
func (h *Handler) HandleTopicTransition(state *types.ConversationState, fromTopic, toTopic string) TopicTransition {
	tt := TopicTransition{FromTopic: fromTopic, ToTopic: toTopic}
	if fromTopic == "" || strings.EqualFold(fromTopic, toTopic) {
		return tt
	}

	if !topicsRelated(fromTopic, toTopic) && !bridgeFound(state, toTopic) {
		tt.ContextLost = true
		if h.cfg.SmartTransitions {
			tt.Bridge = fmt.Sprintf("Before we move on to %s, let me note where we left off with %s so we can come back to it.", toTopic, fromTopic)
		}
	}
	return tt
}

func topicsRelated(a, b string) bool {
	for _, group := range topicGroups {
		foundA, foundB := false, false
		for _, topic := range group {
			if strings.EqualFold(topic, a) {
				foundA = true
			}
			if strings.EqualFold(topic, b) {
				foundB = true
			}
		}
		if foundA && foundB {
			return true
		}
	}
	return false
}

// bridgeFound reports whether any of the last three turns already mentions
// the new topic, which carries context across the switch.
func bridgeFound(state *types.ConversationState, toTopic string) bool {
	turns := state.Turns
	if len(turns) > 3 {
		turns = turns[len(turns)-3:]
	}
	lowered := strings.ToLower(toTopic)
	for _, t := range turns {
		if strings.Contains(strings.ToLower(t.Text), lowered) {
			return true
		}
		for _, topic := range t.Topics {
			if strings.EqualFold(topic, toTopic) {
				return true
			}
		}
	}
	return false
}
