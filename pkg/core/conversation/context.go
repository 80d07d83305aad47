package conversation

import (
	"strings"

	"github.com/carevox/carevox/pkg/core/types"
)

var confusionMarkers = []string{"sorry", "what", "clarify", "understand"}

var historyReferences = []string{"earlier", "before", "you said", "mentioned", "previous"}

// deriveContext computes the TurnContext view of a conversation after its
// latest turn. Missing data degrades to false/empty, never errors.
func deriveContext(state *types.ConversationState) *types.TurnContext {
	tc := &types.TurnContext{
		ConversationID: state.ConversationID,
		TurnNumber:     len(state.Turns),
	}
	if len(state.Turns) == 0 {
		return tc
	}

	last := state.Turns[len(state.Turns)-1]
	tc.TopicContinuity = topicContinuity(state)
	tc.RequiresClarification = anyTurnContains(recentTurns(state, 3), confusionMarkers)
	tc.ReferencesHistory = textContainsAny(last.Text, historyReferences)
	tc.ContextualReferences = contextualReferences(state, last)
	return tc
}

// topicContinuity reports whether the last two turns share a topic.
func topicContinuity(state *types.ConversationState) bool {
	if len(state.Turns) < 2 {
		return false
	}
	a := state.Turns[len(state.Turns)-1]
	b := state.Turns[len(state.Turns)-2]
	for _, ta := range a.Topics {
		for _, tb := range b.Topics {
			if strings.EqualFold(ta, tb) {
				return true
			}
		}
	}
	return false
}

// contextualReferences lists remembered entities and topics echoed in the
// latest turn's text. Best effort.
func contextualReferences(state *types.ConversationState, last types.Turn) []string {
	lowered := strings.ToLower(last.Text)
	var refs []string
	seen := make(map[string]struct{})
	add := func(v string) {
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			return
		}
		if key != "" && strings.Contains(lowered, key) {
			seen[key] = struct{}{}
			refs = append(refs, v)
		}
	}
	for _, e := range state.ContextualMemory.MentionedEntities {
		add(e)
	}
	for _, t := range state.ContextualMemory.RecentTopics {
		add(t)
	}
	return refs
}

func recentTurns(state *types.ConversationState, n int) []types.Turn {
	if len(state.Turns) <= n {
		return state.Turns
	}
	return state.Turns[len(state.Turns)-n:]
}

func anyTurnContains(turns []types.Turn, phrases []string) bool {
	for _, t := range turns {
		if textContainsAny(t.Text, phrases) {
			return true
		}
	}
	return false
}

func textContainsAny(text string, phrases []string) bool {
	lowered := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
