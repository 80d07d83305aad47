package conversation

import (
	"strings"

	"github.com/carevox/carevox/pkg/core/types"
)

// mergeTopics folds newly observed topics into contextual memory:
// recent_topics is a most-recent-first window, discussed_topics a set union.
func mergeTopics(mem *types.ContextualMemory, topics []string) {
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		mem.RecentTopics = prependBounded(mem.RecentTopics, topic, types.MaxRecentTopics)
		if !containsString(mem.DiscussedTopics, topic) {
			mem.DiscussedTopics = append(mem.DiscussedTopics, topic)
		}
	}
}

// mergeEntities appends new entities, evicting the oldest past the cap.
func mergeEntities(mem *types.ContextualMemory, entities []string) {
	for _, entity := range entities {
		entity = strings.TrimSpace(entity)
		if entity == "" {
			continue
		}
		mem.MentionedEntities = append(mem.MentionedEntities, entity)
	}
	if n := len(mem.MentionedEntities); n > types.MaxMentionedEntities {
		mem.MentionedEntities = append([]string(nil), mem.MentionedEntities[n-types.MaxMentionedEntities:]...)
	}
}

// prependBounded puts v at the front of list, dropping duplicates of v and
// truncating to max entries.
func prependBounded(list []string, v string, max int) []string {
	out := make([]string, 0, max)
	out = append(out, v)
	for _, existing := range list {
		if existing == v {
			continue
		}
		out = append(out, existing)
		if len(out) == max {
			break
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// goalPhrases are the patient phrasings that indicate a session goal.
var goalPhrases = []string{"need to", "want to", "trying to"}

const goalDedupePrefixLen = 20

// extractGoal returns a goal description when text carries goal-indicating
// phrasing and no existing goal shares its leading characters.
func extractGoal(text string, existing []string) (string, bool) {
	lowered := strings.ToLower(text)
	matched := false
	for _, phrase := range goalPhrases {
		if strings.Contains(lowered, phrase) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	goal := strings.TrimSpace(text)
	prefix := goal
	if len(prefix) > goalDedupePrefixLen {
		prefix = prefix[:goalDedupePrefixLen]
	}
	for _, g := range existing {
		gp := g
		if len(gp) > goalDedupePrefixLen {
			gp = gp[:goalDedupePrefixLen]
		}
		if strings.EqualFold(gp, prefix) {
			return "", false
		}
	}
	return goal, true
}
