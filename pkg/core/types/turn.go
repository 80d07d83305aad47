package types

import "time"

// Speaker attributes a turn to one side of the call.
type Speaker string

const (
	SpeakerPatient Speaker = "patient"
	SpeakerAI      Speaker = "ai"
	SpeakerSystem  Speaker = "system"
)

// Turn is one utterance within a conversation. Turns are immutable once
// appended to a conversation's turn sequence.
type Turn struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`

	Intent           string   `json:"intent,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	Sentiment        *float64 `json:"sentiment,omitempty"`
	EmotionalMarkers []string `json:"emotional_markers,omitempty"`
	Topics           []string `json:"topics,omitempty"`
	Entities         []string `json:"entities,omitempty"`

	FollowUpRequired bool `json:"follow_up_required,omitempty"`
}

// TurnOptions carries the optional classifier outputs supplied with a new
// turn. Missing fields contribute nothing to derived state.
type TurnOptions struct {
	Intent           string
	Confidence       float64
	Sentiment        *float64
	EmotionalMarkers []string
	Topics           []string
	Entities         []string
	FollowUpRequired bool
}

// TurnContext is the derived view of where the conversation stands after the
// latest turn, consumed by the flow handler and escalation detector.
type TurnContext struct {
	ConversationID        string   `json:"conversation_id"`
	TurnNumber            int      `json:"turn_number"`
	TopicContinuity       bool     `json:"topic_continuity"`
	RequiresClarification bool     `json:"requires_clarification"`
	ReferencesHistory     bool     `json:"references_history"`
	ContextualReferences  []string `json:"contextual_references,omitempty"`
}
