package types

import "time"

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	StatusInitiated      ConversationStatus = "INITIATED"
	StatusActive         ConversationStatus = "ACTIVE"
	StatusWaitingPatient ConversationStatus = "WAITING_PATIENT"
	StatusProcessing     ConversationStatus = "PROCESSING"
	StatusCompleting     ConversationStatus = "COMPLETING"
	StatusEscalated      ConversationStatus = "ESCALATED"
	StatusEndedNaturally ConversationStatus = "ENDED_NATURALLY"
	StatusEndedByTimeout ConversationStatus = "ENDED_BY_TIMEOUT"
	StatusEndedByPatient ConversationStatus = "ENDED_BY_PATIENT"
	StatusError          ConversationStatus = "ERROR"
)

// Terminal reports whether the status ends the conversation.
func (s ConversationStatus) Terminal() bool {
	switch s {
	case StatusEndedNaturally, StatusEndedByTimeout, StatusEndedByPatient, StatusError:
		return true
	default:
		return false
	}
}

// EndingType names how a conversation was closed.
type EndingType string

const (
	EndingNatural        EndingType = "natural"
	EndingTimeout        EndingType = "timeout"
	EndingEscalation     EndingType = "escalation"
	EndingPatientRequest EndingType = "patient_request"
	EndingError          EndingType = "error"
)

// StatusForEnding maps an ending type to its terminal conversation status.
func StatusForEnding(e EndingType) ConversationStatus {
	switch e {
	case EndingNatural:
		return StatusEndedNaturally
	case EndingTimeout:
		return StatusEndedByTimeout
	case EndingEscalation:
		return StatusEscalated
	case EndingPatientRequest:
		return StatusEndedByPatient
	default:
		return StatusError
	}
}

// VerificationStatus tracks patient identity verification progress.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// Contextual memory caps. Derived fields are recomputed incrementally from
// turns and never retroactively rewritten.
const (
	MaxRecentTopics      = 5
	MaxMentionedEntities = 20
	MaxEmotionalMarkers  = 15
	MaxEmotionalTrends   = 10
)

// ContextualMemory is the bounded working memory carried across turns.
type ContextualMemory struct {
	// RecentTopics is a most-recent-first sliding window.
	RecentTopics []string `json:"recent_topics"`
	// MentionedEntities keeps the last MaxMentionedEntities entities, oldest evicted.
	MentionedEntities []string `json:"mentioned_entities"`
	// DiscussedTopics grows for the life of the conversation.
	DiscussedTopics []string `json:"discussed_topics"`
	SessionGoals    []string `json:"session_goals"`
}

// EmotionCategory is the discrete emotional reading of the caller.
type EmotionCategory string

const (
	EmotionVeryPositive EmotionCategory = "very_positive"
	EmotionPositive     EmotionCategory = "positive"
	EmotionNeutral      EmotionCategory = "neutral"
	EmotionConcerned    EmotionCategory = "concerned"
	EmotionFrustrated   EmotionCategory = "frustrated"
	EmotionDistressed   EmotionCategory = "distressed"
	EmotionAngry        EmotionCategory = "angry"
)

// EmotionalTrend is one sample in the bounded trend history.
type EmotionalTrend struct {
	Timestamp  time.Time       `json:"timestamp"`
	Category   EmotionCategory `json:"category"`
	Confidence float64         `json:"confidence"`
}

// EmotionalState aggregates sentiment readings across turns.
type EmotionalState struct {
	Overall     EmotionCategory  `json:"overall"`
	Confidence  float64          `json:"confidence"`
	Markers     []string         `json:"markers"`
	Trends      []EmotionalTrend `json:"trends"`
	LastUpdated time.Time        `json:"last_updated"`
}

// PendingAction is a follow-up the agent has promised but not completed.
type PendingAction struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// ConversationState is the full per-call state blob. One exists per active
// call, keyed by ConversationID in the durable store. Mutations go through
// the conversation manager, which bumps Version on every persisted change.
type ConversationState struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	PhoneNumber    string `json:"phone_number"`
	PatientID      string `json:"patient_id,omitempty"`
	PatientName    string `json:"patient_name,omitempty"`

	Status ConversationStatus `json:"status"`

	// Turns is append-only. Entries are immutable once appended.
	Turns []Turn `json:"turns"`

	CurrentIntent  string   `json:"current_intent,omitempty"`
	IntentHistory  []string `json:"intent_history"`
	CurrentTopic   string   `json:"current_topic,omitempty"`
	PreviousTopics []string `json:"previous_topics"`

	ContextualMemory ContextualMemory `json:"contextual_memory"`

	ConversationGoals []string        `json:"conversation_goals"`
	CompletedGoals    []string        `json:"completed_goals"`
	PendingActions    []PendingAction `json:"pending_actions"`

	MisunderstandingCount int `json:"misunderstanding_count"`
	ClarificationRequests int `json:"clarification_requests"`
	TopicSwitches         int `json:"topic_switches"`
	VerificationAttempts  int `json:"verification_attempts"`

	VerificationStatus VerificationStatus `json:"verification_status"`
	EmotionalState     EmotionalState     `json:"emotional_state"`

	// EscalationFlags is a set; keys like "emotional_distress".
	EscalationFlags []string `json:"escalation_flags"`

	StartTime     time.Time     `json:"start_time"`
	LastActivity  time.Time     `json:"last_activity"`
	TotalDuration time.Duration `json:"total_duration"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Version increments on every mutation and never decreases.
	Version int `json:"version"`
}

// HasEscalationFlag reports set membership in EscalationFlags.
func (c *ConversationState) HasEscalationFlag(flag string) bool {
	for _, f := range c.EscalationFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddEscalationFlag adds flag to the set. Idempotent.
func (c *ConversationState) AddEscalationFlag(flag string) {
	if c.HasEscalationFlag(flag) {
		return
	}
	c.EscalationFlags = append(c.EscalationFlags, flag)
}

// PatientTurns returns the last n patient turns in order, or all of them if
// fewer exist.
func (c *ConversationState) PatientTurns(n int) []Turn {
	out := make([]Turn, 0, n)
	for i := len(c.Turns) - 1; i >= 0 && len(out) < n; i-- {
		if c.Turns[i].Speaker == SpeakerPatient {
			out = append(out, c.Turns[i])
		}
	}
	// Collected newest-first; restore chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LastTurn returns the most recent turn, or nil if there are none.
func (c *ConversationState) LastTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return &c.Turns[len(c.Turns)-1]
}
