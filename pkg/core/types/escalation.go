package types

import "time"

// Priority is the totally ordered urgency of an escalation. Ordering is
// defined once here; compare with Less or the numeric weight.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Less reports whether p is strictly less urgent than other.
func (p Priority) Less(other Priority) bool {
	return p.weight() < other.weight()
}

// EscalationTrigger names the signal category that caused an escalation.
type EscalationTrigger string

const (
	TriggerEmotionalDistress        EscalationTrigger = "EMOTIONAL_DISTRESS"
	TriggerExplicitRequest          EscalationTrigger = "EXPLICIT_REQUEST"
	TriggerRepeatedMisunderstanding EscalationTrigger = "REPEATED_MISUNDERSTANDING"
	TriggerVerificationFailure      EscalationTrigger = "VERIFICATION_FAILURE"
	TriggerTimeout                  EscalationTrigger = "TIMEOUT"
	TriggerComplexMedicalQuery      EscalationTrigger = "COMPLEX_MEDICAL_QUERY"
	TriggerFrustration              EscalationTrigger = "FRUSTRATION"
	TriggerBillingIssue             EscalationTrigger = "BILLING_ISSUE"
	TriggerAIServiceFailure         EscalationTrigger = "AI_SERVICE_FAILURE"
)

// EscalationStatus is the lifecycle status of an escalation event.
type EscalationStatus string

const (
	EscalationTriggered    EscalationStatus = "TRIGGERED"
	EscalationNotified     EscalationStatus = "NOTIFIED"
	EscalationAcknowledged EscalationStatus = "ACKNOWLEDGED"
	EscalationResolved     EscalationStatus = "RESOLVED"
	EscalationAbandoned    EscalationStatus = "ABANDONED"
)

// Terminal reports whether the status ends the escalation lifecycle.
func (s EscalationStatus) Terminal() bool {
	return s == EscalationResolved || s == EscalationAbandoned
}

// Department is the staff group that owns a class of escalations.
type Department string

const (
	DepartmentReception Department = "reception"
	DepartmentMedical   Department = "medical"
	DepartmentBilling   Department = "billing"
	DepartmentTechnical Department = "technical"
)

// DepartmentForTrigger routes a trigger to its owning department.
func DepartmentForTrigger(t EscalationTrigger) Department {
	switch t {
	case TriggerEmotionalDistress, TriggerComplexMedicalQuery:
		return DepartmentMedical
	case TriggerBillingIssue:
		return DepartmentBilling
	case TriggerAIServiceFailure:
		return DepartmentTechnical
	default:
		return DepartmentReception
	}
}

// EscalationContext is the conversation snapshot handed to the detector and
// stored with a triggered event for the responding staff member.
type EscalationContext struct {
	ConversationID        string        `json:"conversation_id"`
	PhoneNumber           string        `json:"phone_number,omitempty"`
	PatientID             string        `json:"patient_id,omitempty"`
	PatientName           string        `json:"patient_name,omitempty"`
	RecentTurns           []Turn        `json:"recent_turns,omitempty"`
	CurrentTopic          string        `json:"current_topic,omitempty"`
	MisunderstandingCount int           `json:"misunderstanding_count"`
	VerificationAttempts  int           `json:"verification_attempts"`
	CallDuration          time.Duration `json:"call_duration"`
	Sentiment             *float64      `json:"sentiment,omitempty"`
	EmotionalMarkers      []string      `json:"emotional_markers,omitempty"`
	EscalationFlags       []string      `json:"escalation_flags,omitempty"`
	Reason                string        `json:"reason,omitempty"`
}

// EscalationEvent is the durable record of one escalation.
type EscalationEvent struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Trigger        EscalationTrigger `json:"trigger"`
	Priority       Priority          `json:"priority"`
	Status         EscalationStatus  `json:"status"`
	Context        EscalationContext `json:"context"`

	TriggeredAt    time.Time  `json:"triggered_at"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`

	Resolution       string `json:"resolution,omitempty"`
	FollowUpRequired bool   `json:"follow_up_required,omitempty"`
}

// DetectionResult is the detector's verdict over a conversation snapshot.
type DetectionResult struct {
	ShouldEscalate bool              `json:"should_escalate"`
	Trigger        EscalationTrigger `json:"trigger,omitempty"`
	Priority       Priority          `json:"priority,omitempty"`
	Confidence     float64           `json:"confidence,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// EscalationMetrics aggregates durable escalation records over a date range.
type EscalationMetrics struct {
	Total             int                       `json:"total"`
	ByTrigger         map[EscalationTrigger]int `json:"by_trigger"`
	ByPriority        map[Priority]int          `json:"by_priority"`
	MeanTimeToAck     time.Duration             `json:"mean_time_to_ack"`
	MeanTimeToResolve time.Duration             `json:"mean_time_to_resolve"`
	AbandonmentRate   float64                   `json:"abandonment_rate"`
}
