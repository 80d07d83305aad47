package escalation

import (
	"testing"
	"time"

	"github.com/carevox/carevox/pkg/core/types"
)

func floatPtr(f float64) *float64 { return &f }

func patientTurn(text string, markers ...string) types.Turn {
	return types.Turn{Speaker: types.SpeakerPatient, Text: text, EmotionalMarkers: markers}
}

func TestDetect_EmotionalDistressCritical(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	ec := types.EscalationContext{
		ConversationID: "conv_1",
		RecentTurns:    []types.Turn{patientTurn("this is urgent, I am scared", "distress")},
		Sentiment:      floatPtr(-0.8),
	}

	res := d.Detect(ec)
	if !res.ShouldEscalate {
		t.Fatalf("ShouldEscalate = false")
	}
	if res.Trigger != types.TriggerEmotionalDistress {
		t.Fatalf("Trigger = %s", res.Trigger)
	}
	if res.Priority != types.PriorityCritical {
		t.Fatalf("Priority = %s", res.Priority)
	}
}

func TestDetect_ExplicitRequest(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	ec := types.EscalationContext{
		RecentTurns: []types.Turn{patientTurn("I want to speak to a real person please")},
	}

	res := d.Detect(ec)
	if !res.ShouldEscalate || res.Trigger != types.TriggerExplicitRequest {
		t.Fatalf("result = %+v", res)
	}
	if res.Priority != types.PriorityHigh || res.Confidence != 1.0 {
		t.Fatalf("priority=%s confidence=%v", res.Priority, res.Confidence)
	}
}

func TestDetect_CriticalOutranksExplicitRequest(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	// Both the distress and explicit-request checks fire; the CRITICAL
	// distress result must win even though explicit-request also matches.
	ec := types.EscalationContext{
		RecentTurns: []types.Turn{
			patientTurn("this is urgent, I am scared, transfer me to a real person", "panic"),
		},
		Sentiment: floatPtr(-0.9),
	}

	res := d.Detect(ec)
	if res.Trigger != types.TriggerEmotionalDistress || res.Priority != types.PriorityCritical {
		t.Fatalf("result = %+v, want CRITICAL emotional distress", res)
	}
}

func TestDetect_MisunderstandingLimit(t *testing.T) {
	d := NewDetector(DetectorConfig{MisunderstandingLimit: 3})
	// No sentiment, no turns: the counter alone is enough.
	res := d.Detect(types.EscalationContext{MisunderstandingCount: 3})
	if res.Trigger != types.TriggerRepeatedMisunderstanding || res.Priority != types.PriorityHigh {
		t.Fatalf("result = %+v", res)
	}

	if res := d.Detect(types.EscalationContext{MisunderstandingCount: 2}); res.ShouldEscalate {
		t.Fatalf("escalated below the limit: %+v", res)
	}
}

func TestDetect_VerificationFailure(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	res := d.Detect(types.EscalationContext{VerificationAttempts: 3})
	if res.Trigger != types.TriggerVerificationFailure || res.Priority != types.PriorityHigh {
		t.Fatalf("result = %+v", res)
	}
}

func TestDetect_CallDurationTimeout(t *testing.T) {
	d := NewDetector(DetectorConfig{CallDurationLimit: 15 * time.Minute})
	res := d.Detect(types.EscalationContext{CallDuration: 16 * time.Minute})
	if res.Trigger != types.TriggerTimeout || res.Priority != types.PriorityNormal {
		t.Fatalf("result = %+v", res)
	}
}

func TestDetect_MedicalComplexity(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	ec := types.EscalationContext{
		RecentTurns: []types.Turn{
			patientTurn("my specialist mentioned surgery might be needed"),
		},
	}
	res := d.Detect(ec)
	if res.Trigger != types.TriggerComplexMedicalQuery || res.Priority != types.PriorityHigh {
		t.Fatalf("result = %+v", res)
	}

	// A single distinct term is not enough.
	single := types.EscalationContext{
		RecentTurns: []types.Turn{patientTurn("do I need a referral")},
	}
	if res := d.Detect(single); res.ShouldEscalate {
		t.Fatalf("escalated on one complexity term: %+v", res)
	}
}

func TestDetect_FrustrationScore(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	ec := types.EscalationContext{
		RecentTurns: []types.Turn{
			patientTurn("this is ridiculous and frustrating, you are not listening"),
		},
		Sentiment: floatPtr(-0.5),
	}

	res := d.Detect(ec)
	if res.Trigger != types.TriggerFrustration || res.Priority != types.PriorityNormal {
		t.Fatalf("result = %+v", res)
	}
}

func TestDetect_RepeatedQuestionContributes(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	// The same question three times plus a keyword hit and mildly negative
	// sentiment pushes the score past the threshold.
	ec := types.EscalationContext{
		RecentTurns: []types.Turn{
			patientTurn("when is my appointment with doctor reyes"),
			patientTurn("when is my appointment with doctor reyes?"),
			patientTurn("frustrating, when is my appointment with doctor reyes"),
		},
		Sentiment: floatPtr(-0.5),
	}

	res := d.Detect(ec)
	if res.Trigger != types.TriggerFrustration {
		t.Fatalf("result = %+v", res)
	}
}

func TestDetect_EmptyContextNoEscalation(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	if res := d.Detect(types.EscalationContext{}); res.ShouldEscalate {
		t.Fatalf("empty context escalated: %+v", res)
	}
}

func TestDetect_IgnoresAITurns(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	ec := types.EscalationContext{
		RecentTurns: []types.Turn{
			{Speaker: types.SpeakerAI, Text: "would you like to speak to a real person?"},
		},
	}
	if res := d.Detect(ec); res.ShouldEscalate {
		t.Fatalf("escalated on AI turn text: %+v", res)
	}
}
