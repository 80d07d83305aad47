package types

import "testing"

func TestPriorityOrdering(t *testing.T) {
	ordered := []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}
	for i := 0; i < len(ordered)-1; i++ {
		if !ordered[i].Less(ordered[i+1]) {
			t.Fatalf("%s should be less than %s", ordered[i], ordered[i+1])
		}
		if ordered[i+1].Less(ordered[i]) {
			t.Fatalf("%s should not be less than %s", ordered[i+1], ordered[i])
		}
	}
	if PriorityHigh.Less(PriorityHigh) {
		t.Fatalf("priority should not be less than itself")
	}
}

func TestDepartmentForTrigger(t *testing.T) {
	cases := map[EscalationTrigger]Department{
		TriggerEmotionalDistress:        DepartmentMedical,
		TriggerComplexMedicalQuery:      DepartmentMedical,
		TriggerBillingIssue:             DepartmentBilling,
		TriggerAIServiceFailure:         DepartmentTechnical,
		TriggerExplicitRequest:          DepartmentReception,
		TriggerFrustration:              DepartmentReception,
		TriggerRepeatedMisunderstanding: DepartmentReception,
	}
	for trigger, want := range cases {
		if got := DepartmentForTrigger(trigger); got != want {
			t.Errorf("DepartmentForTrigger(%s) = %s, want %s", trigger, got, want)
		}
	}
}

func TestEscalationStatusTerminal(t *testing.T) {
	for _, s := range []EscalationStatus{EscalationTriggered, EscalationNotified, EscalationAcknowledged} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
	for _, s := range []EscalationStatus{EscalationResolved, EscalationAbandoned} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
}

func TestStatusForEnding(t *testing.T) {
	cases := map[EndingType]ConversationStatus{
		EndingNatural:        StatusEndedNaturally,
		EndingTimeout:        StatusEndedByTimeout,
		EndingEscalation:     StatusEscalated,
		EndingPatientRequest: StatusEndedByPatient,
		EndingError:          StatusError,
	}
	for ending, want := range cases {
		if got := StatusForEnding(ending); got != want {
			t.Errorf("StatusForEnding(%s) = %s, want %s", ending, got, want)
		}
	}
}

func TestPatientTurns(t *testing.T) {
	c := &ConversationState{Turns: []Turn{
		{ID: "1", Speaker: SpeakerPatient, Text: "hi"},
		{ID: "2", Speaker: SpeakerAI, Text: "hello"},
		{ID: "3", Speaker: SpeakerPatient, Text: "I need help"},
		{ID: "4", Speaker: SpeakerSystem, Text: "topic change"},
		{ID: "5", Speaker: SpeakerPatient, Text: "with billing"},
	}}

	got := c.PatientTurns(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "3" || got[1].ID != "5" {
		t.Fatalf("ids = %s,%s, want 3,5 (chronological)", got[0].ID, got[1].ID)
	}

	if got := c.PatientTurns(10); len(got) != 3 {
		t.Fatalf("len = %d, want all 3 patient turns", len(got))
	}
}

func TestAddEscalationFlagIdempotent(t *testing.T) {
	c := &ConversationState{}
	c.AddEscalationFlag("emotional_distress")
	c.AddEscalationFlag("emotional_distress")
	if len(c.EscalationFlags) != 1 {
		t.Fatalf("flags = %v, want one entry", c.EscalationFlags)
	}
	if !c.HasEscalationFlag("emotional_distress") {
		t.Fatalf("HasEscalationFlag = false, want true")
	}
}
