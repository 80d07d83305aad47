package flow

import "github.com/carevox/carevox/pkg/core/types"

// Phase is a coarse stage of a conversation's progress, used to drive
// transition evaluation.
type Phase string

const (
	PhaseGreeting             Phase = "GREETING"
	PhasePatientVerification  Phase = "PATIENT_VERIFICATION"
	PhaseIntentDiscovery      Phase = "INTENT_DISCOVERY"
	PhaseInformationGathering Phase = "INFORMATION_GATHERING"
	PhaseInformationProviding Phase = "INFORMATION_PROVIDING"
	PhaseActionPlanning       Phase = "ACTION_PLANNING"
	PhaseConfirmation         Phase = "CONFIRMATION"
	PhaseResolution           Phase = "RESOLUTION"
	PhaseClosure              Phase = "CLOSURE"
	PhaseEscalation           Phase = "ESCALATION"
)

// PhaseForState maps a conversation's status and progress markers to the
// phase used as the transition source.
func PhaseForState(state *types.ConversationState) Phase {
	switch state.Status {
	case types.StatusInitiated:
		return PhaseGreeting
	case types.StatusEscalated:
		return PhaseEscalation
	case types.StatusCompleting:
		return PhaseClosure
	case types.StatusEndedNaturally, types.StatusEndedByTimeout, types.StatusEndedByPatient, types.StatusError:
		return PhaseClosure
	}

	switch state.VerificationStatus {
	case types.VerificationPending:
		return PhasePatientVerification
	}
	if state.CurrentIntent == "" {
		return PhaseIntentDiscovery
	}
	if len(state.PendingActions) > 0 {
		return PhaseActionPlanning
	}
	if outstandingGoals(state) == 0 && len(state.CompletedGoals) > 0 {
		return PhaseResolution
	}
	return PhaseInformationGathering
}

func outstandingGoals(state *types.ConversationState) int {
	n := 0
	for _, g := range state.ConversationGoals {
		done := false
		for _, c := range state.CompletedGoals {
			if c == g {
				done = true
				break
			}
		}
		if !done {
			n++
		}
	}
	return n
}
