package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/conversation"
	"github.com/carevox/carevox/pkg/core/escalation"
	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/gateway/config"
	"github.com/carevox/carevox/pkg/nlu"
)

// ConversationsHandler serves the per-call REST surface: start, turns,
// topic changes, derived context, end-of-call, and handoff summaries.
type ConversationsHandler struct {
	Config        config.Config
	Conversations *conversation.Manager
	Escalations   *escalation.Manager
	Classifier    nlu.Classifier
	Logger        *slog.Logger
}

func (h ConversationsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phone_number"`
		PatientID   string `json:"patient_id,omitempty"`
		PatientName string `json:"patient_name,omitempty"`
		SessionID   string `json:"session_id,omitempty"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	state, err := h.Conversations.Start(r.Context(), req.PhoneNumber, conversation.StartOptions{
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		SessionID:   req.SessionID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (h ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.Conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// AddTurn ingests one utterance. Patient turns without caller-supplied
// classification run through the NLU classifier first; every patient turn
// is then re-evaluated by the escalation detector.
func (h ConversationsHandler) AddTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req struct {
		Speaker          string   `json:"speaker"`
		Text             string   `json:"text"`
		Intent           string   `json:"intent,omitempty"`
		Confidence       float64  `json:"confidence,omitempty"`
		Sentiment        *float64 `json:"sentiment,omitempty"`
		EmotionalMarkers []string `json:"emotional_markers,omitempty"`
		Topics           []string `json:"topics,omitempty"`
		Entities         []string `json:"entities,omitempty"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	speaker := types.Speaker(strings.TrimSpace(req.Speaker))
	switch speaker {
	case types.SpeakerPatient, types.SpeakerAI:
	default:
		writeError(w, r, core.NewInvalidRequestError("speaker must be patient or ai"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, core.NewInvalidRequestError("text is required"))
		return
	}

	opts := types.TurnOptions{
		Intent:           req.Intent,
		Confidence:       req.Confidence,
		Sentiment:        req.Sentiment,
		EmotionalMarkers: req.EmotionalMarkers,
		Topics:           req.Topics,
		Entities:         req.Entities,
	}

	var classification *nlu.Result
	if speaker == types.SpeakerPatient && req.Intent == "" && h.Classifier != nil {
		prior, err := h.Conversations.Get(r.Context(), conversationID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := h.Classifier.Classify(r.Context(), req.Text, nlu.Context{
			CurrentTopic:  prior.CurrentTopic,
			CurrentIntent: prior.CurrentIntent,
			RecentTexts:   recentPatientTexts(prior, 3),
		})
		if err != nil {
			// Classification is best-effort; the turn still lands.
			h.Logger.Warn("classification failed",
				"conversation_id", conversationID, "error", err)
		} else {
			classification = res
			opts.Intent = res.Intent
			opts.Confidence = res.Confidence
			opts.Sentiment = res.Sentiment
			opts.EmotionalMarkers = res.EmotionalMarkers
			opts.Topics = res.Topics
			opts.Entities = res.Entities
		}
	}

	state, err := h.Conversations.AddTurn(r.Context(), conversationID, speaker, req.Text, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var triggered *types.EscalationEvent
	if speaker == types.SpeakerPatient && h.Escalations != nil {
		snapshot := h.Conversations.Snapshot(state)
		ev, err := h.Escalations.ProcessConversation(r.Context(), snapshot)
		if err != nil {
			// Escalation failures must not lose the turn.
			h.Logger.Error("escalation processing failed",
				"conversation_id", conversationID, "error", err)
		} else {
			triggered = ev
		}
	}

	writeJSON(w, http.StatusOK, struct {
		Conversation   *types.ConversationState `json:"conversation"`
		Classification *nlu.Result              `json:"classification,omitempty"`
		Escalation     *types.EscalationEvent   `json:"escalation,omitempty"`
	}{state, classification, triggered})
}

func (h ConversationsHandler) ChangeTopic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic   string `json:"topic"`
		Context string `json:"context,omitempty"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, r, core.NewInvalidRequestError("topic is required"))
		return
	}

	state, err := h.Conversations.HandleTopicChange(r.Context(), r.PathValue("id"), req.Topic, req.Context)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h ConversationsHandler) Context(w http.ResponseWriter, r *http.Request) {
	tc, err := h.Conversations.Context(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (h ConversationsHandler) End(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ending       string `json:"ending,omitempty"`
		Reason       string `json:"reason,omitempty"`
		FinalMessage string `json:"final_message,omitempty"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ending := types.EndingType(strings.TrimSpace(req.Ending))
	if ending == "" {
		ending = types.EndingNatural
	}
	// "timeout" is excluded here: only the inactivity timer machinery may
	// end a call by timeout.
	switch ending {
	case types.EndingNatural, types.EndingPatientRequest, types.EndingEscalation, types.EndingError:
	default:
		writeError(w, r, core.NewInvalidRequestError("ending must be one of natural|patient_request|escalation|error"))
		return
	}

	state, err := h.Conversations.End(r.Context(), r.PathValue("id"), ending, req.Reason, req.FinalMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary := h.Conversations.BuildSummary(state, req.Reason)
	writeJSON(w, http.StatusOK, struct {
		Conversation *types.ConversationState `json:"conversation"`
		Summary      conversation.Summary     `json:"summary"`
	}{state, summary})
}

func (h ConversationsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	state, err := h.Conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Conversations.BuildSummary(state, ""))
}

// RecordEvent folds side-channel call events into conversation state:
// misunderstandings, clarification requests, identity verification
// attempts, goal completion, and pending follow-up actions.
func (h ConversationsHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req struct {
		Type        string `json:"type"`
		Status      string `json:"status,omitempty"`
		Goal        string `json:"goal,omitempty"`
		Description string `json:"description,omitempty"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		state *types.ConversationState
		err   error
	)
	switch strings.TrimSpace(req.Type) {
	case "misunderstanding":
		state, err = h.Conversations.RecordMisunderstanding(r.Context(), conversationID)
	case "clarification_request":
		state, err = h.Conversations.RecordClarificationRequest(r.Context(), conversationID)
	case "verification_attempt":
		status := types.VerificationStatus(strings.TrimSpace(req.Status))
		switch status {
		case types.VerificationPending, types.VerificationVerified, types.VerificationFailed:
		default:
			writeError(w, r, core.NewInvalidRequestError("status must be one of pending|verified|failed"))
			return
		}
		state, err = h.Conversations.RecordVerificationAttempt(r.Context(), conversationID, status)
	case "goal_completed":
		if strings.TrimSpace(req.Goal) == "" {
			writeError(w, r, core.NewInvalidRequestError("goal is required"))
			return
		}
		state, err = h.Conversations.CompleteGoal(r.Context(), conversationID, req.Goal)
	case "pending_action":
		if strings.TrimSpace(req.Description) == "" {
			writeError(w, r, core.NewInvalidRequestError("description is required"))
			return
		}
		state, err = h.Conversations.AddPendingAction(r.Context(), conversationID, req.Description)
	default:
		writeError(w, r, core.NewInvalidRequestError("type must be one of misunderstanding|clarification_request|verification_attempt|goal_completed|pending_action"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func recentPatientTexts(state *types.ConversationState, n int) []string {
	texts := make([]string, 0, n)
	for i := len(state.Turns) - 1; i >= 0 && len(texts) < n; i-- {
		if state.Turns[i].Speaker == types.SpeakerPatient {
			texts = append(texts, state.Turns[i].Text)
		}
	}
	// Oldest first.
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts
}
