// Package escalation detects when a conversation needs a human, owns the
// escalation lifecycle and SLA timers, and keeps the durable event record.
package escalation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/carevox/carevox/pkg/core/types"
)

// DetectorConfig tunes the detection thresholds. Zero values select the
// defaults applied by NewDetector.
type DetectorConfig struct {
	// DistressSentimentThreshold is the sentiment below which |sentiment|
	// contributes to the distress score.
	DistressSentimentThreshold float64
	// MisunderstandingLimit triggers REPEATED_MISUNDERSTANDING when reached.
	MisunderstandingLimit int
	// VerificationAttemptLimit triggers VERIFICATION_FAILURE when reached.
	VerificationAttemptLimit int
	// CallDurationLimit triggers TIMEOUT when the call runs at least this long.
	CallDurationLimit time.Duration
	// FrustrationKeywordMinimum triggers FRUSTRATION on keyword hits alone.
	FrustrationKeywordMinimum int
}

// Detector is a stateless evaluator over conversation snapshots. Safe for
// concurrent use.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector applies defaults and builds a detector.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.DistressSentimentThreshold >= 0 {
		cfg.DistressSentimentThreshold = -0.6
	}
	if cfg.MisunderstandingLimit <= 0 {
		cfg.MisunderstandingLimit = 3
	}
	if cfg.VerificationAttemptLimit <= 0 {
		cfg.VerificationAttemptLimit = 3
	}
	if cfg.CallDurationLimit <= 0 {
		cfg.CallDurationLimit = 15 * time.Minute
	}
	if cfg.FrustrationKeywordMinimum <= 0 {
		cfg.FrustrationKeywordMinimum = 3
	}
	return &Detector{cfg: cfg}
}

var distressKeywords = []string{
	"emergency", "urgent", "scared", "afraid", "terrified",
	"severe pain", "can't breathe", "crying", "desperate", "help me",
}

var distressMarkers = map[string]bool{
	"distress": true,
	"crying":   true,
	"panic":    true,
}

var explicitRequestPhrases = []string{
	"speak to a human", "speak to human", "talk to a human",
	"real person", "speak to someone", "talk to someone",
	"operator", "manager", "transfer me", "human being", "need a human",
}

var complexityKeywords = []string{
	"surgery", "specialist", "pre-authorization", "prior authorization",
	"second opinion", "diagnosis", "biopsy", "referral",
	"contraindication", "side effects", "interaction",
}

var frustrationKeywords = []string{
	"frustrated", "frustrating", "ridiculous", "useless",
	"waste of time", "not listening", "fed up", "sick of", "annoying",
}

// Detect runs the five checks in a fixed order and returns the single
// highest-priority positive result. Ties are broken by check order. Missing
// snapshot fields contribute nothing to any score, so a sparse context
// naturally detects no escalation.
func (d *Detector) Detect(ec types.EscalationContext) types.DetectionResult {
	checks := []func(types.EscalationContext) (types.DetectionResult, bool){
		d.checkDistress,
		d.checkExplicitRequest,
		d.checkSystemFailure,
		d.checkComplexity,
		d.checkFrustration,
	}

	var best types.DetectionResult
	for _, check := range checks {
		res, ok := check(ec)
		if !ok {
			continue
		}
		if !best.ShouldEscalate || best.Priority.Less(res.Priority) {
			best = res
		}
	}
	return best
}

func (d *Detector) checkDistress(ec types.EscalationContext) (types.DetectionResult, bool) {
	turns := patientTurns(ec.RecentTurns, 5)

	hits := 0
	for _, t := range turns {
		text := strings.ToLower(t.Text)
		for _, kw := range distressKeywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
	}

	score := 0.3 * float64(hits)
	if ec.Sentiment != nil && *ec.Sentiment < d.cfg.DistressSentimentThreshold {
		score += math.Abs(*ec.Sentiment)
	}
	if hasDistressMarker(ec, turns) {
		score += 0.5
	}

	if score < 1.0 {
		return types.DetectionResult{}, false
	}
	return types.DetectionResult{
		ShouldEscalate: true,
		Trigger:        types.TriggerEmotionalDistress,
		Priority:       types.PriorityCritical,
		Confidence:     math.Min(score, 1.0),
		Reason:         fmt.Sprintf("distress score %.2f (%d keyword hits)", score, hits),
	}, true
}

func hasDistressMarker(ec types.EscalationContext, turns []types.Turn) bool {
	for _, m := range ec.EmotionalMarkers {
		if distressMarkers[strings.ToLower(m)] {
			return true
		}
	}
	for _, t := range turns {
		for _, m := range t.EmotionalMarkers {
			if distressMarkers[strings.ToLower(m)] {
				return true
			}
		}
	}
	return false
}

func (d *Detector) checkExplicitRequest(ec types.EscalationContext) (types.DetectionResult, bool) {
	for _, t := range patientTurns(ec.RecentTurns, 3) {
		text := strings.ToLower(t.Text)
		for _, phrase := range explicitRequestPhrases {
			if strings.Contains(text, phrase) {
				return types.DetectionResult{
					ShouldEscalate: true,
					Trigger:        types.TriggerExplicitRequest,
					Priority:       types.PriorityHigh,
					Confidence:     1.0,
					Reason:         fmt.Sprintf("patient asked for a human: %q", phrase),
				}, true
			}
		}
	}
	return types.DetectionResult{}, false
}

func (d *Detector) checkSystemFailure(ec types.EscalationContext) (types.DetectionResult, bool) {
	if ec.MisunderstandingCount >= d.cfg.MisunderstandingLimit {
		return types.DetectionResult{
			ShouldEscalate: true,
			Trigger:        types.TriggerRepeatedMisunderstanding,
			Priority:       types.PriorityHigh,
			Confidence:     1.0,
			Reason:         fmt.Sprintf("%d misunderstandings", ec.MisunderstandingCount),
		}, true
	}
	if ec.VerificationAttempts >= d.cfg.VerificationAttemptLimit {
		return types.DetectionResult{
			ShouldEscalate: true,
			Trigger:        types.TriggerVerificationFailure,
			Priority:       types.PriorityHigh,
			Confidence:     1.0,
			Reason:         fmt.Sprintf("%d failed verification attempts", ec.VerificationAttempts),
		}, true
	}
	if ec.CallDuration >= d.cfg.CallDurationLimit {
		return types.DetectionResult{
			ShouldEscalate: true,
			Trigger:        types.TriggerTimeout,
			Priority:       types.PriorityNormal,
			Confidence:     0.8,
			Reason:         fmt.Sprintf("call running %s", ec.CallDuration.Round(time.Second)),
		}, true
	}
	return types.DetectionResult{}, false
}

func (d *Detector) checkComplexity(ec types.EscalationContext) (types.DetectionResult, bool) {
	seen := make(map[string]bool)
	for _, t := range patientTurns(ec.RecentTurns, 5) {
		text := strings.ToLower(t.Text)
		for _, kw := range complexityKeywords {
			if strings.Contains(text, kw) {
				seen[kw] = true
			}
		}
	}
	if len(seen) < 2 {
		return types.DetectionResult{}, false
	}
	return types.DetectionResult{
		ShouldEscalate: true,
		Trigger:        types.TriggerComplexMedicalQuery,
		Priority:       types.PriorityHigh,
		Confidence:     math.Min(0.3*float64(len(seen)), 1.0),
		Reason:         fmt.Sprintf("%d distinct medical complexity terms", len(seen)),
	}, true
}

func (d *Detector) checkFrustration(ec types.EscalationContext) (types.DetectionResult, bool) {
	turns := patientTurns(ec.RecentTurns, 5)

	hits := 0
	for _, t := range turns {
		text := strings.ToLower(t.Text)
		for _, kw := range frustrationKeywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
	}

	score := 0.4 * float64(hits)
	if repeatedQuestion(turns) {
		score += 0.5
	}
	if ec.Sentiment != nil && *ec.Sentiment < -0.3 {
		score += 0.5 * math.Abs(*ec.Sentiment)
	}

	if score < 1.0 && hits < d.cfg.FrustrationKeywordMinimum {
		return types.DetectionResult{}, false
	}
	return types.DetectionResult{
		ShouldEscalate: true,
		Trigger:        types.TriggerFrustration,
		Priority:       types.PriorityNormal,
		Confidence:     math.Min(score, 1.0),
		Reason:         fmt.Sprintf("frustration score %.2f (%d keyword hits)", score, hits),
	}, true
}

// repeatedQuestion reports whether the latest patient turn is a near
// duplicate (word-overlap similarity > 0.8) of at least two earlier patient
// turns, a strong sign the caller is asking the same thing again.
func repeatedQuestion(turns []types.Turn) bool {
	if len(turns) < 3 {
		return false
	}
	latest := wordSet(turns[len(turns)-1].Text)
	if len(latest) == 0 {
		return false
	}
	matches := 0
	for _, prior := range turns[:len(turns)-1] {
		if wordOverlap(latest, wordSet(prior.Text)) > 0.8 {
			matches++
		}
	}
	return matches >= 2
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// wordOverlap is the Jaccard similarity of two word sets.
func wordOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func patientTurns(turns []types.Turn, n int) []types.Turn {
	var out []types.Turn
	for _, t := range turns {
		if t.Speaker == types.SpeakerPatient {
			out = append(out, t)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
