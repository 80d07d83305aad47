package conversation

import (
	"math"
	"time"

	"github.com/carevox/carevox/pkg/core/types"
)

// FlagEmotionalDistress is the escalation flag set when the caller's
// aggregated emotional state crosses the distress line.
const FlagEmotionalDistress = "emotional_distress"

// categoryForSentiment maps continuous sentiment in [-1,1] to a discrete
// category by fixed thresholds.
func categoryForSentiment(sentiment float64) types.EmotionCategory {
	switch {
	case sentiment > 0.6:
		return types.EmotionVeryPositive
	case sentiment > 0.2:
		return types.EmotionPositive
	case sentiment > -0.3:
		return types.EmotionNeutral
	case sentiment > -0.6:
		return types.EmotionConcerned
	case sentiment > -0.8:
		return types.EmotionFrustrated
	case sentiment > -0.9:
		return types.EmotionDistressed
	default:
		return types.EmotionAngry
	}
}

// applyEmotionalUpdate folds a sentiment reading and its markers into the
// conversation's emotional state and sets the distress escalation flag when
// warranted. Trend history and markers are bounded.
func applyEmotionalUpdate(state *types.ConversationState, sentiment float64, markers []string, now time.Time) {
	category := categoryForSentiment(sentiment)
	confidence := math.Abs(sentiment)

	es := &state.EmotionalState
	es.Overall = category
	es.Confidence = confidence
	es.LastUpdated = now

	es.Trends = append(es.Trends, types.EmotionalTrend{
		Timestamp:  now,
		Category:   category,
		Confidence: confidence,
	})
	if n := len(es.Trends); n > types.MaxEmotionalTrends {
		es.Trends = append([]types.EmotionalTrend(nil), es.Trends[n-types.MaxEmotionalTrends:]...)
	}

	for _, marker := range markers {
		if marker == "" {
			continue
		}
		es.Markers = append(es.Markers, marker)
	}
	if n := len(es.Markers); n > types.MaxEmotionalMarkers {
		es.Markers = append([]string(nil), es.Markers[n-types.MaxEmotionalMarkers:]...)
	}

	distressed := category == types.EmotionDistressed || category == types.EmotionAngry ||
		(category == types.EmotionFrustrated && confidence > 0.7)
	if distressed {
		state.AddEscalationFlag(FlagEmotionalDistress)
	}
}
