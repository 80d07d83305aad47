package nlu

import (
	"context"
	"strings"
)

// intentRule maps keyword evidence to an intent and topic.
type intentRule struct {
	intent   string
	topic    string
	keywords []string
}

// Rules are evaluated in order; the rule with the most keyword hits wins.
var intentRules = []intentRule{
	{"schedule_appointment", "appointments", []string{"appointment", "schedule", "book", "reschedule", "cancel my visit"}},
	{"prescription_refill", "medication", []string{"refill", "prescription", "medication", "pharmacy", "pills"}},
	{"billing_question", "billing", []string{"bill", "billing", "invoice", "charge", "insurance", "copay", "payment"}},
	{"medical_question", "symptoms", []string{"symptom", "pain", "fever", "side effect", "dosage", "results"}},
	{"practice_hours", "hours", []string{"hours", "open", "closed", "location", "address", "directions"}},
	{"speak_to_staff", "", []string{"human", "real person", "operator", "staff", "receptionist", "manager"}},
}

var negativeWords = []string{
	"frustrated", "angry", "upset", "terrible", "awful", "worst",
	"ridiculous", "annoyed", "unacceptable", "pain", "worried", "scared",
}

var positiveWords = []string{
	"thanks", "thank you", "great", "perfect", "wonderful", "appreciate", "helpful",
}

var markerWords = map[string]string{
	"scared":     "fear",
	"afraid":     "fear",
	"crying":     "crying",
	"panic":      "panic",
	"desperate":  "distress",
	"emergency":  "distress",
	"frustrated": "frustration",
	"angry":      "anger",
}

// KeywordClassifier is a deterministic, dependency-free classifier.
type KeywordClassifier struct{}

// NewKeywordClassifier builds the fallback classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scores the utterance against the static rule set.
func (k *KeywordClassifier) Classify(_ context.Context, utterance string, _ Context) (*Result, error) {
	text := strings.ToLower(utterance)

	res := &Result{Intent: "general_inquiry", Confidence: 0.3}
	bestHits := 0
	for _, rule := range intentRules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			res.Intent = rule.intent
			res.Confidence = minFloat(0.5+0.2*float64(hits), 0.95)
			if rule.topic != "" {
				res.Topics = []string{rule.topic}
			}
		}
	}

	score := 0.0
	for _, w := range negativeWords {
		if strings.Contains(text, w) {
			score -= 0.3
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(text, w) {
			score += 0.3
		}
	}
	if score != 0 {
		score = clamp(score, -1, 1)
		res.Sentiment = &score
	}

	for w, marker := range markerWords {
		if strings.Contains(text, w) && !containsString(res.EmotionalMarkers, marker) {
			res.EmotionalMarkers = append(res.EmotionalMarkers, marker)
		}
	}
	return res, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
