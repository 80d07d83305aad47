// Package nlu classifies patient utterances: intent, entities, sentiment,
// and emotional markers. The Gemini-backed classifier is the production
// path; the keyword classifier serves as offline fallback and test double.
package nlu

import (
	"context"
)

// Result is the classifier's verdict on one utterance.
type Result struct {
	Intent           string   `json:"intent"`
	Confidence       float64  `json:"confidence"`
	Entities         []string `json:"entities,omitempty"`
	Sentiment        *float64 `json:"sentiment,omitempty"`
	EmotionalMarkers []string `json:"emotional_markers,omitempty"`
	Topics           []string `json:"topics,omitempty"`
}

// Context is the lightweight conversation context handed to the classifier.
type Context struct {
	CurrentTopic  string
	CurrentIntent string
	RecentTexts   []string
}

// Classifier turns an utterance into a structured Result. Implementations
// must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, utterance string, convCtx Context) (*Result, error)
}
