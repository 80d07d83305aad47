package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

const classifyPrompt = `You classify utterances from patients calling a medical practice.
Return ONLY a JSON object with these fields:
  intent: one of schedule_appointment, prescription_refill, billing_question,
          medical_question, practice_hours, speak_to_staff, general_inquiry
  confidence: 0.0-1.0
  entities: array of strings (names, dates, medications, amounts)
  sentiment: -1.0 (very negative) to 1.0 (very positive)
  emotional_markers: array of strings (e.g. fear, frustration, distress)
  topics: array of short topic words

Current topic: %s
Current intent: %s
Utterance: %q`

// GeminiClassifier backs classification with the Gemini API. Failures fall
// back to the keyword classifier so a model outage never stalls a call.
type GeminiClassifier struct {
	client   *genai.Client
	model    string
	fallback *KeywordClassifier
}

// NewGeminiClassifier dials the Gemini API with the given key.
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClassifier{
		client:   client,
		model:    model,
		fallback: NewKeywordClassifier(),
	}, nil
}

// Classify asks the model for a structured verdict, falling back to keyword
// classification on any model or parse failure.
func (g *GeminiClassifier) Classify(ctx context.Context, utterance string, convCtx Context) (*Result, error) {
	prompt := fmt.Sprintf(classifyPrompt, convCtx.CurrentTopic, convCtx.CurrentIntent, utterance)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return g.fallback.Classify(ctx, utterance, convCtx)
	}

	res, err := parseModelResult(resp.Text())
	if err != nil {
		return g.fallback.Classify(ctx, utterance, convCtx)
	}
	return res, nil
}

func parseModelResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	// Models occasionally wrap JSON in a code fence despite the MIME type.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var res Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &res); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if res.Intent == "" {
		return nil, fmt.Errorf("classification missing intent")
	}
	res.Confidence = clamp(res.Confidence, 0, 1)
	if res.Sentiment != nil {
		s := clamp(*res.Sentiment, -1, 1)
		res.Sentiment = &s
	}
	return &res, nil
}
