package llm

import (
	"context"
	"sync/atomic"
)

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// TurnVerdict is the model's judgement on whether a speaker has finished.
type TurnVerdict struct {
	IsComplete bool    `json:"isComplete"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Scores is the raw analysis returned by the model, before any penalties.
type Scores struct {
	OverallScore        float64  `json:"overall_score"`
	CommunicationScore  float64  `json:"communication_score"`
	TechnicalScore      float64  `json:"technical_score"`
	ProblemSolvingScore float64  `json:"problem_solving_score"`
	ConfidenceScore     float64  `json:"confidence_score"`
	Strengths           []string `json:"strengths"`
	Improvements        []string `json:"improvements"`
	DetailedFeedback    string   `json:"detailed_feedback"`
}

// QA is one question and answer fed into a prompt.
type QA struct {
	Number   int
	Question string
	Answer   string
}

// ModelAnswer is a suggested answer for one question.
type ModelAnswer struct {
	QuestionNumber int    `json:"questionNumber"`
	ProbableAnswer string `json:"probableAnswer"`
}

// Client defines the interface for LLM providers.
type Client interface {
	// ClassifyTurn judges whether transcript is a finished answer to question.
	ClassifyTurn(ctx context.Context, transcript, question string) (*TurnVerdict, error)

	// GenerateQuestion returns one interview question for the given prompt.
	GenerateQuestion(ctx context.Context, prompt string) (string, error)

	// AnalyzeInterview scores a transcript of an interview of the given type.
	AnalyzeInterview(ctx context.Context, interviewType string, answers []QA) (*Scores, error)

	// ProbableAnswers suggests a model answer for each question.
	ProbableAnswers(ctx context.Context, questions []QA) ([]ModelAnswer, error)
}

// Usage accumulates token counts across calls that carry it in their context.
type Usage struct {
	InputTokens  atomic.Int64
	OutputTokens atomic.Int64
}

type usageKey struct{}

// WithUsage returns a context whose LLM calls add their token counts to u.
func WithUsage(ctx context.Context, u *Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

func usageFrom(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}
