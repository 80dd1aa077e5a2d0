package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrTurnExists is returned by stores when a turn index was already saved.
var ErrTurnExists = errors.New("turn already saved for this index")

// SkippedAnswer is stored as the answer of a skipped question.
const SkippedAnswer = "[SKIPPED]"

// DefaultQuestion is asked when no unique question could be generated.
const DefaultQuestion = "Tell me about a challenging situation you faced and how you approached solving it."

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyPro          Difficulty = "pro"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ParseDifficulty maps user input to a Difficulty, defaulting to intermediate.
func ParseDifficulty(s string) Difficulty {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyPro, DifficultyAdvanced:
		return d
	default:
		return DifficultyIntermediate
	}
}

type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// Session is one mock interview.
type Session struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Topic         string        `json:"topic"`
	Difficulty    Difficulty    `json:"difficulty"`
	QuestionCount int           `json:"questionCount"`
	CurrentIndex  int           `json:"currentIndex"`
	Status        SessionStatus `json:"status"`
	Scenario      *Scenario     `json:"scenario,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
}

// Turn is one question and the candidate's answer. Index is 1-based.
type Turn struct {
	Index    int       `json:"index"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Skipped  bool      `json:"skipped"`
	At       time.Time `json:"at"`
}

// Answered reports whether the turn holds a usable answer.
func (t Turn) Answered() bool {
	a := strings.TrimSpace(t.Answer)
	return !t.Skipped && a != "" && a != SkippedAnswer
}

// CountSkipped returns how many turns the candidate skipped.
func CountSkipped(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Skipped {
			n++
		}
	}
	return n
}

// Scenario describes a user-defined custom interview.
type Scenario struct {
	Description string   `json:"description" yaml:"description"`
	Context     string   `json:"context,omitempty" yaml:"context"`
	Goals       []string `json:"goals,omitempty" yaml:"goals"`
	FocusAreas  []string `json:"focusAreas,omitempty" yaml:"focus_areas"`
}

// Profile personalizes generated questions.
type Profile struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName,omitempty"`
	CareerStage string   `json:"careerStage,omitempty"`
	TargetRole  string   `json:"targetRole,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// TurnEstimate is the classifier's opinion on whether an answer is finished.
type TurnEstimate struct {
	IsComplete bool    `json:"isComplete"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// BehavioralMetrics are face metrics averaged by the client over the interview.
type BehavioralMetrics struct {
	EyeContact      float64 `json:"eyeContact"`
	Smile           float64 `json:"smile"`
	Stillness       float64 `json:"stillness"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// AnalysisResult is the final report for a session.
type AnalysisResult struct {
	SessionID          string    `json:"sessionId"`
	OverallScore       int       `json:"overallScore"`
	CommunicationScore int       `json:"communicationScore"`
	TechnicalScore     int       `json:"technicalScore"`
	ProblemSolving     int       `json:"problemSolvingScore"`
	ConfidenceScore    int       `json:"confidenceScore"`
	Strengths          []string  `json:"strengths"`
	Improvements       []string  `json:"improvements"`
	DetailedFeedback   string    `json:"detailedFeedback"`
	SkippedCount       int       `json:"skippedCount"`
	EyeContactScore    *float64  `json:"eyeContactScore,omitempty"`
	SmileScore         *float64  `json:"smileScore,omitempty"`
	StillnessScore     *float64  `json:"stillnessScore,omitempty"`
	FaceConfidence     *float64  `json:"faceConfidenceScore,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// QuestionRequest is everything the question generator needs for one question.
type QuestionRequest struct {
	SessionID  string
	UserID     string
	Topic      string
	Difficulty Difficulty
	Number     int
	Total      int
	History    []Turn
	Scenario   *Scenario
}

// ProbableAnswer is a model answer shown next to the candidate's answer.
type ProbableAnswer struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
