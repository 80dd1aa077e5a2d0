// Package analysis scores finished interviews.
package analysis

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/llm"
)

// SkipPenalty is subtracted from the overall score per skipped question.
const SkipPenalty = 10

const (
	noParticipationImprovement = "No participation detected. Please attempt to answer the questions in your next interview."
	noParticipationFeedback    = "You did not provide any meaningful responses during this interview. To get accurate feedback and improve your interview skills, please ensure you answer the interview questions thoroughly in your next session."
)

// Scorer is the part of llm.Client the analyzer needs.
type Scorer interface {
	AnalyzeInterview(ctx context.Context, interviewType string, answers []llm.QA) (*llm.Scores, error)
	ProbableAnswers(ctx context.Context, questions []llm.QA) ([]llm.ModelAnswer, error)
}

// Results stores analysis results and looks up the interview type.
type Results interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpsertResult(ctx context.Context, r domain.AnalysisResult) error
}

// Service implements interview.Analyzer.
type Service struct {
	scorer  Scorer
	results Results
	logger  *log.Logger
}

func NewService(scorer Scorer, results Results, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{scorer: scorer, results: results, logger: logger}
}

// Analyze scores the turns of a session and stores the result. It does not
// mark the session complete.
func (s *Service) Analyze(ctx context.Context, sessionID string, turns []domain.Turn, skipped int, metrics *domain.BehavioralMetrics) (*domain.AnalysisResult, error) {
	answers := validAnswers(turns)

	var r domain.AnalysisResult
	if len(answers) == 0 {
		s.logger.Printf("analysis: no participation in %s, scoring zero", sessionID)
		r = domain.AnalysisResult{
			Strengths:        []string{},
			Improvements:     []string{noParticipationImprovement},
			DetailedFeedback: noParticipationFeedback,
		}
	} else {
		scores, err := s.scorer.AnalyzeInterview(ctx, s.interviewType(ctx, sessionID), answers)
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", sessionID, err)
		}
		r = domain.AnalysisResult{
			OverallScore:       score(scores.OverallScore),
			CommunicationScore: score(scores.CommunicationScore),
			TechnicalScore:     score(scores.TechnicalScore),
			ProblemSolving:     score(scores.ProblemSolvingScore),
			ConfidenceScore:    score(scores.ConfidenceScore),
			Strengths:          nonNil(scores.Strengths),
			Improvements:       nonNil(scores.Improvements),
			DetailedFeedback:   scores.DetailedFeedback,
		}
	}

	r.SessionID = sessionID
	r.SkippedCount = skipped
	r.OverallScore = max(0, r.OverallScore-skipped*SkipPenalty)
	r.CreatedAt = time.Now().UTC()
	if metrics != nil {
		r.EyeContactScore = metric(metrics.EyeContact)
		r.SmileScore = metric(metrics.Smile)
		r.StillnessScore = metric(metrics.Stillness)
		r.FaceConfidence = metric(metrics.ConfidenceScore)
	}

	if err := s.results.UpsertResult(ctx, r); err != nil {
		return nil, fmt.Errorf("save result for %s: %w", sessionID, err)
	}
	return &r, nil
}

// ProbableAnswers returns a model answer per question. Failures yield an
// empty list.
func (s *Service) ProbableAnswers(ctx context.Context, turns []domain.Turn) []domain.ProbableAnswer {
	qs := make([]llm.QA, 0, len(turns))
	byNumber := make(map[int]string, len(turns))
	for _, t := range turns {
		if t.Question == "" {
			continue
		}
		qs = append(qs, llm.QA{Number: t.Index, Question: t.Question})
		byNumber[t.Index] = t.Question
	}
	if len(qs) == 0 {
		return []domain.ProbableAnswer{}
	}

	answers, err := s.scorer.ProbableAnswers(ctx, qs)
	if err != nil {
		s.logger.Printf("analysis: probable answers failed: %v", err)
		return []domain.ProbableAnswer{}
	}
	out := make([]domain.ProbableAnswer, 0, len(answers))
	for _, a := range answers {
		q, ok := byNumber[a.QuestionNumber]
		if !ok {
			continue
		}
		out = append(out, domain.ProbableAnswer{Index: a.QuestionNumber, Question: q, Answer: a.ProbableAnswer})
	}
	return out
}

func (s *Service) interviewType(ctx context.Context, sessionID string) string {
	sess, err := s.results.GetSession(ctx, sessionID)
	if err != nil || sess.Topic == "" {
		return "general"
	}
	return sess.Topic
}

func validAnswers(turns []domain.Turn) []llm.QA {
	var out []llm.QA
	for _, t := range turns {
		if t.Answered() {
			out = append(out, llm.QA{Number: t.Index, Question: t.Question, Answer: t.Answer})
		}
	}
	return out
}

func score(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// metric keeps positive face metrics; zero means the client had no reading.
func metric(v float64) *float64 {
	if math.IsNaN(v) || v <= 0 {
		return nil
	}
	return &v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
