package analysis

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/llm"
)

type fakeScorer struct {
	scores     *llm.Scores
	err        error
	calls      int
	lastType   string
	lastQA     []llm.QA
	answers    []llm.ModelAnswer
	answersErr error
}

func (f *fakeScorer) AnalyzeInterview(_ context.Context, typ string, qa []llm.QA) (*llm.Scores, error) {
	f.calls++
	f.lastType = typ
	f.lastQA = qa
	return f.scores, f.err
}

func (f *fakeScorer) ProbableAnswers(context.Context, []llm.QA) ([]llm.ModelAnswer, error) {
	return f.answers, f.answersErr
}

type fakeResults struct {
	topic   string
	saved   []domain.AnalysisResult
	saveErr error
}

func (r *fakeResults) GetSession(_ context.Context, id string) (*domain.Session, error) {
	return &domain.Session{ID: id, Topic: r.topic}, nil
}

func (r *fakeResults) UpsertResult(_ context.Context, res domain.AnalysisResult) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, res)
	return nil
}

func newTestService(s Scorer, r Results) *Service {
	return NewService(s, r, log.New(io.Discard, "", 0))
}

func TestAnalyzeNoParticipation(t *testing.T) {
	scorer := &fakeScorer{}
	results := &fakeResults{}
	turns := []domain.Turn{
		{Index: 1, Question: "Intro?", Answer: ""},
		{Index: 2, Question: "Q2", Answer: domain.SkippedAnswer, Skipped: true},
	}

	r, err := newTestService(scorer, results).Analyze(context.Background(), "s1", turns, 1, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if scorer.calls != 0 {
		t.Error("no participation should not call the LLM")
	}
	if r.OverallScore != 0 || r.TechnicalScore != 0 || len(r.Strengths) != 0 {
		t.Errorf("result = %+v", r)
	}
	if len(r.Improvements) != 1 || r.Improvements[0] != noParticipationImprovement || r.DetailedFeedback != noParticipationFeedback {
		t.Errorf("feedback = %v / %q", r.Improvements, r.DetailedFeedback)
	}
	if len(results.saved) != 1 {
		t.Error("result should be stored")
	}
}

func TestAnalyzeScoresAndPenalty(t *testing.T) {
	tests := []struct {
		name    string
		overall float64
		skipped int
		want    int
	}{
		{"no skips", 78.4, 0, 78},
		{"two skips", 78, 2, 58},
		{"floored", 25, 5, 0},
		{"clamped", 140, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{scores: &llm.Scores{OverallScore: tt.overall, TechnicalScore: 66.6, Strengths: []string{"clear"}}}
			results := &fakeResults{topic: "technical"}
			turns := []domain.Turn{
				{Index: 1, Question: "Intro?", Answer: "I build APIs."},
				{Index: 2, Question: "Q2", Skipped: true, Answer: domain.SkippedAnswer},
			}
			r, err := newTestService(scorer, results).Analyze(context.Background(), "s1", turns, tt.skipped, nil)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if r.OverallScore != tt.want {
				t.Errorf("overall = %d, want %d", r.OverallScore, tt.want)
			}
			if r.TechnicalScore != 67 || r.SkippedCount != tt.skipped {
				t.Errorf("result = %+v", r)
			}
			if scorer.lastType != "technical" || len(scorer.lastQA) != 1 {
				t.Errorf("scorer got type %q and %d answers", scorer.lastType, len(scorer.lastQA))
			}
			if r.Improvements == nil {
				t.Error("improvements should never be nil")
			}
		})
	}
}

func TestAnalyzeBehavioralMetrics(t *testing.T) {
	scorer := &fakeScorer{scores: &llm.Scores{OverallScore: 70}}
	metrics := &domain.BehavioralMetrics{EyeContact: 82, Smile: 0, Stillness: 64.5, ConfidenceScore: 71}
	r, err := newTestService(scorer, &fakeResults{}).Analyze(context.Background(), "s1",
		[]domain.Turn{{Index: 1, Question: "q", Answer: "a"}}, 0, metrics)
	if err != nil {
		t.Fatal(err)
	}
	if r.EyeContactScore == nil || *r.EyeContactScore != 82 {
		t.Errorf("eye contact = %v", r.EyeContactScore)
	}
	if r.SmileScore != nil {
		t.Error("zero smile should be stored as no reading")
	}
	if r.StillnessScore == nil || r.FaceConfidence == nil {
		t.Error("stillness and face confidence should be set")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	turns := []domain.Turn{{Index: 1, Question: "q", Answer: "a"}}

	_, err := newTestService(&fakeScorer{err: errors.New("llm down")}, &fakeResults{}).Analyze(context.Background(), "s1", turns, 0, nil)
	if err == nil {
		t.Error("LLM failure should fail the analysis")
	}

	_, err = newTestService(&fakeScorer{scores: &llm.Scores{}}, &fakeResults{saveErr: errors.New("db down")}).Analyze(context.Background(), "s1", turns, 0, nil)
	if err == nil {
		t.Error("save failure should fail the analysis")
	}
}

func TestProbableAnswers(t *testing.T) {
	turns := []domain.Turn{{Index: 1, Question: "Intro?"}, {Index: 2, Question: "Channels?"}}

	scorer := &fakeScorer{answers: []llm.ModelAnswer{
		{QuestionNumber: 2, ProbableAnswer: "Typed conduits."},
		{QuestionNumber: 9, ProbableAnswer: "unknown question"},
	}}
	got := newTestService(scorer, &fakeResults{}).ProbableAnswers(context.Background(), turns)
	if len(got) != 1 || got[0].Question != "Channels?" || got[0].Answer != "Typed conduits." {
		t.Errorf("answers = %+v", got)
	}

	failing := &fakeScorer{answersErr: errors.New("llm down")}
	if got := newTestService(failing, &fakeResults{}).ProbableAnswers(context.Background(), turns); got == nil || len(got) != 0 {
		t.Errorf("failure should yield an empty list, got %v", got)
	}
}
