package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/hiremind/interview/internal/domain"
)

type fakeSessions struct {
	mu        sync.Mutex
	stale     []domain.Session
	listErr   error
	turns     map[string][]domain.Turn
	results   map[string]*domain.AnalysisResult
	completed []string
	olderThan time.Duration
	limit     int
}

func (f *fakeSessions) ListStaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.olderThan, f.limit = olderThan, limit
	return f.stale, f.listErr
}

func (f *fakeSessions) GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	return f.turns[sessionID], nil
}

func (f *fakeSessions) GetResult(ctx context.Context, sessionID string) (*domain.AnalysisResult, error) {
	if res, ok := f.results[sessionID]; ok {
		return res, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeSessions) MarkComplete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, sessionID)
	return nil
}

type fakeAnalyzer struct {
	failFor  map[string]bool
	skipped  map[string]int
	analyzed []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, sessionID string, turns []domain.Turn, skipped int, metrics *domain.BehavioralMetrics) (*domain.AnalysisResult, error) {
	f.analyzed = append(f.analyzed, sessionID)
	if f.failFor[sessionID] {
		return nil, errors.New("model unavailable")
	}
	if f.skipped == nil {
		f.skipped = make(map[string]int)
	}
	f.skipped[sessionID] = skipped
	return &domain.AnalysisResult{SessionID: sessionID, OverallScore: 70, SkippedCount: skipped}, nil
}

type fakeReports struct {
	sent []string
}

func (f *fakeReports) ReportReady(ctx context.Context, sess domain.Session, res *domain.AnalysisResult) int {
	f.sent = append(f.sent, sess.ID)
	return 1
}

type fakeAlerts struct {
	failed    []string
	recovered []int
}

func (f *fakeAlerts) NotifyAnalysisFailed(ctx context.Context, sessionID, userID string, cause error) {
	f.failed = append(f.failed, sessionID)
}

func (f *fakeAlerts) NotifyRecovered(ctx context.Context, count int) {
	f.recovered = append(f.recovered, count)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRecoveryConfigDefaults(t *testing.T) {
	cfg := RecoveryConfig{}.withDefaults()
	if cfg.Interval != 5*time.Minute || cfg.StaleAfter != 15*time.Minute || cfg.BatchSize != 20 || cfg.AnalysisTimeout != 2*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}

	custom := RecoveryConfig{Interval: time.Minute, BatchSize: 5}.withDefaults()
	if custom.Interval != time.Minute || custom.BatchSize != 5 {
		t.Errorf("custom values overwritten: %+v", custom)
	}
}

func TestRunOnce(t *testing.T) {
	sessions := &fakeSessions{
		stale: []domain.Session{
			{ID: "s1", UserID: "u1"},
			{ID: "s2", UserID: "u2"},
			{ID: "s3", UserID: "u3"},
		},
		turns: map[string][]domain.Turn{
			"s1": {{Index: 1, Answer: "a"}, {Index: 2, Answer: domain.SkippedAnswer, Skipped: true}},
			"s2": {{Index: 1, Answer: "a"}},
			"s3": {{Index: 1, Answer: "a"}},
		},
	}
	analyzer := &fakeAnalyzer{failFor: map[string]bool{"s2": true}}
	reports := &fakeReports{}
	alerts := &fakeAlerts{}

	job := NewAnalysisRecoveryJob(sessions, analyzer, reports, alerts, nil, quietLogger(), RecoveryConfig{StaleAfter: time.Hour, BatchSize: 7})

	got := job.RunOnce(context.Background())
	if got != 2 {
		t.Errorf("RunOnce() = %d, want 2", got)
	}

	if sessions.olderThan != time.Hour || sessions.limit != 7 {
		t.Errorf("listed with olderThan=%v limit=%d, want 1h and 7", sessions.olderThan, sessions.limit)
	}
	if len(sessions.completed) != 2 || sessions.completed[0] != "s1" || sessions.completed[1] != "s3" {
		t.Errorf("completed = %v, want [s1 s3]", sessions.completed)
	}
	if analyzer.skipped["s1"] != 1 {
		t.Errorf("s1 analyzed with %d skipped, want 1", analyzer.skipped["s1"])
	}
	if len(reports.sent) != 2 {
		t.Errorf("reports sent = %v, want 2", reports.sent)
	}
	if len(alerts.failed) != 1 || alerts.failed[0] != "s2" {
		t.Errorf("failure alerts = %v, want [s2]", alerts.failed)
	}
	if len(alerts.recovered) != 1 || alerts.recovered[0] != 2 {
		t.Errorf("recovered alerts = %v, want [2]", alerts.recovered)
	}
}

func TestRunOnceCompletesScoredSession(t *testing.T) {
	sessions := &fakeSessions{
		stale: []domain.Session{{ID: "s1", UserID: "u1"}},
		turns: map[string][]domain.Turn{"s1": {{Index: 1, Answer: "a"}}},
		results: map[string]*domain.AnalysisResult{
			"s1": {SessionID: "s1", OverallScore: 82},
		},
	}
	analyzer := &fakeAnalyzer{}
	reports := &fakeReports{}

	job := NewAnalysisRecoveryJob(sessions, analyzer, reports, nil, nil, quietLogger(), RecoveryConfig{})

	if got := job.RunOnce(context.Background()); got != 1 {
		t.Errorf("RunOnce() = %d, want 1", got)
	}
	if len(analyzer.analyzed) != 0 {
		t.Errorf("analyzed %v, want no rescoring", analyzer.analyzed)
	}
	if len(sessions.completed) != 1 || sessions.completed[0] != "s1" {
		t.Errorf("completed = %v, want [s1]", sessions.completed)
	}
	if len(reports.sent) != 1 {
		t.Errorf("reports sent = %v, want 1", reports.sent)
	}
}

func TestRunOnceNothingToDo(t *testing.T) {
	alerts := &fakeAlerts{}
	job := NewAnalysisRecoveryJob(&fakeSessions{}, &fakeAnalyzer{}, nil, alerts, nil, quietLogger(), RecoveryConfig{})

	if got := job.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0", got)
	}
	if len(alerts.recovered) != 0 {
		t.Errorf("recovered alerts = %v, want none", alerts.recovered)
	}
}

func TestRunOnceListError(t *testing.T) {
	sessions := &fakeSessions{listErr: errors.New("db down")}
	job := NewAnalysisRecoveryJob(sessions, &fakeAnalyzer{}, nil, nil, nil, quietLogger(), RecoveryConfig{})

	if got := job.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0", got)
	}
}

func TestStartStop(t *testing.T) {
	sessions := &fakeSessions{
		stale: []domain.Session{{ID: "s1", UserID: "u1"}},
		turns: map[string][]domain.Turn{"s1": {{Index: 1, Answer: "a"}}},
	}
	job := NewAnalysisRecoveryJob(sessions, &fakeAnalyzer{}, nil, nil, nil, quietLogger(), RecoveryConfig{Interval: time.Hour})

	job.Start()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions.mu.Lock()
		n := len(sessions.completed)
		sessions.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not run on start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	job.Stop()
}
