package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/eventlog"
)

// Sessions is the part of the store the recovery job needs.
type Sessions interface {
	ListStaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Session, error)
	GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	GetResult(ctx context.Context, sessionID string) (*domain.AnalysisResult, error)
	MarkComplete(ctx context.Context, sessionID string) error
}

type Analyzer interface {
	Analyze(ctx context.Context, sessionID string, turns []domain.Turn, skipped int, metrics *domain.BehavioralMetrics) (*domain.AnalysisResult, error)
}

// Reports tells candidates their report is ready.
type Reports interface {
	ReportReady(ctx context.Context, sess domain.Session, res *domain.AnalysisResult) int
}

// Alerts notifies operators.
type Alerts interface {
	NotifyAnalysisFailed(ctx context.Context, sessionID, userID string, cause error)
	NotifyRecovered(ctx context.Context, count int)
}

// RecoveryConfig tunes the analysis recovery job. Zero values use defaults.
type RecoveryConfig struct {
	Interval        time.Duration // how often to look for stranded interviews
	StaleAfter      time.Duration // minimum age before an interview counts as stranded
	BatchSize       int
	AnalysisTimeout time.Duration
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 2 * time.Minute
	}
	return c
}

// AnalysisRecoveryJob finishes interviews whose turns are all saved but that
// never got a result, for example because the candidate closed the tab while
// the analysis was running. It runs on a fixed interval and:
// - Scores each stranded interview and marks it complete
// - Marks interviews that were scored but never completed, without rescoring
// - Pushes the report-ready notification to the candidate
// - Alerts operators about interviews it could not score
type AnalysisRecoveryJob struct {
	sessions Sessions
	analyzer Analyzer
	reports  Reports
	alerts   Alerts
	eventLog *eventlog.Logger
	logger   *log.Logger
	cfg      RecoveryConfig
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewAnalysisRecoveryJob creates the job. reports, alerts and eventLog may be nil.
func NewAnalysisRecoveryJob(sessions Sessions, analyzer Analyzer, reports Reports, alerts Alerts, eventLog *eventlog.Logger, logger *log.Logger, cfg RecoveryConfig) *AnalysisRecoveryJob {
	if logger == nil {
		logger = log.Default()
	}
	return &AnalysisRecoveryJob{
		sessions: sessions,
		analyzer: analyzer,
		reports:  reports,
		alerts:   alerts,
		eventLog: eventLog,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *AnalysisRecoveryJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("AnalysisRecoveryJob: started (interval=%v, stale after %v)", j.cfg.Interval, j.cfg.StaleAfter)
}

// Stop gracefully stops the background job.
func (j *AnalysisRecoveryJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("AnalysisRecoveryJob: stopped")
}

func (j *AnalysisRecoveryJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.RunOnce(context.Background())

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce processes one batch of stranded interviews and returns how many
// were completed.
func (j *AnalysisRecoveryJob) RunOnce(ctx context.Context) int {
	stale, err := j.sessions.ListStaleSessions(ctx, j.cfg.StaleAfter, j.cfg.BatchSize)
	if err != nil {
		j.logger.Printf("AnalysisRecoveryJob: failed to list stranded interviews: %v", err)
		return 0
	}

	recovered := 0
	for _, sess := range stale {
		select {
		case <-j.stopCh:
			return recovered
		default:
		}
		if j.recover(ctx, sess) {
			recovered++
		}
	}

	if len(stale) > 0 {
		j.logger.Printf("AnalysisRecoveryJob: completed %d of %d stranded interviews", recovered, len(stale))
	}
	if recovered > 0 && j.alerts != nil {
		j.alerts.NotifyRecovered(ctx, recovered)
	}
	return recovered
}

func (j *AnalysisRecoveryJob) recover(ctx context.Context, sess domain.Session) bool {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.AnalysisTimeout)
	defer cancel()

	// A missing result and a failed lookup both fall through to analysis.
	res, err := j.sessions.GetResult(ctx, sess.ID)
	if err != nil || res == nil {
		turns, err := j.sessions.GetTurns(ctx, sess.ID)
		if err != nil {
			j.logger.Printf("AnalysisRecoveryJob: failed to load turns for %s: %v", sess.ID, err)
			return false
		}
		res, err = j.analyzer.Analyze(ctx, sess.ID, turns, domain.CountSkipped(turns), nil)
		if err != nil {
			j.analysisFailed(ctx, sess, err)
			return false
		}
	}
	if err := j.sessions.MarkComplete(ctx, sess.ID); err != nil {
		j.analysisFailed(ctx, sess, err)
		return false
	}
	j.eventLog.LogAsync(sess.ID, eventlog.EventAnalysisDone, map[string]any{
		"overall_score": res.OverallScore,
		"skipped":       res.SkippedCount,
		"source":        "recovery",
	})
	if j.reports != nil {
		j.reports.ReportReady(ctx, sess, res)
	}
	return true
}

func (j *AnalysisRecoveryJob) analysisFailed(ctx context.Context, sess domain.Session, err error) {
	j.logger.Printf("AnalysisRecoveryJob: analysis failed for %s: %v", sess.ID, err)
	j.eventLog.LogAsync(sess.ID, eventlog.EventAnalysisFailed, map[string]any{
		"error":  err.Error(),
		"source": "recovery",
	})
	if j.alerts != nil {
		j.alerts.NotifyAnalysisFailed(ctx, sess.ID, sess.UserID, err)
	}
}
