package interview

import (
	"context"

	"github.com/hiremind/interview/internal/domain"
)

// SessionStore persists sessions and turns. SaveTurn reports an index that is
// already stored with domain.ErrTurnExists.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) (string, error)
	SaveTurn(ctx context.Context, sessionID string, t domain.Turn) error
	MarkComplete(ctx context.Context, sessionID string) error
}

type QuestionGenerator interface {
	Next(ctx context.Context, req domain.QuestionRequest) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, sessionID string, turns []domain.Turn, skipped int, metrics *domain.BehavioralMetrics) (*domain.AnalysisResult, error)
}

type TurnClassifier interface {
	Classify(ctx context.Context, transcript, question string) (domain.TurnEstimate, error)
}

// Synthesizer speaks text. Speak blocks until playback finished, failed, or
// ctx was cancelled. Cancel must be safe to call from any goroutine.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	Cancel() error
}

// CaptureSink receives speech recognition output.
type CaptureSink interface {
	Transcript(text string)
	SpeechDetected(active bool)
}

// Capture is a speech recognition session. Stop is idempotent and safe to
// call from any goroutine.
type Capture interface {
	Start(ctx context.Context, sink CaptureSink) error
	Stop() error
}

// Devices owns the camera and microphone.
type Devices interface {
	Acquire(ctx context.Context) error
	Release()
}

// MetricsSource reports behavioral metrics collected during the interview.
type MetricsSource interface {
	BehavioralMetrics() *domain.BehavioralMetrics
}
