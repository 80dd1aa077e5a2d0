package interview

import (
	"fmt"
	"time"

	"github.com/hiremind/interview/internal/domain"
)

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingSetup State = "awaiting_setup"
	StateAISpeaking    State = "ai_speaking"
	StateListening     State = "listening"
	StateProcessing    State = "processing"
	StateFinalizing    State = "finalizing"
	StateComplete      State = "complete"
)

// FinalizeCause records which path closed a turn.
type FinalizeCause string

const (
	CauseClassifier FinalizeCause = "classifier"
	CauseSkip       FinalizeCause = "skip"
	CauseTimeout    FinalizeCause = "timeout"
)

type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

type Permissions struct {
	Microphone PermissionState `json:"microphone"`
	Camera     PermissionState `json:"camera"`
}

// Check returns an error unless both devices are usable.
func (p Permissions) Check() error {
	if p.Microphone == PermissionDenied {
		return fmt.Errorf("%w: microphone access was blocked, allow it in the browser site settings and reload", ErrPermissionDenied)
	}
	if p.Camera == PermissionDenied {
		return fmt.Errorf("%w: camera access was blocked, allow it in the browser site settings and reload", ErrPermissionDenied)
	}
	if p.Microphone != PermissionGranted || p.Camera != PermissionGranted {
		return ErrPermissionPending
	}
	return nil
}

// SetupParams configures a new session.
type SetupParams struct {
	UserID          string
	Topic           string
	Difficulty      domain.Difficulty
	DurationMinutes int
	Scenario        *domain.Scenario
}

type EventType string

const (
	EventState         EventType = "state"
	EventQuestion      EventType = "question"
	EventTranscript    EventType = "transcript"
	EventEstimate      EventType = "estimate"
	EventBargeIn       EventType = "barge_in"
	EventTurnFinalized EventType = "turn_finalized"
	EventError         EventType = "error"
	EventResult        EventType = "result"
)

// Event is reported to the Observer from the controller goroutine.
type Event struct {
	Type      EventType
	State     State
	SessionID string
	Index     int
	Total     int
	Text      string
	Estimate  *domain.TurnEstimate
	Cause     FinalizeCause
	Turn      *domain.Turn
	Result    *domain.AnalysisResult
	Err       error
	Retryable bool
	At        time.Time
}

// Snapshot is a copy of the controller's externally visible state.
type Snapshot struct {
	State   State
	Session domain.Session
	Turns   []domain.Turn
	Skipped int
	Err     error
	Result  *domain.AnalysisResult
}

type Config struct {
	ConfidenceThreshold    float64
	SilenceTimeout         time.Duration
	ClassifierTimeout      time.Duration
	ListenDelay            time.Duration
	SynthesisFallbackDelay time.Duration
	MaxSpeakDuration       time.Duration
	QuestionTimeout        time.Duration
	QuestionAttempts       int
	SaveTimeout            time.Duration
	SaveAttempts           int
	AnalysisTimeout        time.Duration
	AnalysisAttempts       int
	RetryBackoff           time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:    0.7,
		SilenceTimeout:         8 * time.Second,
		ClassifierTimeout:      3 * time.Second,
		ListenDelay:            300 * time.Millisecond,
		SynthesisFallbackDelay: 1500 * time.Millisecond,
		MaxSpeakDuration:       2 * time.Minute,
		QuestionTimeout:        20 * time.Second,
		QuestionAttempts:       5,
		SaveTimeout:            10 * time.Second,
		SaveAttempts:           3,
		AnalysisTimeout:        90 * time.Second,
		AnalysisAttempts:       2,
		RetryBackoff:           250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.ClassifierTimeout <= 0 {
		c.ClassifierTimeout = d.ClassifierTimeout
	}
	if c.ListenDelay < 0 {
		c.ListenDelay = d.ListenDelay
	}
	if c.SynthesisFallbackDelay < 0 {
		c.SynthesisFallbackDelay = d.SynthesisFallbackDelay
	}
	if c.MaxSpeakDuration <= 0 {
		c.MaxSpeakDuration = d.MaxSpeakDuration
	}
	if c.QuestionTimeout <= 0 {
		c.QuestionTimeout = d.QuestionTimeout
	}
	if c.QuestionAttempts <= 0 {
		c.QuestionAttempts = d.QuestionAttempts
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.SaveAttempts <= 0 {
		c.SaveAttempts = d.SaveAttempts
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = d.AnalysisTimeout
	}
	if c.AnalysisAttempts <= 0 {
		c.AnalysisAttempts = d.AnalysisAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	return c
}
