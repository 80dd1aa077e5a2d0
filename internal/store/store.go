// Package store persists users, interviews, turns, question history and
// analysis results in PostgreSQL or SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hiremind/interview/internal/costs"
	"github.com/hiremind/interview/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTurnExists     = domain.ErrTurnExists
	ErrTurnOutOfRange = errors.New("turn index outside the session's question count")
)

// Repository is implemented by Postgres and SQLite.
type Repository interface {
	// users
	UpsertUser(ctx context.Context, u User) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// auth sessions
	CreateAuthSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	RevokeAuthSession(ctx context.Context, tokenHash string) error
	IsAuthSessionValid(ctx context.Context, tokenHash string) (bool, error)

	// interviews
	CreateSession(ctx context.Context, s domain.Session) (string, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	MarkComplete(ctx context.Context, id string) error
	ListStaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Session, error)
	SaveTurn(ctx context.Context, sessionID string, t domain.Turn) error
	GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// question history
	LookupQuestion(ctx context.Context, userID, hash string) (*QuestionRecord, error)
	RecordQuestion(ctx context.Context, userID, hash, text string, important bool) error

	// results
	UpsertResult(ctx context.Context, r domain.AnalysisResult) error
	GetResult(ctx context.Context, sessionID string) (*domain.AnalysisResult, error)

	// costs and events
	RecordInterviewCosts(ctx context.Context, sessionID string, m costs.Metrics, c costs.Costs) error
	InsertInterviewEvent(ctx context.Context, sessionID, eventType string, data []byte) error

	// push notifications
	RegisterPushToken(ctx context.Context, userID, token, platform string) error
	UnregisterPushToken(ctx context.Context, token string) error
	GetUserPushTokens(ctx context.Context, userID string) ([]DevicePushToken, error)

	Ping(ctx context.Context) error
	Close() error
}

// User is an authenticated candidate. Guests have an empty Email.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	CareerStage string    `json:"career_stage,omitempty"`
	TargetRole  string    `json:"target_role,omitempty"`
	Skills      []string  `json:"skills,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u User) Profile() *domain.Profile {
	return &domain.Profile{
		UserID:      u.ID,
		DisplayName: u.Name,
		CareerStage: u.CareerStage,
		TargetRole:  u.TargetRole,
		Skills:      u.Skills,
	}
}

// QuestionRecord is an entry in a user's question history.
type QuestionRecord struct {
	UserID    string    `json:"user_id"`
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
	Important bool      `json:"important"`
	CreatedAt time.Time `json:"created_at"`
}

// DevicePushToken is a push notification token for a device.
type DevicePushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"created_at"`
}

func marshalList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalList(b []byte) []string {
	var v []string
	if len(b) == 0 || json.Unmarshal(b, &v) != nil {
		return []string{}
	}
	return v
}

func marshalScenario(s *domain.Scenario) *string {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	out := string(b)
	return &out
}

func unmarshalScenario(s *string) *domain.Scenario {
	if s == nil || *s == "" {
		return nil
	}
	var sc domain.Scenario
	if err := json.Unmarshal([]byte(*s), &sc); err != nil {
		return nil
	}
	return &sc
}
