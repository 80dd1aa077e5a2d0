// Package questions generates interview questions and keeps them unique per
// candidate.
package questions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/hiremind/interview/internal/catalog"
	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/store"
)

// ErrDuplicate is returned when the generated question was already asked to
// the candidate and is not marked important.
var ErrDuplicate = errors.New("question already asked")

// Generator turns a prompt into one question.
type Generator interface {
	GenerateQuestion(ctx context.Context, prompt string) (string, error)
}

// History is the per-user question history and profile lookup.
type History interface {
	LookupQuestion(ctx context.Context, userID, hash string) (*store.QuestionRecord, error)
	RecordQuestion(ctx context.Context, userID, hash, text string, important bool) error
	GetUserProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Service implements interview.QuestionGenerator.
type Service struct {
	gen     Generator
	history History
	catalog *catalog.Catalog
	logger  *log.Logger
}

func NewService(gen Generator, history History, cat *catalog.Catalog, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{gen: gen, history: history, catalog: cat, logger: logger}
}

// Next generates one question. It makes a single attempt: a generator failure
// or a repeated question is returned as an error and the caller decides
// whether to try again.
func (s *Service) Next(ctx context.Context, req domain.QuestionRequest) (string, error) {
	var profile *domain.Profile
	if req.Number > 1 && s.history != nil && req.UserID != "" {
		p, err := s.history.GetUserProfile(ctx, req.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Printf("questions: profile lookup failed for %s: %v", req.UserID, err)
		}
		profile = p
	}

	q, err := s.gen.GenerateQuestion(ctx, s.BuildPrompt(req, profile))
	if err != nil {
		return "", fmt.Errorf("generate question %d: %w", req.Number, err)
	}

	if req.Number == 1 || s.history == nil || req.UserID == "" {
		return q, nil
	}
	return s.checkUnique(ctx, req.UserID, q)
}

// Ask retries Next up to attempts times and falls back to the default
// question.
func (s *Service) Ask(ctx context.Context, req domain.QuestionRequest, attempts int) string {
	for i := 0; i < attempts; i++ {
		q, err := s.Next(ctx, req)
		if err == nil {
			return q
		}
		if ctx.Err() != nil {
			break
		}
		s.logger.Printf("questions: attempt %d/%d for %s: %v", i+1, attempts, req.SessionID, err)
	}
	return domain.DefaultQuestion
}

func (s *Service) checkUnique(ctx context.Context, userID, q string) (string, error) {
	hash := Hash(q)
	rec, err := s.history.LookupQuestion(ctx, userID, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := s.history.RecordQuestion(ctx, userID, hash, q, false); err != nil {
			s.logger.Printf("questions: could not record question history: %v", err)
		}
		return q, nil
	case err != nil:
		s.logger.Printf("questions: history lookup failed, using question anyway: %v", err)
		return q, nil
	case rec.Important:
		return q, nil
	default:
		return "", ErrDuplicate
	}
}

// Hash identifies a question independent of case and whitespace.
func Hash(q string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(q)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
