package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiremind/interview/internal/costs"
	"github.com/hiremind/interview/internal/domain"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "interview.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRepository(t *testing.T) {
	runRepositoryTests(t, newTestSQLite(t))
}

func TestPostgresRepository(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	runRepositoryTests(t, NewPostgres(db))
}

func runRepositoryTests(t *testing.T, repo Repository) {
	ctx := context.Background()

	user, err := repo.UpsertUser(ctx, User{Name: "Guest", CareerStage: "student", Skills: []string{"go", "sql"}})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("user ID should not be empty")
	}

	t.Run("users", func(t *testing.T) {
		user.TargetRole = "backend engineer"
		updated, err := repo.UpsertUser(ctx, *user)
		if err != nil {
			t.Fatalf("UpsertUser update: %v", err)
		}
		if updated.ID != user.ID || updated.TargetRole != "backend engineer" {
			t.Errorf("updated user = %+v", updated)
		}
		p, err := repo.GetUserProfile(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserProfile: %v", err)
		}
		if p.CareerStage != "student" || len(p.Skills) != 2 {
			t.Errorf("profile = %+v", p)
		}
	})

	t.Run("auth sessions", func(t *testing.T) {
		hash := "hash-" + user.ID
		if err := repo.CreateAuthSession(ctx, user.ID, hash, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("CreateAuthSession: %v", err)
		}
		valid, err := repo.IsAuthSessionValid(ctx, hash)
		if err != nil || !valid {
			t.Fatalf("IsAuthSessionValid = %v, %v", valid, err)
		}
		if err := repo.RevokeAuthSession(ctx, hash); err != nil {
			t.Fatalf("RevokeAuthSession: %v", err)
		}
		if valid, _ := repo.IsAuthSessionValid(ctx, hash); valid {
			t.Error("revoked session still valid")
		}

		expired := "expired-" + user.ID
		_ = repo.CreateAuthSession(ctx, user.ID, expired, time.Now().Add(-time.Minute))
		if valid, _ := repo.IsAuthSessionValid(ctx, expired); valid {
			t.Error("expired session reported valid")
		}
	})

	sessionID, err := repo.CreateSession(ctx, domain.Session{
		UserID:        user.ID,
		Topic:         "technical",
		Difficulty:    domain.DifficultyPro,
		QuestionCount: 2,
		Scenario:      &domain.Scenario{Description: "System design round", Goals: []string{"scale"}},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	t.Run("get session", func(t *testing.T) {
		s, err := repo.GetSession(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if s.Status != domain.StatusInProgress || s.QuestionCount != 2 || s.Difficulty != domain.DifficultyPro {
			t.Errorf("session = %+v", s)
		}
		if s.Scenario == nil || s.Scenario.Description != "System design round" {
			t.Errorf("scenario = %+v", s.Scenario)
		}
	})

	t.Run("save turns", func(t *testing.T) {
		turn := domain.Turn{Index: 1, Question: "Tell me about yourself.", Answer: "I write Go."}
		if err := repo.SaveTurn(ctx, sessionID, turn); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
		if err := repo.SaveTurn(ctx, sessionID, turn); !errors.Is(err, ErrTurnExists) {
			t.Errorf("duplicate SaveTurn = %v, want ErrTurnExists", err)
		}
		if err := repo.SaveTurn(ctx, sessionID, domain.Turn{Index: 3, Question: "q"}); !errors.Is(err, ErrTurnOutOfRange) {
			t.Errorf("SaveTurn(3) = %v, want ErrTurnOutOfRange", err)
		}
		if err := repo.SaveTurn(ctx, sessionID, domain.Turn{Index: 0, Question: "q"}); !errors.Is(err, ErrTurnOutOfRange) {
			t.Errorf("SaveTurn(0) = %v, want ErrTurnOutOfRange", err)
		}
		skipped := domain.Turn{Index: 2, Question: "Why Go?", Answer: domain.SkippedAnswer, Skipped: true}
		if err := repo.SaveTurn(ctx, sessionID, skipped); err != nil {
			t.Fatalf("SaveTurn(2): %v", err)
		}

		turns, err := repo.GetTurns(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetTurns: %v", err)
		}
		if len(turns) != 2 || turns[0].Index != 1 || turns[1].Index != 2 || !turns[1].Skipped {
			t.Errorf("turns = %+v", turns)
		}
		s, _ := repo.GetSession(ctx, sessionID)
		if s.CurrentIndex != 2 {
			t.Errorf("current index = %d, want 2", s.CurrentIndex)
		}
	})

	t.Run("stale sessions", func(t *testing.T) {
		stale, err := repo.ListStaleSessions(ctx, -time.Minute, 10)
		if err != nil {
			t.Fatalf("ListStaleSessions: %v", err)
		}
		if !containsSession(stale, sessionID) {
			t.Errorf("session %s not reported stale", sessionID)
		}
	})

	t.Run("results", func(t *testing.T) {
		eye := 0.8
		res := domain.AnalysisResult{
			SessionID:        sessionID,
			OverallScore:     60,
			Strengths:        []string{"clear"},
			Improvements:     []string{"depth"},
			DetailedFeedback: "ok",
			SkippedCount:     1,
			EyeContactScore:  &eye,
		}
		if err := repo.UpsertResult(ctx, res); err != nil {
			t.Fatalf("UpsertResult: %v", err)
		}
		res.OverallScore = 70
		if err := repo.UpsertResult(ctx, res); err != nil {
			t.Fatalf("UpsertResult again: %v", err)
		}
		got, err := repo.GetResult(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetResult: %v", err)
		}
		if got.OverallScore != 70 || got.SkippedCount != 1 || got.EyeContactScore == nil || *got.EyeContactScore != 0.8 {
			t.Errorf("result = %+v", got)
		}
		if got.SmileScore != nil {
			t.Errorf("smile score = %v, want nil", *got.SmileScore)
		}

		// Scored but never marked complete: still needs recovery.
		stale, _ := repo.ListStaleSessions(ctx, -time.Minute, 10)
		if !containsSession(stale, sessionID) {
			t.Error("in-progress session with result not reported stale")
		}
	})

	t.Run("mark complete", func(t *testing.T) {
		if err := repo.MarkComplete(ctx, sessionID); err != nil {
			t.Fatalf("MarkComplete: %v", err)
		}
		s, _ := repo.GetSession(ctx, sessionID)
		if s.Status != domain.StatusCompleted || s.CompletedAt == nil {
			t.Errorf("session = %+v", s)
		}
		stale, _ := repo.ListStaleSessions(ctx, -time.Minute, 10)
		if containsSession(stale, sessionID) {
			t.Error("completed session still reported stale")
		}
	})

	t.Run("stale selection", func(t *testing.T) {
		newSession := func() string {
			id, err := repo.CreateSession(ctx, domain.Session{UserID: user.ID, Topic: "general", QuestionCount: 6})
			if err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			return id
		}
		scored, unfinished := newSession(), newSession()
		if err := repo.UpsertResult(ctx, domain.AnalysisResult{SessionID: scored, OverallScore: 50}); err != nil {
			t.Fatalf("UpsertResult: %v", err)
		}

		stale, err := repo.ListStaleSessions(ctx, -time.Minute, 50)
		if err != nil {
			t.Fatalf("ListStaleSessions: %v", err)
		}
		if !containsSession(stale, scored) {
			t.Error("scored in-progress session not reported stale")
		}
		if containsSession(stale, unfinished) {
			t.Error("session with missing turns and no result reported stale")
		}
	})

	t.Run("not found", func(t *testing.T) {
		missing := "00000000-0000-0000-0000-000000000000"
		if _, err := repo.GetSession(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSession(missing) = %v", err)
		}
		if _, err := repo.GetResult(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetResult(missing) = %v", err)
		}
		if err := repo.MarkComplete(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkComplete(missing) = %v", err)
		}
	})

	t.Run("question history", func(t *testing.T) {
		if _, err := repo.LookupQuestion(ctx, user.ID, "abc"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LookupQuestion(unseen) = %v, want ErrNotFound", err)
		}
		if err := repo.RecordQuestion(ctx, user.ID, "abc", "What is a goroutine?", true); err != nil {
			t.Fatalf("RecordQuestion: %v", err)
		}
		if err := repo.RecordQuestion(ctx, user.ID, "abc", "What is a goroutine?", false); err != nil {
			t.Fatalf("RecordQuestion duplicate: %v", err)
		}
		q, err := repo.LookupQuestion(ctx, user.ID, "abc")
		if err != nil {
			t.Fatalf("LookupQuestion: %v", err)
		}
		if !q.Important {
			t.Error("first record should win")
		}
	})

	t.Run("costs and events", func(t *testing.T) {
		m := costs.Metrics{STTDurationSeconds: 60, LLMInputTokens: 100}
		if err := repo.RecordInterviewCosts(ctx, sessionID, m, costs.Calculate(m)); err != nil {
			t.Fatalf("RecordInterviewCosts: %v", err)
		}
		if err := repo.InsertInterviewEvent(ctx, sessionID, "turn_finalized", []byte(`{"index":1}`)); err != nil {
			t.Fatalf("InsertInterviewEvent: %v", err)
		}
	})

	t.Run("push tokens", func(t *testing.T) {
		if err := repo.RegisterPushToken(ctx, user.ID, "tok-1", "ios"); err != nil {
			t.Fatalf("RegisterPushToken: %v", err)
		}
		if err := repo.RegisterPushToken(ctx, user.ID, "tok-1", "ios"); err != nil {
			t.Fatalf("RegisterPushToken again: %v", err)
		}
		tokens, err := repo.GetUserPushTokens(ctx, user.ID)
		if err != nil || len(tokens) != 1 {
			t.Fatalf("GetUserPushTokens = %v, %v", tokens, err)
		}
		if err := repo.UnregisterPushToken(ctx, "tok-1"); err != nil {
			t.Fatalf("UnregisterPushToken: %v", err)
		}
		tokens, _ = repo.GetUserPushTokens(ctx, user.ID)
		if len(tokens) != 0 {
			t.Errorf("tokens after unregister = %v", tokens)
		}
	})
}

func TestSQLiteConcurrentSaveTurn(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id, err := s.CreateSession(ctx, domain.Session{Topic: "hr", Difficulty: domain.DifficultyBeginner, QuestionCount: 6})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveTurn(ctx, id, domain.Turn{Index: 1, Question: "q", Answer: "a"})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTurnExists):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 7 {
		t.Errorf("ok=%d dup=%d, want 1/7", ok, dup)
	}

	n, err := s.CountInterviewEvents(ctx, id, "turn_finalized")
	if err != nil || n != 0 {
		t.Errorf("CountInterviewEvents = %d, %v", n, err)
	}
}

func containsSession(list []domain.Session, id string) bool {
	for _, s := range list {
		if s.ID == id {
			return true
		}
	}
	return false
}
