package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hiremind/interview/internal/costs"
	"github.com/hiremind/interview/internal/domain"
)

// SQLite implements Repository for local development and tests. Timestamps
// are stored as unix milliseconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE,
		career_stage TEXT NOT NULL DEFAULT '',
		target_role TEXT NOT NULL DEFAULT '',
		skills TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interview_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		current_index INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'in_progress',
		scenario TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_interview_sessions_status ON interview_sessions(status, created_at);

	CREATE TABLE IF NOT EXISTS interview_turns (
		session_id TEXT NOT NULL REFERENCES interview_sessions(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		skipped INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, idx)
	);

	CREATE TABLE IF NOT EXISTS question_history (
		user_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		text TEXT NOT NULL,
		important INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, hash)
	);

	CREATE TABLE IF NOT EXISTS analysis_results (
		session_id TEXT PRIMARY KEY REFERENCES interview_sessions(id) ON DELETE CASCADE,
		overall_score INTEGER NOT NULL,
		communication_score INTEGER NOT NULL,
		technical_score INTEGER NOT NULL,
		problem_solving_score INTEGER NOT NULL,
		confidence_score INTEGER NOT NULL,
		strengths TEXT NOT NULL DEFAULT '[]',
		improvements TEXT NOT NULL DEFAULT '[]',
		detailed_feedback TEXT NOT NULL DEFAULT '',
		skipped_count INTEGER NOT NULL DEFAULT 0,
		eye_contact_score REAL,
		smile_score REAL,
		stillness_score REAL,
		face_confidence_score REAL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interview_costs (
		session_id TEXT PRIMARY KEY,
		stt_cost_cents INTEGER NOT NULL DEFAULT 0,
		llm_cost_cents INTEGER NOT NULL DEFAULT 0,
		tts_cost_cents INTEGER NOT NULL DEFAULT 0,
		total_cost_cents INTEGER NOT NULL DEFAULT 0,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		stt_duration_seconds INTEGER NOT NULL DEFAULT 0,
		llm_input_tokens INTEGER NOT NULL DEFAULT 0,
		llm_output_tokens INTEGER NOT NULL DEFAULT 0,
		tts_characters INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interview_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interview_events_session ON interview_events(session_id, created_at);

	CREATE TABLE IF NOT EXISTS device_push_tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT 'ios',
		created_at INTEGER NOT NULL,
		UNIQUE (user_id, token)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func sqliteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLite) UpsertUser(ctx context.Context, u User) (*User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := millis(time.Now())
	var email any
	if u.Email != "" {
		email = u.Email
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO users (id, name, email, career_stage, target_role, skills, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		email = COALESCE(excluded.email, users.email),
		career_stage = excluded.career_stage,
		target_role = excluded.target_role,
		skills = excluded.skills,
		updated_at = excluded.updated_at`,
		u.ID, u.Name, email, u.CareerStage, u.TargetRole, marshalList(u.Skills), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *SQLite) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var email sql.NullString
	var skills string
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, career_stage, target_role, skills, created_at
		FROM users WHERE id = ?`, id).Scan(
		&u.ID, &u.Name, &email, &u.CareerStage, &u.TargetRole, &skills, &created)
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	u.Email = email.String
	u.Skills = unmarshalList([]byte(skills))
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

func (s *SQLite) GetUserProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Profile(), nil
}

func (s *SQLite) CreateAuthSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, tokenHash, millis(expiresAt), millis(time.Now()))
	return err
}

func (s *SQLite) RevokeAuthSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions SET revoked_at = ? WHERE token_hash = ?`,
		millis(time.Now()), tokenHash)
	return err
}

func (s *SQLite) IsAuthSessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_sessions
			WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
		)`, tokenHash, millis(time.Now())).Scan(&valid)
	return valid, err
}

func (s *SQLite) CreateSession(ctx context.Context, sess domain.Session) (string, error) {
	id := uuid.NewString()
	created := sess.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interview_sessions (id, user_id, topic, difficulty, question_count, scenario, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sess.UserID, sess.Topic, string(sess.Difficulty), sess.QuestionCount,
		marshalScenario(sess.Scenario), millis(created))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

const sqliteSessionColumns = `id, user_id, topic, difficulty, question_count,
	current_index, status, scenario, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var difficulty, status string
	var scenario sql.NullString
	var created int64
	var completed sql.NullInt64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Topic, &difficulty, &sess.QuestionCount,
		&sess.CurrentIndex, &status, &scenario, &created, &completed)
	if err != nil {
		return nil, err
	}
	sess.Difficulty = domain.Difficulty(difficulty)
	sess.Status = domain.SessionStatus(status)
	if scenario.Valid {
		sess.Scenario = unmarshalScenario(&scenario.String)
	}
	sess.CreatedAt = fromMillis(created)
	sess.CompletedAt = fromNullMillis(completed)
	return &sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM interview_sessions WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	return sess, nil
}

func (s *SQLite) MarkComplete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interview_sessions
		SET status = 'completed', completed_at = COALESCE(completed_at, ?)
		WHERE id = ?`, millis(time.Now()), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListStaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteSessionColumns+`
		FROM interview_sessions s
		WHERE s.status = 'in_progress'
		  AND s.created_at < ?
		  AND (EXISTS (SELECT 1 FROM analysis_results r WHERE r.session_id = s.id)
		    OR (SELECT COUNT(*) FROM interview_turns t WHERE t.session_id = s.id) >= s.question_count)
		ORDER BY s.created_at
		LIMIT ?`, millis(time.Now().Add(-olderThan)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveTurn(ctx context.Context, sessionID string, t domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT question_count FROM interview_sessions WHERE id = ?`, sessionID).Scan(&count)
	if err != nil {
		return sqliteNotFound(err)
	}
	if t.Index < 1 || t.Index > count {
		return ErrTurnOutOfRange
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interview_turns (session_id, idx, question, answer, skipped, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, t.Index, t.Question, t.Answer, t.Skipped, millis(turnTime(t)))
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrTurnExists
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE interview_sessions SET current_index = MAX(current_index, ?) WHERE id = ?`,
		t.Index, sessionID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, question, answer, skipped, created_at
		FROM interview_turns WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var at int64
		if err := rows.Scan(&t.Index, &t.Question, &t.Answer, &t.Skipped, &at); err != nil {
			return nil, err
		}
		t.At = fromMillis(at)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLite) LookupQuestion(ctx context.Context, userID, hash string) (*QuestionRecord, error) {
	var q QuestionRecord
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, hash, text, important, created_at
		FROM question_history WHERE user_id = ? AND hash = ?`, userID, hash).Scan(
		&q.UserID, &q.Hash, &q.Text, &q.Important, &created)
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	q.CreatedAt = fromMillis(created)
	return &q, nil
}

func (s *SQLite) RecordQuestion(ctx context.Context, userID, hash, text string, important bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO question_history (user_id, hash, text, important, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, hash) DO NOTHING`,
		userID, hash, text, important, millis(time.Now()))
	return err
}

func (s *SQLite) UpsertResult(ctx context.Context, r domain.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (
			session_id, overall_score, communication_score, technical_score,
			problem_solving_score, confidence_score, strengths, improvements,
			detailed_feedback, skipped_count, eye_contact_score, smile_score,
			stillness_score, face_confidence_score, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			communication_score = excluded.communication_score,
			technical_score = excluded.technical_score,
			problem_solving_score = excluded.problem_solving_score,
			confidence_score = excluded.confidence_score,
			strengths = excluded.strengths,
			improvements = excluded.improvements,
			detailed_feedback = excluded.detailed_feedback,
			skipped_count = excluded.skipped_count,
			eye_contact_score = excluded.eye_contact_score,
			smile_score = excluded.smile_score,
			stillness_score = excluded.stillness_score,
			face_confidence_score = excluded.face_confidence_score,
			updated_at = excluded.updated_at`,
		r.SessionID, r.OverallScore, r.CommunicationScore, r.TechnicalScore,
		r.ProblemSolving, r.ConfidenceScore, marshalList(r.Strengths), marshalList(r.Improvements),
		r.DetailedFeedback, r.SkippedCount, r.EyeContactScore, r.SmileScore,
		r.StillnessScore, r.FaceConfidence, millis(time.Now()))
	return err
}

func (s *SQLite) GetResult(ctx context.Context, sessionID string) (*domain.AnalysisResult, error) {
	var r domain.AnalysisResult
	var strengths, improvements string
	var eye, smile, still, face sql.NullFloat64
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, overall_score, communication_score, technical_score,
		       problem_solving_score, confidence_score, strengths, improvements,
		       detailed_feedback, skipped_count, eye_contact_score, smile_score,
		       stillness_score, face_confidence_score, updated_at
		FROM analysis_results WHERE session_id = ?`, sessionID).Scan(
		&r.SessionID, &r.OverallScore, &r.CommunicationScore, &r.TechnicalScore,
		&r.ProblemSolving, &r.ConfidenceScore, &strengths, &improvements,
		&r.DetailedFeedback, &r.SkippedCount, &eye, &smile, &still, &face, &updated)
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	r.Strengths = unmarshalList([]byte(strengths))
	r.Improvements = unmarshalList([]byte(improvements))
	r.EyeContactScore = nullFloat(eye)
	r.SmileScore = nullFloat(smile)
	r.StillnessScore = nullFloat(still)
	r.FaceConfidence = nullFloat(face)
	r.CreatedAt = fromMillis(updated)
	return &r, nil
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func (s *SQLite) RecordInterviewCosts(ctx context.Context, sessionID string, m costs.Metrics, c costs.Costs) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interview_costs (
			session_id, stt_cost_cents, llm_cost_cents, tts_cost_cents, total_cost_cents,
			duration_seconds, stt_duration_seconds, llm_input_tokens, llm_output_tokens,
			tts_characters, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stt_cost_cents = excluded.stt_cost_cents,
			llm_cost_cents = excluded.llm_cost_cents,
			tts_cost_cents = excluded.tts_cost_cents,
			total_cost_cents = excluded.total_cost_cents,
			duration_seconds = excluded.duration_seconds,
			stt_duration_seconds = excluded.stt_duration_seconds,
			llm_input_tokens = excluded.llm_input_tokens,
			llm_output_tokens = excluded.llm_output_tokens,
			tts_characters = excluded.tts_characters`,
		sessionID, c.STTCostCents, c.LLMCostCents, c.TTSCostCents, c.TotalCostCents,
		m.DurationSeconds, m.STTDurationSeconds, m.LLMInputTokens, m.LLMOutputTokens,
		m.TTSCharacters, millis(time.Now()))
	return err
}

func (s *SQLite) InsertInterviewEvent(ctx context.Context, sessionID, eventType string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interview_events (session_id, event_type, event_data, created_at)
		VALUES (?, ?, ?, ?)`, sessionID, eventType, string(data), millis(time.Now()))
	return err
}

// CountInterviewEvents returns how many events of eventType were logged.
func (s *SQLite) CountInterviewEvents(ctx context.Context, sessionID, eventType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM interview_events WHERE session_id = ? AND event_type = ?`,
		sessionID, eventType).Scan(&n)
	return n, err
}

func (s *SQLite) RegisterPushToken(ctx context.Context, userID, token, platform string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_push_tokens (id, user_id, token, platform, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, token) DO UPDATE SET
			platform = excluded.platform,
			created_at = excluded.created_at`,
		uuid.NewString(), userID, token, platform, millis(time.Now()))
	return err
}

func (s *SQLite) UnregisterPushToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_push_tokens WHERE token = ?`, token)
	return err
}

func (s *SQLite) GetUserPushTokens(ctx context.Context, userID string) ([]DevicePushToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, token, platform, created_at
		FROM device_push_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []DevicePushToken
	for rows.Next() {
		var t DevicePushToken
		var created int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = fromMillis(created)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
