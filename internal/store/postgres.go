package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiremind/interview/internal/costs"
	"github.com/hiremind/interview/internal/domain"
)

// Postgres implements Repository on a pgx pool. The schema lives in
// migrations/ and is applied outside the server.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ============================================================================
// User operations
// ============================================================================

// UpsertUser creates the user when ID is empty, otherwise updates the profile.
func (s *Postgres) UpsertUser(ctx context.Context, u User) (*User, error) {
	var out User
	var skills []byte
	var email *string
	if u.Email != "" {
		email = &u.Email
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, name, email, career_stage, target_role, skills)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = COALESCE(EXCLUDED.email, users.email),
			career_stage = EXCLUDED.career_stage,
			target_role = EXCLUDED.target_role,
			skills = EXCLUDED.skills,
			updated_at = NOW()
		RETURNING id, name, COALESCE(email, ''), career_stage, target_role, skills, created_at
	`, u.ID, u.Name, email, u.CareerStage, u.TargetRole, marshalList(u.Skills)).Scan(
		&out.ID, &out.Name, &out.Email, &out.CareerStage, &out.TargetRole, &skills, &out.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.Skills = unmarshalList(skills)
	return &out, nil
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var skills []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), career_stage, target_role, skills, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.CareerStage, &u.TargetRole, &skills, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	u.Skills = unmarshalList(skills)
	return &u, nil
}

func (s *Postgres) GetUserProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Profile(), nil
}

// ============================================================================
// Auth session operations
// ============================================================================

func (s *Postgres) CreateAuthSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	return err
}

func (s *Postgres) RevokeAuthSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE user_sessions SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash)
	return err
}

// IsAuthSessionValid checks that the session is neither revoked nor expired.
func (s *Postgres) IsAuthSessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_sessions
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}

// ============================================================================
// Interview operations
// ============================================================================

func (s *Postgres) CreateSession(ctx context.Context, sess domain.Session) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO interview_sessions (user_id, topic, difficulty, question_count, scenario)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, $5::jsonb)
		RETURNING id
	`, sess.UserID, sess.Topic, string(sess.Difficulty), sess.QuestionCount, marshalScenario(sess.Scenario)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

const pgSessionColumns = `id, COALESCE(user_id::text, ''), topic, difficulty, question_count,
	current_index, status, scenario::text, created_at, completed_at`

func scanPGSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	var difficulty, status string
	var scenario *string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Topic, &difficulty, &sess.QuestionCount,
		&sess.CurrentIndex, &status, &scenario, &sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		return nil, err
	}
	sess.Difficulty = domain.Difficulty(difficulty)
	sess.Status = domain.SessionStatus(status)
	sess.Scenario = unmarshalScenario(scenario)
	return &sess, nil
}

func (s *Postgres) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := scanPGSession(s.db.QueryRow(ctx, `
		SELECT `+pgSessionColumns+`
		FROM interview_sessions
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return sess, nil
}

// MarkComplete sets the session to completed. Calling it again is a no-op.
func (s *Postgres) MarkComplete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE interview_sessions
		SET status = 'completed', completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleSessions returns in-progress sessions older than olderThan that
// either have all turns saved or already have an analysis result.
func (s *Postgres) ListStaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+pgSessionColumns+`
		FROM interview_sessions s
		WHERE s.status = 'in_progress'
		  AND s.created_at < $1
		  AND (EXISTS (SELECT 1 FROM analysis_results r WHERE r.session_id = s.id)
		    OR (SELECT COUNT(*) FROM interview_turns t WHERE t.session_id = s.id) >= s.question_count)
		ORDER BY s.created_at
		LIMIT $2
	`, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanPGSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// SaveTurn stores a turn. Each index is accepted once and must lie within the
// session's question count.
func (s *Postgres) SaveTurn(ctx context.Context, sessionID string, t domain.Turn) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var count int
	err = tx.QueryRow(ctx, `
		SELECT question_count FROM interview_sessions WHERE id = $1 FOR UPDATE
	`, sessionID).Scan(&count)
	if err != nil {
		return notFound(err)
	}
	if t.Index < 1 || t.Index > count {
		return ErrTurnOutOfRange
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO interview_turns (session_id, idx, question, answer, skipped, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sessionID, t.Index, t.Question, t.Answer, t.Skipped, turnTime(t))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTurnExists
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE interview_sessions SET current_index = GREATEST(current_index, $2) WHERE id = $1
	`, sessionID, t.Index)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT idx, question, answer, skipped, created_at
		FROM interview_turns
		WHERE session_id = $1
		ORDER BY idx
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Index, &t.Question, &t.Answer, &t.Skipped, &t.At); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ============================================================================
// Question history
// ============================================================================

func (s *Postgres) LookupQuestion(ctx context.Context, userID, hash string) (*QuestionRecord, error) {
	var q QuestionRecord
	err := s.db.QueryRow(ctx, `
		SELECT user_id, hash, text, important, created_at
		FROM question_history
		WHERE user_id = $1 AND hash = $2
	`, userID, hash).Scan(&q.UserID, &q.Hash, &q.Text, &q.Important, &q.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *Postgres) RecordQuestion(ctx context.Context, userID, hash, text string, important bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO question_history (user_id, hash, text, important)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, hash) DO NOTHING
	`, userID, hash, text, important)
	return err
}

// ============================================================================
// Analysis results
// ============================================================================

// UpsertResult stores the result, replacing any earlier one for the session.
func (s *Postgres) UpsertResult(ctx context.Context, r domain.AnalysisResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO analysis_results (
			session_id, overall_score, communication_score, technical_score,
			problem_solving_score, confidence_score, strengths, improvements,
			detailed_feedback, skipped_count, eye_contact_score, smile_score,
			stillness_score, face_confidence_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
			overall_score = $2, communication_score = $3, technical_score = $4,
			problem_solving_score = $5, confidence_score = $6, strengths = $7::jsonb,
			improvements = $8::jsonb, detailed_feedback = $9, skipped_count = $10,
			eye_contact_score = $11, smile_score = $12, stillness_score = $13,
			face_confidence_score = $14, updated_at = NOW()
	`, r.SessionID, r.OverallScore, r.CommunicationScore, r.TechnicalScore,
		r.ProblemSolving, r.ConfidenceScore, marshalList(r.Strengths), marshalList(r.Improvements),
		r.DetailedFeedback, r.SkippedCount, r.EyeContactScore, r.SmileScore,
		r.StillnessScore, r.FaceConfidence)
	return err
}

func (s *Postgres) GetResult(ctx context.Context, sessionID string) (*domain.AnalysisResult, error) {
	var r domain.AnalysisResult
	var strengths, improvements []byte
	err := s.db.QueryRow(ctx, `
		SELECT session_id, overall_score, communication_score, technical_score,
		       problem_solving_score, confidence_score, strengths, improvements,
		       detailed_feedback, skipped_count, eye_contact_score, smile_score,
		       stillness_score, face_confidence_score, updated_at
		FROM analysis_results
		WHERE session_id = $1
	`, sessionID).Scan(
		&r.SessionID, &r.OverallScore, &r.CommunicationScore, &r.TechnicalScore,
		&r.ProblemSolving, &r.ConfidenceScore, &strengths, &improvements,
		&r.DetailedFeedback, &r.SkippedCount, &r.EyeContactScore, &r.SmileScore,
		&r.StillnessScore, &r.FaceConfidence, &r.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	r.Strengths = unmarshalList(strengths)
	r.Improvements = unmarshalList(improvements)
	return &r, nil
}

// ============================================================================
// Costs and events
// ============================================================================

func (s *Postgres) RecordInterviewCosts(ctx context.Context, sessionID string, m costs.Metrics, c costs.Costs) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO interview_costs (
			session_id, stt_cost_cents, llm_cost_cents, tts_cost_cents, total_cost_cents,
			duration_seconds, stt_duration_seconds, llm_input_tokens, llm_output_tokens, tts_characters
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			stt_cost_cents = $2, llm_cost_cents = $3, tts_cost_cents = $4, total_cost_cents = $5,
			duration_seconds = $6, stt_duration_seconds = $7, llm_input_tokens = $8,
			llm_output_tokens = $9, tts_characters = $10
	`, sessionID, c.STTCostCents, c.LLMCostCents, c.TTSCostCents, c.TotalCostCents,
		m.DurationSeconds, m.STTDurationSeconds, m.LLMInputTokens, m.LLMOutputTokens, m.TTSCharacters)
	return err
}

func (s *Postgres) InsertInterviewEvent(ctx context.Context, sessionID, eventType string, data []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO interview_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3::jsonb)
	`, sessionID, eventType, string(data))
	return err
}

// ============================================================================
// Push tokens
// ============================================================================

// RegisterPushToken registers or refreshes a device push token for a user.
func (s *Postgres) RegisterPushToken(ctx context.Context, userID, token, platform string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_push_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token) DO UPDATE SET
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, userID, token, platform)
	return err
}

func (s *Postgres) UnregisterPushToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM device_push_tokens WHERE token = $1
	`, token)
	return err
}

func (s *Postgres) GetUserPushTokens(ctx context.Context, userID string) ([]DevicePushToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, token, platform, created_at
		FROM device_push_tokens
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []DevicePushToken
	for rows.Next() {
		var t DevicePushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func turnTime(t domain.Turn) time.Time {
	if t.At.IsZero() {
		return time.Now().UTC()
	}
	return t.At
}
