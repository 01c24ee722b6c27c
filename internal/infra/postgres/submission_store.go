package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"quiz-attempt-service/internal/domain"
)

const uniqueViolation = "23505"

// submissionSessionConstraint is the unique constraint on submissions.session_id.
const submissionSessionConstraint = "submissions_session_id_key"

type submissionModel struct {
	bun.BaseModel `bun:"table:submissions,alias:s"`

	ID            string                `bun:"id,pk"`
	QuizID        string                `bun:"quiz_id,notnull"`
	LearnerID     string                `bun:"learner_id,notnull"`
	SessionID     string                `bun:"session_id,notnull"`
	AttemptNumber int                   `bun:"attempt_number,notnull"`
	Answers       []domain.ScoredAnswer `bun:"answers,type:jsonb"`
	Score         int                   `bun:"score,notnull"`
	MaxScore      int                   `bun:"max_score,notnull"`
	Percentage    int                   `bun:"percentage,notnull"`
	Passed        bool                  `bun:"passed,notnull"`
	StartedAt     time.Time             `bun:"started_at,notnull"`
	SubmittedAt   time.Time             `bun:"submitted_at,notnull"`
	TimeSpent     int                   `bun:"time_spent,notnull"`
	IsCompleted   bool                  `bun:"is_completed,notnull"`
	ReviewedAt    *time.Time            `bun:"reviewed_at"`
}

// SubmissionStore persists submissions with bun. The table's unique constraints
// back the at-most-once guarantees the service relies on.
type SubmissionStore struct {
	db bun.IDB
}

func NewSubmissionStore(db bun.IDB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) Create(ctx context.Context, sub domain.Submission) error {
	model := toModel(sub)
	if _, err := s.db.NewInsert().Model(&model).Exec(ctx); err != nil {
		return classifyInsertError(err)
	}
	return nil
}

func (s *SubmissionStore) Get(ctx context.Context, id string) (domain.Submission, error) {
	return s.selectOne(ctx, "s.id = ?", id)
}

func (s *SubmissionStore) GetBySession(ctx context.Context, sessionID string) (domain.Submission, error) {
	return s.selectOne(ctx, "s.session_id = ?", sessionID)
}

func (s *SubmissionStore) CountCompleted(ctx context.Context, quizID, learnerID string) (int, error) {
	n, err := s.db.NewSelect().
		Model((*submissionModel)(nil)).
		Where("s.quiz_id = ?", quizID).
		Where("s.learner_id = ?", learnerID).
		Where("s.is_completed").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

func (s *SubmissionStore) LastAttemptNumber(ctx context.Context, quizID, learnerID string) (int, error) {
	var last int
	err := s.db.NewSelect().
		Model((*submissionModel)(nil)).
		ColumnExpr("COALESCE(MAX(s.attempt_number), 0)").
		Where("s.quiz_id = ?", quizID).
		Where("s.learner_id = ?", learnerID).
		Scan(ctx, &last)
	if err != nil {
		return 0, fmt.Errorf("last attempt number: %w", err)
	}
	return last, nil
}

func (s *SubmissionStore) ListByQuiz(ctx context.Context, quizID string) ([]domain.Submission, error) {
	return s.list(ctx, "s.quiz_id = ?", quizID)
}

func (s *SubmissionStore) ListByLearner(ctx context.Context, learnerID string) ([]domain.Submission, error) {
	return s.list(ctx, "s.learner_id = ?", learnerID)
}

// MarkReviewed flips a pending submission to completed. The WHERE clause makes
// the update a no-op for submissions that are already reviewed.
func (s *SubmissionStore) MarkReviewed(ctx context.Context, id string, at time.Time) (domain.Submission, bool, error) {
	res, err := s.db.NewUpdate().
		Model((*submissionModel)(nil)).
		Set("is_completed = TRUE").
		Set("reviewed_at = COALESCE(reviewed_at, ?)", at).
		Where("id = ?", id).
		Where("(NOT is_completed OR reviewed_at IS NULL)").
		Exec(ctx)
	if err != nil {
		return domain.Submission{}, false, fmt.Errorf("review submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Submission{}, false, fmt.Errorf("review submission: %w", err)
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		return domain.Submission{}, false, err
	}
	return sub, n > 0, nil
}

func (s *SubmissionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().
		Model((*submissionModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func (s *SubmissionStore) selectOne(ctx context.Context, where string, arg string) (domain.Submission, error) {
	var model submissionModel
	err := s.db.NewSelect().Model(&model).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return model.toDomain(), nil
}

func (s *SubmissionStore) list(ctx context.Context, where string, arg string) ([]domain.Submission, error) {
	var models []submissionModel
	err := s.db.NewSelect().
		Model(&models).
		Where(where, arg).
		OrderExpr("s.submitted_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]domain.Submission, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

// pgError is implemented by pgdriver.Error.
type pgError interface {
	Field(k byte) string
}

func classifyInsertError(err error) error {
	var pgErr pgError
	if errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation {
		if pgErr.Field('n') == submissionSessionConstraint || strings.Contains(pgErr.Field('M'), "session_id") {
			return domain.ErrSubmissionExists
		}
		return domain.ErrDuplicateAttempt
	}
	return fmt.Errorf("insert submission: %w", err)
}

func toModel(sub domain.Submission) submissionModel {
	return submissionModel{
		ID:            sub.ID,
		QuizID:        sub.QuizID,
		LearnerID:     sub.LearnerID,
		SessionID:     sub.SessionID,
		AttemptNumber: sub.AttemptNumber,
		Answers:       sub.Answers,
		Score:         sub.Score,
		MaxScore:      sub.MaxScore,
		Percentage:    sub.Percentage,
		Passed:        sub.Passed,
		StartedAt:     sub.StartedAt,
		SubmittedAt:   sub.SubmittedAt,
		TimeSpent:     sub.TimeSpent,
		IsCompleted:   sub.IsCompleted,
		ReviewedAt:    sub.ReviewedAt,
	}
}

func (m submissionModel) toDomain() domain.Submission {
	answers := m.Answers
	if answers == nil {
		answers = []domain.ScoredAnswer{}
	}
	return domain.Submission{
		ID:            m.ID,
		QuizID:        m.QuizID,
		LearnerID:     m.LearnerID,
		SessionID:     m.SessionID,
		AttemptNumber: m.AttemptNumber,
		Answers:       answers,
		Score:         m.Score,
		MaxScore:      m.MaxScore,
		Percentage:    m.Percentage,
		Passed:        m.Passed,
		StartedAt:     m.StartedAt,
		SubmittedAt:   m.SubmittedAt,
		TimeSpent:     m.TimeSpent,
		IsCompleted:   m.IsCompleted,
		ReviewedAt:    m.ReviewedAt,
	}
}
