package app

import (
	"context"
	"time"

	"quiz-attempt-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store) and stamps the
// per-learner assignment record.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// SetAssignmentSubmitted sets or, with a nil time, clears the learner's submittedAt.
	SetAssignmentSubmitted(ctx context.Context, quizID, learnerID string, at *time.Time) error
}

// FinalizeFunc turns an active session into its completed form. Stores call it
// while holding whatever guard makes the active->completed transition atomic, so
// it must be pure and must not block.
type FinalizeFunc func(domain.Session) (domain.Session, error)

// SessionRepository abstracts how attempt sessions are stored (in-memory, Redis, etc).
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	// UpsertAnswers replaces answers by question id. It fails with
	// domain.ErrSessionNotActive unless the session is active at write time.
	UpsertAnswers(ctx context.Context, sessionID string, answers []domain.Answer) (domain.Session, error)
	// Complete performs the conditional active->completed transition. Exactly one
	// caller wins; every other caller gets domain.ErrSessionNotActive.
	Complete(ctx context.Context, sessionID string, finalize FinalizeFunc) (domain.Session, error)
	// MarkReviewed stamps reviewedAt once; later calls keep the first stamp.
	MarkReviewed(ctx context.Context, sessionID string, at time.Time) (domain.Session, error)
	LatestCompleted(ctx context.Context, quizID, learnerID string) (domain.Session, error)
}

// SubmissionRepository stores durable submission records.
type SubmissionRepository interface {
	// Create fails with domain.ErrDuplicateAttempt when the (quiz, learner,
	// attemptNumber) triple exists and with domain.ErrSubmissionExists when the
	// session already has a submission.
	Create(ctx context.Context, submission domain.Submission) error
	Get(ctx context.Context, id string) (domain.Submission, error)
	GetBySession(ctx context.Context, sessionID string) (domain.Submission, error)
	CountCompleted(ctx context.Context, quizID, learnerID string) (int, error)
	LastAttemptNumber(ctx context.Context, quizID, learnerID string) (int, error)
	ListByQuiz(ctx context.Context, quizID string) ([]domain.Submission, error)
	ListByLearner(ctx context.Context, learnerID string) ([]domain.Submission, error)
	// MarkReviewed completes a pending submission. The bool reports whether
	// this call changed anything.
	MarkReviewed(ctx context.Context, id string, at time.Time) (domain.Submission, bool, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher fans out submission lifecycle events to external subscribers
// such as analytics.
type EventPublisher interface {
	PublishSubmissionCompleted(ctx context.Context, event domain.SubmissionCompleted) error
}
