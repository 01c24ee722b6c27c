package app

import (
	"context"

	"quiz-attempt-service/internal/domain"
)

// AttemptTracker decides whether a learner may start or submit another attempt.
type AttemptTracker struct {
	submissions SubmissionRepository
}

func NewAttemptTracker(submissions SubmissionRepository) *AttemptTracker {
	return &AttemptTracker{submissions: submissions}
}

// AttemptsUsed counts completed submissions. Submissions still pending manual
// review do not count.
func (t *AttemptTracker) AttemptsUsed(ctx context.Context, quizID, learnerID string) (int, error) {
	return t.submissions.CountCompleted(ctx, quizID, learnerID)
}

// EffectiveMaxAttempts resolves the attempt ceiling from quiz settings.
// unlimited is true when retakes are allowed without a cap.
func EffectiveMaxAttempts(settings domain.Settings) (limit int, unlimited bool) {
	if settings.AllowRetakes {
		if settings.MaxRetakeAttempts <= 0 {
			return 0, true
		}
		return settings.MaxRetakeAttempts, false
	}
	if settings.MaxAttempts <= 0 {
		return 1, false
	}
	return settings.MaxAttempts, false
}

// CanAttempt reports whether another attempt is allowed after used completed ones.
func CanAttempt(quiz domain.Quiz, used int) bool {
	limit, unlimited := EffectiveMaxAttempts(quiz.Settings)
	return unlimited || used < limit
}

// Check returns domain.ErrAttemptLimitExceeded once the learner has used up the quiz's attempts.
func (t *AttemptTracker) Check(ctx context.Context, quiz domain.Quiz, learnerID string) error {
	used, err := t.AttemptsUsed(ctx, quiz.ID, learnerID)
	if err != nil {
		return err
	}
	if !CanAttempt(quiz, used) {
		return domain.ErrAttemptLimitExceeded
	}
	return nil
}
