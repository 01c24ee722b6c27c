package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/domain"
)

// attemptNumberRetries bounds how often Reconcile recomputes the attempt number
// after losing a unique-constraint race.
const attemptNumberRetries = 5

// SubmissionReconciler turns completed sessions into durable submissions and
// owns their review lifecycle.
type SubmissionReconciler struct {
	submissions SubmissionRepository
	sessions    SessionRepository
	quizzes     QuizRepository
	events      EventPublisher
	log         logrus.FieldLogger
	now         func() time.Time
	newID       func() string
}

// NewSubmissionReconciler wires the reconciler. events may be nil.
func NewSubmissionReconciler(submissions SubmissionRepository, sessions SessionRepository, quizzes QuizRepository, events EventPublisher, log logrus.FieldLogger) *SubmissionReconciler {
	return &SubmissionReconciler{
		submissions: submissions,
		sessions:    sessions,
		quizzes:     quizzes,
		events:      events,
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps.
func (r *SubmissionReconciler) WithClock(now func() time.Time) *SubmissionReconciler {
	r.now = now
	return r
}

// Reconcile persists the submission for a session that was just completed. Only
// the caller that won the session's completion transition may call it.
func (r *SubmissionReconciler) Reconcile(ctx context.Context, quiz domain.Quiz, session domain.Session) (domain.Submission, error) {
	if session.Status != domain.SessionCompleted || session.EndTime == nil {
		return domain.Submission{}, domain.ErrSessionNotCompleted
	}

	percentage := ComputePercentage(session.Score, session.MaxScore)
	sub := domain.Submission{
		ID:          r.newID(),
		QuizID:      quiz.ID,
		LearnerID:   session.LearnerID,
		SessionID:   session.ID,
		Answers:     scoredAnswers(session),
		Score:       session.Score,
		MaxScore:    session.MaxScore,
		Percentage:  percentage,
		Passed:      percentage >= quiz.Settings.PassingScoreOrDefault(),
		StartedAt:   session.StartTime,
		SubmittedAt: *session.EndTime,
		TimeSpent:   TimeSpentMinutes(session.StartTime, *session.EndTime),
	}
	if !quiz.Settings.RequireManualReview {
		reviewed := *session.EndTime
		sub.IsCompleted = true
		sub.ReviewedAt = &reviewed
	}

	log := r.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"quiz_id":    quiz.ID,
		"learner_id": session.LearnerID,
	})

	var err error
	for i := 0; i < attemptNumberRetries; i++ {
		var last int
		last, err = r.submissions.LastAttemptNumber(ctx, quiz.ID, session.LearnerID)
		if err != nil {
			return domain.Submission{}, err
		}
		sub.AttemptNumber = last + 1
		err = r.submissions.Create(ctx, sub)
		if err == nil || !errors.Is(err, domain.ErrDuplicateAttempt) {
			break
		}
		log.WithField("attempt_number", sub.AttemptNumber).Warn("attempt number taken, recomputing")
	}
	if errors.Is(err, domain.ErrSubmissionExists) {
		return r.submissions.GetBySession(ctx, session.ID)
	}
	if err != nil {
		return domain.Submission{}, err
	}

	submittedAt := sub.SubmittedAt
	if err := r.quizzes.SetAssignmentSubmitted(ctx, quiz.ID, session.LearnerID, &submittedAt); err != nil {
		log.WithError(err).Warn("failed to stamp assignment submittedAt")
	}

	log.WithFields(logrus.Fields{
		"submission_id":  sub.ID,
		"attempt_number": sub.AttemptNumber,
		"score":          sub.Score,
		"completed":      sub.IsCompleted,
	}).Info("submission recorded")

	if sub.IsCompleted {
		r.publishCompleted(ctx, sub)
	}
	return sub, nil
}

// MarkReviewed completes a pending submission. id may be a submission id or a
// session id. Reviewing an already reviewed submission is a no-op.
func (r *SubmissionReconciler) MarkReviewed(ctx context.Context, id string, reviewer domain.Principal) (domain.Submission, error) {
	sub, err := r.resolve(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	quiz, err := r.quizzes.GetQuiz(ctx, sub.QuizID)
	if err != nil {
		return domain.Submission{}, err
	}
	if !quiz.IsInstructor(reviewer.ID) {
		return domain.Submission{}, domain.ErrNotQuizOwner
	}

	now := r.now()
	if _, err := r.sessions.MarkReviewed(ctx, sub.SessionID, now); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Submission{}, err
	}
	updated, changed, err := r.submissions.MarkReviewed(ctx, sub.ID, now)
	if err != nil {
		return domain.Submission{}, err
	}
	if changed {
		r.log.WithFields(logrus.Fields{
			"submission_id": updated.ID,
			"reviewer_id":   reviewer.ID,
		}).Info("submission reviewed")
		r.publishCompleted(ctx, updated)
	}
	return updated, nil
}

func (r *SubmissionReconciler) resolve(ctx context.Context, id string) (domain.Submission, error) {
	sub, err := r.submissions.Get(ctx, id)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, domain.ErrSubmissionNotFound) {
		return domain.Submission{}, err
	}
	return r.submissions.GetBySession(ctx, id)
}

// ReopenAttempt deletes one submission and clears the learner's assignment
// submittedAt so the attempt no longer counts.
func (r *SubmissionReconciler) ReopenAttempt(ctx context.Context, submissionID string, instructor domain.Principal) error {
	return r.ReopenAttempts(ctx, []string{submissionID}, instructor)
}

// ReopenAttempts deletes several submissions. Every id is validated and
// authorized before anything is deleted.
func (r *SubmissionReconciler) ReopenAttempts(ctx context.Context, ids []string, instructor domain.Principal) error {
	if len(ids) == 0 {
		return domain.ErrMissingIDs
	}

	subs := make([]domain.Submission, 0, len(ids))
	owned := make(map[string]bool)
	for _, id := range ids {
		sub, err := r.submissions.Get(ctx, id)
		if err != nil {
			return err
		}
		ok, seen := owned[sub.QuizID]
		if !seen {
			quiz, err := r.quizzes.GetQuiz(ctx, sub.QuizID)
			if err != nil {
				return err
			}
			ok = quiz.IsInstructor(instructor.ID)
			owned[sub.QuizID] = ok
		}
		if !ok {
			return domain.ErrNotQuizOwner
		}
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		if err := r.submissions.Delete(ctx, sub.ID); err != nil && !errors.Is(err, domain.ErrSubmissionNotFound) {
			return err
		}
		if err := r.quizzes.SetAssignmentSubmitted(ctx, sub.QuizID, sub.LearnerID, nil); err != nil {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"submission_id": sub.ID,
			"quiz_id":       sub.QuizID,
			"learner_id":    sub.LearnerID,
		}).Info("attempt reopened")
	}
	return nil
}

// ListForQuiz returns all submissions for a quiz, newest first. Only the quiz
// instructor may list them.
func (r *SubmissionReconciler) ListForQuiz(ctx context.Context, quizID string, reviewer domain.Principal) ([]domain.Submission, error) {
	quiz, err := r.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsInstructor(reviewer.ID) {
		return nil, domain.ErrNotQuizOwner
	}
	subs, err := r.submissions.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(subs)
	return subs, nil
}

// ListForLearner returns the caller's own submissions, optionally only those
// still waiting for review.
func (r *SubmissionReconciler) ListForLearner(ctx context.Context, learner domain.Principal, pendingOnly bool) ([]domain.Submission, error) {
	subs, err := r.submissions.ListByLearner(ctx, learner.ID)
	if err != nil {
		return nil, err
	}
	if pendingOnly {
		pending := subs[:0]
		for _, s := range subs {
			if !s.IsCompleted {
				pending = append(pending, s)
			}
		}
		subs = pending
	}
	sortNewestFirst(subs)
	return subs, nil
}

func sortNewestFirst(subs []domain.Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].SubmittedAt.After(subs[j].SubmittedAt)
	})
}

func (r *SubmissionReconciler) publishCompleted(ctx context.Context, sub domain.Submission) {
	if r.events == nil {
		return
	}
	completedAt := sub.SubmittedAt
	if sub.ReviewedAt != nil {
		completedAt = *sub.ReviewedAt
	}
	event := domain.SubmissionCompleted{
		SubmissionID:  sub.ID,
		SessionID:     sub.SessionID,
		QuizID:        sub.QuizID,
		LearnerID:     sub.LearnerID,
		AttemptNumber: sub.AttemptNumber,
		Score:         sub.Score,
		MaxScore:      sub.MaxScore,
		Percentage:    sub.Percentage,
		TimeSpent:     sub.TimeSpent,
		CompletedAt:   completedAt,
	}
	if err := r.events.PublishSubmissionCompleted(ctx, event); err != nil {
		r.log.WithError(err).WithField("submission_id", sub.ID).Warn("failed to publish submission completed event")
	}
}
