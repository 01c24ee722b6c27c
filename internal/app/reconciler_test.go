package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func manualReviewQuiz() domain.Quiz {
	quiz := sampleQuiz()
	quiz.Settings.RequireManualReview = true
	quiz.Settings.AllowRetakes = true
	quiz.Settings.MaxRetakeAttempts = 2
	return quiz
}

func TestManualReviewDefersCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualReviewQuiz())

	start, err := h.manager.Start(ctx, "quiz-1", learner)
	require.NoError(t, err)
	res, err := h.manager.Submit(ctx, start.SessionID, learner, []app.AnswerInput{{QuestionID: "q1", Value: "4"}})
	require.NoError(t, err)
	require.False(t, res.IsCompleted)
	require.Empty(t, h.events.Events())

	used, err := h.tracker.AttemptsUsed(ctx, "quiz-1", learner.ID)
	require.NoError(t, err)
	require.Equal(t, 0, used, "pending submissions do not count")

	pending, err := h.reconciler.ListForLearner(ctx, learner, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = h.reconciler.MarkReviewed(ctx, res.SubmissionID, stranger)
	require.ErrorIs(t, err, domain.ErrForbidden)

	h.clock.Advance(time.Hour)
	reviewed, err := h.reconciler.MarkReviewed(ctx, start.SessionID, instructor)
	require.NoError(t, err)
	require.True(t, reviewed.IsCompleted)
	require.Equal(t, h.clock.Now(), *reviewed.ReviewedAt)
	require.Len(t, h.events.Events(), 1)

	session, err := h.sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	require.Equal(t, h.clock.Now(), *session.ReviewedAt)

	// Reviewing again keeps the original stamp and emits nothing.
	h.clock.Advance(time.Hour)
	again, err := h.reconciler.MarkReviewed(ctx, res.SubmissionID, instructor)
	require.NoError(t, err)
	require.Equal(t, *reviewed.ReviewedAt, *again.ReviewedAt)
	require.Len(t, h.events.Events(), 1)

	used, err = h.tracker.AttemptsUsed(ctx, "quiz-1", learner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, used)

	pending, err = h.reconciler.ListForLearner(ctx, learner, true)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAttemptNumbersStayMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualReviewQuiz())

	for want := 1; want <= 3; want++ {
		start, err := h.manager.Start(ctx, "quiz-1", learner)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
		res, err := h.manager.Submit(ctx, start.SessionID, learner, nil)
		require.NoError(t, err)
		require.Equal(t, want, res.AttemptNumber)
	}

	subs, err := h.reconciler.ListForQuiz(ctx, "quiz-1", instructor)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	require.Equal(t, 3, subs[0].AttemptNumber, "newest first")
	require.Equal(t, 1, subs[2].AttemptNumber)

	_, err = h.reconciler.ListForQuiz(ctx, "quiz-1", learner)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestReopenAttemptAllowsRetake(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sampleQuiz())

	start, err := h.manager.Start(ctx, "quiz-1", learner)
	require.NoError(t, err)
	res, err := h.manager.Submit(ctx, start.SessionID, learner, nil)
	require.NoError(t, err)
	_, err = h.manager.Start(ctx, "quiz-1", learner)
	require.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)

	require.ErrorIs(t, h.reconciler.ReopenAttempt(ctx, res.SubmissionID, learner), domain.ErrForbidden)
	require.NoError(t, h.reconciler.ReopenAttempt(ctx, res.SubmissionID, instructor))

	quiz, err := h.quizzes.LoadQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.Nil(t, quiz.Assignments[0].SubmittedAt)

	again, err := h.manager.Start(ctx, "quiz-1", learner)
	require.NoError(t, err)
	res, err = h.manager.Submit(ctx, again.SessionID, learner, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.AttemptNumber)
}

func TestReopenAttemptsValidatesBeforeDeleting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualReviewQuiz())

	start, err := h.manager.Start(ctx, "quiz-1", learner)
	require.NoError(t, err)
	res, err := h.manager.Submit(ctx, start.SessionID, learner, nil)
	require.NoError(t, err)

	require.ErrorIs(t, h.reconciler.ReopenAttempts(ctx, nil, instructor), domain.ErrValidation)
	err = h.reconciler.ReopenAttempts(ctx, []string{res.SubmissionID, "missing"}, instructor)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.submissions.Get(ctx, res.SubmissionID)
	require.NoError(t, err, "nothing deleted when one id is invalid")

	require.NoError(t, h.reconciler.ReopenAttempts(ctx, []string{res.SubmissionID}, instructor))
	_, err = h.submissions.Get(ctx, res.SubmissionID)
	require.ErrorIs(t, err, domain.ErrSubmissionNotFound)
}

func TestReconcileRejectsActiveSession(t *testing.T) {
	h := newHarness(t, sampleQuiz())
	_, err := h.reconciler.Reconcile(context.Background(), sampleQuiz(), domain.Session{ID: "s", Status: domain.SessionActive})
	require.ErrorIs(t, err, domain.ErrSessionNotCompleted)
}
