package app_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

type harness struct {
	manager     *app.SessionManager
	reconciler  *app.SubmissionReconciler
	tracker     *app.AttemptTracker
	quizzes     *memory.StaticQuizStore
	sessions    *memory.SessionStore
	submissions *memory.SubmissionStore
	events      *memory.EventLog
	clock       *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newHarness(t *testing.T, quizzes ...domain.Quiz) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()

	byID := make(map[string]domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		byID[q.ID] = q
	}
	h := &harness{
		quizzes:     memory.NewStaticQuizStore(byID),
		sessions:    memory.NewSessionStore(),
		submissions: memory.NewSubmissionStore(),
		events:      memory.NewEventLog(),
		clock:       &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)},
	}
	repo := memory.NewQuizRepository(h.quizzes, 0)
	h.tracker = app.NewAttemptTracker(h.submissions)
	h.reconciler = app.NewSubmissionReconciler(h.submissions, h.sessions, repo, h.events, logger).WithClock(h.clock.Now)
	h.manager = app.NewSessionManager(h.sessions, repo, h.tracker, app.NewRandomizer(1), h.reconciler, logger).WithClock(h.clock.Now)
	return h
}

var (
	instructor = domain.Principal{ID: "inst-1", Role: domain.RoleInstructor}
	learner    = domain.Principal{ID: "learner-1", Role: domain.RoleLearner}
	stranger   = domain.Principal{ID: "learner-9", Role: domain.RoleLearner}
)

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		InstructorID: instructor.ID,
		Title:        "Arithmetic",
		IsPublished:  true,
		Questions: []domain.Question{
			{
				ID:            "q1",
				Type:          domain.QuestionMultipleChoice,
				Prompt:        "What is 2 + 2?",
				Options:       []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "4", IsCorrect: true}},
				CorrectAnswer: "4",
				Points:        2,
				Order:         1,
			},
			{
				ID:            "q2",
				Type:          domain.QuestionShortAnswer,
				Prompt:        "Capital of France?",
				CorrectAnswer: "Paris",
				Order:         2,
			},
		},
		Assignments: []domain.Assignment{{LearnerID: learner.ID}},
	}
}
