package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/domain"
)

// AnswerInput is a single answer sent by a learner.
type AnswerInput struct {
	QuestionID string `json:"questionId"`
	Value      any    `json:"answer"`
}

// StartResult is returned when an attempt is started or resumed.
type StartResult struct {
	SessionID     string                `json:"sessionId"`
	QuizID        string                `json:"quizId"`
	Title         string                `json:"title"`
	StartTime     time.Time             `json:"startTime"`
	TimeRemaining int                   `json:"timeRemaining"` // seconds
	TotalPoints   int                   `json:"totalPoints"`
	Questions     []domain.QuestionView `json:"questions"`
	Answers       []domain.Answer       `json:"answers,omitempty"`
}

// SubmitResult summarizes a graded attempt.
type SubmitResult struct {
	SessionID     string `json:"sessionId"`
	SubmissionID  string `json:"submissionId"`
	AttemptNumber int    `json:"attemptNumber"`
	Score         int    `json:"score"`
	MaxScore      int    `json:"maxScore"`
	Percentage    int    `json:"percentage"`
	Passed        bool   `json:"passed"`
	IsCompleted   bool   `json:"isCompleted"`
}

// ResultsQuery selects a session directly or the caller's latest completed
// session for a quiz.
type ResultsQuery struct {
	SessionID string
	QuizID    string
}

// SessionSummary is the session part of a results payload.
type SessionSummary struct {
	ID         string               `json:"id"`
	LearnerID  string               `json:"learnerId"`
	Status     domain.SessionStatus `json:"status"`
	Score      int                  `json:"score"`
	MaxScore   int                  `json:"maxScore"`
	Percentage int                  `json:"percentage"`
	StartTime  time.Time            `json:"startTime"`
	EndTime    *time.Time           `json:"endTime,omitempty"`
	TimeSpent  int                  `json:"timeSpent"`
	ReviewedAt *time.Time           `json:"reviewedAt,omitempty"`
	Answers    []domain.Answer      `json:"answers"`
}

// QuizSummary is the quiz part of a results payload. Questions carries answer
// keys and is only filled for the instructor; learners get View instead.
type QuizSummary struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Settings    domain.Settings       `json:"settings"`
	TotalPoints int                   `json:"totalPoints"`
	Questions   []domain.Question     `json:"questions,omitempty"`
	View        []domain.QuestionView `json:"view,omitempty"`
}

// Results is a completed attempt as shown to its learner or the quiz instructor.
type Results struct {
	Session SessionSummary `json:"session"`
	Quiz    QuizSummary    `json:"quiz"`
}

// SessionManager runs the attempt lifecycle: start, answer, submit, results.
type SessionManager struct {
	sessions   SessionRepository
	quizzes    QuizRepository
	tracker    *AttemptTracker
	randomizer *Randomizer
	reconciler *SubmissionReconciler
	log        logrus.FieldLogger
	now        func() time.Time
	newID      func() string
}

func NewSessionManager(sessions SessionRepository, quizzes QuizRepository, tracker *AttemptTracker, randomizer *Randomizer, reconciler *SubmissionReconciler, log logrus.FieldLogger) *SessionManager {
	return &SessionManager{
		sessions:   sessions,
		quizzes:    quizzes,
		tracker:    tracker,
		randomizer: randomizer,
		reconciler: reconciler,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// Start creates a new active session with a frozen question order.
func (m *SessionManager) Start(ctx context.Context, quizID string, principal domain.Principal) (StartResult, error) {
	quiz, err := m.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}

	instructor := quiz.IsInstructor(principal.ID)
	if !instructor && !quiz.IsAssigned(principal.ID) {
		return StartResult{}, domain.ErrNotAssigned
	}
	if !instructor && !quiz.IsPublished {
		return StartResult{}, domain.ErrQuizNotPublished
	}
	if err := m.tracker.Check(ctx, quiz, principal.ID); err != nil {
		return StartResult{}, err
	}

	now := m.now()
	session := domain.Session{
		ID:        m.newID(),
		QuizID:    quiz.ID,
		LearnerID: principal.ID,
		Order:     m.randomizer.Freeze(quiz),
		Status:    domain.SessionActive,
		StartTime: now,
		TimeLimit: quiz.Settings.TimeLimitOrDefault(),
		Answers:   map[string]domain.Answer{},
		MaxScore:  quiz.TotalPoints(),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return StartResult{}, err
	}

	m.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"quiz_id":    quiz.ID,
		"learner_id": principal.ID,
	}).Info("attempt started")

	return m.startResult(quiz, session, now), nil
}

// Resume returns the frozen view of an attempt the caller already started.
func (m *SessionManager) Resume(ctx context.Context, sessionID string, principal domain.Principal) (StartResult, error) {
	session, err := m.ownedSession(ctx, sessionID, principal)
	if err != nil {
		return StartResult{}, err
	}
	if session.Status != domain.SessionActive {
		return StartResult{}, domain.ErrSessionNotActive
	}
	quiz, err := m.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return StartResult{}, err
	}
	res := m.startResult(quiz, session, m.now())
	res.Answers = orderedAnswers(session)
	return res, nil
}

func (m *SessionManager) startResult(quiz domain.Quiz, session domain.Session, now time.Time) StartResult {
	remaining := session.TimeLimit - now.Sub(session.StartTime)
	if remaining < 0 {
		remaining = 0
	}
	return StartResult{
		SessionID:     session.ID,
		QuizID:        quiz.ID,
		Title:         quiz.Title,
		StartTime:     session.StartTime,
		TimeRemaining: int(remaining / time.Second),
		TotalPoints:   session.MaxScore,
		Questions:     BuildView(quiz, session.Order),
	}
}

// UpsertAnswer records or replaces the caller's answer for one question.
func (m *SessionManager) UpsertAnswer(ctx context.Context, sessionID string, principal domain.Principal, questionID string, value any) error {
	if questionID == "" {
		return domain.ErrMissingQuestionID
	}
	session, err := m.ownedSession(ctx, sessionID, principal)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionActive {
		return domain.ErrSessionNotActive
	}

	changes := pendingAnswers(session, []AnswerInput{{QuestionID: questionID, Value: value}}, m.now())
	if len(changes) == 0 {
		return nil
	}
	_, err = m.sessions.UpsertAnswers(ctx, sessionID, changes)
	return err
}

// Submit merges final answers, grades the session and completes it exactly once.
// Concurrent submits of the same session see domain.ErrSessionNotActive except
// for the winner. Submitting a completed session whose submission was never
// recorded retries the recording and returns the same submission to every caller.
func (m *SessionManager) Submit(ctx context.Context, sessionID string, principal domain.Principal, final []AnswerInput) (SubmitResult, error) {
	for _, a := range final {
		if a.QuestionID == "" {
			return SubmitResult{}, domain.ErrMissingQuestionID
		}
	}
	session, err := m.ownedSession(ctx, sessionID, principal)
	if err != nil {
		return SubmitResult{}, err
	}
	if session.Status == domain.SessionCompleted {
		return m.resubmit(ctx, session)
	}
	if session.Status != domain.SessionActive {
		return SubmitResult{}, domain.ErrSessionNotActive
	}
	quiz, err := m.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := m.tracker.Check(ctx, quiz, session.LearnerID); err != nil {
		return SubmitResult{}, err
	}

	now := m.now()
	if changes := pendingAnswers(session, final, now); len(changes) > 0 {
		if _, err := m.sessions.UpsertAnswers(ctx, sessionID, changes); err != nil {
			return SubmitResult{}, err
		}
	}

	completed, err := m.sessions.Complete(ctx, sessionID, func(current domain.Session) (domain.Session, error) {
		return finalizeSession(current, quiz, now), nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	return m.reconcile(ctx, quiz, completed)
}

// resubmit finishes a session that was completed but never reconciled, for
// example because the submission store failed. Sessions that already have a
// submission stay rejected.
func (m *SessionManager) resubmit(ctx context.Context, session domain.Session) (SubmitResult, error) {
	_, err := m.reconciler.submissions.GetBySession(ctx, session.ID)
	if err == nil {
		return SubmitResult{}, domain.ErrSessionNotActive
	}
	if !errors.Is(err, domain.ErrSubmissionNotFound) {
		return SubmitResult{}, err
	}
	quiz, err := m.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}
	m.log.WithField("session_id", session.ID).Warn("completed session has no submission, reconciling again")
	return m.reconcile(ctx, quiz, session)
}

func (m *SessionManager) reconcile(ctx context.Context, quiz domain.Quiz, completed domain.Session) (SubmitResult, error) {
	sub, err := m.reconciler.Reconcile(ctx, quiz, completed)
	if err != nil {
		m.log.WithError(err).WithField("session_id", completed.ID).Error("failed to record submission")
		return SubmitResult{}, err
	}

	return SubmitResult{
		SessionID:     completed.ID,
		SubmissionID:  sub.ID,
		AttemptNumber: sub.AttemptNumber,
		Score:         completed.Score,
		MaxScore:      completed.MaxScore,
		Percentage:    sub.Percentage,
		Passed:        sub.Passed,
		IsCompleted:   sub.IsCompleted,
	}, nil
}

// GetResults returns a completed attempt. The learner gets questions without
// answer keys unless they also own the quiz.
func (m *SessionManager) GetResults(ctx context.Context, query ResultsQuery, principal domain.Principal) (Results, error) {
	var (
		session domain.Session
		err     error
	)
	if query.SessionID != "" {
		session, err = m.sessions.Get(ctx, query.SessionID)
	} else {
		session, err = m.sessions.LatestCompleted(ctx, query.QuizID, principal.ID)
	}
	if err != nil {
		return Results{}, err
	}

	quiz, err := m.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return Results{}, err
	}
	instructor := quiz.IsInstructor(principal.ID)
	if session.LearnerID != principal.ID && !instructor {
		return Results{}, domain.ErrNotSessionOwner
	}
	if session.Status != domain.SessionCompleted {
		return Results{}, domain.ErrSessionNotCompleted
	}

	res := Results{
		Session: SessionSummary{
			ID:         session.ID,
			LearnerID:  session.LearnerID,
			Status:     session.Status,
			Score:      session.Score,
			MaxScore:   session.MaxScore,
			Percentage: ComputePercentage(session.Score, session.MaxScore),
			StartTime:  session.StartTime,
			EndTime:    session.EndTime,
			ReviewedAt: session.ReviewedAt,
			Answers:    orderedAnswers(session),
		},
		Quiz: QuizSummary{
			ID:          quiz.ID,
			Title:       quiz.Title,
			Description: quiz.Description,
			Settings:    quiz.Settings,
			TotalPoints: quiz.TotalPoints(),
		},
	}
	if session.EndTime != nil {
		res.Session.TimeSpent = TimeSpentMinutes(session.StartTime, *session.EndTime)
	}
	if instructor {
		res.Quiz.Questions = OrderedQuestions(quiz, session.Order)
	} else {
		res.Quiz.View = BuildView(quiz, session.Order)
	}
	return res, nil
}

func (m *SessionManager) ownedSession(ctx context.Context, sessionID string, principal domain.Principal) (domain.Session, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.LearnerID != principal.ID {
		return domain.Session{}, domain.ErrNotSessionOwner
	}
	return session, nil
}

// pendingAnswers converts inputs into answers to write, dropping inputs that
// repeat the stored value so their answeredAt is kept. The last input for a
// question wins.
func pendingAnswers(session domain.Session, inputs []AnswerInput, now time.Time) []domain.Answer {
	latest := make(map[string]any, len(inputs))
	order := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := latest[in.QuestionID]; !ok {
			order = append(order, in.QuestionID)
		}
		latest[in.QuestionID] = in.Value
	}

	out := make([]domain.Answer, 0, len(order))
	for _, id := range order {
		value := latest[id]
		if existing, ok := session.Answers[id]; ok && sameValue(existing.Value, value) {
			continue
		}
		out = append(out, domain.Answer{QuestionID: id, Value: value, AnsweredAt: now})
	}
	return out
}
