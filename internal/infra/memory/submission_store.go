package memory

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// SubmissionStore is an in-memory implementation of app.SubmissionRepository
// enforcing the same uniqueness rules as the Postgres schema.
type SubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]domain.Submission
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{submissions: make(map[string]domain.Submission)}
}

func (s *SubmissionStore) Create(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.submissions {
		if existing.SessionID == sub.SessionID {
			return domain.ErrSubmissionExists
		}
		if existing.QuizID == sub.QuizID && existing.LearnerID == sub.LearnerID && existing.AttemptNumber == sub.AttemptNumber {
			return domain.ErrDuplicateAttempt
		}
	}
	if _, ok := s.submissions[sub.ID]; ok {
		return domain.ErrSubmissionExists
	}
	s.submissions[sub.ID] = copySubmission(sub)
	return nil
}

func (s *SubmissionStore) Get(_ context.Context, id string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return copySubmission(sub), nil
}

func (s *SubmissionStore) GetBySession(_ context.Context, sessionID string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.submissions {
		if sub.SessionID == sessionID {
			return copySubmission(sub), nil
		}
	}
	return domain.Submission{}, domain.ErrSubmissionNotFound
}

func (s *SubmissionStore) CountCompleted(_ context.Context, quizID, learnerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sub := range s.submissions {
		if sub.QuizID == quizID && sub.LearnerID == learnerID && sub.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (s *SubmissionStore) LastAttemptNumber(_ context.Context, quizID, learnerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := 0
	for _, sub := range s.submissions {
		if sub.QuizID == quizID && sub.LearnerID == learnerID && sub.AttemptNumber > last {
			last = sub.AttemptNumber
		}
	}
	return last, nil
}

func (s *SubmissionStore) ListByQuiz(_ context.Context, quizID string) ([]domain.Submission, error) {
	return s.filter(func(sub domain.Submission) bool { return sub.QuizID == quizID }), nil
}

func (s *SubmissionStore) ListByLearner(_ context.Context, learnerID string) ([]domain.Submission, error) {
	return s.filter(func(sub domain.Submission) bool { return sub.LearnerID == learnerID }), nil
}

func (s *SubmissionStore) MarkReviewed(_ context.Context, id string, at time.Time) (domain.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return domain.Submission{}, false, domain.ErrSubmissionNotFound
	}
	if sub.IsCompleted && sub.ReviewedAt != nil {
		return copySubmission(sub), false, nil
	}
	sub.IsCompleted = true
	if sub.ReviewedAt == nil {
		sub.ReviewedAt = &at
	}
	s.submissions[id] = sub
	return copySubmission(sub), true, nil
}

func (s *SubmissionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[id]; !ok {
		return domain.ErrSubmissionNotFound
	}
	delete(s.submissions, id)
	return nil
}

func (s *SubmissionStore) filter(keep func(domain.Submission) bool) []domain.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Submission, 0)
	for _, sub := range s.submissions {
		if keep(sub) {
			out = append(out, copySubmission(sub))
		}
	}
	return out
}

func copySubmission(sub domain.Submission) domain.Submission {
	sub.Answers = append([]domain.ScoredAnswer(nil), sub.Answers...)
	if sub.ReviewedAt != nil {
		t := *sub.ReviewedAt
		sub.ReviewedAt = &t
	}
	return sub
}
