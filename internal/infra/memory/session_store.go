package memory

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository. A single
// mutex serializes every transition, which is what makes Complete a
// compare-and-set.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return domain.ErrSessionExists
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Len reports how many sessions are stored.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) UpsertAnswers(_ context.Context, sessionID string, answers []domain.Answer) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionActive {
		return domain.Session{}, domain.ErrSessionNotActive
	}
	session = session.Clone()
	for _, a := range answers {
		session.Answers[a.QuestionID] = a
	}
	s.sessions[sessionID] = session
	return session.Clone(), nil
}

func (s *SessionStore) Complete(_ context.Context, sessionID string, finalize app.FinalizeFunc) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionActive {
		return domain.Session{}, domain.ErrSessionNotActive
	}
	completed, err := finalize(session.Clone())
	if err != nil {
		return domain.Session{}, err
	}
	s.sessions[sessionID] = completed.Clone()
	return completed, nil
}

func (s *SessionStore) MarkReviewed(_ context.Context, sessionID string, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionCompleted {
		return domain.Session{}, domain.ErrSessionNotCompleted
	}
	if session.ReviewedAt == nil {
		session = session.Clone()
		session.ReviewedAt = &at
		s.sessions[sessionID] = session
	}
	return session.Clone(), nil
}

func (s *SessionStore) LatestCompleted(_ context.Context, quizID, learnerID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.Session
		found  bool
	)
	for _, session := range s.sessions {
		if session.QuizID != quizID || session.LearnerID != learnerID || session.Status != domain.SessionCompleted {
			continue
		}
		if !found || session.EndTime.After(*latest.EndTime) {
			latest = session
			found = true
		}
	}
	if !found {
		return domain.Session{}, domain.ErrNoCompletedSession
	}
	return latest.Clone(), nil
}
