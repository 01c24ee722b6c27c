package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// EventLog records published events in process. It backs the service when no
// broker is configured and lets tests assert on emitted events.
type EventLog struct {
	mu     sync.Mutex
	events []domain.SubmissionCompleted
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) PublishSubmissionCompleted(_ context.Context, event domain.SubmissionCompleted) error {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (l *EventLog) Events() []domain.SubmissionCompleted {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.SubmissionCompleted(nil), l.events...)
}
