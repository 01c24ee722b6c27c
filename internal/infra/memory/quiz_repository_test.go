package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	store := &countingStore{StaticQuizStore: NewStaticQuizStore(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	})}
	repo := NewQuizRepository(store, time.Minute)

	_, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Equal(t, 1, store.loads, "second read should hit the cache")

	_, err = repo.GetQuiz(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestQuizRepositoryAssignmentWriteEvicts(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{StaticQuizStore: NewStaticQuizStore(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	})}
	repo := NewQuizRepository(store, time.Minute)

	_, err := repo.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)

	at := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetAssignmentSubmitted(ctx, "quiz-1", "learner-1", &at))

	quiz, err := repo.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.Equal(t, 2, store.loads)
	require.Equal(t, at, *quiz.Assignments[0].SubmittedAt)

	require.NoError(t, repo.SetAssignmentSubmitted(ctx, "quiz-1", "learner-1", nil))
	quiz, err = repo.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.Nil(t, quiz.Assignments[0].SubmittedAt)
}

func TestQuizRepositoryConcurrentLoads(t *testing.T) {
	quizzes := make(map[string]domain.Quiz)
	for i := 0; i < 50; i++ {
		q := sampleQuiz()
		q.ID = fmt.Sprintf("quiz-%d", i)
		quizzes[q.ID] = q
	}
	repo := NewQuizRepository(NewStaticQuizStore(quizzes), time.Minute)

	var wg sync.WaitGroup
	for id := range quizzes {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			quiz, err := repo.GetQuiz(context.Background(), id)
			if err != nil || quiz.ID != id {
				t.Errorf("GetQuiz(%s) = %s, %v", id, quiz.ID, err)
			}
		}(id)
	}
	wg.Wait()

	for id := range quizzes {
		_, ok := repo.cached(id)
		require.True(t, ok, id)
	}
}

type countingStore struct {
	*StaticQuizStore
	loads int
}

func (s *countingStore) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	s.loads++
	return s.StaticQuizStore.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		InstructorID: "inst-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", IsCorrect: true},
				},
				Points: 1,
			},
		},
		Assignments: []domain.Assignment{{LearnerID: "learner-1"}},
	}
}
