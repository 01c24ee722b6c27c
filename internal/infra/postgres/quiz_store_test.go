package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/domain"
)

func TestSaveQuizRejectsUnknownQuestionType(t *testing.T) {
	store := NewQuizStore(nil)
	quiz := domain.Quiz{ID: "quiz-1", Questions: []domain.Question{{ID: "q1", Type: "hotspot"}}}

	err := store.SaveQuiz(context.Background(), quiz)
	require.ErrorIs(t, err, domain.ErrInvalidQuestion)
}

func TestDecodeQuizKeepsAuthoringSettings(t *testing.T) {
	raw := []byte(`{"title":"Rivers","settings":{"showCorrectAnswers":true,"passingScore":80}}`)

	quiz, err := decodeQuiz("quiz-7", raw)
	require.NoError(t, err)
	require.Equal(t, "quiz-7", quiz.ID)
	require.True(t, quiz.Settings.ShowCorrectAnswers)

	// Assignment stamps rewrite the whole document, so authoring flags must survive.
	rewritten, err := json.Marshal(quiz)
	require.NoError(t, err)
	require.Contains(t, string(rewritten), `"showCorrectAnswers":true`)
}
