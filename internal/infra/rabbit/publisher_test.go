package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/domain"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []published
	publishErr error
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisherSendsSubmissionCompleted(t *testing.T) {
	ch := &fakeChannel{}
	pub, err := NewPublisher(ch)
	require.NoError(t, err)
	require.Equal(t, []string{"attempt.events:topic"}, ch.declared)

	event := domain.SubmissionCompleted{
		SubmissionID:  "sub-1",
		QuizID:        "quiz-1",
		LearnerID:     "learner-1",
		AttemptNumber: 1,
		Score:         3,
		MaxScore:      4,
		Percentage:    75,
		CompletedAt:   time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishSubmissionCompleted(context.Background(), event))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	require.Equal(t, Exchange, got.exchange)
	require.Equal(t, SubmissionCompletedKey, got.key)
	require.Equal(t, "application/json", got.msg.ContentType)
	require.Equal(t, "sub-1", got.msg.MessageId)

	var decoded domain.SubmissionCompleted
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	require.Equal(t, event, decoded)

	require.NoError(t, pub.Close())
	require.True(t, ch.closed)
}

func TestPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("channel closed")
	pub, err := NewPublisher(&fakeChannel{publishErr: boom})
	require.NoError(t, err)
	require.ErrorIs(t, pub.PublishSubmissionCompleted(context.Background(), domain.SubmissionCompleted{}), boom)
}
