package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// maxTxRetries bounds optimistic transaction retries when a watched key changes.
const maxTxRetries = 10

// SessionStore keeps attempt sessions in Redis so every instance sees the same
// state. Layout:
//
//	HSET attempt:session:{id} status {active|completed} data {json}
//	HSET attempt:session:{id}:answers {questionID} {answer json}
//	ZADD attempt:learner:{quizID}:{learnerID} {endTimeMillis} {id}
//
// Answer writes run as a Lua script that checks status first; completion and
// review use WATCH/MULTI so a concurrent writer forces a retry.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

var upsertAnswersScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'active' then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	answers, err := encodeAnswers(session.Answers)
	if err != nil {
		return err
	}

	key := s.key(session.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", string(session.Status), "data", data)
		if len(answers) > 0 {
			pipe.HSet(ctx, s.answersKey(session.ID), answers...)
		}
		s.expire(ctx, pipe, session.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.load(ctx, s.client, sessionID)
}

func (s *SessionStore) UpsertAnswers(ctx context.Context, sessionID string, answers []domain.Answer) (domain.Session, error) {
	args := make([]interface{}, 0, len(answers)*2)
	for _, a := range answers {
		raw, err := json.Marshal(a)
		if err != nil {
			return domain.Session{}, fmt.Errorf("marshal answer: %w", err)
		}
		args = append(args, a.QuestionID, string(raw))
	}

	res, err := upsertAnswersScript.Run(ctx, s.client, []string{s.key(sessionID), s.answersKey(sessionID)}, args...).Int()
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert answers: %w", err)
	}
	switch res {
	case -1:
		return domain.Session{}, domain.ErrSessionNotFound
	case 0:
		return domain.Session{}, domain.ErrSessionNotActive
	}
	return s.load(ctx, s.client, sessionID)
}

func (s *SessionStore) Complete(ctx context.Context, sessionID string, finalize app.FinalizeFunc) (domain.Session, error) {
	var completed domain.Session
	txf := func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != domain.SessionActive {
			return domain.ErrSessionNotActive
		}
		completed, err = finalize(session)
		if err != nil {
			return err
		}
		data, err := encodeSession(completed)
		if err != nil {
			return err
		}
		answers, err := encodeAnswers(completed.Answers)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key(sessionID), "status", string(completed.Status), "data", data)
			pipe.Del(ctx, s.answersKey(sessionID))
			if len(answers) > 0 {
				pipe.HSet(ctx, s.answersKey(sessionID), answers...)
			}
			if completed.EndTime != nil {
				index := s.learnerKey(completed.QuizID, completed.LearnerID)
				pipe.ZAdd(ctx, index, redis.Z{Score: float64(completed.EndTime.UnixMilli()), Member: sessionID})
				if s.ttl > 0 {
					pipe.Expire(ctx, index, s.ttl)
				}
			}
			s.expire(ctx, pipe, sessionID)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, s.key(sessionID), s.answersKey(sessionID)); err != nil {
		return domain.Session{}, err
	}
	return completed, nil
}

func (s *SessionStore) MarkReviewed(ctx context.Context, sessionID string, at time.Time) (domain.Session, error) {
	var reviewed domain.Session
	txf := func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != domain.SessionCompleted {
			return domain.ErrSessionNotCompleted
		}
		reviewed = session
		if session.ReviewedAt != nil {
			return nil
		}
		reviewed.ReviewedAt = &at
		data, err := encodeSession(reviewed)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key(sessionID), "data", data)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, s.key(sessionID)); err != nil {
		return domain.Session{}, err
	}
	return reviewed, nil
}

func (s *SessionStore) LatestCompleted(ctx context.Context, quizID, learnerID string) (domain.Session, error) {
	index := s.learnerKey(quizID, learnerID)
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("latest session: %w", err)
	}
	for _, id := range ids {
		session, err := s.load(ctx, s.client, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// expired session; drop it from the index
			_ = s.client.ZRem(ctx, index, id).Err()
			continue
		}
		if err != nil {
			return domain.Session{}, err
		}
		return session, nil
	}
	return domain.Session{}, domain.ErrNoCompletedSession
}

func (s *SessionStore) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session transaction: %w", redis.TxFailedErr)
}

func (s *SessionStore) load(ctx context.Context, c hashReader, sessionID string) (domain.Session, error) {
	fields, err := c.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(fields["data"]), &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	session.Status = domain.SessionStatus(fields["status"])

	rawAnswers, err := c.HGetAll(ctx, s.answersKey(sessionID)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("load answers: %w", err)
	}
	session.Answers = make(map[string]domain.Answer, len(rawAnswers))
	for questionID, raw := range rawAnswers {
		var a domain.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return domain.Session{}, fmt.Errorf("unmarshal answer %s: %w", questionID, err)
		}
		session.Answers[questionID] = a
	}
	return session, nil
}

func (s *SessionStore) expire(ctx context.Context, pipe redis.Pipeliner, sessionID string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.key(sessionID), s.ttl)
	pipe.Expire(ctx, s.answersKey(sessionID), s.ttl)
}

func (s *SessionStore) key(sessionID string) string {
	return "attempt:session:" + sessionID
}

func (s *SessionStore) answersKey(sessionID string) string {
	return "attempt:session:" + sessionID + ":answers"
}

func (s *SessionStore) learnerKey(quizID, learnerID string) string {
	return "attempt:learner:" + quizID + ":" + learnerID
}

// encodeSession serializes everything but the answers, which live in their own hash.
func encodeSession(session domain.Session) (string, error) {
	session.Answers = nil
	raw, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return string(raw), nil
}

func encodeAnswers(answers map[string]domain.Answer) ([]interface{}, error) {
	out := make([]interface{}, 0, len(answers)*2)
	for questionID, a := range answers {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal answer: %w", err)
		}
		out = append(out, questionID, string(raw))
	}
	return out, nil
}
