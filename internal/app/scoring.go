package app

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"time"

	"quiz-attempt-service/internal/domain"
)

// ScoreResult holds per-question outcomes for the answers that matched a question.
type ScoreResult struct {
	Answers []domain.ScoredAnswer
	Total   int
}

// ScoreAnswers grades answers against authoritative questions. Answers for
// unknown question ids are ignored; there is no partial credit.
func ScoreAnswers(questions []domain.Question, answers []domain.Answer) ScoreResult {
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	result := ScoreResult{Answers: make([]domain.ScoredAnswer, 0, len(answers))}
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		scored := domain.ScoredAnswer{QuestionID: a.QuestionID, Answer: a.Value}
		if IsCorrect(q, a.Value) {
			scored.IsCorrect = true
			scored.PointsEarned = q.PointsOrDefault()
			result.Total += scored.PointsEarned
		}
		result.Answers = append(result.Answers, scored)
	}
	return result
}

// IsCorrect compares a submitted value with the question's expected answer.
// select-all answers match as multisets; everything else must be equal after
// JSON normalization. No case folding or trimming is applied.
func IsCorrect(q domain.Question, value any) bool {
	expected, ok := expectedAnswer(q)
	if !ok || value == nil {
		return false
	}
	if q.Type == domain.QuestionSelectAll {
		return sameMultiset(expected, value)
	}
	return sameValue(expected, value)
}

// expectedAnswer prefers correctAnswer, then correctAnswers, then the text of
// options flagged correct.
func expectedAnswer(q domain.Question) (any, bool) {
	if q.CorrectAnswer != nil {
		return q.CorrectAnswer, true
	}
	if len(q.CorrectAnswers) > 0 {
		return q.CorrectAnswers, true
	}

	var correct []any
	for _, o := range q.Options {
		if o.IsCorrect {
			correct = append(correct, o.Text)
		}
	}
	switch {
	case len(correct) == 0:
		return nil, false
	case q.Type == domain.QuestionSelectAll:
		return correct, true
	default:
		return correct[0], true
	}
}

// normalize maps a value onto the shapes encoding/json produces so that, for
// example, int 3 and float64 3 compare equal.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func sameValue(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func sameMultiset(a, b any) bool {
	left, lok := normalize(a).([]any)
	right, rok := normalize(b).([]any)
	if !lok || !rok {
		return sameValue(a, b)
	}
	if len(left) != len(right) {
		return false
	}
	used := make([]bool, len(right))
	for _, l := range left {
		found := false
		for i, r := range right {
			if !used[i] && reflect.DeepEqual(l, r) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ComputePercentage returns round(score/maxScore*100) clamped to [0, 100], or 0
// when maxScore is not positive.
func ComputePercentage(score, maxScore int) int {
	if maxScore <= 0 {
		return 0
	}
	pct := int(math.Round(float64(score) / float64(maxScore) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// TimeSpentMinutes rounds the attempt duration to whole minutes.
func TimeSpentMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}

// orderedAnswers lists session answers in frozen question order, followed by
// answers to ids outside the order sorted by id.
func orderedAnswers(session domain.Session) []domain.Answer {
	out := make([]domain.Answer, 0, len(session.Answers))
	seen := make(map[string]struct{}, len(session.Order.Questions))
	for _, id := range session.Order.Questions {
		seen[id] = struct{}{}
		if a, ok := session.Answers[id]; ok {
			out = append(out, a)
		}
	}

	var rest []string
	for id := range session.Answers {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, session.Answers[id])
	}
	return out
}

// finalizeSession scores an active session against the quiz and returns its
// completed form. MaxScore stays at the snapshot taken when the session started.
func finalizeSession(session domain.Session, quiz domain.Quiz, now time.Time) domain.Session {
	out := session.Clone()
	result := ScoreAnswers(quiz.Questions, orderedAnswers(out))
	for _, scored := range result.Answers {
		a := out.Answers[scored.QuestionID]
		correct := scored.IsCorrect
		points := scored.PointsEarned
		a.IsCorrect = &correct
		a.PointsEarned = &points
		out.Answers[scored.QuestionID] = a
	}
	out.Score = result.Total
	out.Status = domain.SessionCompleted
	end := now
	out.EndTime = &end
	return out
}

// scoredAnswers extracts the graded answers of a completed session in order.
func scoredAnswers(session domain.Session) []domain.ScoredAnswer {
	out := make([]domain.ScoredAnswer, 0, len(session.Answers))
	for _, a := range orderedAnswers(session) {
		if a.IsCorrect == nil {
			continue
		}
		points := 0
		if a.PointsEarned != nil {
			points = *a.PointsEarned
		}
		out = append(out, domain.ScoredAnswer{
			QuestionID:   a.QuestionID,
			Answer:       a.Value,
			IsCorrect:    *a.IsCorrect,
			PointsEarned: points,
		})
	}
	return out
}
