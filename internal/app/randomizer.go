package app

import (
	"math/rand"
	"sort"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// Randomizer freezes a per-session question and option order. The order is
// computed once at session start; views are rebuilt from it and never reshuffled.
type Randomizer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomizer seeds the shuffle source. Tests pass a fixed seed.
func NewRandomizer(seed int64) *Randomizer {
	return &Randomizer{rnd: rand.New(rand.NewSource(seed))}
}

// Freeze computes the order a session will present for its whole lifetime.
func (r *Randomizer) Freeze(quiz domain.Quiz) domain.FrozenOrder {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})

	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	if quiz.Settings.RandomizeQuestions {
		perm := r.permutation(len(ids))
		shuffled := make([]string, len(ids))
		for i, idx := range perm {
			shuffled[i] = ids[idx]
		}
		ids = shuffled
	}

	order := domain.FrozenOrder{Questions: ids}
	if quiz.Settings.RandomizeOptions {
		order.Options = make(map[string][]int)
		for _, q := range questions {
			if len(q.Options) == 0 {
				continue
			}
			order.Options[q.ID] = r.permutation(len(q.Options))
		}
	}
	return order
}

// permutation returns a uniformly shuffled [0, n) using Fisher-Yates.
func (r *Randomizer) permutation(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := n - 1; i > 0; i-- {
		j := r.rnd.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// BuildView replays a frozen order against the current quiz content and strips
// answer keys. Questions deleted since the freeze and option indexes outside the
// current option list are skipped.
func BuildView(quiz domain.Quiz, order domain.FrozenOrder) []domain.QuestionView {
	questions := OrderedQuestions(quiz, order)
	views := make([]domain.QuestionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, domain.QuestionView{
			ID:          q.ID,
			Type:        q.Type,
			Prompt:      q.Prompt,
			Description: q.Description,
			Points:      q.PointsOrDefault(),
			Order:       q.Order,
			Media:       q.Media,
			Hints:       q.Hints,
			Options:     optionViews(q.Options),
		})
	}
	return views
}

// OrderedQuestions returns authoritative questions (answer keys included) in the
// frozen order, with options permuted the same way the learner saw them.
func OrderedQuestions(quiz domain.Quiz, order domain.FrozenOrder) []domain.Question {
	byID := make(map[string]domain.Question, len(quiz.Questions))
	for _, q := range quiz.Questions {
		byID[q.ID] = q
	}

	out := make([]domain.Question, 0, len(order.Questions))
	for _, id := range order.Questions {
		q, ok := byID[id]
		if !ok {
			continue
		}
		if perm, ok := order.Options[id]; ok {
			options := make([]domain.Option, 0, len(perm))
			for _, idx := range perm {
				if idx < 0 || idx >= len(q.Options) {
					continue
				}
				options = append(options, q.Options[idx])
			}
			q.Options = options
		}
		out = append(out, q)
	}
	return out
}

func optionViews(options []domain.Option) []domain.OptionView {
	views := make([]domain.OptionView, len(options))
	for i, o := range options {
		views[i] = domain.OptionView{ID: o.ID, Text: o.Text}
	}
	return views
}
