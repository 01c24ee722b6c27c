package domain

import (
	"fmt"
	"time"
)

// QuestionType is the closed set of question kinds a quiz may contain.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionShortAnswer    QuestionType = "short-answer"
	QuestionSelect         QuestionType = "select"
	QuestionFillIn         QuestionType = "fill-in"
	QuestionFillInTheBlank QuestionType = "fill-in-the-blank"
	QuestionEssay          QuestionType = "essay"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionMatching       QuestionType = "matching"
	QuestionOrdering       QuestionType = "ordering"
	QuestionSelectAll      QuestionType = "select-all"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionShortAnswer, QuestionSelect, QuestionFillIn,
		QuestionFillInTheBlank, QuestionEssay, QuestionTrueFalse, QuestionMatching,
		QuestionOrdering, QuestionSelectAll:
		return true
	}
	return false
}

// Role is the coarse role carried by an authenticated principal.
type Role string

const (
	RoleLearner    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Principal is the authenticated caller supplied by the identity layer.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Media holds optional attachments rendered with a question.
type Media struct {
	Image    string `json:"image,omitempty"`
	Video    string `json:"video,omitempty"`
	Audio    string `json:"audio,omitempty"`
	Document string `json:"document,omitempty"`
}

// Question is the authoritative question including its answer key.
type Question struct {
	ID             string       `json:"id"`
	Type           QuestionType `json:"type"`
	Prompt         string       `json:"question"`
	Description    string       `json:"description,omitempty"`
	Options        []Option     `json:"options"`
	CorrectAnswer  any          `json:"correctAnswer,omitempty"`
	CorrectAnswers []any        `json:"correctAnswers,omitempty"`
	Points         int          `json:"points"` // defaults to 1 if zero
	Order          int          `json:"order"`
	Media          *Media       `json:"media,omitempty"`
	Hints          []string     `json:"hints,omitempty"`
}

// PointsOrDefault returns the question weight, treating a missing value as 1.
func (q Question) PointsOrDefault() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// OptionView is an option with its correctness flag removed.
type OptionView struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// QuestionView is what a learner sees while an attempt is in progress.
type QuestionView struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"question"`
	Description string       `json:"description,omitempty"`
	Points      int          `json:"points"`
	Order       int          `json:"order"`
	Media       *Media       `json:"media,omitempty"`
	Hints       []string     `json:"hints,omitempty"`
	Options     []OptionView `json:"options"`
}

// Settings controls attempt limits, timing, randomization and review.
type Settings struct {
	TimeLimit           int  `json:"timeLimit"` // minutes
	MaxAttempts         int  `json:"maxAttempts"`
	AllowRetakes        bool `json:"allowRetakes"`
	MaxRetakeAttempts   int  `json:"maxRetakeAttempts"`
	RandomizeQuestions  bool `json:"randomizeQuestions"`
	RandomizeOptions    bool `json:"randomizeOptions"`
	ShowCorrectAnswers  bool `json:"showCorrectAnswers"` // authoring flag, stored but not read here
	PassingScore        int  `json:"passingScore"`
	RequireManualReview bool `json:"requireManualReview"`
}

// TimeLimitOrDefault returns the attempt duration, 60 minutes when unset.
func (s Settings) TimeLimitOrDefault() time.Duration {
	if s.TimeLimit <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(s.TimeLimit) * time.Minute
}

// PassingScoreOrDefault returns the pass threshold in percent, 70 when unset.
func (s Settings) PassingScoreOrDefault() int {
	if s.PassingScore <= 0 {
		return 70
	}
	return s.PassingScore
}

// Assignment records that a learner was given the quiz.
type Assignment struct {
	LearnerID   string     `json:"student"`
	AssignedAt  time.Time  `json:"assignedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Quiz is a collection of questions owned by an instructor.
type Quiz struct {
	ID           string       `json:"id"`
	InstructorID string       `json:"instructor"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	IsPublished  bool         `json:"isPublished"`
	Questions    []Question   `json:"questions"`
	Settings     Settings     `json:"settings"`
	Assignments  []Assignment `json:"students"`
}

// TotalPoints sums question weights.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, question := range q.Questions {
		total += question.PointsOrDefault()
	}
	return total
}

// Validate rejects quizzes containing questions of an unknown type.
func (q Quiz) Validate() error {
	for _, question := range q.Questions {
		if !question.Type.Valid() {
			return fmt.Errorf("question %s: %w", question.ID, ErrInvalidQuestion)
		}
	}
	return nil
}

// IsInstructor reports whether userID owns the quiz.
func (q Quiz) IsInstructor(userID string) bool {
	return userID != "" && q.InstructorID == userID
}

// IsAssigned reports whether the learner appears in the assignment list.
func (q Quiz) IsAssigned(learnerID string) bool {
	for _, a := range q.Assignments {
		if a.LearnerID == learnerID {
			return true
		}
	}
	return false
}

// Question finds a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// SessionStatus is the attempt state.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// FrozenOrder is the question and option ordering fixed when a session starts.
// Options maps a question id to indexes into that question's authoritative option list.
type FrozenOrder struct {
	Questions []string         `json:"questions"`
	Options   map[string][]int `json:"options,omitempty"`
}

// Answer is a learner's latest value for one question.
type Answer struct {
	QuestionID   string    `json:"questionId"`
	Value        any       `json:"answer"`
	AnsweredAt   time.Time `json:"answeredAt"`
	IsCorrect    *bool     `json:"isCorrect,omitempty"`
	PointsEarned *int      `json:"pointsEarned,omitempty"`
}

// Session is one learner attempt.
type Session struct {
	ID         string            `json:"id"`
	QuizID     string            `json:"quizId"`
	LearnerID  string            `json:"learnerId"`
	Order      FrozenOrder       `json:"order"`
	Status     SessionStatus     `json:"status"`
	StartTime  time.Time         `json:"startTime"`
	EndTime    *time.Time        `json:"endTime,omitempty"`
	TimeLimit  time.Duration     `json:"timeLimit"`
	Answers    map[string]Answer `json:"answers"`
	Score      int               `json:"score"`
	MaxScore   int               `json:"maxScore"`
	ReviewedAt *time.Time        `json:"reviewedAt,omitempty"`
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	out.Order.Questions = append([]string(nil), s.Order.Questions...)
	if s.Order.Options != nil {
		out.Order.Options = make(map[string][]int, len(s.Order.Options))
		for k, v := range s.Order.Options {
			out.Order.Options[k] = append([]int(nil), v...)
		}
	}
	out.Answers = make(map[string]Answer, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.ReviewedAt != nil {
		t := *s.ReviewedAt
		out.ReviewedAt = &t
	}
	return out
}

// ScoredAnswer is the denormalized per-question result kept on a submission.
type ScoredAnswer struct {
	QuestionID   string `json:"questionId"`
	Answer       any    `json:"answer"`
	IsCorrect    bool   `json:"isCorrect"`
	PointsEarned int    `json:"pointsEarned"`
}

// Submission is the durable record of a completed attempt.
type Submission struct {
	ID            string         `json:"id"`
	QuizID        string         `json:"quizId"`
	LearnerID     string         `json:"learnerId"`
	SessionID     string         `json:"sessionId"`
	AttemptNumber int            `json:"attemptNumber"`
	Answers       []ScoredAnswer `json:"answers"`
	Score         int            `json:"score"`
	MaxScore      int            `json:"maxScore"`
	Percentage    int            `json:"percentage"`
	Passed        bool           `json:"passed"`
	StartedAt     time.Time      `json:"startedAt"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	TimeSpent     int            `json:"timeSpent"` // minutes
	IsCompleted   bool           `json:"isCompleted"`
	ReviewedAt    *time.Time     `json:"reviewedAt,omitempty"`
}

// SubmissionCompleted is emitted once a submission counts as fully completed.
type SubmissionCompleted struct {
	SubmissionID  string    `json:"submissionId"`
	SessionID     string    `json:"sessionId"`
	QuizID        string    `json:"quizId"`
	LearnerID     string    `json:"learnerId"`
	AttemptNumber int       `json:"attemptNumber"`
	Score         int       `json:"score"`
	MaxScore      int       `json:"maxScore"`
	Percentage    int       `json:"percentage"`
	TimeSpent     int       `json:"timeSpent"`
	CompletedAt   time.Time `json:"completedAt"`
}
