package domain

import "errors"

// Kind classifies failures so callers can map them to transport status codes.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindInvalidState         Kind = "invalid_state"
	KindValidation           Kind = "validation_error"
	KindAttemptLimitExceeded Kind = "attempt_limit_exceeded"
	KindConflict             Kind = "conflict"
)

// Error is a classified failure. Two errors match under errors.Is when their
// kinds are equal and the target either carries no message or the same one.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// KindOf extracts the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrAttemptLimitExceeded = &Error{Kind: KindAttemptLimitExceeded, Msg: "maximum attempts reached for this quiz"}
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = &Error{Kind: KindNotFound, Msg: "quiz not found"}
	// ErrSessionNotFound is returned when an attempt session does not exist.
	ErrSessionNotFound = &Error{Kind: KindNotFound, Msg: "session not found"}
	// ErrSubmissionNotFound is returned when no submission matches the id.
	ErrSubmissionNotFound = &Error{Kind: KindNotFound, Msg: "submission not found"}
	// ErrNoCompletedSession is returned when a learner has no finished attempt for a quiz.
	ErrNoCompletedSession = &Error{Kind: KindNotFound, Msg: "no completed session found for this quiz"}

	ErrNotAssigned      = &Error{Kind: KindForbidden, Msg: "not assigned to this quiz"}
	ErrQuizNotPublished = &Error{Kind: KindForbidden, Msg: "quiz is not published"}
	ErrNotSessionOwner  = &Error{Kind: KindForbidden, Msg: "not authorized for this session"}
	ErrNotQuizOwner     = &Error{Kind: KindForbidden, Msg: "only the quiz instructor may do this"}

	ErrSessionNotActive    = &Error{Kind: KindInvalidState, Msg: "session is not active"}
	ErrSessionNotCompleted = &Error{Kind: KindInvalidState, Msg: "session is not completed yet"}

	ErrMissingQuestionID = &Error{Kind: KindValidation, Msg: "questionId is required"}
	ErrMissingIDs        = &Error{Kind: KindValidation, Msg: "at least one id is required"}
	ErrInvalidQuestion   = &Error{Kind: KindValidation, Msg: "unknown question type"}

	// ErrDuplicateAttempt is returned by submission stores when the attempt number
	// is already taken for the learner and quiz.
	ErrDuplicateAttempt = &Error{Kind: KindConflict, Msg: "attempt already recorded"}
	// ErrSubmissionExists is returned when a session has already been reconciled.
	ErrSubmissionExists = &Error{Kind: KindConflict, Msg: "session already has a submission"}
	// ErrSessionExists is returned by session stores when the id is already in use.
	ErrSessionExists = &Error{Kind: KindConflict, Msg: "session already exists"}
)
