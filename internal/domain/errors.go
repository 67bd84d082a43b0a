package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by the core matches exactly one of these with errors.Is.
var (
	// ErrValidation marks malformed or missing input rejected before any state is touched.
	ErrValidation = errors.New("invalid request")
	// ErrPermission marks a failed role or ownership check.
	ErrPermission = errors.New("invalidaction")
	// ErrStateConflict marks a well-formed action that is inconsistent with current state.
	ErrStateConflict = errors.New("state conflict")
	// ErrPersistence marks a storage failure; the enclosing transaction has been rolled back.
	ErrPersistence = errors.New("persistence failure")
	// ErrExternalEngine marks a question engine failure.
	ErrExternalEngine = errors.New("question engine failure")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)

var (
	ErrDuplicateQuestion     = coded(ErrStateConflict, "duplicatequestion", "question already attached to this quiz")
	ErrBoundary              = coded(ErrStateConflict, "boundary", "question cannot move past the end of the order")
	ErrOrderMismatch         = coded(ErrStateConflict, "ordermismatch", "order must be a permutation of the current questions")
	ErrInvalidQuestionNumber = coded(ErrStateConflict, "invalidquestionnumber", "question number cannot be resolved")
	ErrStaleQuestion         = coded(ErrStateConflict, "stalequestion", "submitted question is not the current question")
	ErrSequenceMismatch      = coded(ErrStateConflict, "sequencemismatch", "question step has moved on since the page was loaded")
	ErrGroupAttemptConflict  = coded(ErrStateConflict, "groupattemptconflict", "another group member already holds the group attempt")
	ErrRegradeFailed         = coded(ErrStateConflict, "regradefailed", "attempt is missing the slot being regraded")
	ErrSessionAlreadyOpen    = coded(ErrStateConflict, "sessionopen", "a session is already open for this quiz")
	ErrSessionClosed         = coded(ErrStateConflict, "sessionclosed", "session is closed")
	ErrInvalidTransition     = coded(ErrStateConflict, "invalidtransition", "action not allowed in the current session state")
	ErrNoTriesLeft           = coded(ErrStateConflict, "notriesleft", "no tries left for this question")
	ErrAttemptNotLive        = coded(ErrStateConflict, "attemptnotlive", "attempt is no longer in progress")

	ErrInvalidGradeMethod = coded(ErrValidation, "invalidgrademethod", "unknown grade method")
	ErrInvalidDirection   = coded(ErrValidation, "invaliddirection", "direction must be up or down")
	ErrGroupRequired      = coded(ErrValidation, "grouprequired", "a group must be chosen in group mode")
	ErrNotGroupMember     = coded(ErrPermission, "invalidaction", "invalidaction")
	ErrInvalidAction      = coded(ErrPermission, "invalidaction", "invalidaction")

	ErrInstanceNotFound = coded(ErrNotFound, "instancenotfound", "quiz instance not found")
	ErrQuestionNotFound = coded(ErrNotFound, "questionnotfound", "question not found")
	ErrSessionNotFound  = coded(ErrNotFound, "sessionnotfound", "session not found")
	ErrAttemptNotFound  = coded(ErrNotFound, "attemptnotfound", "attempt not found")
	ErrGroupNotFound    = coded(ErrNotFound, "groupnotfound", "group not found")
)

// codedError is a concrete error with a stable wire code that also matches its kind.
type codedError struct {
	kind error
	code string
	msg  string
}

func coded(kind error, code, msg string) error {
	return &codedError{kind: kind, code: code, msg: msg}
}

func (e *codedError) Error() string { return e.msg }

func (e *codedError) Is(target error) bool { return target == e.kind }

// Persistence wraps a storage failure.
func Persistence(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// Engine wraps a question engine failure.
func Engine(err error) error {
	if err == nil || errors.Is(err, ErrExternalEngine) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrExternalEngine, err)
}

// Invalid builds a validation error for a named field.
func Invalid(field string) error {
	return fmt.Errorf("%w: %s", ErrValidation, field)
}

// KindOf returns the kind sentinel err matches, or nil for unclassified errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrPermission, ErrStateConflict, ErrNotFound, ErrPersistence, ErrExternalEngine} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code returns the stable wire code for err.
func Code(err error) string {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	switch KindOf(err) {
	case ErrValidation:
		return "invalidrequest"
	case ErrPermission:
		return "invalidaction"
	case ErrNotFound:
		return "notfound"
	case ErrPersistence:
		return "persistence"
	case ErrExternalEngine:
		return "engine"
	default:
		return "error"
	}
}
