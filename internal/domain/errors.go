package domain

import "errors"

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("invalid input")
	// ErrAuthenticationRequired is returned when no participant identity can be resolved.
	ErrAuthenticationRequired = errors.New("authentication or guest identity required")
	// ErrPermissionDenied is returned when an attempt does not belong to the caller.
	ErrPermissionDenied = errors.New("attempt does not belong to this participant")
	// ErrNotFound indicates a tournament, item, question or option is absent.
	ErrNotFound = errors.New("not found")
	// ErrTournamentNotActive is returned outside the tournament's start/end window.
	ErrTournamentNotActive = errors.New("tournament is not currently active")
	// ErrAttemptLimitReached is returned when the total attempt limit is exhausted.
	ErrAttemptLimitReached = errors.New("maximum total attempts reached")
	// ErrDailyLimitReached is returned when the per-day attempt limit is exhausted.
	ErrDailyLimitReached = errors.New("maximum daily attempts reached")
	// ErrQuestionPoolExhausted is returned when a participant has seen every pool question.
	ErrQuestionPoolExhausted = errors.New("all unique questions attempted")
	// ErrAlreadySubmitted is returned on a second submit of the same attempt.
	ErrAlreadySubmitted = errors.New("attempt has already been submitted")
	// ErrQuestionNotInAttempt is returned for answers outside the frozen question set.
	ErrQuestionNotInAttempt = errors.New("question is not part of this attempt")
	// ErrInvalidOption is returned when an option does not belong to the question.
	ErrInvalidOption = errors.New("option not valid for question")
	// ErrAttemptExpired is returned for late submissions when duration enforcement is on.
	ErrAttemptExpired = errors.New("attempt time limit exceeded")
	// ErrStorageConflict surfaces a transaction or uniqueness race after one retry.
	ErrStorageConflict = errors.New("storage conflict")
)
