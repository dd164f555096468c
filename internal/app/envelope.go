package app

import (
	"errors"

	"quizarena/internal/domain"
)

// Envelope is the uniform response shape every operation renders into.
// Mapping kind/message onto a transport status code is the outer layer's
// concern.
type Envelope struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

const (
	KindSuccess = "success"
	KindError   = "error"
)

// OK wraps a payload in a success envelope.
func OK(message string, data interface{}) Envelope {
	if data == nil {
		data = struct{}{}
	}
	return Envelope{Kind: KindSuccess, Message: message, Data: data}
}

// Fail renders an error envelope. Known domain errors keep their message
// (including any wrap context); anything else becomes a generic message so
// internals never leak to clients.
func Fail(err error) Envelope {
	message := "An unexpected error occurred."
	if KnownError(err) {
		message = err.Error()
	}
	return Envelope{Kind: KindError, Message: message, Data: struct{}{}}
}

var knownErrors = []error{
	domain.ErrValidation,
	domain.ErrAuthenticationRequired,
	domain.ErrPermissionDenied,
	domain.ErrNotFound,
	domain.ErrTournamentNotActive,
	domain.ErrAttemptLimitReached,
	domain.ErrDailyLimitReached,
	domain.ErrQuestionPoolExhausted,
	domain.ErrAlreadySubmitted,
	domain.ErrQuestionNotInAttempt,
	domain.ErrInvalidOption,
	domain.ErrAttemptExpired,
	domain.ErrStorageConflict,
}

// KnownError reports whether err belongs to the recoverable taxonomy.
func KnownError(err error) bool {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
