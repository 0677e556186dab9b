package game

import (
	"errors"
	"fmt"
)

// Validation failures of Build and CharacterCreator
var (
	ErrNameTooLong         = errors.New("name is longer than 10 characters")
	ErrIncompleteSelection = errors.New("selection is incomplete")
	ErrTooManyTraits       = errors.New("at most 2 personality traits can be selected")
	ErrUnknownOption       = errors.New("unknown option")
)

// Conversation and page failures
var (
	ErrCompletionFailed  = errors.New("chat completion failed")
	ErrStreamInProgress  = errors.New("a reply is still streaming")
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid page transition")
	ErrEmptyUtterance    = errors.New("utterance is empty")
)

// ValidationError reports which field of a selection is invalid
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
