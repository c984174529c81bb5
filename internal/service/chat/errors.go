package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyUtterance = errors.New("utterance is empty")
	ErrNoPersona      = errors.New("no persona selected")
	// ErrTurnDiscarded 表示回合进行中会话被重置，回复未写入日志。
	ErrTurnDiscarded = errors.New("conversation was reset during the turn")
)

// ValidationError rejects a submit before any side effect.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submit: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
