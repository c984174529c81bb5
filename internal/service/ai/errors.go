package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Cause classifies generation failures.
type Cause string

const (
	CauseInvalid     Cause = "invalid"
	CauseCredentials Cause = "credentials"
	CauseRateLimited Cause = "rate_limited"
	CauseTimeout     Cause = "timeout"
	CauseCanceled    Cause = "canceled"
	CauseBackend     Cause = "backend"
	CauseEmpty       Cause = "empty"
)

// ErrEmptyResponse 表示模型返回了空候选或空文本。
var ErrEmptyResponse = errors.New("model returned no text")

// StatusError carries the HTTP status reported by a chat backend.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// GenerationError 是回复生成失败的统一错误类型。
type GenerationError struct {
	Cause  Cause
	Status int
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generate reply %s (status %d): %v", e.Cause, e.Status, e.Err)
	}
	return fmt.Sprintf("generate reply %s: %v", e.Cause, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// classify maps err to a GenerationError. ctxErr is the error of the request
// context after the failure, if any.
func classify(err, ctxErr error) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}

	out := &GenerationError{Cause: CauseBackend, Err: err}
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		out.Cause = CauseTimeout
		return out
	case errors.Is(ctxErr, context.Canceled), errors.Is(err, context.Canceled):
		out.Cause = CauseCanceled
		return out
	case errors.Is(err, ErrEmptyResponse):
		out.Cause = CauseEmpty
		return out
	}

	var se *StatusError
	if errors.As(err, &se) {
		out.Status = se.Code
		switch se.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			out.Cause = CauseCredentials
		case http.StatusTooManyRequests:
			out.Cause = CauseRateLimited
		}
	}
	return out
}
