package speech

import (
	"errors"
	"fmt"
)

// ErrorKind classifies synthesis failures.
type ErrorKind string

const (
	KindCredentials ErrorKind = "credentials"
	KindBackend     ErrorKind = "backend"
	KindEmpty       ErrorKind = "empty"
	KindReleased    ErrorKind = "released"
	KindCanceled    ErrorKind = "canceled"
)

// ErrMissingCredentials 表示未配置语音服务密钥。
var ErrMissingCredentials = errors.New("speech api key is not configured")

// SynthesisError 是语音合成失败的统一错误类型。
type SynthesisError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("speech synthesis %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("speech synthesis %s: %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func asSynthesisError(err error) *SynthesisError {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se
	}
	return &SynthesisError{Kind: KindBackend, Err: err}
}
