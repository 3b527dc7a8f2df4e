package video

import (
	"errors"
	"fmt"
)

// ErrorKind classifies sink and encoder failures.
type ErrorKind int

const (
	InvalidPath ErrorKind = iota + 1
	CodecUnavailable
	InvalidDimensions
	IncompleteOutput
	FrameMismatch
	AlreadyOpen
	NotOpen
	WriteFailed
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidPath:
		return "invalid path"
	case CodecUnavailable:
		return "codec unavailable"
	case InvalidDimensions:
		return "invalid dimensions"
	case IncompleteOutput:
		return "incomplete output"
	case FrameMismatch:
		return "frame mismatch"
	case AlreadyOpen:
		return "encoder already open"
	case NotOpen:
		return "encoder not open"
	case WriteFailed:
		return "write failed"
	default:
		return "unknown encoder error"
	}
}

// EncoderError reports a VideoSink failure.
type EncoderError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *EncoderError) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncoderError) Unwrap() error { return e.Err }

// Is matches another *EncoderError by kind.
func (e *EncoderError) Is(target error) bool {
	t, ok := target.(*EncoderError)
	return ok && t.Kind == e.Kind
}

// IsKind reports whether err is an EncoderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *EncoderError
	return errors.As(err, &ee) && ee.Kind == kind
}

func newError(kind ErrorKind, path string, err error) *EncoderError {
	return &EncoderError{Kind: kind, Path: path, Err: err}
}
