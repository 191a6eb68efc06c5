package cloudkvs

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// QuorumFailure means fewer backends than the scheme requires succeeded after all retry rounds.
	QuorumFailure
	// DecodeFailure means the coding primitive rejected the blocks or shares it was given.
	DecodeFailure
	// ValidationFailure means every candidate value was rejected by the caller's validator.
	ValidationFailure
	// ConfigurationError is a scheme/backend mismatch or an invalid setting, fatal at startup.
	ConfigurationError
	BackendIOError
	KeyNotFound
	// ValueTooLarge means the value exceeds what the scheme can store.
	ValueTooLarge
)

var codeNames = map[ErrorCode]string{
	Unknown:            "unknown",
	QuorumFailure:      "quorum failure",
	DecodeFailure:      "decode failure",
	ValidationFailure:  "validation failure",
	ConfigurationError: "configuration error",
	BackendIOError:     "backend I/O error",
	KeyNotFound:        "key not found",
	ValueTooLarge:      "value too large",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Error is the cloudkvs custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData == nil {
		return fmt.Sprintf("%v: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%v: %v, user data: %v", e.Code, e.Err, e.UserData)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError packages err under code, using key as the user data.
func NewError(code ErrorCode, key string, err error) error {
	return Error{
		Code:     code,
		Err:      err,
		UserData: key,
	}
}

// Errorf is NewError with a formatted message.
func Errorf(code ErrorCode, key string, format string, args ...any) error {
	return NewError(code, key, fmt.Errorf(format, args...))
}

// IsCode reports whether err (or anything it wraps) is an Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
