package segring

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches any *ConfigurationError with errors.Is.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoOwner matches any *NoOwnerError with errors.Is.
	ErrNoOwner = errors.New("segment has no owner")
	// ErrUnmappableMember matches any *UnmappableMemberError with errors.Is.
	ErrUnmappableMember = errors.New("member cannot be mapped")
	// ErrStateMismatch is returned when persisted state was written by a
	// different kind of factory or is otherwise inconsistent.
	ErrStateMismatch = errors.New("persisted state mismatch")
)

// ConfigurationError is returned for malformed factory input, such as no
// members, a negative capacity factor, or a segment count less than one.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// NoOwnerError is returned when asking for the primary owner of a segment
// with no owners, which only happens when every member has a capacity factor
// of zero.
type NoOwnerError struct {
	Segment int
}

func (e *NoOwnerError) Error() string {
	return fmt.Sprintf("segment %d has no owner", e.Segment)
}

func (e *NoOwnerError) Is(target error) bool {
	return target == ErrNoOwner
}

// UnmappableMemberError is returned by RemapAddresses when a member has no
// replacement address.
type UnmappableMemberError struct {
	Member Address
}

func (e *UnmappableMemberError) Error() string {
	return fmt.Sprintf("member %s has no mapping", e.Member)
}

func (e *UnmappableMemberError) Is(target error) bool {
	return target == ErrUnmappableMember
}
