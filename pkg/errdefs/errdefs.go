// ABOUTME: Error taxonomy shared by the store, the registry and both transports
// ABOUTME: Sentinels are matched with errors.Is; constructors wrap them with context

package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an absent entity, edge or series
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a name or external id collision within a type
	ErrDuplicate = errors.New("duplicate")

	// ErrAlreadyExists indicates a duplicate edge or a second owner
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a malformed entity, filter or request
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTypeNotFound indicates an unregistered entity type
	ErrTypeNotFound = errors.New("type not found")

	// ErrUnsupportedType indicates an unknown scalar tag or Go type
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrInvalidPageToken indicates a stale, corrupt or foreign page token
	ErrInvalidPageToken = errors.New("invalid page token")

	// ErrStateTransition indicates an illegal lifecycle transition
	ErrStateTransition = errors.New("illegal state transition")

	// ErrUnavailable indicates the registry could not be reached
	ErrUnavailable = errors.New("unavailable")
)

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Duplicate(format string, args ...any) error {
	return wrap(ErrDuplicate, format, args...)
}

func AlreadyExists(format string, args ...any) error {
	return wrap(ErrAlreadyExists, format, args...)
}

func InvalidArgument(format string, args ...any) error {
	return wrap(ErrInvalidArgument, format, args...)
}

func TypeNotFound(format string, args ...any) error {
	return wrap(ErrTypeNotFound, format, args...)
}

func UnsupportedType(format string, args ...any) error {
	return wrap(ErrUnsupportedType, format, args...)
}

func InvalidPageToken(format string, args ...any) error {
	return wrap(ErrInvalidPageToken, format, args...)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// StateTransitionError reports an event that is not allowed from a state
type StateTransitionError struct {
	Kind  string
	From  string
	Event string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from state %s: %s", e.Kind, e.Event, e.From, ErrStateTransition)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrStateTransition
}

// Category is the coarse class a caller acts on
type Category int

const (
	CategoryOther Category = iota
	CategoryConnection
	CategoryValidation
	CategoryNotFound
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryValidation:
		return "validation"
	case CategoryNotFound:
		return "not_found"
	default:
		return "other"
	}
}

// CategoryOf classifies err into connection, validation or not-found
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryOther
	case errors.Is(err, ErrUnavailable):
		return CategoryConnection
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTypeNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidPageToken),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrStateTransition):
		return CategoryValidation
	default:
		return CategoryOther
	}
}

var reasons = []struct {
	reason   string
	sentinel error
}{
	{"NOT_FOUND", ErrNotFound},
	{"TYPE_NOT_FOUND", ErrTypeNotFound},
	{"DUPLICATE", ErrDuplicate},
	{"ALREADY_EXISTS", ErrAlreadyExists},
	{"ILLEGAL_STATE_TRANSITION", ErrStateTransition},
	{"INVALID_ARGUMENT", ErrInvalidArgument},
	{"INVALID_PAGE_TOKEN", ErrInvalidPageToken},
	{"UNSUPPORTED_TYPE", ErrUnsupportedType},
	{"UNAVAILABLE", ErrUnavailable},
}

// Reason names the sentinel err wraps so it survives a transport. It is
// empty for errors outside the taxonomy.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.sentinel) {
			return r.reason
		}
	}
	return ""
}

// FromReason returns the sentinel named by reason, or nil
func FromReason(reason string) error {
	for _, r := range reasons {
		if r.reason == reason {
			return r.sentinel
		}
	}
	return nil
}
