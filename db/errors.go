package db

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies backend and client failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidSchema
	KindMappingConflict
	KindImmutableSetting
	KindVersionConflict
	KindPartialAcknowledged
	KindBackendUnavailable
	KindScriptFailure
	KindInvalidRequest
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindNotFound:            "not found",
	KindAlreadyExists:       "already exists",
	KindInvalidSchema:       "invalid schema",
	KindMappingConflict:     "mapping conflict",
	KindImmutableSetting:    "immutable setting",
	KindVersionConflict:     "version conflict",
	KindPartialAcknowledged: "partially acknowledged",
	KindBackendUnavailable:  "backend unavailable",
	KindScriptFailure:       "script failure",
	KindInvalidRequest:      "invalid request",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries the kind of a failure plus the operation, index and
// document it happened on. An empty ID means the failure concerns the
// index itself.
type Error struct {
	Kind  Kind
	Op    string
	Index string
	ID    string
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	switch {
	case e.Index != "" && e.ID != "":
		fmt.Fprintf(&b, " [%s/%s]", e.Index, e.ID)
	case e.Index != "":
		fmt.Fprintf(&b, " [%s]", e.Index)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Index == "" && t.ID == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists}
	ErrInvalidSchema       = &Error{Kind: KindInvalidSchema}
	ErrMappingConflict     = &Error{Kind: KindMappingConflict}
	ErrImmutableSetting    = &Error{Kind: KindImmutableSetting}
	ErrVersionConflict     = &Error{Kind: KindVersionConflict}
	ErrPartialAcknowledged = &Error{Kind: KindPartialAcknowledged}
	ErrBackendUnavailable  = &Error{Kind: KindBackendUnavailable}
	ErrScriptFailure       = &Error{Kind: KindScriptFailure}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

// NewError builds a classified error. The cause may be nil.
func NewError(kind Kind, op, index, id string, cause error) error {
	return errors.WithStack(&Error{Kind: kind, Op: op, Index: index, ID: id, Cause: cause})
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, index, id, format string, args ...any) error {
	return NewError(kind, op, index, id, errors.Errorf(format, args...))
}

// AsError returns the first classified error in the chain.
func AsError(err error) (*Error, bool) {
	var out *Error
	if errors.As(err, &out) {
		return out, true
	}
	return nil, false
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// ResultsNotFound reports if the error means the index or document
// does not exist.
func ResultsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IndexNotFound reports if the error means a whole index is missing.
func IndexNotFound(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindNotFound && e.ID == ""
}

func IsAlreadyExists(err error) bool   { return err != nil && KindOf(err) == KindAlreadyExists }
func IsVersionConflict(err error) bool { return err != nil && KindOf(err) == KindVersionConflict }
func IsMappingConflict(err error) bool { return err != nil && KindOf(err) == KindMappingConflict }
func IsUnavailable(err error) bool     { return err != nil && KindOf(err) == KindBackendUnavailable }
func IsPartialAcknowledged(err error) bool {
	return err != nil && KindOf(err) == KindPartialAcknowledged
}

// IsRetryable reports if the client may retry locally. Only version
// conflicts qualify; unavailability is left to the caller.
func IsRetryable(err error) bool { return IsVersionConflict(err) }
