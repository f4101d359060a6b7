package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without inspecting messages
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAssembly
	KindSignature
	KindTransport
	KindParse
	KindNotFound
	KindConflict
	KindVoidIneligible
	KindSequenceConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAssembly:
		return "assembly"
	case KindSignature:
		return "signature"
	case KindTransport:
		return "transport"
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindVoidIneligible:
		return "void_ineligible"
	case KindSequenceConflict:
		return "sequence_conflict"
	default:
		return "internal"
	}
}

// Kinded is implemented by every typed error in the module
type Kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind of the first typed error in the chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// ErrNotFound is returned by repositories when a record does not exist
var ErrNotFound = errors.New("record not found")

// ParseError represents an unreadable authority response artifact
type ParseError struct {
	Source  string
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Source, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Source, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func (e *ParseError) Kind() ErrorKind {
	return KindParse
}

// NewParseError creates a new parse error
func NewParseError(source, field, message string, cause error) *ParseError {
	return &ParseError{
		Source:  source,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ValidationError represents input rejected before any signing or network attempt.
// Assembly failures use the same type with KindAssembly.
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
	kind    ErrorKind
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

func (e *ValidationError) Kind() ErrorKind {
	if e.kind == KindInternal {
		return KindValidation
	}
	return e.kind
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
		kind:    KindValidation,
	}
}

// NewAssemblyError creates a validation error raised while building a document
func NewAssemblyError(field string, value interface{}, rule, message string) *ValidationError {
	e := NewValidationError(field, value, rule, message)
	e.kind = KindAssembly
	return e
}

// StateError is returned when a transition is not allowed from the current state
type StateError struct {
	DocumentID int64
	State      DocumentState
	Operation  string
	Message    string
	kind       ErrorKind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s document %d in state %s: %s", e.Operation, e.DocumentID, e.State, e.Message)
}

func (e *StateError) Kind() ErrorKind {
	return e.kind
}

// NewConflictError creates a state error for a transition that conflicts with the current state
func NewConflictError(id int64, state DocumentState, op, message string) *StateError {
	return &StateError{DocumentID: id, State: state, Operation: op, Message: message, kind: KindConflict}
}

// ErrReceiptVoid is the rejection for receipts sent to a void communication
func ErrReceiptVoid(id int64, state DocumentState) *StateError {
	return &StateError{
		DocumentID: id,
		State:      state,
		Operation:  "void",
		Message:    "receipts cannot be voided by a void communication; use a daily summary line with condition 3",
		kind:       KindVoidIneligible,
	}
}

// SequenceConflictError reports an accepted document whose sequence differs from the reserved one
type SequenceConflictError struct {
	DocumentID int64
	SeriesID   int64
	Assigned   int64
	Reserved   int64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("document %d carries sequence %d but series %d reserved %d",
		e.DocumentID, e.Assigned, e.SeriesID, e.Reserved)
}

func (e *SequenceConflictError) Kind() ErrorKind {
	return KindSequenceConflict
}

// DuplicateError reports a key already held by another record. Owner names
// the holder when it is known.
type DuplicateError struct {
	Entity string
	Key    string
	Owner  string
}

func (e *DuplicateError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("%s %s already belongs to %s", e.Entity, e.Key, e.Owner)
	}
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func (e *DuplicateError) Kind() ErrorKind {
	return KindConflict
}
