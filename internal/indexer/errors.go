package indexer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies indexer failures.
type ErrorKind int

const (
	KindOperationFailed ErrorKind = iota
	KindNotRegistered
	KindEmptyRegistry
	KindNoIndexForDocument
	KindIndexNotInitialized
	KindAlreadyExists
	KindDoesNotExist
	KindMappingUpgradeFailed
	KindDocumentNotFound
	KindInvalidDocumentID
)

// Error is returned by the registry and by Index implementations.
type Error struct {
	Kind ErrorKind
	// Index is the index name, when one applies.
	Index string
	// Op is the lifecycle operation, e.g. "create" or "populate".
	Op string
	// Detail carries the offending document id or value.
	Detail any
	Err    error
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrOperationFailed      = &Error{Kind: KindOperationFailed}
	ErrNotRegistered        = &Error{Kind: KindNotRegistered}
	ErrEmptyRegistry        = &Error{Kind: KindEmptyRegistry}
	ErrNoIndexForDocument   = &Error{Kind: KindNoIndexForDocument}
	ErrIndexNotInitialized  = &Error{Kind: KindIndexNotInitialized}
	ErrAlreadyExists        = &Error{Kind: KindAlreadyExists}
	ErrDoesNotExist         = &Error{Kind: KindDoesNotExist}
	ErrMappingUpgradeFailed = &Error{Kind: KindMappingUpgradeFailed}
	ErrDocumentNotFound     = &Error{Kind: KindDocumentNotFound}
	ErrInvalidDocumentID    = &Error{Kind: KindInvalidDocumentID}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindNotRegistered:
		msg = fmt.Sprintf("index %s is not registered in search indexer", e.Index)
	case KindEmptyRegistry:
		msg = "indexes can not be empty"
	case KindNoIndexForDocument:
		msg = "no index registered for provided document"
	case KindIndexNotInitialized:
		msg = fmt.Sprintf("index %s is not initialized", e.Index)
	case KindAlreadyExists:
		msg = fmt.Sprintf("index %s already exists", e.Index)
	case KindDoesNotExist:
		msg = fmt.Sprintf("index %s does not exist", e.Index)
	case KindMappingUpgradeFailed:
		msg = fmt.Sprintf("error remapping index %s", e.Index)
	case KindDocumentNotFound:
		msg = fmt.Sprintf("document with id %v does not exist in index %s", e.Detail, e.Index)
	case KindInvalidDocumentID:
		msg = fmt.Sprintf("invalid document id %v (%T) in index %s", e.Detail, e.Detail, e.Index)
	default:
		msg = fmt.Sprintf("%s index %s failed", e.Op, e.Index)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Wrap attaches index and operation context to an engine failure. Errors
// that already are an *Error keep their kind and gain missing context.
func Wrap(index, op string, err error) error {
	if err == nil {
		return nil
	}
	if ie, ok := err.(*Error); ok {
		if ie.Index != "" && ie.Op != "" {
			return err
		}
		out := *ie
		if out.Index == "" {
			out.Index = index
		}
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &Error{Kind: KindOperationFailed, Index: index, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return 0, false
}
