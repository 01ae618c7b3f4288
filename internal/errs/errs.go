// Package errs classifies pipeline errors into the kinds the orchestrator
// and generator use to decide how to respond to a caller.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation decisions (§7).
type Kind string

const (
	Validation       Kind = "validation"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	Timeout          Kind = "timeout"
	Upstream         Kind = "upstream"
	EmbeddingInvalid Kind = "embedding_invalid"
	IndexStale       Kind = "index_stale"
	Internal         Kind = "internal"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of e.
func (e *Error) Kind() Kind { return e.kind }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, err: cause}
}

func New(kind Kind, msg string) *Error                { return newErr(kind, msg, nil) }
func Wrap(kind Kind, msg string, cause error) *Error  { return newErr(kind, msg, cause) }
func NewValidation(msg string) *Error                 { return New(Validation, msg) }
func NewNotFound(msg string) *Error                   { return New(NotFound, msg) }
func NewConflict(msg string) *Error                   { return New(Conflict, msg) }
func NewTimeout(msg string) *Error                    { return New(Timeout, msg) }
func NewUpstream(msg string, cause error) *Error      { return Wrap(Upstream, msg, cause) }
func NewEmbeddingInvalid(msg string) *Error           { return New(EmbeddingInvalid, msg) }
func NewIndexStale(msg string, cause error) *Error    { return Wrap(IndexStale, msg, cause) }
func NewInternal(msg string, cause error) *Error      { return Wrap(Internal, msg, cause) }

// KindOf extracts the Kind from err, defaulting to Internal for unclassified
// errors so callers always have a decision to make.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}

// Is reports whether err (or something it wraps) carries kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
