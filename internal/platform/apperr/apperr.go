// Package apperr classifies the errors produced along the submission pipeline
// and carries the Success / RecoverableIssue / FatalError result used by the
// sequence checks.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is a short classification of a pipeline error.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindInvalidFormat      Kind = "invalid_format"
	KindNonATGC            Kind = "non_atgc"
	KindMalformedRecord    Kind = "malformed_record"
	KindIncompleteSequence Kind = "incomplete_sequence"
	KindMissingUTR         Kind = "missing_utr"
	KindPackaging          Kind = "packaging"
	KindTimeout            Kind = "timeout"
	KindToolInvocation     Kind = "tool_invocation"
	KindReplyParse         Kind = "reply_parse"
	KindInvalidState       Kind = "invalid_state"
	KindCancelled          Kind = "cancelled"
)

// Kinder is implemented by every typed pipeline error.
type Kinder interface {
	Kind() Kind
}

// Error is a generic classified error for kinds that carry no extra data.
type Error struct {
	K   Kind
	Msg string
	Err error
}

// New returns a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{K: kind, Msg: msg}
}

// Wrap returns a classified error wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{K: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() Kind { return e.K }

// KindOf classifies err. Typed errors win over context errors so that a
// TimeoutError wrapping context.DeadlineExceeded stays a timeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

var titles = map[Kind]string{
	KindUnknown:            "Unexpected error",
	KindInvalidFormat:      "Invalid file format",
	KindNonATGC:            "Non-ATGC characters",
	KindMalformedRecord:    "Malformed flat-file record",
	KindIncompleteSequence: "Incomplete sequence",
	KindMissingUTR:         "Missing UTR",
	KindPackaging:          "Packaging failed",
	KindTimeout:            "Timeout",
	KindToolInvocation:     "Submission tool failed",
	KindReplyParse:         "Unreadable reply",
	KindInvalidState:       "Invalid batch state",
	KindCancelled:          "Cancelled",
}

// Classify returns the short classification and human-readable message shown
// to users for err.
func Classify(err error) (string, string) {
	kind := KindOf(err)
	title, ok := titles[kind]
	if !ok {
		title = titles[KindUnknown]
	}
	if err == nil {
		return title, ""
	}
	return title, err.Error()
}

// Issue is a single finding of a check.
type Issue struct {
	Kind        Kind   `json:"kind"`
	Detail      string `json:"detail"`
	Recoverable bool   `json:"recoverable"`
}

// Recoverable builds an issue the user may override.
func Recoverable(err error) Issue {
	return Issue{Kind: KindOf(err), Detail: err.Error(), Recoverable: true}
}

// Fatal builds an issue that blocks further processing.
func Fatal(err error) Issue {
	return Issue{Kind: KindOf(err), Detail: err.Error()}
}

// Result is the outcome of a check: success when it holds no issues.
type Result struct {
	Issues []Issue `json:"issues,omitempty"`
}

// Add appends an issue.
func (r *Result) Add(i Issue) {
	r.Issues = append(r.Issues, i)
}

// OK reports whether the check passed without any issue.
func (r Result) OK() bool { return len(r.Issues) == 0 }

// Fatal reports whether any issue blocks processing.
func (r Result) Fatal() bool {
	for _, i := range r.Issues {
		if !i.Recoverable {
			return true
		}
	}
	return false
}

// Recoverable reports whether the result holds only overridable issues.
func (r Result) Recoverable() bool {
	return !r.OK() && !r.Fatal()
}

// Err folds the issues into a single error, fatal issues first. It returns nil
// for a clean result.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	kind := r.Issues[0].Kind
	details := make([]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		if !i.Recoverable {
			kind = i.Kind
			details = append([]string{i.Detail}, details...)
			continue
		}
		details = append(details, i.Detail)
	}
	return New(kind, strings.Join(details, "; "))
}
