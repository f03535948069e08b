// Package apperr defines the classified error used across the pipeline.
//
// Every failure that crosses a component boundary is an *Error carrying a Kind
// and an HTTP-style status. Callers decide retry, fallback, and skip behavior
// from the Kind, never from the message text.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"unicode/utf8"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindRateLimit  Kind = "rate_limit"
	KindAuth       Kind = "auth"
	KindIncomplete Kind = "incomplete"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Status returns the HTTP-style status associated with the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindIncomplete:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Status is always Kind.Status(); the code a
// remote service actually answered is kept in Upstream.
type Error struct {
	Kind     Kind
	Status   int
	Upstream int
	Op       string // e.g. "serp.google", "llm.generate"
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	switch {
	case e.Upstream != 0 && e.Upstream != e.Status:
		fmt.Fprintf(&b, " (%d, upstream %d)", e.Status, e.Upstream)
	case e.Status != 0:
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with the kind's default status.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Op: op, Message: message}
}

// Wrap attaches a kind to an underlying cause. A nil cause returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Status: kind.Status(), Op: op, Err: err}
}

// quotaMarkers are provider phrases that signal quota exhaustion when the
// status code alone does not.
var quotaMarkers = []string{"rate limit", "ratelimit", "quota", "too many requests"}

// maxMessageRunes caps the response body kept in an error message.
const maxMessageRunes = 300

// FromStatus classifies an HTTP response status. The body is only consulted
// for explicit provider quota markers after the status code has been mapped.
func FromStatus(op string, status int, body string) *Error {
	msg := strings.TrimSpace(body)
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		msg = string([]rune(msg)[:maxMessageRunes])
	}

	var kind Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		kind = KindAuth
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusRequestTimeout || status >= 500:
		kind = KindTransient
	case status >= 400:
		kind = KindValidation
	default:
		kind = KindInternal
	}

	if kind != KindRateLimit && kind != KindAuth && hasQuotaMarker(msg) {
		kind = KindRateLimit
	}

	return &Error{Kind: kind, Status: kind.Status(), Upstream: status, Op: op, Message: msg}
}

func hasQuotaMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range quotaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Classify converts a transport-level error into an *Error. Errors that are
// already classified pass through, as do context cancellation errors so that
// callers can still detect shutdown.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isNetworkError(err) {
		return Wrap(KindTransient, op, err)
	}
	return Wrap(KindInternal, op, err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// StatusOf reports the HTTP-style status of err, or 500 for unclassified errors.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

func is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func IsValidation(err error) bool { return is(err, KindValidation) }
func IsTransient(err error) bool  { return is(err, KindTransient) }
func IsRateLimit(err error) bool  { return is(err, KindRateLimit) }
func IsAuth(err error) bool       { return is(err, KindAuth) }
func IsIncomplete(err error) bool { return is(err, KindIncomplete) }
func IsConflict(err error) bool   { return is(err, KindConflict) }
func IsNotFound(err error) bool   { return is(err, KindNotFound) }

// MentionsRateLimit is the last-resort text check for errors that reached the
// caller unclassified, e.g. from a collaborator that only reports messages.
func MentionsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	return hasQuotaMarker(err.Error())
}
