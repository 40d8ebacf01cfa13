package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed failure classification every stage and adapter error
// resolves to.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindRateLimited   Kind = "rate_limited"
	KindValidation    Kind = "validation"
	KindAdvisory      Kind = "advisory"
	KindPermanent     Kind = "permanent"
	KindAuth          Kind = "auth"
	KindCancelled     Kind = "cancelled"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrValidation    = errors.New("validation error")
	ErrAdvisory      = errors.New("advisory")
	ErrPermanent     = errors.New("permanent failure")
	ErrAuth          = errors.New("authentication failure")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// markers lists the sentinel errors in classification priority order.
var markers = []struct {
	marker error
	kind   Kind
}{
	{ErrAuth, KindAuth},
	{ErrRateLimited, KindRateLimited},
	{ErrValidation, KindValidation},
	{ErrAdvisory, KindAdvisory},
	{ErrPermanent, KindPermanent},
	{ErrConfiguration, KindConfiguration},
	{ErrNotFound, KindNotFound},
	{ErrTransient, KindTransient},
}

// Error is a classified failure carrying stage context.
type Error struct {
	Marker     error
	Stage      string
	Operation  string
	Message    string
	Hint       string
	Code       int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// RateLimited wraps err as a rate limit signal with an optional cooldown
// supplied by the upstream service.
func RateLimited(stage, operation, message string, retryAfter time.Duration, err error) error {
	return &Error{
		Marker:     ErrRateLimited,
		Stage:      strings.TrimSpace(stage),
		Operation:  strings.TrimSpace(operation),
		Message:    strings.TrimSpace(message),
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// WithHint attaches an operator hint to a classified error. Unclassified errors
// are returned unchanged.
func WithHint(err error, hint string) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		clone := *svcErr
		clone.Hint = strings.TrimSpace(hint)
		return &clone
	}
	return err
}

// FromHTTPStatus classifies an upstream HTTP response using status heuristics:
// 401/403 are auth failures, 429 is rate limiting, 408 and 5xx are transient,
// and the remaining 4xx codes are permanent.
func FromHTTPStatus(stage, operation string, status int, retryAfter time.Duration, body string) error {
	marker := markerFor(KindForStatus(status))
	message := fmt.Sprintf("http %d", status)
	if trimmed := strings.TrimSpace(body); trimmed != "" {
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		message = fmt.Sprintf("%s: %s", message, trimmed)
	}
	return &Error{
		Marker:     marker,
		Stage:      strings.TrimSpace(stage),
		Operation:  strings.TrimSpace(operation),
		Message:    message,
		Code:       status,
		RetryAfter: retryAfter,
	}
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		return KindTransient
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound
	case status >= http.StatusBadRequest:
		return KindPermanent
	default:
		return KindTransient
	}
}

// KindOf classifies err. Errors without a marker fall back to heuristics:
// cancellation maps to cancelled, deadlines and network timeouts to transient,
// errors exposing StatusCode() through the HTTP table, anything else to
// transient so the bounded retry budget decides.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	for _, m := range markers {
		if errors.Is(err, m.marker) {
			return m.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) && coder.StatusCode() > 0 {
		return KindForStatus(coder.StatusCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindTransient
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func Retryable(kind Kind) bool {
	return kind == KindTransient || kind == KindRateLimited
}

// Terminal reports whether kind ends a post's run without retry.
func Terminal(kind Kind) bool {
	switch kind {
	case KindValidation, KindPermanent, KindAuth, KindConfiguration, KindNotFound, KindCancelled:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the upstream supplied cooldown, if any.
func RetryAfterOf(err error) time.Duration {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.RetryAfter
	}
	return 0
}

// ErrorDetails is the flattened view of a classified error used by log
// attributes and run status reporting.
type ErrorDetails struct {
	Kind       Kind
	Stage      string
	Operation  string
	Message    string
	Hint       string
	Code       int
	RetryAfter time.Duration
	Cause      error
}

// Details extracts the classification and context fields from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindOf(err)}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Message = svcErr.Message
		details.Hint = svcErr.Hint
		details.Code = svcErr.Code
		details.RetryAfter = svcErr.RetryAfter
		details.Cause = svcErr.Err
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// ParseRetryAfter parses a Retry-After header given either as delta seconds
// or as an HTTP date relative to now.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func markerFor(kind Kind) error {
	for _, m := range markers {
		if m.kind == kind {
			return m.marker
		}
	}
	return ErrTransient
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
