package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Classify turns a transport failure into an *Error. statusCode is the HTTP status
// when the SDK exposed one, otherwise 0 and the error text is inspected instead.
func Classify(provider string, statusCode int, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+": request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+": request timeout")
	}

	if statusCode > 0 {
		e := NewErrorWithCause(TypeForStatus(statusCode), err, fmt.Sprintf("%s: HTTP %d", provider, statusCode))
		e.StatusCode = statusCode
		return e
	}

	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, "connection refused", "connection reset", "no such host", "timeout", "eof", "temporary"):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+": network error")
	case containsAny(text, "rate limit", "quota", "too many requests"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, provider+": rate limited")
	case containsAny(text, "unauthorized", "api key", "permission"):
		return NewErrorWithCause(ErrorTypeAuth, err, provider+": authentication error")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, provider+": unclassified error")
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
