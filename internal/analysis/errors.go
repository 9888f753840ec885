package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies an analysis failure. The pipeline surfaces the kind
// to the review step; it never retries automatically on any of them.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "UNAUTHENTICATED"
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindTimeout         ErrorKind = "TIMEOUT"
	KindMalformedInput  ErrorKind = "MALFORMED_INPUT"
	KindUnknown         ErrorKind = "UNKNOWN"
)

func (k ErrorKind) String() string { return string(k) }

// AnalysisError is a typed failure from the vision provider.
type AnalysisError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *AnalysisError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("analysis error (%s)", e.Kind))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *AnalysisError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyError maps any error from an analyzer call to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) {
		return analysisErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindUnknown
}
