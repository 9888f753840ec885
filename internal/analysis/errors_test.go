package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "typed analysis error keeps its kind",
			err:  &AnalysisError{Kind: KindRateLimited, StatusCode: 429},
			want: KindRateLimited,
		},
		{
			name: "wrapped analysis error keeps its kind",
			err:  fmt.Errorf("analyze unit 3: %w", &AnalysisError{Kind: KindUnauthenticated}),
			want: KindUnauthenticated,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: KindTimeout,
		},
		{
			name: "wrapped deadline exceeded",
			err:  fmt.Errorf("analyze: %w", context.DeadlineExceeded),
			want: KindTimeout,
		},
		{
			name: "net timeout",
			err:  timeoutNetError{},
			want: KindTimeout,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("ClassifyError() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAnalysisErrorMessage(t *testing.T) {
	t.Parallel()

	err := &AnalysisError{
		Kind:       KindUnauthenticated,
		StatusCode: 401,
		Message:    "api key rejected",
		Cause:      errors.New("unauthorized"),
	}

	want := "analysis error (UNAUTHENTICATED): status=401: api key rejected: unauthorized"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Cause) {
		t.Fatal("Unwrap() must expose the cause")
	}
}
