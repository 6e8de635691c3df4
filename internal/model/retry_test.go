package model

import (
	"context"
	"errors"
	"testing"
	"time"
)

// sequenceInvoker returns queued results in order.
type sequenceInvoker struct {
	results []result
	calls   int
}

type result struct {
	response string
	err      error
}

func (s *sequenceInvoker) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	if s.calls >= len(s.results) {
		return "", errors.New("no more scripted results")
	}
	r := s.results[s.calls]
	s.calls++
	return r.response, r.err
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryInvoker_TransientThenSuccess(t *testing.T) {
	inner := &sequenceInvoker{results: []result{
		{err: errors.New("agent command failed: rate limit exceeded")},
		{err: errors.New("503 service unavailable")},
		{response: "done"},
	}}
	r := NewRetryInvoker(inner, 3, time.Second)
	r.sleep = noSleep

	got, err := r.Invoke(context.Background(), "go", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" {
		t.Errorf("got %q", got)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryInvoker_NonTransientFailsFast(t *testing.T) {
	inner := &sequenceInvoker{results: []result{
		{err: errors.New("invalid api key")},
		{response: "never reached"},
	}}
	r := NewRetryInvoker(inner, 3, time.Second)
	r.sleep = noSleep

	if _, err := r.Invoke(context.Background(), "go", Options{}); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryInvoker_ExhaustsAttempts(t *testing.T) {
	inner := &sequenceInvoker{results: []result{
		{err: errors.New("overloaded")},
		{err: errors.New("overloaded")},
		{err: errors.New("overloaded")},
	}}
	r := NewRetryInvoker(inner, 3, time.Second)
	r.sleep = noSleep

	_, err := r.Invoke(context.Background(), "go", Options{})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryInvoker_ContextCancelDuringSleep(t *testing.T) {
	inner := &sequenceInvoker{results: []result{
		{err: errors.New("timed out")},
		{response: "never reached"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetryInvoker(inner, 3, time.Minute)
	if _, err := r.Invoke(ctx, "go", Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("Rate Limit hit"), true},
		{errors.New("upstream returned 529"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("invalid prompt"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
