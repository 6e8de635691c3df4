package model

import (
	"context"
	"strings"
	"time"
)

// transientPhrases identify agent failures worth retrying: capacity
// and network hiccups, not prompt or auth problems.
var transientPhrases = []string{
	"rate limit",
	"overloaded",
	"connection reset",
	"connection refused",
	"timed out",
	"timeout",
	"temporarily unavailable",
	"529",
	"503",
}

// RetryInvoker wraps an Invoker and retries transient failures with a
// fixed delay between attempts.
type RetryInvoker struct {
	Inner    Invoker
	Attempts int
	Delay    time.Duration

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryInvoker wraps inner with up to attempts tries.
func NewRetryInvoker(inner Invoker, attempts int, delay time.Duration) *RetryInvoker {
	return &RetryInvoker{
		Inner:    inner,
		Attempts: attempts,
		Delay:    delay,
		sleep:    sleepCtx,
	}
}

// Invoke tries the inner invoker, retrying on transient errors until
// the attempt budget runs out. Non-transient errors surface
// immediately.
func (r *RetryInvoker) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := r.Inner.Invoke(ctx, prompt, opts)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts {
			break
		}
		if err := sleep(ctx, r.Delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// IsTransient reports whether an error message matches a known
// transient failure phrase.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Invoker = (*RetryInvoker)(nil)
