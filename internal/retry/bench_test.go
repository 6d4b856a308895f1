package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// BenchmarkBackoff_FirstAttempt measures overhead when the first
// handshake attempt is answered.
func BenchmarkBackoff_FirstAttempt(b *testing.B) {
	bo := DefaultBackoff()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(_ int) error { return nil }) //nolint:errcheck
	}
}

// BenchmarkBackoff_Rejected measures the early exit when the Retryable
// filter turns an error down.
func BenchmarkBackoff_Rejected(b *testing.B) {
	bo := DefaultBackoff()
	bo.Retryable = func(error) bool { return false }
	ctx := context.Background()
	errBad := errors.New("bad ack")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(_ int) error { return errBad }) //nolint:errcheck
	}
}

// BenchmarkCircuitBreaker_Closed is the spawn path on a healthy host.
func BenchmarkCircuitBreaker_Closed(b *testing.B) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(func() error { return nil }) //nolint:errcheck
	}
}

// BenchmarkCircuitBreaker_Open is the spawn path once terminals have
// run out and NewSession requests are being turned away.
func BenchmarkCircuitBreaker_Open(b *testing.B) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		HalfOpenMax:  1,
	})
	cb.Execute(func() error { return errors.New("no ptys") }) //nolint:errcheck

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(func() error { return nil }) //nolint:errcheck
	}
}
