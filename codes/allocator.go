/*
Package codes generates unique, sequential, human-readable codes for
orders and deliveries, e.g. ORD-2026-000042 and DEL-000108.

PURPOSE:
  Concurrent creators race for the next sequence number. Rather than a
  global counter, the allocator reads the highest issued sequence,
  formats a candidate, and lets the store's uniqueness constraint decide
  the race. On a lost race it backs off with jitter and tries again.

GUARANTEES:
  - No two live records ever share a code (the store enforces it).
  - Codes are monotonically non-decreasing per prefix.
  - Gaps may appear after retried collisions; sequences of deleted
    records are never reused (MaxSequence covers historical codes).

RETRY STRATEGY:
  Bounded attempts (default 8) with a 50-150ms randomized backoff; after
  the first collision the candidate is perturbed by a small random step
  so two lock-stepped allocators stop colliding on the same number. When
  attempts run out the caller gets ErrAllocationExhausted, a transient
  error safe to retry wholesale.
*/
package codes

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/warp/fulfillment-ledger/ledger"
)

// DeliveryPrefix scopes delivery codes: DEL-000001, DEL-000002, ...
const DeliveryPrefix = "DEL-"

// OrderPrefix scopes order codes by year: ORD-2026-000001, ...
func OrderPrefix(year int) string {
	return fmt.Sprintf("ORD-%d-", year)
}

// Format renders a code from prefix and sequence with zero padding.
func Format(prefix string, seq int) string {
	return fmt.Sprintf("%s%06d", prefix, seq)
}

// Split breaks a code into its prefix and sequence number. ok is false
// when the code carries no trailing digits.
func Split(code string) (prefix string, seq int, ok bool) {
	i := len(code)
	for i > 0 && code[i-1] >= '0' && code[i-1] <= '9' {
		i--
	}
	if i == len(code) {
		return code, 0, false
	}
	n, err := strconv.Atoi(code[i:])
	if err != nil {
		return code, 0, false
	}
	return code[:i], n, true
}

// Sequencer is the slice of the store the allocator needs.
type Sequencer interface {
	MaxSequence(ctx context.Context, prefix string) (int, error)
}

// Allocator hands out sequential codes under concurrent creation.
type Allocator struct {
	Seq         Sequencer
	MaxAttempts int
	Sleep       func(time.Duration) // injectable for tests
}

// New creates an allocator with the default retry settings.
func New(seq Sequencer) *Allocator {
	return &Allocator{
		Seq:         seq,
		MaxAttempts: 8,
		Sleep:       time.Sleep,
	}
}

// Next allocates the next code for prefix and hands it to persist, which
// must attempt the insert and return ledger.ErrCodeTaken (or an error
// wrapping it) when a concurrent allocator won the race. Any other error
// aborts immediately. Each persist call is one complete attempt: callers
// put their whole atomic unit of work inside it.
func (a *Allocator) Next(ctx context.Context, prefix string, persist func(code string) error) (string, error) {
	for attempt := 0; attempt < a.MaxAttempts; attempt++ {
		if attempt > 0 {
			a.Sleep(backoff())
		}

		max, err := a.Seq.MaxSequence(ctx, prefix)
		if err != nil {
			return "", err
		}
		seq := max + 1
		if attempt > 0 {
			// Step past a retrying peer instead of re-colliding in lock step.
			seq += rand.Intn(3)
		}

		code := Format(prefix, seq)
		err = persist(code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ledger.ErrCodeTaken) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: prefix %s after %d attempts", ledger.ErrAllocationExhausted, prefix, a.MaxAttempts)
}

func backoff() time.Duration {
	return time.Duration(50+rand.Intn(100)) * time.Millisecond
}
