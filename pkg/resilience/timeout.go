package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/errors"
)

// Timeout fails an operation that has not completed within its duration.
// The operation's context is cancelled and the caller stops waiting; the
// operation itself is expected to honour cancellation.
type Timeout struct {
	name     string
	duration time.Duration
}

// NewTimeout creates a timeout policy. A non-positive duration disables it.
func NewTimeout(name string, d time.Duration) *Timeout {
	return &Timeout{name: name, duration: d}
}

func (t *Timeout) Duration() time.Duration { return t.duration }

// Execute runs op, returning a timeout error once the deadline passes.
func (t *Timeout) Execute(ctx context.Context, op Operation) error {
	if t.duration <= 0 {
		return runRecovered(ctx, op)
	}

	tctx, cancel := context.WithTimeout(ctx, t.duration)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runRecovered(tctx, op)
	}()

	select {
	case err := <-done:
		if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return t.timeoutError(err)
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return errors.NewCanceledError(t.name).WithCause(ctx.Err())
		}
		return t.timeoutError(tctx.Err())
	}
}

func (t *Timeout) timeoutError(cause error) error {
	return errors.NewTimeoutError(t.name).
		WithDetail("timeout", t.duration.String()).
		WithCause(cause)
}

// runRecovered turns a panic inside op into a fatal error so it cannot
// escape a goroutine.
func runRecovered(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewFatalError(fmt.Sprintf("operation panicked: %v", r))
		}
	}()
	return op(ctx)
}
