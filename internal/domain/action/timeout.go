package action

import (
	"context"
	"time"
)

// OrderTimeout is the pipeline position of TimeoutAction: it must wrap
// everything downstream of it, so it runs first.
const OrderTimeout = 100

// TimeoutAction races the remainder of the pipeline against ictx.Deadline.
type TimeoutAction struct {
	// DefaultTimeout applies when ictx.Deadline is zero.
	DefaultTimeout time.Duration
}

var _ Action = (*TimeoutAction)(nil)

// Order implements Action.
func (a *TimeoutAction) Order() int { return OrderTimeout }

// AppliesTo implements Action; timeout always applies.
func (a *TimeoutAction) AppliesTo(ictx *InvocationContext) bool { return true }

// Invoke implements Action.
func (a *TimeoutAction) Invoke(ctx context.Context, ictx *InvocationContext, next Next) (Result, error) {
	now := time.Now()
	deadline := ictx.Deadline
	configured := a.DefaultTimeout
	if deadline.IsZero() {
		if configured <= 0 {
			return next(ctx)
		}
		deadline = now.Add(configured)
	} else {
		configured = deadline.Sub(now)
	}

	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := next(cctx)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-cctx.Done():
		return Result{}, &TimeoutError{ToolName: ictx.ToolName, Timeout: configured}
	}
}
