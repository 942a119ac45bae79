package ledger

import "context"

// compensation accumulates undo steps for a multi-write operation running
// against a store without atomic units. On failure the recorded steps are
// replayed in reverse; every undo failure is collected instead of being
// dropped.
type compensation struct {
	steps []compensationStep
}

type compensationStep struct {
	change LineChange
	undo   func(context.Context) error
}

func (c *compensation) push(change LineChange, undo func(context.Context) error) {
	c.steps = append(c.steps, compensationStep{change: change, undo: undo})
}

// rollback replays the undo steps last-first. It returns the changes that
// remain applied and the errors their undo steps produced; both empty
// means the store is back in its pre-operation state.
func (c *compensation) rollback(ctx context.Context) ([]LineChange, []error) {
	var stuck []LineChange
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if step.undo == nil {
			continue
		}
		if err := step.undo(ctx); err != nil {
			stuck = append(stuck, step.change)
			errs = append(errs, err)
		}
	}
	return stuck, errs
}
