// Package saga runs an ordered list of steps across independent subsystems,
// unwinding completed steps with their compensations when one fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step pairs a forward action with the action that undoes it. Compensate may
// be nil for steps with nothing to undo. Compensations must tolerate being run
// against state that is already gone.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports the step that failed and any compensation that could not
// be completed while unwinding.
type StepError struct {
	Step             string
	Err              error
	CompensationErrs []error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("saga step %q failed: %v", e.Step, e.Err)
	if len(e.CompensationErrs) > 0 {
		msg += fmt.Sprintf(" (%d compensation error(s): %v)", len(e.CompensationErrs), errors.Join(e.CompensationErrs...))
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Saga struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

func New(name string, logger *slog.Logger) *Saga {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saga{name: name, logger: logger}
}

// Add appends a step. Steps run in insertion order.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes every step in order. On the first failure it compensates the
// completed steps in strict reverse order and returns a *StepError.
func (s *Saga) Run(ctx context.Context) error {
	completed := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		if err := step.Action(ctx); err != nil {
			s.logger.Error("saga step failed",
				"saga", s.name,
				"action", step.Name,
				"error", err,
			)
			return &StepError{
				Step:             step.Name,
				Err:              err,
				CompensationErrs: s.unwind(ctx, completed),
			}
		}
		completed = append(completed, step)
	}
	return nil
}

func (s *Saga) unwind(ctx context.Context, completed []Step) []error {
	// Compensation runs even if the caller's context is already done.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("saga compensation failed",
				"saga", s.name,
				"action", step.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
			continue
		}
		s.logger.Info("saga step compensated", "saga", s.name, "action", step.Name)
	}
	return errs
}
