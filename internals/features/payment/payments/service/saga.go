package service

import (
	"context"
	"errors"
	"fmt"

	helper "kapalku_backend/internals/helpers"
)

// SagaStep pairs an action with the undo for it. Compensate may be nil.
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type Saga struct {
	Name  string
	Steps []SagaStep
}

type SagaError struct {
	Saga       string
	Step       string
	Err        error
	Compensate []error
}

func (e *SagaError) Error() string {
	msg := fmt.Sprintf("saga %s failed at %s: %v", e.Saga, e.Step, e.Err)
	if len(e.Compensate) > 0 {
		msg += fmt.Sprintf(" (%d compensation errors)", len(e.Compensate))
	}
	return msg
}

func (e *SagaError) Unwrap() error { return e.Err }

// Run executes steps in order. On the first failure every completed step is
// compensated in reverse order; compensation errors are collected, not fatal.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]SagaStep, 0, len(s.Steps))
	for _, step := range s.Steps {
		if err := step.Execute(ctx); err != nil {
			serr := &SagaError{Saga: s.Name, Step: step.Name, Err: err}
			cctx := context.WithoutCancel(ctx)
			for i := len(done) - 1; i >= 0; i-- {
				c := done[i]
				if c.Compensate == nil {
					continue
				}
				if cerr := c.Compensate(cctx); cerr != nil {
					helper.Logger.WithError(cerr).WithFields(map[string]any{
						"saga": s.Name,
						"step": c.Name,
					}).Error("saga compensation failed")
					serr.Compensate = append(serr.Compensate, cerr)
				}
			}
			return serr
		}
		done = append(done, step)
	}
	return nil
}

// StepOf reports the failing step name of a saga error, or "".
func StepOf(err error) string {
	var se *SagaError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
