package etl

import "github.com/rotisserie/eris"

// ErrDependency is returned when a step would run before one of its
// prerequisites is done.
var ErrDependency = eris.New("etl: dependency not satisfied")

// StepError identifies the step that halted a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return "etl: step " + e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }
