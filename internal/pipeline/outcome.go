package pipeline

import "github.com/mahirjain10/brainscan-workers/internal/types"

// Outcome is the result of one pipeline stage. A stage either produces a
// Value or a failure with a machine-readable Code and a human-readable
// Detail. Stages never signal terminal failures by returning an error.
type Outcome[T any] struct {
	Value  T
	Code   types.ErrorCode
	Detail string
	// Err is the underlying cause of a failure, kept for logging.
	Err error
	// Attempts records every external call the stage made.
	Attempts []types.Attempt
}

func Success[T any](v T, attempts []types.Attempt) Outcome[T] {
	return Outcome[T]{Value: v, Attempts: attempts}
}

func Failure[T any](code types.ErrorCode, detail string, err error, attempts []types.Attempt) Outcome[T] {
	return Outcome[T]{Code: code, Detail: detail, Err: err, Attempts: attempts}
}

func (o Outcome[T]) Failed() bool {
	return o.Code != ""
}
