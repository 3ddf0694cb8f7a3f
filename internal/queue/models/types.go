package models

import "github.com/mahirjain10/brainscan-workers/internal/types"

// ProcessingError tells the consumer how to settle a delivery that did not
// reach a terminal outcome.
type ProcessingError struct {
	Err     error
	Requeue bool
}

func (p ProcessingError) Error() string {
	return p.Err.Error()
}

func (p ProcessingError) Unwrap() error {
	return p.Err
}

// DispatchEnvelope accepts both a bare dispatch message and one wrapped in
// the {pattern, data} envelope used on the status exchange.
type DispatchEnvelope struct {
	types.DispatchMessage

	Pattern string                 `json:"pattern,omitempty"`
	Data    *types.DispatchMessage `json:"data,omitempty"`
}

// Message returns the dispatch message carried by the envelope.
func (e DispatchEnvelope) Message() types.DispatchMessage {
	if e.Data != nil {
		return *e.Data
	}
	return e.DispatchMessage
}
