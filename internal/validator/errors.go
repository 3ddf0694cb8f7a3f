package validator

import "errors"

var (
	// ErrTimedOut means the vision capability did not answer within the
	// validation deadline.
	ErrTimedOut = errors.New("validation timed out")
	// ErrAdapter means the vision call itself failed.
	ErrAdapter = errors.New("validation adapter error")

	ErrUndecodable   = errors.New("image could not be decoded")
	ErrEmptyResponse = errors.New("empty response from vision model")
)
