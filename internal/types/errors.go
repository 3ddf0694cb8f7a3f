package types

// ErrorCode is the machine-readable failure reason stored on a terminal job.
type ErrorCode string

const (
	ErrValidationRejected     ErrorCode = "ValidationRejected"
	ErrValidationTimedOut     ErrorCode = "ValidationTimedOut"
	ErrValidationAdapterError ErrorCode = "ValidationAdapterError"
	ErrNetworkError           ErrorCode = "NetworkError"
	ErrModelInferenceError    ErrorCode = "ModelInferenceError"
	ErrMissingInput           ErrorCode = "MissingInput"
	ErrStagingFileMissing     ErrorCode = "StagingFileMissing"
)
