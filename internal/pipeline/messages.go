package pipeline

// Job-level messages shown to pollers.
const (
	msgValidating        = "Validating medical image."
	msgValidated         = "Image validated as a brain scan."
	msgProcessing        = "Running tumor classification."
	msgCompleted         = "Validation and prediction completed."
	msgRejected          = "The image is not a valid brain CT/MRI scan."
	msgValidationTimeout = "Medical validation took too long; could not verify the image is a brain CT/MRI scan."
	msgValidationError   = "Medical validation could not be completed: "
	msgPredictionFailed  = "Validation completed, prediction failed: "
	msgMissingInput      = "Dispatch message is missing required fields: "
	msgStagingMissing    = "The uploaded file is no longer available."
)
