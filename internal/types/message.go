package types

import (
	"strings"
	"time"
)

// DispatchMessage is published once per job by the producer.
type DispatchMessage struct {
	JobID            string `json:"job_id"`
	StagingPath      string `json:"staging_path"`
	OriginalFilename string `json:"original_filename"`
	UserID           string `json:"user_id"`
	CustomFilename   string `json:"custom_filename,omitempty"`
}

// Missing lists the required fields that are empty.
func (m DispatchMessage) Missing() []string {
	var missing []string
	if strings.TrimSpace(m.JobID) == "" {
		missing = append(missing, "job_id")
	}
	if strings.TrimSpace(m.StagingPath) == "" {
		missing = append(missing, "staging_path")
	}
	if strings.TrimSpace(m.OriginalFilename) == "" {
		missing = append(missing, "original_filename")
	}
	if strings.TrimSpace(m.UserID) == "" {
		missing = append(missing, "user_id")
	}
	return missing
}

// DisplayName is the filename stored on the image.
func (m DispatchMessage) DisplayName() string {
	if m.CustomFilename != "" {
		return m.CustomFilename
	}
	return m.OriginalFilename
}

// ValidationResult is the outcome of the vision validity check.
type ValidationResult struct {
	IsValid         bool   `json:"is_valid"`
	Description     string `json:"description"`
	RawResponse     string `json:"raw_response,omitempty"`
	ValidationError bool   `json:"validation_error"`
	Structured      bool   `json:"structured"`
}

// Attempt records one try of an external call.
type Attempt struct {
	Call       string    `json:"call" dynamodbav:"call" msgpack:"call"`
	Number     int       `json:"number" dynamodbav:"number" msgpack:"number"`
	Success    bool      `json:"success" dynamodbav:"success" msgpack:"success"`
	DurationMs int64     `json:"duration_ms" dynamodbav:"duration_ms" msgpack:"duration_ms"`
	Error      string    `json:"error,omitempty" dynamodbav:"error,omitempty" msgpack:"error,omitempty"`
	StartedAt  time.Time `json:"started_at" dynamodbav:"started_at" msgpack:"started_at"`
}
