package types

import "time"

// State is the fine-grained pipeline state of a job.
type State string

const (
	StateStaged             State = "staged"
	StateValidating         State = "validating"
	StateValidated          State = "validated"
	StateProcessing         State = "processing"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateValidationFailed   State = "validation_failed"
	StateValidationTimedOut State = "validation_timed_out"
)

// Coarse job status exposed to pollers.
const (
	JobStatusValidating = "validating"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Rank orders states along the transition graph. Terminal states share the
// highest rank so that no terminal state can overwrite another.
func (s State) Rank() int {
	switch s {
	case StateStaged:
		return 0
	case StateValidating:
		return 1
	case StateValidated:
		return 2
	case StateProcessing:
		return 3
	case StateCompleted, StateFailed, StateValidationFailed, StateValidationTimedOut:
		return 4
	default:
		return -1
	}
}

func (s State) Terminal() bool {
	return s.Rank() == 4
}

// JobStatus maps a state onto the coarse status pollers see.
func (s State) JobStatus() string {
	switch s {
	case StateCompleted:
		return JobStatusCompleted
	case StateFailed, StateValidationFailed, StateValidationTimedOut:
		return JobStatusFailed
	default:
		return JobStatusValidating
	}
}

type Job struct {
	JobID            string     `json:"job_id" dynamodbav:"job_id" msgpack:"job_id"`
	UserID           string     `json:"user_id" dynamodbav:"user_id" msgpack:"user_id"`
	OriginalFilename string     `json:"original_filename" dynamodbav:"original_filename" msgpack:"original_filename"`
	CustomFilename   string     `json:"custom_filename,omitempty" dynamodbav:"custom_filename,omitempty" msgpack:"custom_filename,omitempty"`
	StagingPath      string     `json:"staging_path" dynamodbav:"staging_path" msgpack:"staging_path"`
	State            State      `json:"state" dynamodbav:"state" msgpack:"state"`
	StateRank        int        `json:"state_rank" dynamodbav:"state_rank" msgpack:"state_rank"`
	Status           string     `json:"status" dynamodbav:"status" msgpack:"status"`
	Message          string     `json:"message" dynamodbav:"message" msgpack:"message"`
	ErrorCode        ErrorCode  `json:"error_code,omitempty" dynamodbav:"error_code,omitempty" msgpack:"error_code,omitempty"`
	ErrorDetail      string     `json:"error,omitempty" dynamodbav:"error_detail,omitempty" msgpack:"error_detail,omitempty"`
	ImageID          string     `json:"image_id,omitempty" dynamodbav:"image_id,omitempty" msgpack:"image_id,omitempty"`
	Attempts         []Attempt  `json:"attempts,omitempty" dynamodbav:"attempts,omitempty" msgpack:"attempts,omitempty"`
	CreatedAt        time.Time  `json:"created_at" dynamodbav:"created_at" msgpack:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" dynamodbav:"updated_at" msgpack:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
}

// NewStagedJob builds the initial record written at dispatch time.
func NewStagedJob(msg DispatchMessage, now time.Time) *Job {
	return &Job{
		JobID:            msg.JobID,
		UserID:           msg.UserID,
		OriginalFilename: msg.OriginalFilename,
		CustomFilename:   msg.CustomFilename,
		StagingPath:      msg.StagingPath,
		State:            StateStaged,
		StateRank:        StateStaged.Rank(),
		Status:           StateStaged.JobStatus(),
		Message:          "Queued for validation.",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// JobTransition is a single atomic state change applied to a job record.
type JobTransition struct {
	State       State
	Message     string
	ErrorCode   ErrorCode
	ErrorDetail string
	ImageID     string
	At          time.Time
}

// StatusRecord is the view of a job returned to pollers.
type StatusRecord struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	ImageID     string     `json:"image_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (j *Job) StatusRecord() StatusRecord {
	rec := StatusRecord{
		JobID:       j.JobID,
		Status:      j.Status,
		Message:     j.Message,
		ImageID:     j.ImageID,
		CompletedAt: j.CompletedAt,
	}
	if j.ErrorCode != "" {
		rec.Error = string(j.ErrorCode)
		if j.ErrorDetail != "" {
			rec.Error += ": " + j.ErrorDetail
		}
	}
	return rec
}

// Apply writes the transition onto the job. Callers check the rank guard.
func (j *Job) Apply(t JobTransition) {
	j.State = t.State
	j.StateRank = t.State.Rank()
	j.Status = t.State.JobStatus()
	j.Message = t.Message
	j.UpdatedAt = t.At
	if t.ErrorCode != "" {
		j.ErrorCode = t.ErrorCode
		j.ErrorDetail = t.ErrorDetail
	}
	if t.ImageID != "" {
		j.ImageID = t.ImageID
	}
	if t.State.Terminal() {
		at := t.At
		j.CompletedAt = &at
	}
}
