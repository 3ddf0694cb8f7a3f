package types

// StatusPattern is the envelope pattern used for status events.
const StatusPattern = "status"

// StatusData is the payload of a status event.
type StatusData struct {
	JobID   string `json:"job_id"`
	UserID  string `json:"user_id"`
	State   State  `json:"state"`
	Status  string `json:"status"`
	Message string `json:"message"`
	ImageID string `json:"image_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusEvent is the full message envelope published on the status exchange.
type StatusEvent struct {
	Pattern string     `json:"pattern"`
	Data    StatusData `json:"data"`
}

func NewStatusEvent(job *Job) StatusEvent {
	data := StatusData{
		JobID:   job.JobID,
		UserID:  job.UserID,
		State:   job.State,
		Status:  job.Status,
		Message: job.Message,
		ImageID: job.ImageID,
	}
	if job.ErrorCode != "" {
		data.Error = string(job.ErrorCode)
	}
	return StatusEvent{Pattern: StatusPattern, Data: data}
}
