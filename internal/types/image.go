package types

import "time"

// Image processing status values.
const (
	ImagePending    = "pending"
	ImageValidating = "validating"
	ImageProcessing = "processing"
	ImageCompleted  = "completed"
	ImageFailed     = "failed"
)

// ImageStatusRank orders image processing states. Completed and failed are
// both terminal.
func ImageStatusRank(status string) int {
	switch status {
	case ImagePending:
		return 0
	case ImageValidating:
		return 1
	case ImageProcessing:
		return 2
	case ImageCompleted, ImageFailed:
		return 3
	default:
		return -1
	}
}

type Image struct {
	ID               string        `json:"id" dynamodbav:"id" msgpack:"id"`
	JobID            string        `json:"job_id" dynamodbav:"job_id" msgpack:"job_id"`
	UserID           string        `json:"user_id" dynamodbav:"user_id" msgpack:"user_id"`
	Filename         string        `json:"filename" dynamodbav:"filename" msgpack:"filename"`
	OriginalFilename string        `json:"original_filename" dynamodbav:"original_filename" msgpack:"original_filename"`
	StoragePath      string        `json:"storage_path" dynamodbav:"storage_path" msgpack:"storage_path"`
	Size             int64         `json:"size" dynamodbav:"size" msgpack:"size"`
	MimeType         string        `json:"mime_type" dynamodbav:"mime_type" msgpack:"mime_type"`
	Width            int           `json:"width,omitempty" dynamodbav:"width,omitempty" msgpack:"width,omitempty"`
	Height           int           `json:"height,omitempty" dynamodbav:"height,omitempty" msgpack:"height,omitempty"`
	ProcessingStatus string        `json:"processing_status" dynamodbav:"processing_status" msgpack:"processing_status"`
	ProcessingRank   int           `json:"-" dynamodbav:"processing_rank" msgpack:"processing_rank"`
	Metadata         ImageMetadata `json:"metadata" dynamodbav:"metadata" msgpack:"metadata"`
	UploadDate       time.Time     `json:"upload_date" dynamodbav:"upload_date" msgpack:"upload_date"`
}

type ImageMetadata struct {
	MedicalValidation   *MedicalValidation `json:"medical_validation,omitempty" dynamodbav:"medical_validation,omitempty" msgpack:"medical_validation,omitempty"`
	TumorAnalysis       *TumorAnalysis     `json:"tumor_analysis,omitempty" dynamodbav:"tumor_analysis,omitempty" msgpack:"tumor_analysis,omitempty"`
	ProcessingStatus    string             `json:"processing_status,omitempty" dynamodbav:"processing_status,omitempty" msgpack:"processing_status,omitempty"`
	ProcessingStarted   *time.Time         `json:"processing_started,omitempty" dynamodbav:"processing_started,omitempty" msgpack:"processing_started,omitempty"`
	ProcessingCompleted *time.Time         `json:"processing_completed,omitempty" dynamodbav:"processing_completed,omitempty" msgpack:"processing_completed,omitempty"`
	ProcessingError     string             `json:"processing_error,omitempty" dynamodbav:"processing_error,omitempty" msgpack:"processing_error,omitempty"`
	Attempts            []Attempt          `json:"attempts,omitempty" dynamodbav:"attempts,omitempty" msgpack:"attempts,omitempty"`
}

type MedicalValidation struct {
	Status      string    `json:"status" dynamodbav:"status" msgpack:"status"`
	IsValidCT   bool      `json:"is_valid_ct" dynamodbav:"is_valid_ct" msgpack:"is_valid_ct"`
	Descripcion string    `json:"descripcion" dynamodbav:"descripcion" msgpack:"descripcion"`
	RawResponse string    `json:"raw_response,omitempty" dynamodbav:"raw_response,omitempty" msgpack:"raw_response,omitempty"`
	CompletedAt time.Time `json:"completed_at" dynamodbav:"completed_at" msgpack:"completed_at"`
}

// TumorAnalysis is the ensemble classification result. It is written once.
type TumorAnalysis struct {
	EsTumor        bool               `json:"es_tumor" dynamodbav:"es_tumor" msgpack:"es_tumor"`
	PredictedClass string             `json:"clase_predicha" dynamodbav:"clase_predicha" msgpack:"clase_predicha"`
	Confidence     float64            `json:"confianza" dynamodbav:"confianza" msgpack:"confianza"`
	Probabilities  map[string]float64 `json:"probabilidades" dynamodbav:"probabilidades" msgpack:"probabilidades"`
	Recommendation string             `json:"recomendacion" dynamodbav:"recomendacion" msgpack:"recomendacion"`
	MeanScore      float64            `json:"mean_score" dynamodbav:"mean_score" msgpack:"mean_score"`
	Breakdown      []ModelVerdict     `json:"per_model_breakdown" dynamodbav:"per_model_breakdown" msgpack:"per_model_breakdown"`
}

// ModelVerdict records what a single model contributed to the ensemble.
type ModelVerdict struct {
	Model         string    `json:"model" dynamodbav:"model" msgpack:"model"`
	Head          string    `json:"head" dynamodbav:"head" msgpack:"head"`
	Score         float64   `json:"score,omitempty" dynamodbav:"score,omitempty" msgpack:"score,omitempty"`
	Vote          string    `json:"vote,omitempty" dynamodbav:"vote,omitempty" msgpack:"vote,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty" dynamodbav:"probabilities,omitempty" msgpack:"probabilities,omitempty"`
	Error         string    `json:"error,omitempty" dynamodbav:"error,omitempty" msgpack:"error,omitempty"`
}

// ImageUpdate is a forward-only partial update of an image record. Nil fields
// are left untouched and Attempts are appended.
type ImageUpdate struct {
	ProcessingStatus    string
	MedicalValidation   *MedicalValidation
	TumorAnalysis       *TumorAnalysis
	ProcessingCompleted *time.Time
	ProcessingError     string
	Attempts            []Attempt
}

// Apply merges the update onto the image. Callers check the rank guard.
func (img *Image) Apply(u ImageUpdate) {
	if u.ProcessingStatus != "" {
		img.ProcessingStatus = u.ProcessingStatus
		img.ProcessingRank = ImageStatusRank(u.ProcessingStatus)
		img.Metadata.ProcessingStatus = u.ProcessingStatus
	}
	if u.MedicalValidation != nil {
		img.Metadata.MedicalValidation = u.MedicalValidation
	}
	if u.TumorAnalysis != nil {
		img.Metadata.TumorAnalysis = u.TumorAnalysis
	}
	if u.ProcessingCompleted != nil {
		img.Metadata.ProcessingCompleted = u.ProcessingCompleted
	}
	if u.ProcessingError != "" {
		img.Metadata.ProcessingError = u.ProcessingError
	}
	img.Metadata.Attempts = append(img.Metadata.Attempts, u.Attempts...)
}

// Allows reports whether the update may be applied to an image at the given
// rank. Non-terminal statuses may be rewritten in place, terminal ones never.
func (u ImageUpdate) Allows(currentRank int) bool {
	if u.ProcessingStatus == "" {
		return true
	}
	next := ImageStatusRank(u.ProcessingStatus)
	if next < 0 {
		return false
	}
	if next == ImageStatusRank(ImageCompleted) {
		return currentRank < next
	}
	return currentRank <= next
}
