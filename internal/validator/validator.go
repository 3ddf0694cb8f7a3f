package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 120 * time.Second

	DefaultSystemPrompt = "You are a specialised medical validator. Your only job is to answer YES or NO to simple questions about medical images."
	DefaultQuestion     = "Is this image a computed tomography (CT) or MRI scan of the brain? Answer only: YES or NO."

	validStatus   = "completed"
	invalidStatus = "rejected"
)

// Validator decides whether an image is a brain CT/MRI scan.
type Validator struct {
	vision       Vision
	judgment     TextJudgment
	timeout      time.Duration
	systemPrompt string
	question     string
}

type Option func(*Validator)

func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithJudgment(j TextJudgment) Option {
	return func(v *Validator) {
		if j != nil {
			v.judgment = j
		}
	}
}

func WithSystemPrompt(p string) Option {
	return func(v *Validator) {
		if p != "" {
			v.systemPrompt = p
		}
	}
}

func WithQuestion(q string) Option {
	return func(v *Validator) {
		if q != "" {
			v.question = q
		}
	}
}

func New(vision Vision, opts ...Option) *Validator {
	v := &Validator{
		vision:       vision,
		judgment:     DefaultJudgment(),
		timeout:      DefaultTimeout,
		systemPrompt: DefaultSystemPrompt,
		question:     DefaultQuestion,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Name() string {
	return v.vision.Name()
}

// Validate runs the validity check under the validation deadline.
//
// An image that cannot be decoded is rejected with a nil error. A deadline
// hit returns ErrTimedOut and any other capability failure returns an error
// wrapping both ErrAdapter and the cause. The result always has IsValid set
// to false when an error is returned.
func (v *Validator) Validate(ctx context.Context, data []byte, mimeType string) (types.ValidationResult, error) {
	prepared, err := Preprocess(data)
	if err != nil {
		log.Info().Err(err).Str("mime_type", mimeType).Msg("Rejecting image that could not be decoded")
		return types.ValidationResult{
			IsValid:     false,
			Description: "The file could not be read as an image.",
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	started := time.Now()
	answer, err := v.vision.Ask(callCtx, Request{
		Image:        prepared.Data,
		MimeType:     prepared.MimeType,
		SystemPrompt: v.systemPrompt,
		Question:     v.question,
	})
	if err != nil {
		failed := types.ValidationResult{IsValid: false, ValidationError: true}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			if ctx.Err() == nil {
				failed.Description = fmt.Sprintf("No answer from %s within %s.", v.vision.Name(), v.timeout)
				log.Warn().Str("vision", v.vision.Name()).Dur("timeout", v.timeout).Msg("Validation timed out")
				return failed, ErrTimedOut
			}
		}
		failed.Description = err.Error()
		return failed, fmt.Errorf("%w: %w", ErrAdapter, err)
	}

	result := types.ValidationResult{RawResponse: answer.Text}
	if answer.Verdict != nil {
		result.Structured = true
		result.IsValid = *answer.Verdict
		result.Description = strings.TrimSpace(answer.Description)
	} else {
		result.IsValid = v.judgment.Judge(answer.Text)
	}
	if result.Description == "" {
		result.Description = answer.Text
	}

	log.Info().
		Str("vision", v.vision.Name()).
		Bool("is_valid", result.IsValid).
		Bool("structured", result.Structured).
		Dur("duration", time.Since(started)).
		Msg("Validation answered")
	return result, nil
}

// MedicalValidation converts a result into the metadata stored on the image.
func MedicalValidation(res types.ValidationResult, at time.Time) *types.MedicalValidation {
	status := validStatus
	if !res.IsValid {
		status = invalidStatus
	}
	return &types.MedicalValidation{
		Status:      status,
		IsValidCT:   res.IsValid,
		Descripcion: res.Description,
		RawResponse: res.RawResponse,
		CompletedAt: at,
	}
}
