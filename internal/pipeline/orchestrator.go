package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/ensemble"
	"github.com/mahirjain10/brainscan-workers/internal/retry"
	"github.com/mahirjain10/brainscan-workers/internal/staging"
	"github.com/mahirjain10/brainscan-workers/internal/store"
	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
	"github.com/mahirjain10/brainscan-workers/internal/validator"
)

const validationCall = "validation"

// imageNamespace seeds the deterministic image id derived from a job id.
var imageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("brainscan/images"))

// Validator decides whether the bytes are a brain CT/MRI scan.
type Validator interface {
	Validate(ctx context.Context, data []byte, mimeType string) (types.ValidationResult, error)
}

// Classifier runs the model ensemble over a validated image.
type Classifier interface {
	Classify(ctx context.Context, in ensemble.Input) (types.TumorAnalysis, []types.Attempt, error)
}

// Notifier receives a status event after every applied job transition.
type Notifier interface {
	Notify(ctx context.Context, event types.StatusEvent) error
}

// Result describes how Handle finished. Terminal results are safe to ack.
type Result struct {
	JobID    string
	State    types.State
	Code     types.ErrorCode
	ImageID  string
	Terminal bool
	// Skipped is set when the job was already terminal on arrival.
	Skipped bool
}

// Orchestrator drives one job from dispatch to a terminal state.
type Orchestrator struct {
	store      store.Store
	area       staging.Area
	validator  Validator
	classifier Classifier
	notifier   Notifier
	policy     retry.Policy
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithValidationPolicy sets the retry policy around the validator call.
// The validator enforces its own deadline, so Timeout is normally zero.
func WithValidationPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(st store.Store, area staging.Area, v Validator, c Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		area:       area,
		validator:  v,
		classifier: c,
		policy:     retry.Policy{Attempts: 2, Delay: 2 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy.Retryable == nil {
		o.policy.Retryable = validationRetryable
	}
	return o
}

// validationRetryable retries transient adapter failures. A validation
// deadline is an outcome of its own and is never retried.
func validationRetryable(ctx context.Context, err error) bool {
	if errors.Is(err, validator.ErrTimedOut) {
		return false
	}
	return retry.IsTransient(ctx, err)
}

// ImageID returns the image id a job will produce.
func ImageID(jobID string) string {
	return uuid.NewSHA1(imageNamespace, []byte(jobID)).String()
}

// run carries the per-message state through the stages.
type run struct {
	msg    types.DispatchMessage
	job    *types.Job
	logger zerolog.Logger
}

// Handle processes one dispatch message. A nil error means the message
// reached a terminal outcome and can be acknowledged. A non-nil error means
// a store or staging transport failure happened before any terminal write,
// and the message should be redelivered.
func (o *Orchestrator) Handle(ctx context.Context, msg types.DispatchMessage) (Result, error) {
	r := &run{msg: msg, logger: log.With().Str("job_id", msg.JobID).Logger()}

	if missing := msg.Missing(); len(missing) > 0 {
		return o.rejectMalformed(ctx, r, missing)
	}

	job, err := o.loadOrCreate(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	r.job = job
	if job.State.Terminal() {
		r.logger.Info().Str("state", string(job.State)).Msg("Job already terminal, skipping redelivered message")
		return Result{JobID: job.JobID, State: job.State, Code: job.ErrorCode, ImageID: job.ImageID, Terminal: true, Skipped: true}, nil
	}

	if err := o.transition(ctx, r, types.JobTransition{State: types.StateValidating, Message: msgValidating}); err != nil {
		return Result{}, err
	}

	data, err := o.area.Read(ctx, msg.StagingPath)
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return o.finish(ctx, r, types.JobTransition{
				State:       types.StateFailed,
				Message:     msgStagingMissing,
				ErrorCode:   types.ErrStagingFileMissing,
				ErrorDetail: msg.StagingPath,
			})
		}
		return Result{}, fmt.Errorf("read staging file %s: %w", msg.StagingPath, err)
	}
	mimeType := utils.MimeTypeFor(msg.OriginalFilename)

	validation := o.validate(ctx, r, data, mimeType)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := o.store.AppendJobAttempts(ctx, msg.JobID, validation.Attempts); err != nil {
		return Result{}, err
	}
	if validation.Failed() {
		return o.finish(ctx, r, validationFailure(validation))
	}

	imageID, err := o.createImage(ctx, r, data, mimeType, validation)
	if err != nil {
		return Result{}, err
	}
	if err := o.transition(ctx, r, types.JobTransition{State: types.StateValidated, Message: msgValidated, ImageID: imageID}); err != nil {
		return Result{}, err
	}
	if err := o.transition(ctx, r, types.JobTransition{State: types.StateProcessing, Message: msgProcessing}); err != nil {
		return Result{}, err
	}
	if _, err := o.store.UpdateImage(ctx, imageID, types.ImageUpdate{ProcessingStatus: types.ImageProcessing}); err != nil {
		return Result{}, err
	}

	analysis := o.classify(ctx, r, data, mimeType)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := o.store.AppendJobAttempts(ctx, msg.JobID, analysis.Attempts); err != nil {
		return Result{}, err
	}

	completedAt := o.now().UTC()
	if analysis.Failed() {
		_, err := o.store.UpdateImage(ctx, imageID, types.ImageUpdate{
			ProcessingStatus:    types.ImageFailed,
			ProcessingCompleted: &completedAt,
			ProcessingError:     string(analysis.Code) + ": " + analysis.Detail,
			Attempts:            analysis.Attempts,
		})
		if err != nil {
			return Result{}, err
		}
		return o.finish(ctx, r, types.JobTransition{
			State:       types.StateFailed,
			Message:     msgPredictionFailed + analysis.Detail,
			ErrorCode:   analysis.Code,
			ErrorDetail: analysis.Detail,
		})
	}

	tumor := analysis.Value
	_, err = o.store.UpdateImage(ctx, imageID, types.ImageUpdate{
		ProcessingStatus:    types.ImageCompleted,
		TumorAnalysis:       &tumor,
		ProcessingCompleted: &completedAt,
		Attempts:            analysis.Attempts,
	})
	if err != nil {
		return Result{}, err
	}
	return o.finish(ctx, r, types.JobTransition{State: types.StateCompleted, Message: msgCompleted})
}

// loadOrCreate returns the job record, creating it in Staged when the
// producer published before persisting.
func (o *Orchestrator) loadOrCreate(ctx context.Context, msg types.DispatchMessage) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}
	staged := types.NewStagedJob(msg, o.now().UTC())
	created, err := o.store.CreateJob(ctx, staged)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().Str("job_id", msg.JobID).Msg("Created missing job record from dispatch message")
		return staged, nil
	}
	job, err = o.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s vanished after create: %w", msg.JobID, store.ErrNotFound)
	}
	return job, nil
}

func (o *Orchestrator) rejectMalformed(ctx context.Context, r *run, missing []string) (Result, error) {
	detail := strings.Join(missing, ", ")
	if strings.TrimSpace(r.msg.JobID) == "" {
		// Nothing to record against; ack and drop.
		log.Warn().Str("missing", detail).Msg("Dropping dispatch message without job id")
		return Result{State: types.StateFailed, Code: types.ErrMissingInput, Terminal: true}, nil
	}
	job, err := o.loadOrCreate(ctx, r.msg)
	if err != nil {
		return Result{}, err
	}
	r.job = job
	if job.State.Terminal() {
		return Result{JobID: job.JobID, State: job.State, Code: job.ErrorCode, Terminal: true, Skipped: true}, nil
	}
	return o.finish(ctx, r, types.JobTransition{
		State:       types.StateFailed,
		Message:     msgMissingInput + detail,
		ErrorCode:   types.ErrMissingInput,
		ErrorDetail: detail,
	})
}

func (o *Orchestrator) validate(ctx context.Context, r *run, data []byte, mimeType string) Outcome[types.ValidationResult] {
	var res types.ValidationResult
	attempts, err := retry.Do(ctx, o.policy, validationCall, func(ctx context.Context) error {
		var err error
		res, err = o.validator.Validate(ctx, data, mimeType)
		return err
	})
	if err == nil {
		if !res.IsValid {
			r.logger.Info().Str("description", res.Description).Msg("Image rejected by validation")
			return Failure[types.ValidationResult](types.ErrValidationRejected, res.Description, nil, attempts)
		}
		return Success(res, attempts)
	}

	r.logger.Warn().Err(err).Int("attempts", len(attempts)).Msg("Validation failed")
	switch {
	case errors.Is(err, validator.ErrTimedOut):
		return Failure[types.ValidationResult](types.ErrValidationTimedOut, err.Error(), err, attempts)
	case retry.IsExhausted(err):
		return Failure[types.ValidationResult](types.ErrNetworkError, lastError(err), err, attempts)
	default:
		return Failure[types.ValidationResult](types.ErrValidationAdapterError, err.Error(), err, attempts)
	}
}

func validationFailure(o Outcome[types.ValidationResult]) types.JobTransition {
	t := types.JobTransition{State: types.StateValidationFailed, ErrorCode: o.Code, ErrorDetail: o.Detail}
	switch o.Code {
	case types.ErrValidationRejected:
		t.Message = msgRejected
		if d := strings.TrimSpace(o.Detail); d != "" {
			t.Message += " " + d
		}
	case types.ErrValidationTimedOut:
		t.State = types.StateValidationTimedOut
		t.Message = msgValidationTimeout
	default:
		t.Message = msgValidationError + o.Detail
	}
	return t
}

// createImage promotes the staged bytes and writes the Image record. It is
// idempotent: a redelivered message finds the image by its derived id.
func (o *Orchestrator) createImage(ctx context.Context, r *run, data []byte, mimeType string, v Outcome[types.ValidationResult]) (string, error) {
	imageID := ImageID(r.msg.JobID)
	existing, err := o.store.GetImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return imageID, nil
	}

	key := staging.PermanentKey(r.msg.UserID, imageID, r.msg.OriginalFilename)
	if err := o.area.Promote(ctx, r.msg.StagingPath, key); err != nil {
		return "", fmt.Errorf("promote %s: %w", r.msg.StagingPath, err)
	}

	now := o.now().UTC()
	img := &types.Image{
		ID:               imageID,
		JobID:            r.msg.JobID,
		UserID:           r.msg.UserID,
		Filename:         path.Base(key),
		OriginalFilename: r.msg.DisplayName(),
		StoragePath:      key,
		Size:             int64(len(data)),
		MimeType:         mimeType,
		ProcessingStatus: types.ImageValidating,
		ProcessingRank:   types.ImageStatusRank(types.ImageValidating),
		Metadata: types.ImageMetadata{
			MedicalValidation: validator.MedicalValidation(v.Value, now),
			ProcessingStatus:  types.ImageValidating,
			ProcessingStarted: &now,
			Attempts:          v.Attempts,
		},
		UploadDate: now,
	}
	if w, h, err := validator.Dimensions(data); err == nil {
		img.Width, img.Height = w, h
	}
	if _, err := o.store.CreateImage(ctx, img); err != nil {
		return "", err
	}
	r.logger.Info().Str("image_id", imageID).Str("storage_path", key).Msg("Image record created")
	return imageID, nil
}

func (o *Orchestrator) classify(ctx context.Context, r *run, data []byte, mimeType string) Outcome[types.TumorAnalysis] {
	analysis, attempts, err := o.classifier.Classify(ctx, ensemble.Input{
		Data:     data,
		Filename: r.msg.OriginalFilename,
		MimeType: mimeType,
	})
	if err == nil {
		r.logger.Info().
			Bool("es_tumor", analysis.EsTumor).
			Str("class", analysis.PredictedClass).
			Float64("confidence", analysis.Confidence).
			Msg("Classification done")
		return Success(analysis, attempts)
	}

	r.logger.Warn().Err(err).Msg("Classification failed")
	var stageErr *ensemble.StageError
	if errors.As(err, &stageErr) && stageErr.Network {
		return Failure[types.TumorAnalysis](types.ErrNetworkError, lastError(stageErr.Err), err, attempts)
	}
	return Failure[types.TumorAnalysis](types.ErrModelInferenceError, lastError(err), err, attempts)
}

// lastError unwraps retry exhaustion so the detail is the upstream message.
func lastError(err error) string {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		return exhausted.Call + ": " + exhausted.Err.Error()
	}
	return err.Error()
}

// transition applies a non-terminal state change. A guard rejection means
// the job is already further along, which is fine on redelivery.
func (o *Orchestrator) transition(ctx context.Context, r *run, t types.JobTransition) error {
	t.At = o.now().UTC()
	applied, err := o.store.TransitionJob(ctx, r.msg.JobID, t)
	if err != nil {
		return err
	}
	if applied {
		r.job.Apply(t)
		r.logger.Info().Str("state", string(t.State)).Str("status", r.job.Status).Msg("Job transition")
		o.notify(ctx, r)
	}
	return nil
}

// finish applies a terminal transition. Only the handler whose write was
// applied removes the staging file, so it is deleted exactly once.
func (o *Orchestrator) finish(ctx context.Context, r *run, t types.JobTransition) (Result, error) {
	t.At = o.now().UTC()
	applied, err := o.store.TransitionJob(ctx, r.msg.JobID, t)
	if err != nil {
		return Result{}, err
	}
	if !applied {
		current, err := o.store.GetJob(ctx, r.msg.JobID)
		if err != nil {
			return Result{}, err
		}
		r.logger.Info().Msg("Terminal transition already applied by another delivery")
		res := Result{JobID: r.msg.JobID, Terminal: true, Skipped: true}
		if current != nil {
			res.State, res.Code, res.ImageID = current.State, current.ErrorCode, current.ImageID
		}
		return res, nil
	}

	r.job.Apply(t)
	r.logger.Info().
		Str("state", string(t.State)).
		Str("status", r.job.Status).
		Str("error_code", string(t.ErrorCode)).
		Msg("Job finished")
	o.notify(ctx, r)

	if err := staging.Cleanup(ctx, o.area, r.msg.StagingPath); err != nil {
		r.logger.Warn().Err(err).Msg("Staging cleanup failed")
	}
	return Result{
		JobID:    r.msg.JobID,
		State:    t.State,
		Code:     t.ErrorCode,
		ImageID:  r.job.ImageID,
		Terminal: true,
	}, nil
}

func (o *Orchestrator) notify(ctx context.Context, r *run) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, types.NewStatusEvent(r.job)); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish status event")
	}
}
