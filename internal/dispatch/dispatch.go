package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/staging"
	"github.com/mahirjain10/brainscan-workers/internal/store"
	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

// MaxUploadSize is the largest payload accepted for a scan.
const MaxUploadSize = 50 << 20

// Publisher sends a dispatch message to the worker queue.
type Publisher interface {
	PublishDispatch(ctx context.Context, queue string, msg types.DispatchMessage) error
}

type Upload struct {
	Filename       string
	CustomFilename string
	UserID         string
	Data           []byte
}

// Dispatcher is the producer side of the pipeline: it stages the bytes,
// records the Staged job and publishes the dispatch message.
type Dispatcher struct {
	area      staging.Area
	store     store.Store
	publisher Publisher
	queue     string
	now       func() time.Time
	newID     func() string
}

func NewDispatcher(area staging.Area, st store.Store, p Publisher, queue string) *Dispatcher {
	return &Dispatcher{
		area:      area,
		store:     st,
		publisher: p,
		queue:     queue,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Check runs the upload pre-checks.
func Check(u Upload) error {
	if strings.TrimSpace(u.Filename) == "" {
		return fmt.Errorf("%w: missing filename", ErrInvalidUpload)
	}
	if len(u.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if !utils.AllowedExtension(u.Filename) {
		return fmt.Errorf("%w: unsupported file type %q", ErrInvalidUpload, u.Filename)
	}
	if len(u.Data) > MaxUploadSize {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", ErrInvalidUpload, len(u.Data), MaxUploadSize)
	}
	return nil
}

// Submit stages u and enqueues it, returning the new job id. Nothing is
// written when the pre-checks fail.
func (d *Dispatcher) Submit(ctx context.Context, u Upload) (string, error) {
	if err := Check(u); err != nil {
		return "", err
	}
	userID := strings.TrimSpace(u.UserID)
	if userID == "" {
		return "", fmt.Errorf("%w: missing user id", ErrInvalidUpload)
	}

	jobID := d.newID()
	key := staging.StagingKey(jobID, u.Filename)
	if err := d.area.Put(ctx, key, u.Data); err != nil {
		return "", fmt.Errorf("stage job %s: %w", jobID, err)
	}

	msg := types.DispatchMessage{
		JobID:            jobID,
		StagingPath:      key,
		OriginalFilename: u.Filename,
		UserID:           userID,
		CustomFilename:   u.CustomFilename,
	}
	if _, err := d.store.CreateJob(ctx, types.NewStagedJob(msg, d.now().UTC())); err != nil {
		d.discard(ctx, key)
		return "", err
	}
	if err := d.publisher.PublishDispatch(ctx, d.queue, msg); err != nil {
		// The Staged record stays so pollers see the job. The staged file
		// is kept so a later republish can still be processed.
		return "", err
	}

	log.Info().
		Str("job_id", jobID).
		Str("staging_path", key).
		Str("area", d.area.Name()).
		Int("size", len(u.Data)).
		Msg("Job dispatched")
	return jobID, nil
}

func (d *Dispatcher) discard(ctx context.Context, key string) {
	if err := staging.Cleanup(ctx, d.area, key); err != nil {
		log.Warn().Err(err).Str("staging_path", key).Msg("Failed to remove staged file")
	}
}
