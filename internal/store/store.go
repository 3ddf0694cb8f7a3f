package store

import (
	"context"
	"errors"

	"github.com/mahirjain10/brainscan-workers/internal/types"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store is closed")
)

// Store persists jobs and images. Every mutation is a single conditional
// write on one record, so concurrent or duplicate workers cannot move a
// record backwards.
type Store interface {
	// CreateJob writes job if no record with its ID exists. It reports
	// whether the record was created.
	CreateJob(ctx context.Context, job *types.Job) (bool, error)
	// GetJob returns nil, nil when the job does not exist.
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	// TransitionJob applies t only if the stored rank is below the rank of
	// t.State. It reports whether the write was applied.
	TransitionJob(ctx context.Context, jobID string, t types.JobTransition) (bool, error)
	// AppendJobAttempts appends attempt records to the job.
	AppendJobAttempts(ctx context.Context, jobID string, attempts []types.Attempt) error

	// CreateImage writes img if no record with its ID exists.
	CreateImage(ctx context.Context, img *types.Image) (bool, error)
	// GetImage returns nil, nil when the image does not exist.
	GetImage(ctx context.Context, imageID string) (*types.Image, error)
	// UpdateImage merges u into the image if u.Allows the stored rank.
	UpdateImage(ctx context.Context, imageID string, u types.ImageUpdate) (bool, error)

	Close() error
}
