package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahirjain10/brainscan-workers/internal/aws"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

// S3Area stores files as objects in a single bucket.
type S3Area struct {
	svc *aws.S3Service
}

func NewS3Area(svc *aws.S3Service) *S3Area {
	return &S3Area{svc: svc}
}

func (a *S3Area) Name() string { return "s3:" + a.svc.Bucket() }

func (a *S3Area) Put(ctx context.Context, key string, data []byte) error {
	return a.svc.Upload(ctx, key, data, utils.MimeTypeFor(key))
}

func (a *S3Area) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := a.svc.Download(ctx, key)
	if err != nil {
		if errors.Is(err, aws.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return data, nil
}

func (a *S3Area) Delete(ctx context.Context, key string) error {
	return a.svc.Delete(ctx, key)
}

func (a *S3Area) Promote(ctx context.Context, src, dst string) error {
	if err := a.svc.Copy(ctx, src, dst); err != nil {
		if errors.Is(err, aws.ErrObjectNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return err
	}
	return nil
}
