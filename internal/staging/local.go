package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

// LocalArea stores files under a base directory on local disk.
type LocalArea struct {
	base string
}

func NewLocalArea(base string) (*LocalArea, error) {
	if err := os.MkdirAll(base, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", base, err)
	}
	return &LocalArea{base: base}, nil
}

func (a *LocalArea) Name() string { return "local:" + a.base }

func (a *LocalArea) Put(_ context.Context, key string, data []byte) error {
	fp, err := utils.PathUtil(a.base, key)
	if err != nil {
		return fmt.Errorf("construct staging path: %w", err)
	}
	if err := os.WriteFile(fp, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", fp, err)
	}
	return nil
}

func (a *LocalArea) Read(_ context.Context, key string) ([]byte, error) {
	fp, err := utils.ResolvePath(a.base, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read %q: %w", fp, err)
	}
	return data, nil
}

func (a *LocalArea) Delete(_ context.Context, key string) error {
	fp, err := utils.ResolvePath(a.base, key)
	if err != nil {
		return err
	}
	if err := os.Remove(fp); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove %q: %w", fp, err)
	}
	log.Debug().Str("path", fp).Msg("Removed local file")
	return nil
}

func (a *LocalArea) Promote(ctx context.Context, src, dst string) error {
	data, err := a.Read(ctx, src)
	if err != nil {
		return err
	}
	return a.Put(ctx, dst, data)
}
