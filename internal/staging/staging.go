package staging

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("staging file not found")

// Area holds uploaded bytes between dispatch and the terminal transition,
// and the permanent copies made after validation.
type Area interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	// Read returns ErrNotFound when key does not exist.
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete is a no-op when key does not exist.
	Delete(ctx context.Context, key string) error
	// Promote copies src to dst on the same backend. src is left in place.
	Promote(ctx context.Context, src, dst string) error
}

// StagingKey is where dispatch stores the upload for jobID.
func StagingKey(jobID, filename string) string {
	return path.Join("staging", jobID+strings.ToLower(filepath.Ext(filename)))
}

// PermanentKey is the permanent location of an accepted image.
func PermanentKey(userID, imageID, filename string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return path.Join("images", userID, imageID+strings.ToLower(filepath.Ext(filename)))
}
