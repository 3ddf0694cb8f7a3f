package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathUtil(t *testing.T) {
	base := t.TempDir()

	p, err := PathUtil(base, "staging/user-1/scan.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "staging", "user-1", "scan.png"), p)

	info, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = PathUtil(base, "../outside.png")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("read tcp: i/o timeout"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("invalid image"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientError(tt.err), "%v", tt.err)
	}
}

func TestIsFatalError(t *testing.T) {
	assert.True(t, IsFatalError(errors.New("Exception (504) Reason: \"channel closed\"")))
	assert.True(t, IsFatalError(errors.New("AccessDenied: Access Denied")))
	assert.False(t, IsFatalError(errors.New("timeout")))
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", MimeTypeFor("scan.JPG"))
	assert.Equal(t, "image/png", MimeTypeFor("a/b/scan.png"))
	assert.Equal(t, "application/dicom", MimeTypeFor("scan.dcm"))
	assert.Equal(t, DefaultMimeType, MimeTypeFor("scan"))

	assert.True(t, AllowedExtension("x.tiff"))
	assert.False(t, AllowedExtension("x.exe"))
}
