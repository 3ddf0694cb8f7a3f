package validator

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MaxSide is the longest edge sent to the vision capability.
	MaxSide     = 1024
	jpegQuality = 90
	jpegMime    = "image/jpeg"
)

// Prepared is an image ready to send to the vision capability.
type Prepared struct {
	Data     []byte
	MimeType string
}

// Preprocess decodes data, normalises it to RGB, fits it within MaxSide and
// re-encodes it as JPEG.
func Preprocess(data []byte) (*Prepared, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	img := imaging.Fit(src, MaxSide, MaxSide, imaging.Lanczos)
	// Flatten any alpha channel onto black, the usual scan background.
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.Black)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return &Prepared{Data: buf.Bytes(), MimeType: jpegMime}, nil
}

// Dimensions reads the pixel size from the image header without decoding the
// full image.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return cfg.Width, cfg.Height, nil
}
