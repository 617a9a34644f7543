package storage

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/disintegration/imaging"

	"labelflow/internal/lifecycle"
)

// NormalizedImage is an upload re-encoded into a servable format.
type NormalizedImage struct {
	Data      []byte
	Extension string
	Width     int
	Height    int
}

// NormalizeImage decodes an uploaded image, applies EXIF orientation, bounds
// it to maxDim on its longest side and re-encodes it. JPEG uploads stay JPEG;
// everything else becomes PNG.
func NormalizeImage(r io.Reader, filename string, maxDim int) (NormalizedImage, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return NormalizedImage{}, fmt.Errorf("%w: unreadable image %q: %v", lifecycle.ErrInvalidInput, filename, err)
	}
	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	format := imaging.PNG
	ext := ".png"
	if f, err := imaging.FormatFromFilename(strings.ToLower(filename)); err == nil && f == imaging.JPEG {
		format = imaging.JPEG
		ext = ".jpg"
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return NormalizedImage{}, fmt.Errorf("encode image: %w", err)
	}
	nb := img.Bounds()
	return NormalizedImage{Data: buf.Bytes(), Extension: ext, Width: nb.Dx(), Height: nb.Dy()}, nil
}
