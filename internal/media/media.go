// Package media turns uploaded photographs into encoded work images.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/penmark/internal/model"
)

var (
	// ErrEmpty is returned for a zero-length upload.
	ErrEmpty = errors.New("empty image")
	// ErrNotImage is returned when the upload is not a supported still image.
	ErrNotImage = errors.New("not a supported image")
)

// supported lists the MIME types the evaluation models accept as stills.
var supported = []string{"image/png", "image/jpeg", "image/webp", "image/gif", "image/heic", "image/heif"}

// Normalizer validates uploads and optionally downscales large photographs.
type Normalizer struct {
	// MaxEdge is the longest allowed side in pixels; 0 keeps the original size.
	MaxEdge int
	// Quality is the JPEG quality used when an image is re-encoded.
	Quality int
}

// DetectMIME sniffs the MIME type of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// Normalize returns data as an EncodedImage. Images whose longest side
// exceeds MaxEdge are resized and re-encoded as JPEG; everything else is
// kept byte for byte.
func (n Normalizer) Normalize(data []byte) (model.EncodedImage, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	mt := DetectMIME(data)
	if !mimetype.EqualsAny(mt, supported...) {
		return "", fmt.Errorf("%w: %s", ErrNotImage, mt)
	}
	if n.MaxEdge <= 0 {
		return model.NewEncodedImage(mt, data), nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Formats imaging cannot decode (webp, heic) are passed through.
		return model.NewEncodedImage(mt, data), nil
	}
	if cfg.Width <= n.MaxEdge && cfg.Height <= n.MaxEdge {
		return model.NewEncodedImage(mt, data), nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	img = imaging.Fit(img, n.MaxEdge, n.MaxEdge, imaging.Lanczos)

	quality := n.Quality
	if quality <= 0 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return model.NewEncodedImage("image/jpeg", buf.Bytes()), nil
}
