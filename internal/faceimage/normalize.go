package faceimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrInvalidImage is returned when the face blob cannot be decoded.
var ErrInvalidImage = errors.New("faceimage: not a decodable image")

// Normalizer prepares a user selfie for inference: EXIF orientation is
// applied, the image is fit into MaxDimension and re-encoded as JPEG.
type Normalizer struct {
	MaxDimension int
	Quality      int
}

// NewNormalizer returns a Normalizer; non-positive values pick defaults.
func NewNormalizer(maxDimension int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = 1024
	}
	return &Normalizer{MaxDimension: maxDimension, Quality: 90}
}

// Normalize returns the JPEG bytes and their MIME type. Formats the decoder
// does not know (WebP, HEIC, AVIF) are returned unchanged with an empty MIME
// type; inference accepts them as they are.
func (n *Normalizer) Normalize(data []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if errors.Is(err, image.ErrFormat) {
		return data, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	var out image.Image = img
	if bounds.Dx() > n.MaxDimension || bounds.Dy() > n.MaxDimension {
		out = imaging.Fit(img, n.MaxDimension, n.MaxDimension, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(n.Quality)); err != nil {
		return nil, "", fmt.Errorf("faceimage: encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
