package image

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/xerrors"
)

var ErrSizeMismatch = xerrors.New("image sizes do not match")

type DiffResult struct {
	Image          image.Image
	DiffPixelCount uint32
	DiffRatio      float64
}

type Differ interface {
	Calculate(baseline image.Image, target image.Image) (*DiffResult, error)
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return nil, xerrors.Errorf("failed to encode diff image: %w", err)
	}
	return buffer.Bytes(), nil
}
