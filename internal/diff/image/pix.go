package image

import (
	"frame-diff/internal/diff/frame"
	"image"
	"image/color"
)

// Pix returns img as a packed, non-premultiplied RGBA frame buffer. Packed
// NRGBA images and opaque packed RGBA images are returned without copying, so
// the result must be treated as read-only.
func Pix(img image.Image) ([]byte, uint32, uint32) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	size := width * height * frame.BytesPerPixel

	switch src := img.(type) {
	case *image.NRGBA:
		if src.Stride == width*frame.BytesPerPixel && len(src.Pix) >= size {
			return src.Pix[:size], uint32(width), uint32(height)
		}
	case *image.RGBA:
		if src.Stride == width*frame.BytesPerPixel && len(src.Pix) >= size && src.Opaque() {
			return src.Pix[:size], uint32(width), uint32(height)
		}
	}

	pix := make([]byte, size)

	if src, ok := img.(*image.YCbCr); ok {
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				pix[i], pix[i+1], pix[i+2], pix[i+3] = ycbcrToRGBA(src.Y[yi], src.Cb[ci], src.Cr[ci])
				i += frame.BytesPerPixel
			}
		}
		return pix, uint32(width), uint32(height)
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			pix[i] = c.R
			pix[i+1] = c.G
			pix[i+2] = c.B
			pix[i+3] = c.A
			i += frame.BytesPerPixel
		}
	}

	return pix, uint32(width), uint32(height)
}

// FromPix wraps a frame buffer as an image without copying it.
func FromPix(pix []byte, width uint32, height uint32) (*image.NRGBA, error) {
	if err := frame.CheckSize(pix, width, height); err != nil {
		return nil, err
	}

	return &image.NRGBA{
		Pix:    pix,
		Stride: int(width) * frame.BytesPerPixel,
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}, nil
}

func ycbcrToRGBA(y uint8, cb uint8, cr uint8) (uint8, uint8, uint8, uint8) {
	// ITU-R BT.601 full range as used by JFIF:
	// R = Y + 1.402 * (Cr - 128)
	// G = Y - 0.344136 * (Cb - 128) - 0.714136 * (Cr - 128)
	// B = Y + 1.772 * (Cb - 128)
	// with coefficients scaled by 2^16, rounded the same way as color.YCbCrToRGB.
	const (
		crToR = 91881
		cbToG = 22554
		crToG = 46802
		cbToB = 116130
	)

	yy := int32(y) * 0x10101
	cb1 := int32(cb) - 128
	cr1 := int32(cr) - 128

	return clamp((yy + crToR*cr1) >> 16), clamp((yy - cbToG*cb1 - crToG*cr1) >> 16), clamp((yy + cbToB*cb1) >> 16), 255
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	} else if v > 255 {
		return 255
	}
	return uint8(v)
}
