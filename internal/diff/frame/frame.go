// Package frame counts differing pixels between two raw RGBA frame buffers.
//
// A frame buffer is width*height*4 bytes, row-major, without padding. The
// alpha byte of every pixel is ignored.
package frame

import "math"

const (
	BytesPerPixel = 4

	// DefaultColorThreshold is the tolerance hosts usually pass. The counting
	// functions never assume it.
	DefaultColorThreshold = 0.1
)

// ColorDelta returns the largest normalized per-channel difference of two
// RGB triples, in [0, 1].
func ColorDelta(r1 uint8, g1 uint8, b1 uint8, r2 uint8, g2 uint8, b2 uint8) float64 {
	dr := channelDelta(r1, r2)
	dg := channelDelta(g1, g2)
	db := channelDelta(b1, b2)

	return max(dr, dg, db)
}

func channelDelta(c1 uint8, c2 uint8) float64 {
	if c1 > c2 {
		return float64(c1-c2) / 255.0
	}
	return float64(c2-c1) / 255.0
}

// DetectDifference returns how many pixels have a ColorDelta strictly greater
// than colorThreshold. If either buffer is not exactly width*height*4 bytes
// long, or width*height exceeds MaxPixels, it returns 0.
func DetectDifference(frame1 []byte, frame2 []byte, width uint32, height uint32, colorThreshold float64) uint32 {
	if !sized(frame1, width, height) || !sized(frame2, width, height) {
		return 0
	}
	return count(frame1, frame2, colorThreshold)
}

// DetectDifferenceRatio returns the percentage of differing pixels. Zero-area
// frames yield 0 without reading either buffer.
func DetectDifferenceRatio(frame1 []byte, frame2 []byte, width uint32, height uint32, colorThreshold float64) float64 {
	totalPixels := pixelCount(width, height)
	if totalPixels == 0 {
		return 0.0
	}

	diffCount := DetectDifference(frame1, frame2, width, height, colorThreshold)
	return ratio(diffCount, totalPixels)
}

func count(frame1 []byte, frame2 []byte, colorThreshold float64) uint32 {
	var diffCount uint32

	for idx := 0; idx+3 < len(frame1); idx += BytesPerPixel {
		// frame[idx+3] is alpha
		delta := ColorDelta(
			frame1[idx], frame1[idx+1], frame1[idx+2],
			frame2[idx], frame2[idx+1], frame2[idx+2],
		)
		if delta > colorThreshold {
			diffCount++
		}
	}

	return diffCount
}

func ratio(diffCount uint32, totalPixels uint64) float64 {
	return (float64(diffCount) / float64(totalPixels)) * 100.0
}

// 64-bit so that a large width*height can not wrap into a plausible length.
func pixelCount(width uint32, height uint32) uint64 {
	return uint64(width) * uint64(height)
}

// MaxPixels bounds width*height so that the uint32 difference count can not
// wrap and width*height*4 fits in an int. Larger frames never match.
const MaxPixels = min(math.MaxUint32, math.MaxInt/BytesPerPixel)

func expectedLen(width uint32, height uint32) (uint64, bool) {
	pixels := pixelCount(width, height)
	if pixels > MaxPixels {
		return 0, false
	}
	return pixels * BytesPerPixel, true
}

func sized(frame []byte, width uint32, height uint32) bool {
	want, ok := expectedLen(width, height)
	return ok && uint64(len(frame)) == want
}
