package frame

import (
	"golang.org/x/xerrors"
)

// ErrFrameSize is wrapped by every error reporting a buffer whose length is
// not width*height*4.
var ErrFrameSize = xerrors.New("frame size does not match dimensions")

// Validate reports the first of frame1 and frame2 whose length is not
// width*height*4.
func Validate(frame1 []byte, frame2 []byte, width uint32, height uint32) error {
	if err := checkSize("frame1", frame1, width, height); err != nil {
		return err
	}
	return checkSize("frame2", frame2, width, height)
}

func CheckSize(frame []byte, width uint32, height uint32) error {
	return checkSize("frame", frame, width, height)
}

func checkSize(name string, frame []byte, width uint32, height uint32) error {
	want, ok := expectedLen(width, height)
	if !ok {
		return xerrors.Errorf("%dx%d %s is too large: %w", width, height, name, ErrFrameSize)
	}
	if uint64(len(frame)) != want {
		return xerrors.Errorf("%s has %d bytes, want %d for %dx%d: %w", name, len(frame), want, width, height, ErrFrameSize)
	}
	return nil
}

// CountDifference is DetectDifference that reports malformed buffers instead
// of returning 0.
func CountDifference(frame1 []byte, frame2 []byte, width uint32, height uint32, colorThreshold float64) (uint32, error) {
	if err := Validate(frame1, frame2, width, height); err != nil {
		return 0, err
	}
	return count(frame1, frame2, colorThreshold), nil
}

// DifferenceRatio is DetectDifferenceRatio that reports malformed buffers.
// Zero-area frames are still valid when both buffers are empty.
func DifferenceRatio(frame1 []byte, frame2 []byte, width uint32, height uint32, colorThreshold float64) (float64, error) {
	diffCount, err := CountDifference(frame1, frame2, width, height, colorThreshold)
	if err != nil {
		return 0.0, err
	}

	totalPixels := pixelCount(width, height)
	if totalPixels == 0 {
		return 0.0, nil
	}
	return ratio(diffCount, totalPixels), nil
}
