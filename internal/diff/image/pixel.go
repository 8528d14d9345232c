package image

import (
	"frame-diff/internal/diff/frame"
	"image"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"
)

var _ Differ = (*PixelDiff)(nil)

type PixelDiff struct {
	colorThreshold float64
}

func NewPixelDiff(colorThreshold float64) *PixelDiff {
	return &PixelDiff{
		colorThreshold,
	}
}

// Calculate renders baseline with every differing pixel painted red when the
// target got brighter and blue when it got darker. Counts match
// frame.DetectDifference over the packed buffers.
func (p *PixelDiff) Calculate(baseline image.Image, target image.Image) (*DiffResult, error) {
	if sameImage(baseline, target) {
		return &DiffResult{
			Image: baseline,
		}, nil
	}

	if baseline.Bounds().Size() != target.Bounds().Size() {
		return nil, xerrors.Errorf("baseline %v, target %v: %w", baseline.Bounds().Size(), target.Bounds().Size(), ErrSizeMismatch)
	}

	baselinePix, width, height := Pix(baseline)
	targetPix, _, _ := Pix(target)

	diff := image.NewNRGBA(image.Rect(0, 0, int(width), int(height)))
	totalPixelCount := uint64(width) * uint64(height)
	if totalPixelCount == 0 {
		return &DiffResult{
			Image: diff,
		}, nil
	}

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	numWorkers := min(runtime.GOMAXPROCS(0), int(height))
	rowsPerWorker := int(height) / numWorkers
	rowBytes := int(width) * frame.BytesPerPixel

	var diffPixelCount int64
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		start := i * rowsPerWorker * rowBytes
		end := start + rowsPerWorker*rowBytes
		if i == numWorkers-1 {
			end = len(baselinePix)
		}

		go func(start int, end int) {
			defer wg.Done()
			p.process(baselinePix[start:end], targetPix[start:end], diff.Pix[start:end], &diffPixelCount)
		}(start, end)
	}

	wg.Wait()

	count := uint32(diffPixelCount)

	return &DiffResult{
		Image:          diff,
		DiffPixelCount: count,
		DiffRatio:      (float64(count) / float64(totalPixelCount)) * 100.0,
	}, nil
}

// sameImage reports pointer identity only; value images may hold slices and
// comparing those through the interface panics.
func sameImage(a image.Image, b image.Image) bool {
	t := reflect.TypeOf(a)
	return t != nil && t.Kind() == reflect.Pointer && t == reflect.TypeOf(b) && a == b
}

func (p *PixelDiff) process(baseline []byte, target []byte, diff []byte, diffPixelCount *int64) {
	var local int64

	for offset := 0; offset+3 < len(baseline); offset += frame.BytesPerPixel {
		br := baseline[offset]
		bg := baseline[offset+1]
		bb := baseline[offset+2]

		tr := target[offset]
		tg := target[offset+1]
		tb := target[offset+2]

		if frame.ColorDelta(br, bg, bb, tr, tg, tb) > p.colorThreshold {
			diff[offset], diff[offset+1], diff[offset+2], diff[offset+3] = p.getDiffColor(br, bg, bb, tr, tg, tb)
			local++
		} else {
			diff[offset] = br
			diff[offset+1] = bg
			diff[offset+2] = bb
			diff[offset+3] = baseline[offset+3]
		}
	}

	atomic.AddInt64(diffPixelCount, local)
}

func (p *PixelDiff) getDiffColor(br uint8, bg uint8, bb uint8, tr uint8, tg uint8, tb uint8) (uint8, uint8, uint8, uint8) {
	baselineBrightness := int(br) + int(bg) + int(bb)
	targetBrightness := int(tr) + int(tg) + int(tb)

	if targetBrightness >= baselineBrightness {
		return 255, 0, 0, 255
	}
	return 0, 0, 255, 255
}
