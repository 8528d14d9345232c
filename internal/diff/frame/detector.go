package frame

type Result struct {
	DiffPixelCount uint32  `json:"diffPixelCount"`
	DiffRatio      float64 `json:"diffRatio"`
	IsDifferent    bool    `json:"isDifferent"`
}

type Detector struct {
	colorThreshold float64
	threshold      float64
	strict         bool
}

type Option func(*Detector)

// WithStrict makes Detect return ErrFrameSize for malformed buffers instead of
// an all-zero Result.
func WithStrict() Option {
	return func(d *Detector) {
		d.strict = true
	}
}

// NewDetector returns a Detector that counts pixels whose ColorDelta exceeds
// colorThreshold and flags a frame pair as different once the percentage of
// such pixels exceeds threshold.
func NewDetector(colorThreshold float64, threshold float64, opts ...Option) *Detector {
	d := &Detector{
		colorThreshold: colorThreshold,
		threshold:      threshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) ColorThreshold() float64 {
	return d.colorThreshold
}

func (d *Detector) Threshold() float64 {
	return d.threshold
}

func (d *Detector) Detect(frame1 []byte, frame2 []byte, width uint32, height uint32) (*Result, error) {
	var diffCount uint32
	if d.strict {
		c, err := CountDifference(frame1, frame2, width, height, d.colorThreshold)
		if err != nil {
			return nil, err
		}
		diffCount = c
	} else {
		diffCount = DetectDifference(frame1, frame2, width, height, d.colorThreshold)
	}

	diffRatio := 0.0
	if totalPixels := pixelCount(width, height); totalPixels > 0 {
		diffRatio = ratio(diffCount, totalPixels)
	}

	return &Result{
		DiffPixelCount: diffCount,
		DiffRatio:      diffRatio,
		IsDifferent:    diffRatio > d.threshold,
	}, nil
}
