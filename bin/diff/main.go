package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"frame-diff/internal/diff/frame"
	diffimage "frame-diff/internal/diff/image"
	"frame-diff/internal/env"
	"frame-diff/internal/retry"
	"frame-diff/internal/storage"
	"log"
	"math"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type DiffOutput struct {
	DiffPath       string  `json:"diffPath,omitempty"`
	DiffPixelCount uint32  `json:"diffPixelCount"`
	DiffRatio      float64 `json:"diffRatio"`
	IsDifferent    bool    `json:"isDifferent"`
}

type Differ struct {
	Storage   storage.Storage
	Detector  *frame.Detector
	Width     uint32
	Height    uint32
	DiffImage bool
	Now       func() time.Time
}

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	var width uint
	var height uint
	var colorThreshold float64
	var threshold float64
	var strict bool
	var diffImage bool
	var storageBackend string
	var directory string
	var bucket string
	var callbackURL string
	var retryOn string
	flag.UintVar(&width, "width", env.OrDefault("WIDTH", uint(0)), "Frame width in pixels")
	flag.UintVar(&height, "height", env.OrDefault("HEIGHT", uint(0)), "Frame height in pixels")
	flag.Float64Var(&colorThreshold, "color-threshold", env.OrDefault("COLOR_THRESHOLD", frame.DefaultColorThreshold), "Per-pixel color distance tolerance (0.0-1.0)")
	flag.Float64Var(&threshold, "threshold", env.OrDefault("THRESHOLD", 0.0), "Percentage of differing pixels above which frames are different")
	flag.BoolVar(&strict, "strict", env.OrDefault("STRICT", false), "Fail on frames whose size does not match width and height")
	flag.BoolVar(&diffImage, "diff-image", env.OrDefault("DIFF_IMAGE", false), "Store a PNG visualizing the differing pixels")
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", storage.BackendFile), "Storage backend (file or s3)")
	flag.StringVar(&directory, "directory", env.OrDefault("DIRECTORY", "/tmp"), "Output directory")
	flag.StringVar(&bucket, "bucket", env.OrDefault("S3_BUCKET", ""), "S3 bucket")
	flag.StringVar(&callbackURL, "callback-url", env.OrDefault("CALLBACK_URL", ""), "Callback URL to send results to")
	flag.StringVar(&retryOn, "retry-on", env.OrDefault("RETRY_ON", retry.DefaultRetryOn), "Conditions the callback is retried on")

	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("baseline, target not specified")
	}
	if width > math.MaxUint32 || height > math.MaxUint32 {
		log.Fatalf("frame dimensions %dx%d out of range", width, height)
	}

	ctx := context.Background()
	s, err := storage.New(ctx, storageBackend, directory, bucket)
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	var opts []frame.Option
	if strict {
		opts = append(opts, frame.WithStrict())
	}

	differ := &Differ{
		Storage:   s,
		Detector:  frame.NewDetector(colorThreshold, threshold, opts...),
		Width:     uint32(width),
		Height:    uint32(height),
		DiffImage: diffImage,
		Now:       time.Now,
	}

	output, err := differ.Compare(ctx, args[0], args[1])
	if err != nil {
		log.Fatalf("Failed to compare frames: %v", err)
	}

	j, err := json.Marshal(output)
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}

	if callbackURL == "" {
		fmt.Println(string(j))
	} else {
		on, err := retry.NewRetryOnFromString(retryOn)
		if err != nil {
			log.Fatalf("Failed to parse retry conditions: %v", err)
		}
		if err := callback(ctx, callbackURL, j, on); err != nil {
			log.Fatalf("Failed to send callback: %v", err)
		}
	}
}

func (d *Differ) Compare(ctx context.Context, baselinePath string, targetPath string) (*DiffOutput, error) {
	var baseline []byte
	var target []byte

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		data, err := d.Storage.Get(egCtx, baselinePath)
		if err != nil {
			return xerrors.Errorf("failed to load baseline frame: %w", err)
		}
		baseline = data
		return nil
	})
	eg.Go(func() error {
		data, err := d.Storage.Get(egCtx, targetPath)
		if err != nil {
			return xerrors.Errorf("failed to load target frame: %w", err)
		}
		target = data
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result, err := d.Detector.Detect(baseline, target, d.Width, d.Height)
	if err != nil {
		return nil, xerrors.Errorf("failed to detect difference: %w", err)
	}

	output := &DiffOutput{
		DiffPixelCount: result.DiffPixelCount,
		DiffRatio:      result.DiffRatio,
		IsDifferent:    result.IsDifferent,
	}

	if d.DiffImage {
		diffPath, err := d.storeDiffImage(ctx, baselinePath, targetPath, baseline, target)
		if err != nil {
			return nil, err
		}
		output.DiffPath = diffPath
	}

	return output, nil
}

func (d *Differ) storeDiffImage(ctx context.Context, baselinePath string, targetPath string, baseline []byte, target []byte) (string, error) {
	baselineImage, err := diffimage.FromPix(baseline, d.Width, d.Height)
	if err != nil {
		// malformed frames have nothing to render
		log.Printf("Skipped diff image: %v", err)
		return "", nil
	}
	targetImage, err := diffimage.FromPix(target, d.Width, d.Height)
	if err != nil {
		log.Printf("Skipped diff image: %v", err)
		return "", nil
	}

	var differ diffimage.Differ = diffimage.NewPixelDiff(d.Detector.ColorThreshold())
	diffResult, err := differ.Calculate(baselineImage, targetImage)
	if err != nil {
		return "", xerrors.Errorf("failed to render diff image: %w", err)
	}

	data, err := diffimage.EncodePNG(diffResult.Image)
	if err != nil {
		return "", err
	}

	diffPath, err := d.Storage.Put(ctx, storage.DiffKey(baselinePath, targetPath, d.Now()), data)
	if err != nil {
		return "", xerrors.Errorf("failed to save diff image: %w", err)
	}
	return diffPath, nil
}

func callback(ctx context.Context, callbackURL string, data []byte, retryOn *retry.On) error {
	request, err := http.NewRequestWithContext(ctx, "PATCH", callbackURL, bytes.NewReader(data))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &retry.Transport{
			Base:          http.DefaultTransport,
			RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
			RetryOn:       retryOn,
		},
	}

	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return xerrors.Errorf("callback responded with %s", response.Status)
	}

	return nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <baseline> <target>\n", os.Args[0])
		flag.PrintDefaults()
	}
}
