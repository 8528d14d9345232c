package routes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"frame-diff/internal/diff/frame"
	diffimage "frame-diff/internal/diff/image"
	"frame-diff/internal/myhttp"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

type DiffResponse struct {
	DiffPixelCount uint32  `json:"diffPixelCount"`
	DiffRatio      float64 `json:"diffRatio"`
	IsDifferent    bool    `json:"isDifferent"`
	DiffData       string  `json:"diffData,omitempty"`
}

type diffRequest struct {
	width          uint32
	height         uint32
	colorThreshold float64
	threshold      float64
	strict         bool
	diffImage      bool
}

// Diff compares the raw RGBA frame buffers uploaded as the "baseline" and
// "target" multipart files.
func Diff(maxFrameBytes int64, diffRatioHistogram metric.Float64Histogram) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := myhttp.Logger(r.Context())

		// two frames plus room for the form fields
		r.Body = http.MaxBytesReader(w, r.Body, 2*maxFrameBytes+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			logger.Debug("failed to parse form", "error", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		params, err := parseDiffRequest(r)
		if err != nil {
			logger.Debug("invalid diff request", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		baseline, err := readFormFile(r, "baseline", maxFrameBytes)
		if err != nil {
			logger.Debug("failed to read baseline", "error", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		target, err := readFormFile(r, "target", maxFrameBytes)
		if err != nil {
			logger.Debug("failed to read target", "error", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		var opts []frame.Option
		if params.strict {
			opts = append(opts, frame.WithStrict())
		}

		result, err := frame.NewDetector(params.colorThreshold, params.threshold, opts...).Detect(baseline, target, params.width, params.height)
		if err != nil {
			if errors.Is(err, frame.ErrFrameSize) {
				logger.Info("rejected malformed frame", "error", err)
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			logger.Error("failed to detect difference", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		response := DiffResponse{
			DiffPixelCount: result.DiffPixelCount,
			DiffRatio:      result.DiffRatio,
			IsDifferent:    result.IsDifferent,
		}

		if params.diffImage {
			data, err := renderDiff(baseline, target, params)
			if err != nil {
				// malformed frames in compatible mode have nothing to render
				logger.Debug("skipped diff image", "error", err)
			} else {
				response.DiffData = base64.StdEncoding.EncodeToString(data)
			}
		}

		diffRatioHistogram.Record(r.Context(), result.DiffRatio)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("Failed to encode response", "error", err)
		}
	}
}

func parseDiffRequest(r *http.Request) (*diffRequest, error) {
	width, err := strconv.ParseUint(r.FormValue("width"), 10, 32)
	if err != nil {
		return nil, xerrors.Errorf("invalid width: %w", err)
	}
	height, err := strconv.ParseUint(r.FormValue("height"), 10, 32)
	if err != nil {
		return nil, xerrors.Errorf("invalid height: %w", err)
	}

	params := &diffRequest{
		width:          uint32(width),
		height:         uint32(height),
		colorThreshold: frame.DefaultColorThreshold,
	}

	if v := r.FormValue("colorThreshold"); v != "" {
		if params.colorThreshold, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, xerrors.Errorf("invalid colorThreshold: %w", err)
		}
	}
	if v := r.FormValue("threshold"); v != "" {
		if params.threshold, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, xerrors.Errorf("invalid threshold: %w", err)
		}
	}
	if v := r.FormValue("strict"); v != "" {
		if params.strict, err = strconv.ParseBool(v); err != nil {
			return nil, xerrors.Errorf("invalid strict: %w", err)
		}
	}
	if v := r.FormValue("diffImage"); v != "" {
		if params.diffImage, err = strconv.ParseBool(v); err != nil {
			return nil, xerrors.Errorf("invalid diffImage: %w", err)
		}
	}

	return params, nil
}

func readFormFile(r *http.Request, name string, maxFrameBytes int64) ([]byte, error) {
	file, _, err := r.FormFile(name)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", name, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxFrameBytes+1))
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > maxFrameBytes {
		return nil, xerrors.Errorf("%s exceeds %d bytes", name, maxFrameBytes)
	}

	return data, nil
}

func renderDiff(baseline []byte, target []byte, params *diffRequest) ([]byte, error) {
	baselineImage, err := diffimage.FromPix(baseline, params.width, params.height)
	if err != nil {
		return nil, err
	}
	targetImage, err := diffimage.FromPix(target, params.width, params.height)
	if err != nil {
		return nil, err
	}

	diffResult, err := diffimage.NewPixelDiff(params.colorThreshold).Calculate(baselineImage, targetImage)
	if err != nil {
		return nil, err
	}

	return diffimage.EncodePNG(diffResult.Image)
}
