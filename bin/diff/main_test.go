package main

import (
	"context"
	"encoding/json"
	"errors"
	"frame-diff/internal/diff/frame"
	"frame-diff/internal/retry"
	"frame-diff/internal/storage"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeFrames(t *testing.T, directory string, baseline []byte, target []byte) (string, string) {
	t.Helper()

	baselinePath := filepath.Join(directory, "baseline.rgba")
	targetPath := filepath.Join(directory, "target.rgba")
	if err := os.WriteFile(baselinePath, baseline, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(targetPath, target, 0644); err != nil {
		t.Fatal(err)
	}
	return baselinePath, targetPath
}

func newDiffer(t *testing.T, directory string, opts ...frame.Option) *Differ {
	t.Helper()

	s, err := storage.New(context.Background(), storage.BackendFile, directory, "")
	if err != nil {
		t.Fatal(err)
	}
	return &Differ{
		Storage:  s,
		Detector: frame.NewDetector(frame.DefaultColorThreshold, 0, opts...),
		Width:    2,
		Height:   1,
		Now: func() time.Time {
			return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		},
	}
}

func TestDiffer_Compare(t *testing.T) {
	directory := t.TempDir()
	baselinePath, targetPath := writeFrames(t, directory,
		[]byte{255, 0, 0, 255, 0, 0, 0, 255},
		[]byte{255, 0, 0, 255, 255, 255, 255, 255},
	)

	got, err := newDiffer(t, directory).Compare(context.Background(), baselinePath, targetPath)
	if err != nil {
		t.Fatal(err)
	}
	want := &DiffOutput{DiffPixelCount: 1, DiffRatio: 50.0, IsDifferent: true}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 0.01)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDiffer_Compare_DiffImage(t *testing.T) {
	directory := t.TempDir()
	baselinePath, targetPath := writeFrames(t, directory,
		[]byte{255, 0, 0, 255, 0, 0, 0, 255},
		[]byte{255, 0, 0, 255, 255, 255, 255, 255},
	)

	differ := newDiffer(t, directory)
	differ.DiffImage = true
	got, err := differ.Compare(context.Background(), baselinePath, targetPath)
	if err != nil {
		t.Fatal(err)
	}

	wantPath := filepath.Join(directory, storage.DiffKey(baselinePath, targetPath, differ.Now()))
	if diff := cmp.Diff(wantPath, got.DiffPath); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	f, err := os.Open(got.DiffPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b, _ := img.At(1, 0).RGBA(); r != 0xffff || g != 0 || b != 0 {
		t.Errorf("Expected differing pixel to be red, got %v", img.At(1, 0))
	}
}

func TestDiffer_Compare_SizeMismatch(t *testing.T) {
	directory := t.TempDir()
	baselinePath, targetPath := writeFrames(t, directory,
		[]byte{255, 0, 0, 255, 0, 0, 0},
		[]byte{255, 0, 0, 255, 255, 255, 255, 255},
	)

	differ := newDiffer(t, directory)
	differ.DiffImage = true
	got, err := differ.Compare(context.Background(), baselinePath, targetPath)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&DiffOutput{}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	_, err = newDiffer(t, directory, frame.WithStrict()).Compare(context.Background(), baselinePath, targetPath)
	if !errors.Is(err, frame.ErrFrameSize) {
		t.Errorf("Expected ErrFrameSize, got %v", err)
	}
}

func TestDiffer_Compare_MissingFrame(t *testing.T) {
	directory := t.TempDir()

	_, err := newDiffer(t, directory).Compare(context.Background(), filepath.Join(directory, "a"), filepath.Join(directory, "b"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestCallback(t *testing.T) {
	attempts := 0
	var got DiffOutput
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if attempts == 1 {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	want := DiffOutput{DiffPixelCount: 1, DiffRatio: 50.0, IsDifferent: true}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	if err := callback(context.Background(), server.URL, data, retry.NewDefaultRetryOn()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, attempts); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
