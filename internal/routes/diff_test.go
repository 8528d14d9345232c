package routes_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"frame-diff/internal/routes"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	redBlack = []byte{255, 0, 0, 255, 0, 0, 0, 255}
	redWhite = []byte{255, 0, 0, 255, 255, 255, 255, 255}
)

func newDiffRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".rgba")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	request := httptest.NewRequest(http.MethodPost, "/diff", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func TestDiff(t *testing.T) {
	histogram, err := noop.NewMeterProvider().Meter("test").Float64Histogram("frame_diff_ratio")
	if err != nil {
		t.Fatal(err)
	}
	handler := routes.Diff(1<<20, histogram)

	type in struct {
		fields map[string]string
		files  map[string][]byte
	}

	type want struct {
		code     int
		response *routes.DiffResponse
		body     string
	}

	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1"},
				map[string][]byte{"baseline": redBlack, "target": redWhite},
			},
			want{
				http.StatusOK,
				&routes.DiffResponse{DiffPixelCount: 1, DiffRatio: 50.0, IsDifferent: true},
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1", "threshold": "50"},
				map[string][]byte{"baseline": redBlack, "target": redWhite},
			},
			want{
				http.StatusOK,
				&routes.DiffResponse{DiffPixelCount: 1, DiffRatio: 50.0, IsDifferent: false},
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1", "colorThreshold": "1.0"},
				map[string][]byte{"baseline": redBlack, "target": redWhite},
			},
			want{
				http.StatusOK,
				&routes.DiffResponse{},
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1"},
				map[string][]byte{"baseline": redBlack[:7], "target": redWhite},
			},
			want{
				http.StatusOK,
				&routes.DiffResponse{},
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1", "strict": "true"},
				map[string][]byte{"baseline": redBlack[:7], "target": redWhite},
			},
			want{
				http.StatusUnprocessableEntity,
				nil,
				"frame1 has 7 bytes, want 8 for 2x1: frame size does not match dimensions\n",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "0", "height": "5"},
				map[string][]byte{"baseline": redBlack, "target": redWhite},
			},
			want{
				http.StatusOK,
				&routes.DiffResponse{},
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "two", "height": "1"},
				map[string][]byte{"baseline": redBlack, "target": redWhite},
			},
			want{
				http.StatusBadRequest,
				nil,
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1", "colorThreshold": "high"},
				map[string][]byte{"baseline": redBlack, "target": redWhite},
			},
			want{
				http.StatusBadRequest,
				nil,
				"",
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				map[string]string{"width": "2", "height": "1"},
				map[string][]byte{"baseline": redBlack},
			},
			want{
				http.StatusBadRequest,
				nil,
				"",
			},
		},
	}

	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, newDiffRequest(t, in.fields, in.files))

			if diff := cmp.Diff(want.code, recorder.Code); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
			if want.body != "" {
				if diff := cmp.Diff(want.body, recorder.Body.String()); diff != "" {
					t.Errorf("(-want +got):\n%s", diff)
				}
			}
			if want.response == nil {
				return
			}

			var got routes.DiffResponse
			if err := json.NewDecoder(recorder.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want.response, &got, cmpopts.EquateApprox(0, 0.01)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiff_DiffImage(t *testing.T) {
	histogram, err := noop.NewMeterProvider().Meter("test").Float64Histogram("frame_diff_ratio")
	if err != nil {
		t.Fatal(err)
	}
	handler := routes.Diff(1<<20, histogram)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, newDiffRequest(t,
		map[string]string{"width": "2", "height": "1", "diffImage": "true"},
		map[string][]byte{"baseline": redBlack, "target": redWhite},
	))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	var got routes.DiffResponse
	if err := json.NewDecoder(recorder.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}

	data, err := base64.StdEncoding.DecodeString(got.DiffData)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("(0,0)-(2,1)", img.Bounds().String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if r, g, b, _ := img.At(1, 0).RGBA(); r != 0xffff || g != 0 || b != 0 {
		t.Errorf("Expected differing pixel to be red, got %v", img.At(1, 0))
	}
}

func TestDiff_TooLarge(t *testing.T) {
	histogram, err := noop.NewMeterProvider().Meter("test").Float64Histogram("frame_diff_ratio")
	if err != nil {
		t.Fatal(err)
	}
	handler := routes.Diff(4, histogram)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, newDiffRequest(t,
		map[string]string{"width": "2", "height": "1"},
		map[string][]byte{"baseline": redBlack, "target": redWhite},
	))

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "diffRatio") {
		t.Errorf("Expected no result, got %s", recorder.Body.String())
	}
}
