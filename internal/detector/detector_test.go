package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

const epsilon = 1e-9

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantFaces   int
		wantLooking int
		wantErr     bool
	}{
		{
			name:      "no faces",
			line:      `{"faces": []}`,
			wantFaces: 0,
		},
		{
			name:        "looking derived from faces",
			line:        `{"faces": [{"x": 1, "y": 2, "w": 10, "h": 10, "score": 0.9, "looking": true}, {"x": 20, "y": 2, "w": 10, "h": 10, "score": 0.8}]}`,
			wantFaces:   2,
			wantLooking: 1,
		},
		{
			name:        "explicit num_looking wins",
			line:        `{"faces": [{"x": 1, "y": 2, "w": 10, "h": 10}], "num_looking": 3}`,
			wantFaces:   1,
			wantLooking: 3,
		},
		{
			name:    "service error",
			line:    `{"error": "model not loaded"}`,
			wantErr: true,
		},
		{
			name:    "garbage",
			line:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseResponse([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Count() != tt.wantFaces {
				t.Errorf("Count() = %d, want %d", res.Count(), tt.wantFaces)
			}
			if res.NumLooking != tt.wantLooking {
				t.Errorf("NumLooking = %d, want %d", res.NumLooking, tt.wantLooking)
			}
		})
	}
}

func TestParseResponse_Box(t *testing.T) {
	res, err := parseResponse([]byte(`{"faces": [{"x": 5, "y": 6, "w": 30, "h": 40, "score": 0.7, "gaze_score": 0.4}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := res.Faces[0]
	if want := image.Rect(5, 6, 35, 46); f.Box != want {
		t.Errorf("Box = %v, want %v", f.Box, want)
	}
	if math.Abs(f.GazeScore-0.4) > epsilon {
		t.Errorf("GazeScore = %f, want 0.4", f.GazeScore)
	}
}

func TestExpandRect(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)

	t.Run("grows on all sides", func(t *testing.T) {
		got := expandRect(image.Rect(100, 100, 200, 200), 0.2, bounds)
		if want := image.Rect(80, 80, 220, 220); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("clipped to frame", func(t *testing.T) {
		got := expandRect(image.Rect(0, 0, 100, 100), 0.2, bounds)
		if want := image.Rect(0, 0, 120, 120); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestScaleRect(t *testing.T) {
	got := scaleRect(image.Rect(10, 20, 30, 40), 2)
	if want := image.Rect(20, 40, 60, 80); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSigmoid(t *testing.T) {
	if got := sigmoid(0); math.Abs(got-0.5) > epsilon {
		t.Errorf("sigmoid(0) = %f, want 0.5", got)
	}
	if sigmoid(6) < 0.99 || sigmoid(-6) > 0.01 {
		t.Error("sigmoid does not saturate")
	}
}

func TestBoxColor(t *testing.T) {
	tests := []struct {
		name string
		face Face
		want string
	}{
		{"no gaze", Face{GazeScore: -1}, "away"},
		{"looking", Face{GazeScore: 0.7, Looking: true}, "looking"},
		{"unsure", Face{GazeScore: 0.5}, "unsure"},
		{"away", Face{GazeScore: 0.1}, "away"},
	}
	names := map[any]string{colorLooking: "looking", colorUnsure: "unsure", colorAway: "away"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := names[boxColor(tt.face, 0.6)]; got != tt.want {
				t.Errorf("boxColor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.onnx")

	t.Run("unknown type", func(t *testing.T) {
		if _, err := New("retina", DefaultConfig()); err == nil {
			t.Fatal("expected error for unknown type")
		}
	})

	t.Run("mock", func(t *testing.T) {
		d, err := New(TypeMock, DefaultConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := d.(*MockDetector); !ok {
			t.Errorf("got %T, want *MockDetector", d)
		}
	})

	for _, kind := range []string{TypeYuNet, TypeGaze, TypeHaar} {
		t.Run(kind+" missing model", func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ModelPath = missing
			cfg.GazeModelPath = missing
			cfg.CascadePath = missing

			_, err := New(kind, cfg)
			if !errors.Is(err, ErrModelNotFound) {
				t.Errorf("got %v, want ErrModelNotFound", err)
			}
		})
	}

	t.Run("external without command", func(t *testing.T) {
		if _, err := New(TypeExternal, DefaultConfig()); err == nil {
			t.Fatal("expected error without command")
		}
	})
}

func TestMockDetector(t *testing.T) {
	t.Run("returns configured faces", func(t *testing.T) {
		m := NewMockDetector()
		m.SetFaces(3, 1)

		res, err := m.Detect(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Count() != 3 || res.NumLooking != 1 {
			t.Errorf("got %d faces, %d looking; want 3 and 1", res.Count(), res.NumLooking)
		}
	})

	t.Run("sequence then sticky last", func(t *testing.T) {
		m := NewMockDetector()
		m.SetSequence(FacesResult(0, 0), FacesResult(2, 0))

		var counts []int
		for i := 0; i < 4; i++ {
			res, _ := m.Detect(nil)
			counts = append(counts, res.Count())
		}
		want := []int{0, 2, 2, 2}
		for i := range want {
			if counts[i] != want[i] {
				t.Errorf("call %d: got %d faces, want %d", i, counts[i], want[i])
			}
		}
		if m.Calls() != 4 {
			t.Errorf("Calls() = %d, want 4", m.Calls())
		}
	})

	t.Run("returns error", func(t *testing.T) {
		m := NewMockDetector()
		m.SetError(errors.New("camera glitch"))
		if _, err := m.Detect(nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("close", func(t *testing.T) {
		m := NewMockDetector()
		if err := m.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if !m.Closed() {
			t.Error("Closed() = false after Close")
		}
	})
}

func TestFacesResult(t *testing.T) {
	res := FacesResult(2, 5)
	if res.NumLooking != 2 {
		t.Errorf("NumLooking = %d, want capped at 2", res.NumLooking)
	}
	if res.Faces[0].Box.Overlaps(res.Faces[1].Box) {
		t.Error("synthetic faces overlap")
	}
}

// TestHelperProcess is not a real test. It acts as the external detection
// service when run as a subprocess by TestExternalDetector.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("EYESOFF_WANT_HELPER_PROCESS") != "1" {
		return
	}
	in := bufio.NewReader(os.Stdin)
	for {
		var n uint32
		if err := binary.Read(in, binary.BigEndian, &n); err != nil {
			os.Exit(0)
		}
		if _, err := io.CopyN(io.Discard, in, int64(n)); err != nil {
			os.Exit(1)
		}
		fmt.Println(`{"faces": [{"x": 0, "y": 0, "w": 50, "h": 50, "score": 0.9, "looking": true}, {"x": 60, "y": 0, "w": 50, "h": 50, "score": 0.9}]}`)
	}
}

func TestExternalDetector(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}
	t.Setenv("EYESOFF_WANT_HELPER_PROCESS", "1")

	d, err := NewExternalDetector(Config{Command: []string{os.Args[0], "-test.run=TestHelperProcess"}})
	if err != nil {
		t.Fatalf("NewExternalDetector() error = %v", err)
	}
	defer d.Close()

	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for i := 0; i < 2; i++ {
		res, err := d.Detect(&frame)
		if err != nil {
			t.Fatalf("Detect() #%d error = %v", i, err)
		}
		if res.Count() != 2 || res.NumLooking != 1 {
			t.Errorf("Detect() #%d = %d faces, %d looking; want 2 and 1", i, res.Count(), res.NumLooking)
		}
	}
}

func TestExternalDetector_EmptyFrame(t *testing.T) {
	d := &ExternalDetector{command: []string{"true"}}
	if _, err := d.Detect(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("got %v, want ErrEmptyFrame", err)
	}
}
