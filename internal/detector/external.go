package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultIdleTimeout is how long the external service may sit unused before
// it is shut down. It is restarted on the next frame.
const DefaultIdleTimeout = 30 * time.Second

// ExternalDetector implements Detector by talking to a model service
// subprocess. Each request is a 4-byte big-endian length followed by a JPEG
// frame on stdin; each response is one JSON line on stdout.
type ExternalDetector struct {
	command     []string
	idleTimeout time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	idleTimer *time.Timer
}

// NewExternalDetector creates a detector for cfg.Command. The process is
// started lazily on first detection.
func NewExternalDetector(cfg Config) (*ExternalDetector, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("external: no command configured")
	}
	if _, err := exec.LookPath(cfg.Command[0]); err != nil {
		return nil, fmt.Errorf("external: %w", err)
	}
	return &ExternalDetector{
		command:     append([]string(nil), cfg.Command...),
		idleTimeout: DefaultIdleTimeout,
	}, nil
}

// Detect sends frame to the service and parses its answer.
func (d *ExternalDetector) Detect(frame *gocv.Mat) (Result, error) {
	if frame == nil || frame.Empty() {
		return Result{}, ErrEmptyFrame
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return Result{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return Result{}, err
	}

	res, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		// A broken pipe leaves the protocol out of sync; start fresh next time.
		d.shutdown()
		return Result{}, err
	}

	d.resetIdleTimer()
	return res, nil
}

func (d *ExternalDetector) roundTrip(data []byte) (Result, error) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return Result{}, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return Result{}, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(line)
}

// Close shuts down the service process.
func (d *ExternalDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ExternalDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.command[0], d.command[1:]...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start detection service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	return nil
}

func (d *ExternalDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	return err
}

func (d *ExternalDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// jsonFace is one face in the service response.
type jsonFace struct {
	X         int      `json:"x"`
	Y         int      `json:"y"`
	W         int      `json:"w"`
	H         int      `json:"h"`
	Score     float64  `json:"score"`
	GazeScore *float64 `json:"gaze_score,omitempty"`
	Looking   bool     `json:"looking"`
}

type jsonResponse struct {
	Faces      []jsonFace `json:"faces"`
	NumLooking *int       `json:"num_looking,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// parseResponse decodes one response line. When num_looking is absent it is
// derived from the per-face looking flags.
func parseResponse(line []byte) (Result, error) {
	var resp jsonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Result{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("detection service: %s", resp.Error)
	}

	faces := make([]Face, len(resp.Faces))
	for i, f := range resp.Faces {
		gaze := -1.0
		if f.GazeScore != nil {
			gaze = *f.GazeScore
		}
		faces[i] = Face{
			Box:       image.Rect(f.X, f.Y, f.X+f.W, f.Y+f.H),
			Score:     f.Score,
			GazeScore: gaze,
			Looking:   f.Looking,
		}
	}

	res := Result{Faces: faces, NumLooking: countLooking(faces)}
	if resp.NumLooking != nil {
		res.NumLooking = max(*resp.NumLooking, 0)
	}
	return res, nil
}
