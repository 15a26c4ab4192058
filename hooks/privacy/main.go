// Command privacy is an EyesOff alert hook that mutes audio output and hides
// application windows.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Request is the alert hook input read from stdin.
type Request struct {
	Action string          `json:"action"`
	Event  Event           `json:"event"`
	Config json.RawMessage `json:"config"`
}

// Event is the alert that triggered the hook.
type Event struct {
	Kind      string `json:"kind"`
	FaceCount int    `json:"face_count"`
}

// Response is written to stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type actionHandler func() error

var actionHandlers = map[string]actionHandler{
	"mute":         mute,
	"hide-windows": hideWindows,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	if err := handler(); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse(req.Event.FaceCount)
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Error: errMsg})
}

func writeSuccessResponse(faces int) {
	data, _ := json.Marshal(map[string]int{"face_count": faces})
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}

// mute silences the default audio output.
func mute() error {
	switch runtime.GOOS {
	case "linux":
		if err := run("pactl", "set-sink-mute", "@DEFAULT_SINK@", "1"); err == nil {
			return nil
		}
		return run("amixer", "-q", "set", "Master", "mute")
	case "darwin":
		return run("osascript", "-e", "set volume output muted true")
	default:
		return fmt.Errorf("mute is not supported on %s", runtime.GOOS)
	}
}

// hideWindows minimizes everything to show the desktop.
func hideWindows() error {
	switch runtime.GOOS {
	case "linux":
		return run("xdotool", "key", "super+d")
	case "darwin":
		return run("osascript", "-e",
			`tell application "System Events" to set visible of every process whose visible is true and name is not "Finder" to false`)
	case "windows":
		return run("powershell", "-NoProfile", "-Command", "(New-Object -ComObject Shell.Application).MinimizeAll()")
	default:
		return fmt.Errorf("hide-windows is not supported on %s", runtime.GOOS)
	}
}

func run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}
