// Command lock-screen is an EyesOff alert hook that locks the session when
// an onlooker is detected.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/godbus/dbus/v5"
)

// Request is the alert hook input read from stdin.
type Request struct {
	Action string          `json:"action"`
	Event  json.RawMessage `json:"event"`
	Config json.RawMessage `json:"config"`
}

// Response is written to stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		respond(fmt.Errorf("decode request: %w", err))
		return
	}

	switch req.Action {
	case "lock", "on-alert":
		respond(lock())
	default:
		respond(fmt.Errorf("unknown action: %s", req.Action))
	}
}

func respond(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

func lock() error {
	switch runtime.GOOS {
	case "linux":
		if err := lockScreenSaver(); err == nil {
			return nil
		}
		return run("loginctl", "lock-session")
	case "darwin":
		return run("pmset", "displaysleepnow")
	case "windows":
		return run("rundll32.exe", "user32.dll,LockWorkStation")
	default:
		return fmt.Errorf("locking is not supported on %s", runtime.GOOS)
	}
}

// lockScreenSaver asks the desktop's screen saver to lock over the session bus.
func lockScreenSaver() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver")
	return obj.Call("org.freedesktop.ScreenSaver.Lock", 0).Err
}

func run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}
