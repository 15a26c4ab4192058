package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ayusman/eyesoff/internal/ui"
)

var actions = map[string]string{
	"start":   "monitoring/start",
	"stop":    "monitoring/stop",
	"pause":   "monitoring/pause",
	"resume":  "monitoring/resume",
	"dismiss": "alert/dismiss",
	"test":    "alert/test",
}

func main() {
	var (
		addr     = flag.String("addr", envDefault("EYESOFF_ADDR", "127.0.0.1:8080"), "Daemon address")
		interval = flag.Duration("interval", time.Second, "Refresh interval")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: eyesoffctl [flags] [status|start|stop|pause|resume|dismiss|test]\n\nWithout a command the live viewer starts.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	client := ui.NewClient(*addr)

	if flag.NArg() == 0 {
		p := tea.NewProgram(ui.NewModel(client, *interval), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "eyesoffctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := oneShot(client, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "eyesoffctl: %v\n", err)
		os.Exit(1)
	}
}

// oneShot runs a single command and prints the resulting status as JSON.
func oneShot(client *ui.Client, cmd string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		out any
		err error
	)
	if cmd == "status" {
		out, err = client.Status(ctx)
	} else if action, ok := actions[cmd]; ok {
		out, err = client.Control(ctx, action)
	} else {
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
