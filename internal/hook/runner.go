package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ayusman/eyesoff/internal/alert"
)

// Binding names a hook and the action to send it. Written as "name" or
// "name:action" in configuration.
type Binding struct {
	Hook   string
	Action string
}

// ParseBinding parses "name" or "name:action".
func ParseBinding(s string) (Binding, error) {
	name, action, _ := strings.Cut(strings.TrimSpace(s), ":")
	if name == "" {
		return Binding{}, fmt.Errorf("invalid hook binding %q", s)
	}
	return Binding{Hook: name, Action: action}, nil
}

func (b Binding) String() string {
	if b.Action == "" {
		return b.Hook
	}
	return b.Hook + ":" + b.Action
}

// Runner runs the configured hooks whenever an automatic alert is raised.
// Manual test alerts never trigger hooks.
type Runner struct {
	manager  *Manager
	executor *Executor
	bindings []Binding
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add in Observe against the Wait in Close.
	mu     sync.Mutex
	closed bool
}

// NewRunner validates the "name:action" bindings. Hooks are resolved at run time so a
// later Discover picks up new installs.
func NewRunner(manager *Manager, executor *Executor, names []string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bindings := make([]Binding, 0, len(names))
	for _, name := range names {
		b, err := ParseBinding(name)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		manager:  manager,
		executor: executor,
		bindings: bindings,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Bindings returns the configured bindings.
func (r *Runner) Bindings() []Binding {
	return append([]Binding(nil), r.bindings...)
}

// Observe is an alert.Observer. Hooks run in the background so the alert
// pipeline is never blocked by a slow executable.
func (r *Runner) Observe(ev alert.Event) {
	if ev.Kind != alert.EventRaised || ev.Manual || len(r.bindings) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for _, err := range r.Run(r.ctx, ev) {
			r.logger.Warn("alert hook failed", "error", err)
		}
	}()
}

// Run executes every binding for ev in order and returns the failures.
func (r *Runner) Run(ctx context.Context, ev alert.Event) []error {
	var errs []error
	for _, b := range r.bindings {
		if err := r.runOne(ctx, b, ev); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", b, err))
		}
	}
	return errs
}

func (r *Runner) runOne(ctx context.Context, b Binding, ev alert.Event) error {
	h, err := r.manager.Get(b.Hook)
	if err != nil {
		return err
	}

	action := b.Action
	if action == "" {
		action = h.DefaultAction()
	} else if len(h.Manifest.Actions) > 0 && !h.Supports(action) {
		return fmt.Errorf("unsupported action %q", action)
	}

	resp, err := r.executor.Execute(ctx, h, &Request{
		Action: action,
		Event: EventPayload{
			Kind:      string(ev.Kind),
			FaceCount: ev.FaceCount,
			Threshold: ev.Threshold,
			Mode:      ev.Mode,
			At:        ev.At,
		},
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("hook reported failure: %s", resp.Error)
	}

	r.logger.Info("alert hook ran", "hook", h.Manifest.Name, "action", action)
	return nil
}

// Close cancels running hooks and waits for them to exit.
// Events observed afterwards are ignored. Close is safe to call twice.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
