// Package system launches applications and runs shell commands on the
// user's computer.
package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxOutput bounds the command output returned to the agent.
	MaxOutput      = 4 << 10
	DefaultTimeout = 20 * time.Second
)

// Runner executes external commands. Inject it instead of calling os/exec
// directly.
type Runner interface {
	// Run executes a command and returns combined stdout and stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start begins a command without waiting for it to finish.
	Start(name string, args ...string) error
}

// OSRunner implements Runner with os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (OSRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// System implements capability.System.
type System struct {
	runner  Runner
	goos    string
	timeout time.Duration
}

func New(r Runner) *System {
	if r == nil {
		r = OSRunner{}
	}
	return &System{runner: r, goos: runtime.GOOS, timeout: DefaultTimeout}
}

// Launch opens an application by name.
func (s *System) Launch(ctx context.Context, app string) error {
	app = strings.TrimSpace(app)
	if app == "" {
		return fmt.Errorf("launch: empty application name")
	}

	name, args := launchCommand(s.goos, app)
	if err := s.runner.Start(name, args...); err != nil {
		return fmt.Errorf("launch %s: %w", app, err)
	}
	return nil
}

func launchCommand(goos, app string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{"-a", app}
	case "windows":
		return "cmd", []string{"/c", "start", "", app}
	default:
		return "gtk-launch", []string{app}
	}
}

// OpenURL opens u in the default browser.
func (s *System) OpenURL(u string) error {
	var name string
	var args []string
	switch s.goos {
	case "darwin":
		name, args = "open", []string{u}
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler", u}
	default:
		name, args = "xdg-open", []string{u}
	}
	if err := s.runner.Start(name, args...); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}

// Execute runs command through the shell and returns its trimmed output.
func (s *System) Execute(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("execute: empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name, args := "sh", []string{"-c", command}
	if s.goos == "windows" {
		name, args = "cmd", []string{"/c", command}
	}

	out, err := s.runner.Run(ctx, name, args...)
	text := clip(bytes.TrimSpace(out))
	if err != nil {
		if text != "" {
			return text, fmt.Errorf("%w: %s", err, text)
		}
		return "", err
	}
	return text, nil
}

func clip(b []byte) string {
	if len(b) <= MaxOutput {
		return string(b)
	}
	b = b[:MaxOutput]
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b) + "\n... (output truncated)"
}
