// Package vision captures the user's screen and asks a vision model about it.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"granny-companion/internal/system"
)

// ErrNoBackend is returned when no screenshot tool is installed.
var ErrNoBackend = errors.New("no screenshot tool available")

// Image is a PNG screenshot with its pixel size.
type Image struct {
	PNG    []byte
	Width  int
	Height int
}

// Capturer takes screenshots of the primary display.
type Capturer interface {
	Capture(ctx context.Context) (Image, error)
}

type backend struct {
	name string
	args func(path string) []string
}

var linuxBackends = []backend{
	{"grim", func(p string) []string { return []string{p} }},
	{"gnome-screenshot", func(p string) []string { return []string{"-f", p} }},
	{"scrot", func(p string) []string { return []string{"-o", p} }},
	{"import", func(p string) []string { return []string{"-window", "root", p} }},
}

var darwinBackend = backend{"screencapture", func(p string) []string { return []string{"-x", "-t", "png", p} }}

// CommandCapturer shells out to the platform screenshot tool.
type CommandCapturer struct {
	runner   system.Runner
	goos     string
	lookPath func(string) (string, error)
	tempDir  string
}

func NewCommandCapturer(r system.Runner) *CommandCapturer {
	if r == nil {
		r = system.OSRunner{}
	}
	return &CommandCapturer{runner: r, goos: runtime.GOOS, lookPath: exec.LookPath}
}

func (c *CommandCapturer) backend() (backend, error) {
	if c.goos == "darwin" {
		return darwinBackend, nil
	}
	for _, b := range linuxBackends {
		if _, err := c.lookPath(b.name); err == nil {
			return b, nil
		}
	}
	return backend{}, ErrNoBackend
}

func (c *CommandCapturer) Capture(ctx context.Context) (Image, error) {
	b, err := c.backend()
	if err != nil {
		return Image{}, err
	}

	f, err := os.CreateTemp(c.tempDir, "companion-screen-*.png")
	if err != nil {
		return Image{}, fmt.Errorf("create screenshot file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if out, err := c.runner.Run(ctx, b.name, b.args(path)...); err != nil {
		return Image{}, fmt.Errorf("%s: %w: %s", b.name, err, bytes.TrimSpace(out))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Image{}, fmt.Errorf("read screenshot: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("screenshot is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode screenshot: %w", err)
	}
	if format != "png" {
		return Image{}, fmt.Errorf("screenshot format %q, want png", format)
	}
	return Image{PNG: data, Width: cfg.Width, Height: cfg.Height}, nil
}
