package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"testing"

	"granny-companion/internal/capability"

	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// fileRunner writes a PNG to the last argument, like a screenshot tool.
type fileRunner struct {
	data  []byte
	err   error
	name  string
	args  []string
	calls int
}

func (f *fileRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls++
	f.name, f.args = name, args
	if f.err != nil {
		return []byte("permission denied"), f.err
	}
	return nil, os.WriteFile(args[len(args)-1], f.data, 0o600)
}

func (f *fileRunner) Start(name string, args ...string) error { return nil }

func only(names ...string) func(string) (string, error) {
	return func(n string) (string, error) {
		for _, name := range names {
			if n == name {
				return "/usr/bin/" + n, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestCommandCapturer_Linux(t *testing.T) {
	r := &fileRunner{data: testPNG(t, 64, 32)}
	c := NewCommandCapturer(r)
	c.goos = "linux"
	c.lookPath = only("scrot", "import")
	c.tempDir = t.TempDir()

	img, err := c.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, 64, img.Width)
	require.Equal(t, 32, img.Height)
	require.Equal(t, "scrot", r.name)
	require.Equal(t, "-o", r.args[0])

	_, statErr := os.Stat(r.args[1])
	require.True(t, os.IsNotExist(statErr), "temporary screenshot should be removed")
}

func TestCommandCapturer_Darwin(t *testing.T) {
	r := &fileRunner{data: testPNG(t, 10, 10)}
	c := NewCommandCapturer(r)
	c.goos = "darwin"
	c.tempDir = t.TempDir()

	_, err := c.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, "screencapture", r.name)
	require.Equal(t, []string{"-x", "-t", "png"}, r.args[:3])
}

func TestCommandCapturer_NoBackend(t *testing.T) {
	c := NewCommandCapturer(&fileRunner{})
	c.goos = "linux"
	c.lookPath = only()

	_, err := c.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoBackend)
}

func TestCommandCapturer_ToolFails(t *testing.T) {
	c := NewCommandCapturer(&fileRunner{err: errors.New("exit status 1")})
	c.goos = "darwin"
	c.tempDir = t.TempDir()

	_, err := c.Capture(context.Background())
	require.ErrorContains(t, err, "permission denied")
}

type fakeCapturer struct {
	img Image
	err error
}

func (f fakeCapturer) Capture(ctx context.Context) (Image, error) { return f.img, f.err }

type fakeModel struct {
	question string
	element  string
	w, h     int
}

func (f *fakeModel) Describe(ctx context.Context, png []byte) (string, error) {
	return "A mail app with three messages.", nil
}

func (f *fakeModel) Ask(ctx context.Context, png []byte, q string) (string, error) {
	f.question = q
	return "The blue button says Send.", nil
}

func (f *fakeModel) Locate(ctx context.Context, png []byte, w, h int, element string) (capability.Location, error) {
	f.element, f.w, f.h = element, w, h
	return capability.Location{Found: true, Box: capability.Box{X: 1, Y: 2, Width: 3, Height: 4}}, nil
}

func TestReader(t *testing.T) {
	m := &fakeModel{}
	r := NewReader(fakeCapturer{img: Image{PNG: []byte("png"), Width: 1440, Height: 900}}, m)
	ctx := context.Background()

	desc, err := r.CaptureAndDescribe(ctx)
	require.NoError(t, err)
	require.Equal(t, "A mail app with three messages.", desc)

	ans, err := r.Analyze(ctx, "Where is send?")
	require.NoError(t, err)
	require.Equal(t, "The blue button says Send.", ans)
	require.Equal(t, "Where is send?", m.question)

	loc, err := r.Locate(ctx, "Send button")
	require.NoError(t, err)
	require.True(t, loc.Found)
	require.Equal(t, "Send button", m.element)
	require.Equal(t, 1440, m.w)
	require.Equal(t, 900, m.h)
}

func TestReader_CaptureFailureIsTransient(t *testing.T) {
	r := NewReader(fakeCapturer{err: ErrNoBackend}, &fakeModel{})

	_, err := r.CaptureAndDescribe(context.Background())
	var te *capability.TransientError
	require.ErrorAs(t, err, &te)
	require.ErrorIs(t, err, ErrNoBackend)
}
