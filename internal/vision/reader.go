package vision

import (
	"context"
	"log/slog"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
)

// Model answers questions about screenshots.
type Model interface {
	Describe(ctx context.Context, png []byte) (string, error)
	Ask(ctx context.Context, png []byte, question string) (string, error)
	Locate(ctx context.Context, png []byte, width, height int, element string) (capability.Location, error)
}

// Reader implements capability.ScreenReader. Every call takes a fresh
// screenshot.
type Reader struct {
	capturer Capturer
	model    Model
	logger   *slog.Logger
}

func NewReader(c Capturer, m Model) *Reader {
	return &Reader{capturer: c, model: m, logger: observability.Component("vision")}
}

func (r *Reader) capture(ctx context.Context) (Image, error) {
	img, err := r.capturer.Capture(ctx)
	if err != nil {
		r.logger.Warn("screen capture failed", "error", err)
		return Image{}, capability.Transient("capture screen", err)
	}
	r.logger.Debug("screen captured", "bytes", len(img.PNG), "width", img.Width, "height", img.Height)
	return img, nil
}

func (r *Reader) CaptureAndDescribe(ctx context.Context) (string, error) {
	img, err := r.capture(ctx)
	if err != nil {
		return "", err
	}
	return r.model.Describe(ctx, img.PNG)
}

func (r *Reader) Analyze(ctx context.Context, question string) (string, error) {
	img, err := r.capture(ctx)
	if err != nil {
		return "", err
	}
	if question == "" {
		return r.model.Describe(ctx, img.PNG)
	}
	return r.model.Ask(ctx, img.PNG, question)
}

func (r *Reader) Locate(ctx context.Context, description string) (capability.Location, error) {
	img, err := r.capture(ctx)
	if err != nil {
		return capability.Location{}, err
	}
	return r.model.Locate(ctx, img.PNG, img.Width, img.Height, description)
}
