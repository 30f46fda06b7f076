// Package gemini wraps the Gemini API for screen description, element
// location and transcript summarization.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

const (
	describePrompt = `You are helping an elderly person use their computer. Describe what is on this screen in two or three plain sentences: which application or website is open, and the main things they could click or read. Do not use technical jargon.`

	askPrompt = `You are helping an elderly person use their computer. Look at this screenshot and answer the question in simple, friendly language. Keep it short.

Question: %s`

	locatePrompt = `Find this element on the screenshot: %q.
Respond with JSON only, in this shape:
{"found": true, "box_2d": [ymin, xmin, ymax, xmax], "description": "short description of where it is"}
Coordinates are normalized to 0-1000. If the element is not visible, respond {"found": false, "description": "why it could not be found"}.`
)

// Generator is the subset of genai.Models the client calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements capability.Summarizer and the vision model used by the
// screen reader.
type Client struct {
	gen    Generator
	model  string
	logger *slog.Logger
}

// New creates a Gemini API client. An empty apiKey is a configuration error.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &capability.ConfigurationError{Missing: []string{"GEMINI_API_KEY"}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return NewWithGenerator(client.Models, model), nil
}

// NewWithGenerator builds a client on an existing generator.
func NewWithGenerator(gen Generator, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{gen: gen, model: model, logger: observability.Component("gemini")}
}

// Summarize implements capability.Summarizer.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	temp := float32(0.3)
	return c.generate(ctx, "summarize", contents, &genai.GenerateContentConfig{Temperature: &temp})
}

// Describe returns a plain-language description of a PNG screenshot.
func (c *Client) Describe(ctx context.Context, png []byte) (string, error) {
	return c.generate(ctx, "describe screen", imageContents(png, describePrompt), nil)
}

// Ask answers a question about a PNG screenshot.
func (c *Client) Ask(ctx context.Context, png []byte, question string) (string, error) {
	return c.generate(ctx, "analyze screen", imageContents(png, fmt.Sprintf(askPrompt, question)), nil)
}

type locateResponse struct {
	Found       bool      `json:"found"`
	Box2D       []float64 `json:"box_2d"`
	Description string    `json:"description"`
}

// Locate finds element on a width x height screenshot and returns its box
// in screenshot pixels.
func (c *Client) Locate(ctx context.Context, png []byte, width, height int, element string) (capability.Location, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	text, err := c.generate(ctx, "locate element", imageContents(png, fmt.Sprintf(locatePrompt, element)), cfg)
	if err != nil {
		return capability.Location{}, err
	}
	return parseLocation(text, width, height)
}

func parseLocation(text string, width, height int) (capability.Location, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var resp locateResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &resp); err != nil {
		return capability.Location{}, capability.Transient("locate element", fmt.Errorf("decode response: %w", err))
	}
	if !resp.Found {
		return capability.Location{Description: resp.Description}, nil
	}
	if len(resp.Box2D) != 4 {
		return capability.Location{}, capability.Transient("locate element", fmt.Errorf("box_2d has %d values", len(resp.Box2D)))
	}

	ymin, xmin, ymax, xmax := resp.Box2D[0], resp.Box2D[1], resp.Box2D[2], resp.Box2D[3]
	sx := float64(width) / 1000
	sy := float64(height) / 1000
	return capability.Location{
		Found: true,
		Box: capability.Box{
			X:      xmin * sx,
			Y:      ymin * sy,
			Width:  (xmax - xmin) * sx,
			Height: (ymax - ymin) * sy,
		},
		Description: resp.Description,
	}, nil
}

func imageContents(png []byte, prompt string) []*genai.Content {
	parts := []*genai.Part{
		genai.NewPartFromBytes(png, "image/png"),
		genai.NewPartFromText(prompt),
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *Client) generate(ctx context.Context, op string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	res, err := c.gen.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		c.logger.Warn("gemini request failed", "op", op, "error", err)
		return "", capability.Transient("gemini "+op, err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", capability.Transient("gemini "+op, fmt.Errorf("empty response"))
	}
	return text, nil
}
