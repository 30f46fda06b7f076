// Package speech talks to the ElevenLabs text-to-speech and speech-to-text
// APIs and serializes outbound speech through a single-flight Speaker.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"granny-companion/internal/capability"
)

const (
	DefaultBaseURL  = "https://api.elevenlabs.io"
	DefaultVoiceID  = "EXAVITQu4vr4xnSDxMaL"
	DefaultModelID  = "eleven_monolingual_v1"
	DefaultSTTModel = "scribe_v1"

	maxErrorBody = 1 << 10
)

// Client is an ElevenLabs REST client. It implements capability.Synthesizer
// and capability.Transcriber.
type Client struct {
	apiKey     string
	baseURL    string
	voiceID    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(id string) Option {
	return func(c *Client) {
		if id = strings.TrimSpace(id); id != "" {
			c.voiceID = id
		}
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		voiceID:    DefaultVoiceID,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) checkKey() error {
	if c.apiKey == "" {
		return &capability.ConfigurationError{Missing: []string{"ELEVENLABS_API_KEY"}}
	}
	return nil
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize starts a streaming synthesis and returns the audio body. The
// caller must close it.
func (c *Client) Synthesize(ctx context.Context, text string, opts capability.VoiceOptions) (io.ReadCloser, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}

	voice := strings.TrimSpace(opts.VoiceID)
	if voice == "" {
		voice = c.voiceID
	}
	model := strings.TrimSpace(opts.ModelID)
	if model == "" {
		model = DefaultModelID
	}

	body, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       model,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/text-to-speech/"+voice+"/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, capability.Transient("elevenlabs tts", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, capability.Transient("elevenlabs tts", statusError(resp))
	}
	return resp.Body, nil
}

type sttResponse struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Transcribe uploads recorded audio and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if err := c.checkKey(); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: empty audio")
	}
	if filename == "" {
		filename = "recording.webm"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model_id", DefaultSTTModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech-to-text", &buf)
	if err != nil {
		return "", fmt.Errorf("create stt request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", capability.Transient("elevenlabs stt", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", capability.Transient("elevenlabs stt", statusError(resp))
	}

	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", capability.Transient("elevenlabs stt", fmt.Errorf("decode response: %w", err))
	}
	return strings.TrimSpace(out.Text), nil
}

// Voice is one entry of the account's voice library.
type Voice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Voices lists the voices available to the API key.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create voices request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, capability.Transient("elevenlabs voices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, capability.Transient("elevenlabs voices", statusError(resp))
	}

	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, capability.Transient("elevenlabs voices", fmt.Errorf("decode response: %w", err))
	}
	return out.Voices, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
