// Package convai connects to the ElevenLabs Conversational AI agent over a
// websocket and relays its events to the session controller.
package convai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"granny-companion/internal/capability"
)

const DefaultAPIBase = "https://api.elevenlabs.io"

// Credentials fetches a signed conversation URL, either from a backend that
// holds the API key or directly from ElevenLabs.
type Credentials struct {
	Endpoint string
	AgentID  string
	APIKey   string
	VoiceID  string
	APIBase  string
	Client   *http.Client
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// Credentials implements capability.SessionCredentials.
func (c *Credentials) Credentials(ctx context.Context) (capability.Credentials, error) {
	signed, err := c.SignedURL(ctx)
	if err != nil {
		return capability.Credentials{}, err
	}
	return capability.Credentials{SignedURL: signed, Config: c.Config()}, nil
}

// Config returns the voice override sent in the handshake.
func (c *Credentials) Config() capability.SessionConfig {
	return capability.SessionConfig{VoiceID: strings.TrimSpace(c.VoiceID)}
}

func (c *Credentials) SignedURL(ctx context.Context) (string, error) {
	var (
		reqURL string
		header = http.Header{}
	)

	if ep := strings.TrimSpace(c.Endpoint); ep != "" {
		reqURL = ep
	} else {
		var missing []string
		if strings.TrimSpace(c.AgentID) == "" {
			missing = append(missing, "ELEVENLABS_AGENT_ID")
		}
		if strings.TrimSpace(c.APIKey) == "" {
			missing = append(missing, "ELEVENLABS_API_KEY")
		}
		if len(missing) > 0 {
			return "", &capability.ConfigurationError{Missing: missing}
		}

		base := strings.TrimRight(c.APIBase, "/")
		if base == "" {
			base = DefaultAPIBase
		}
		reqURL = base + "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(strings.TrimSpace(c.AgentID))
		header.Set("xi-api-key", strings.TrimSpace(c.APIKey))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create signed url request: %w", err)
	}
	req.Header = header

	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", capability.Transient("get signed url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", capability.Transient("get signed url", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", capability.Transient("get signed url", fmt.Errorf("decode response: %w", err))
	}
	if out.SignedURL == "" {
		return "", capability.Transient("get signed url", fmt.Errorf("empty signed_url"))
	}
	return out.SignedURL, nil
}
