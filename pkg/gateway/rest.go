package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// REST is a Gateway backed by a telephony gateway adapter's HTTP API.
// The adapter translates these commands to the provider (Twilio or
// compatible) and posts provider callbacks to this process's webhook.
type REST struct {
	base     string
	username string
	password string
	client   *http.Client
}

// RESTOption configures the REST gateway.
type RESTOption func(*REST)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(g *REST) { g.client = c }
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(username, password string) RESTOption {
	return func(g *REST) { g.username, g.password = username, password }
}

// NewREST creates a gateway client against the adapter's base URL.
func NewREST(baseURL string, opts ...RESTOption) *REST {
	g := &REST{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *REST) PlaceCall(ctx context.Context, destination string) (string, error) {
	var resp struct {
		CallID string `json:"callId"`
	}
	err := g.do(ctx, http.MethodPost, "/calls", map[string]string{"to": destination}, &resp)
	if err != nil {
		return "", err
	}
	if resp.CallID == "" {
		return "", fmt.Errorf("gateway: place call: empty call id")
	}
	return resp.CallID, nil
}

func (g *REST) PlayAudio(ctx context.Context, callID string, prompt Prompt) error {
	body := map[string]string{}
	if prompt.AudioURI != "" {
		body["audioUri"] = prompt.AudioURI
	} else {
		body["text"] = prompt.Text
	}
	return g.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/play", body, nil)
}

func (g *REST) StartRecording(ctx context.Context, callID string) error {
	return g.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/recording/start", nil, nil)
}

func (g *REST) StopRecording(ctx context.Context, callID string) error {
	return g.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/recording/stop", nil, nil)
}

func (g *REST) EndCall(ctx context.Context, callID string) error {
	return g.do(ctx, http.MethodDelete, "/calls/"+url.PathEscape(callID), nil, nil)
}

func (g *REST) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.username != "" {
		req.SetBasicAuth(g.username, g.password)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrUnknownCall, path)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return nil
}

var _ Gateway = (*REST)(nil)
