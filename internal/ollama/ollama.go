// Package ollama is a client for a local Ollama server's chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "qwen3-coder:30b"

	// contextLength asks the server for the full 128K token window.
	contextLength = 131072
)

// Kind classifies a ModelError.
type Kind string

const (
	Unreachable  Kind = "unreachable"
	MissingModel Kind = "missing model"
	Protocol     Kind = "protocol"
)

// ModelError is any failure talking to the model server.
type ModelError struct {
	Kind   Kind
	Model  string
	Detail string
}

func (e *ModelError) Error() string {
	switch e.Kind {
	case MissingModel:
		return fmt.Sprintf("model %q is not available locally (run: ollama pull %s)", e.Model, e.Model)
	case Unreachable:
		return "ollama is unreachable: " + e.Detail
	default:
		return "ollama protocol error: " + e.Detail
	}
}

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Client talks to one Ollama server about one model.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Model      string
}

// New returns a client for the given server and model, falling back to the
// package defaults when either is empty.
func New(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Model:      model,
	}
}

// Ping checks that the server answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tags(ctx)
	return err
}

// ListModels returns the names of the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	tags, err := c.tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Has reports whether the server has the named model. A bare name counts as
// its ":latest" tag, matching how Ollama resolves names.
func (c *Client) Has(ctx context.Context, model string) (bool, error) {
	names, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := normalize(model)
	for _, name := range names {
		if normalize(name) == want {
			return true, nil
		}
	}
	return false, nil
}

// Check verifies the client's configured model is present, returning a
// MissingModel error with the pull hint when it is not.
func (c *Client) Check(ctx context.Context) error {
	ok, err := c.Has(ctx, c.Model)
	if err != nil {
		return err
	}
	if !ok {
		return &ModelError{Kind: MissingModel, Model: c.Model}
	}
	return nil
}

// Chat sends the conversation and streams the reply. Each content chunk is
// passed to onChunk as it arrives; the full concatenated reply is returned.
// Cancelling ctx aborts the stream and returns what was received so far.
func (c *Client) Chat(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	payload := chatRequest{
		Model:    c.Model,
		Messages: messages,
		Stream:   true,
		Options:  map[string]any{"num_ctx": contextLength},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", &ModelError{Kind: Unreachable, Model: c.Model, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound && bytes.Contains(data, []byte("not found")) {
			return "", &ModelError{Kind: MissingModel, Model: c.Model}
		}
		return "", &ModelError{
			Kind:   Protocol,
			Model:  c.Model,
			Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data)),
		}
	}

	var full strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Malformed lines are dropped, not fatal.
			continue
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
		return full.String(), &ModelError{Kind: Protocol, Model: c.Model, Detail: err.Error()}
	}
	return full.String(), nil
}

func (c *Client) tags(ctx context.Context) (*tagsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("building tags request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &ModelError{Kind: Unreachable, Model: c.Model, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &ModelError{
			Kind:   Protocol,
			Model:  c.Model,
			Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data)),
		}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ModelError{Kind: Protocol, Model: c.Model, Detail: err.Error()}
	}
	return &tags, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func normalize(model string) string {
	if strings.Contains(model, ":") {
		return model
	}
	return model + ":latest"
}
