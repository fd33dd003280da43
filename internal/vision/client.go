// Package vision asks a vision-language model to describe a lane's camera
// frame and turns the description into a raw classification.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/httputil"
	"github.com/banshee-data/signal.report/internal/lane"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("vision: empty model response")

const (
	DefaultEndpoint  = "https://api.openai.com/v1/chat/completions"
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 300
)

const promptTemplate = `Analyze this traffic camera image showing the %s approach.

1. Count all vehicles visible in the image.
2. Check for emergency vehicles (ambulances, police cars, fire trucks).
3. Look for any signs of accidents or hazardous conditions.

Provide a structured response with:
- Total vehicle count
- Presence of emergency vehicles (yes/no with confidence)
- Traffic density assessment (light/moderate/heavy)
- Any accident indicators`

// Prompt returns the instruction sent with every frame of lane l.
func Prompt(l lane.Lane) string {
	return fmt.Sprintf(promptTemplate, l)
}

// ClientConfig selects the model endpoint.
type ClientConfig struct {
	Endpoint  string
	Model     string
	APIKey    string
	MaxTokens int
}

// Client speaks the OpenAI chat completions wire format, which most
// hosted and local vision models accept.
type Client struct {
	http httputil.HTTPClient
	cfg  ClientConfig
}

// NewClient fills unset fields of cfg with the defaults.
func NewClient(http httputil.HTTPClient, cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Client{http: http, cfg: cfg}
}

// Describe sends f with the lane prompt and returns the model's text.
func (c *Client) Describe(ctx context.Context, l lane.Lane, f frames.Frame) (string, error) {
	body, err := json.Marshal(c.buildRequest(l, f))
	if err != nil {
		return "", fmt.Errorf("vision: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("vision: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision: sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("vision: decoding response: %w", err)
	}
	if len(wire.Choices) == 0 || wire.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return wire.Choices[0].Message.Content, nil
}

func (c *Client) buildRequest(l lane.Lane, f frames.Frame) chatRequest {
	ct := f.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = "image/jpeg"
	}
	dataURL := "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
	return chatRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: Prompt(l)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	}
}

// readError extracts {"error":{"type","message"}} when the body has it.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return fmt.Errorf("vision: %s (%d %s)", wire.Error.Message, resp.StatusCode, wire.Error.Type)
	}
	return &httputil.StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
