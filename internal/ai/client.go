// Package ai proxies text generation to an OpenAI-compatible chat
// completions endpoint and scrapes page metadata for web-link prefill.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"resty.dev/v3"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ai: not configured")

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Image is an inline image sent along with the prompt.
type Image struct {
	MIME string `json:"mime"`
	// Data is base64 without the data: prefix.
	Data string `json:"data"`
}

// GenerateRequest is the input of Generate.
type GenerateRequest struct {
	Prompt  string    `json:"prompt"`
	System  string    `json:"system,omitempty"`
	Image   *Image    `json:"image,omitempty"`
	History []Message `json:"history,omitempty"`
}

// GenerateResponse carries the generated text.
type GenerateResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Options configure the client.
type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	RetryAttempts uint
	Timeout       time.Duration
}

// Client talks to the chat completions API.
type Client struct {
	http          *resty.Client
	model         string
	configured    bool
	retryAttempts uint
	retryDelay    time.Duration
}

// NewClient creates a client. Without an API key every call fails with
// ErrNotConfigured.
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(o.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(o.Timeout)
	if o.APIKey != "" {
		c.SetHeader("Authorization", "Bearer "+o.APIKey)
	}
	return &Client{
		http:          c,
		model:         o.Model,
		configured:    o.APIKey != "",
		retryAttempts: o.RetryAttempts,
		retryDelay:    500 * time.Millisecond,
	}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role Role `json:"role"`
	// Content is a string, or a list of parts when an image is attached.
	Content any `json:"content"`
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
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ai: response error %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Generate sends the prompt with its history and returns the generated
// text. Rate limits, server errors and transport failures are retried.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", apperr.ErrInvalid)
	}
	body := c.requestBody(req)

	var out *GenerateResponse
	err := retry.Do(
		func() error {
			res, err := c.generate(ctx, body)
			if err != nil {
				if !retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			out = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) requestBody(req GenerateRequest) chatRequest {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.Image == nil {
		msgs = append(msgs, chatMessage{Role: RoleUser, Content: req.Prompt})
	} else {
		msgs = append(msgs, chatMessage{Role: RoleUser, Content: []contentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: "data:" + req.Image.MIME + ";base64," + req.Image.Data}},
		}})
	}
	return chatRequest{Model: c.model, Messages: msgs}
}

func (c *Client) generate(ctx context.Context, body chatRequest) (*GenerateResponse, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&chatResponse{}).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("ai: post: %w", err)
	}
	if res.IsError() {
		return nil, &statusError{code: res.StatusCode(), body: res.String()}
	}
	parsed, _ := res.Result().(*chatResponse)
	if parsed == nil || len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		// Truncated bodies are transient.
		return nil, fmt.Errorf("ai: empty response: %s", res.String())
	}
	slog.Default().Debug("ai generation complete", slog.String("model", parsed.Model))
	return &GenerateResponse{Text: parsed.Choices[0].Message.Content, Model: parsed.Model}, nil
}
