// Package gateway is a thin adapter over an OpenAI-compatible LLM gateway:
// chat completions and image generation. It never retries.
package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/oauth2"

	"github.com/mudscribe/mudscribe/pkg/logger"
	"github.com/mudscribe/mudscribe/pkg/session"
)

// UsageRecorder receives token counts for every completed chat call.
type UsageRecorder interface {
	RecordChat(kind, model string, u Usage)
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Known            bool
}

// Completion is the outcome of a chat call. Content is empty and Found is
// false when the gateway answered without a first choice.
type Completion struct {
	Content string
	Found   bool
	Model   string
	Usage   Usage
}

// Text returns the content, or NoResponse when there was none or it is
// only whitespace.
func (c Completion) Text() string {
	if !c.Found || strings.TrimSpace(c.Content) == "" {
		return NoResponse
	}
	return c.Content
}

type ChatRequest struct {
	// Kind labels the call for usage accounting (narration, actions, ...).
	Kind          string
	SystemPrompts []string
	UserPrompt    string
	Model         string
}

type ImageRequest struct {
	Prompt  string
	Size    string
	Quality string
	Model   string
}

type Options struct {
	Timeout time.Duration
	// Transport is the base round tripper; nil means http.DefaultTransport.
	Transport http.RoundTripper
	Usage     UsageRecorder
}

type Client struct {
	sess  *session.Session
	api   openai.Client
	usage UsageRecorder
	calls atomic.Int64
}

func NewClient(sess *session.Session, opts Options) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: sess.TokenSource(), Base: base},
		Timeout:   opts.Timeout,
	}

	api := openai.NewClient(
		option.WithBaseURL(sess.BaseURL+"/v1/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	return &Client{
		sess:  sess,
		api:   api,
		usage: opts.Usage,
	}
}

// Calls reports how many requests reached the network.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

func (c *Client) requireToken() error {
	if !c.sess.HasToken() {
		return ErrMissingToken
	}
	return nil
}

// ChatComplete sends one or more system messages followed by one user
// message. A missing token fails before any request is made.
func (c *Client) ChatComplete(ctx context.Context, req ChatRequest) (Completion, error) {
	if err := c.requireToken(); err != nil {
		return Completion{}, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.SystemPrompts)+1)
	for _, sp := range req.SystemPrompts {
		messages = append(messages, openai.SystemMessage(sp))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	c.calls.Add(1)
	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	})
	if err != nil {
		err = translateError("chat/completions", err)
		logger.WarnCF("gateway", "Chat completion failed", map[string]any{
			"kind":  req.Kind,
			"model": req.Model,
			"error": err.Error(),
		})
		return Completion{}, err
	}

	out := Completion{Model: req.Model}
	if len(resp.Choices) > 0 && strings.TrimSpace(resp.Choices[0].Message.Content) != "" {
		out.Content = resp.Choices[0].Message.Content
		out.Found = true
	}
	out.Usage = Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		Known:            resp.Usage.TotalTokens > 0,
	}
	if c.usage != nil {
		c.usage.RecordChat(req.Kind, req.Model, out.Usage)
	}

	logger.DebugCF("gateway", "Chat completion done", map[string]any{
		"kind":        req.Kind,
		"duration_ms": time.Since(start).Milliseconds(),
		"found":       out.Found,
	})
	return out, nil
}

// GenerateImage requests one image and returns its decoded bytes.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}

	c.calls.Add(1)
	resp, err := c.api.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   openai.ImageModel(req.Model),
		N:       openai.Int(1),
		Quality: openai.ImageGenerateParamsQuality(req.Quality),
		Size:    openai.ImageGenerateParamsSize(req.Size),
	})
	if err != nil {
		return nil, translateError("images/generations", err)
	}

	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].B64JSON) == "" {
		return nil, ErrNoImage
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return img, nil
}

func translateError(endpoint string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		he := &HTTPError{
			Endpoint:   endpoint,
			StatusCode: apiErr.StatusCode,
			Status:     fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode)),
		}
		if apiErr.Message != "" {
			he.Body = apiErr.Message
		}
		return he
	}
	return fmt.Errorf("%s: %w", endpoint, err)
}
