package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// EngineConfig is the resolved configuration of one translation engine:
// any OpenAI-compatible chat-completion endpoint.
type EngineConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	SourceLang string
	TargetLang string
	Style      string
}

// Client wraps a chat-completion endpoint behind a single translate
// capability. Retry policy belongs to the caller; the client performs one
// attempt so cancellation latency stays bounded by a single call.
type Client struct {
	api    *openai.Client
	cfg    EngineConfig
	logger *logrus.Logger
}

func NewClient(cfg EngineConfig, logger *logrus.Logger) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiConfig),
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Client) Model() string { return c.cfg.Model }

// Configured reports whether the engine can be used at all. Translate on
// an unconfigured client returns ErrNotConfigured.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" && c.cfg.Model != "" }

func (c *Client) Config() EngineConfig { return c.cfg }

// Translate sends one unit of text and returns the trimmed translation.
// Returns ErrNotConfigured before any network attempt when the engine is
// unusable, ErrCancelled when ctx fires during the call, and a
// *ProviderError for upstream failures.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", ErrCancelled
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   2048,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: c.instructions(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", ErrCancelled
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Status: apiErr.HTTPStatusCode, Message: fmt.Sprintf("%v", apiErr.Message)}
		}
		return "", &ProviderError{Message: err.Error()}
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Message: "no response choices returned"}
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// instructions builds the system message carrying style guidance and the
// language pair. The wire format beyond "text in, translation out" is the
// provider's concern.
func (c *Client) instructions() string {
	source := languageName(c.cfg.SourceLang)
	target := languageName(c.cfg.TargetLang)

	hint := styleHints[c.cfg.Style]
	if hint == "" {
		hint = styleHints["natural"]
	}

	return fmt.Sprintf(
		"You are a professional book translator. Translate the text the user sends from %s to %s. %s Return only the translated text, without any explanations, notes or quotation marks.",
		source, target, hint)
}

var styleHints = map[string]string{
	"faithful": "Stay as close to the original wording and sentence structure as the target language allows.",
	"natural":  "Produce fluent, natural prose that reads as if originally written in the target language.",
	"academic": "Use precise, formal language suitable for scholarly texts.",
	"literary": "Preserve the literary voice, imagery and rhythm of the original.",
}

func languageName(code string) string {
	languages := map[string]string{
		"en": "English",
		"es": "Spanish",
		"fr": "French",
		"de": "German",
		"it": "Italian",
		"pt": "Portuguese",
		"ru": "Russian",
		"ja": "Japanese",
		"ko": "Korean",
		"zh": "Chinese",
		"ar": "Arabic",
		"hi": "Hindi",
		"tr": "Turkish",
		"pl": "Polish",
		"nl": "Dutch",
		"sv": "Swedish",
		"vi": "Vietnamese",
		"th": "Thai",
		"id": "Indonesian",
		"uk": "Ukrainian",
	}
	if name, exists := languages[code]; exists {
		return name
	}
	if code == "" || code == "auto" {
		return "the source language"
	}
	return code
}
