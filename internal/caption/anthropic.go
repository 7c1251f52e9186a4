// Package caption describes images with a vision model and attaches the
// result to the catalog in the background.
package caption

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ftrack/internal/ft"
)

const captionPrompt = "Describe this image in one or two plain sentences for a search index. " +
	"Mention the main subjects, setting and any visible text. Reply with the description only."

// AnthropicCaptioner captions images through the Claude Messages API.
type AnthropicCaptioner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ ft.Captioner = (*AnthropicCaptioner)(nil)

// NewAnthropicCaptioner creates a captioner. Extra options (base URL, retry
// policy) are passed through to the SDK client.
func NewAnthropicCaptioner(apiKey, model string, maxTokens int64, opts ...option.RequestOption) *AnthropicCaptioner {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicCaptioner{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *AnthropicCaptioner) Caption(ctx context.Context, mediaType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ft.ErrMissingFields)
	}
	img := base64.StdEncoding.EncodeToString(data)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, img),
				anthropic.NewTextBlock(captionPrompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("requesting caption: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}
