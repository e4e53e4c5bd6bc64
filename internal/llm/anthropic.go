package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-3-5-sonnet-20241022"

// AnthropicClient streams replies from the Anthropic API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}
}

// StreamReply streams a message, forwarding each text delta to onFragment.
func (c *AnthropicClient) StreamReply(ctx context.Context, history []ChatMessage, model string, onFragment FragmentCallback) (string, error) {
	if model == "" {
		model = anthropicDefaultModel
	}

	messages := make([]anthropic.MessageParam, len(history))
	for i, msg := range history {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(4096)),
		Messages:  anthropic.F(messages),
	})

	var content string

	for stream.Next() {
		event := stream.Current()

		if event.Type == anthropic.MessageStreamEventTypeContentBlockDelta {
			if delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok && delta.Type == "text_delta" {
				fragment := delta.Text
				content += fragment
				if err := onFragment(fragment); err != nil {
					return "", err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return "", err
	}

	return content, nil
}
