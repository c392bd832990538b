package llm

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/resilience"
)

const defaultAnthropicMaxTokens = 2048

type anthropicClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient builds a Messages API client. SDK-level retries are
// disabled; callers retry through resilience.Policy.
func NewAnthropicClient(opts Options) Client {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &anthropicClient{
		client: sdk.NewClient(
			option.WithAPIKey(opts.AnthropicAPIKey),
			option.WithMaxRetries(0),
		),
		model:     opts.Model,
		maxTokens: maxTokens,
	}
}

func (c *anthropicClient) Generate(ctx context.Context, messages []Message) (string, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(0),
	}

	var system []string
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if len(system) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", resilience.ClassifyStatus(eris.Wrap(err, "anthropic: create message"), apiErr.StatusCode)
		}
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", eris.New("anthropic: response contained no text")
	}
	return sb.String(), nil
}
