package backend

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/panel/internal/models"
)

const defaultAnthropicTimeout = 10 * time.Minute

// AnthropicAdapter runs reviewer prompts against the Anthropic Messages API.
type AnthropicAdapter struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicAdapter creates the adapter. An empty API key falls back to
// the SDK's environment-based configuration.
func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicAdapter{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Name implements Adapter.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Invoke implements Adapter. When a text callback is supplied the call
// streams and forwards deltas; otherwise it blocks for the full message.
func (a *AnthropicAdapter) Invoke(ctx context.Context, inv Invocation) *Result {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = defaultAnthropicTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 16384,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(inv.Prompt)),
		},
	}

	if inv.OnText != nil || inv.OnReasoning != nil {
		return a.invokeStreaming(ctx, params, inv)
	}

	msg, err := a.api.Messages.New(ctx, params)
	if err != nil {
		return a.classify(err)
	}
	return a.finish(msg)
}

func (a *AnthropicAdapter) invokeStreaming(ctx context.Context, params anthropic.MessageNewParams, inv Invocation) *Result {
	stream := a.api.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return failure(a.Name(), KindExit, "accumulate stream event", err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if inv.OnText != nil {
					inv.OnText(delta.Text)
				}
			case anthropic.ThinkingDelta:
				if inv.OnReasoning != nil {
					inv.OnReasoning(delta.Thinking)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return a.classify(err)
	}
	return a.finish(&msg)
}

// finish extracts text and usage from a completed message.
func (a *AnthropicAdapter) finish(msg *anthropic.Message) *Result {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return failure(a.Name(), KindEmptyOutput, "no text content in API response", nil)
	}
	return &Result{
		Success: true,
		Output:  text,
		Usage: []models.ModelUsage{{
			Model:        string(msg.Model),
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		}},
	}
}

func (a *AnthropicAdapter) classify(err error) *Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(a.Name(), KindTimeout, "API call exceeded timeout", err)
	}
	return failure(a.Name(), KindExit, err.Error(), err)
}
