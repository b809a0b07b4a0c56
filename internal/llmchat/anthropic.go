// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llmchat

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

func init() {
	RegisterProvider("anthropic", newAnthropicProvider)
}

type anthropicProvider struct {
	logger logging.Logger
	client anthropic.Client
}

func newAnthropicProvider(logger logging.Logger, apiKey string) Provider {
	return &anthropicProvider{
		logger: logger,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *anthropicProvider) Stream(ctx context.Context, history []callmodel.Turn, cfg callmodel.ModelConfig, onChunk func(string)) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case callmodel.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case callmodel.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(resolveModel(anthropicModelAliases, cfg.ModelName)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: cfg.SystemPrompt}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(cfg.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	var full string
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text := delta.Delta.Text
		if text == "" {
			continue
		}
		full += text
		if onChunk != nil {
			onChunk(text)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("llmchat/anthropic: stream failed: %w", err)
	}
	return full, nil
}
