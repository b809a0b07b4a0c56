// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llmchat

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

func init() {
	RegisterProvider("openai", newOpenAIProvider)
}

type openaiProvider struct {
	logger logging.Logger
	client openai.Client
}

func newOpenAIProvider(logger logging.Logger, apiKey string) Provider {
	return &openaiProvider{
		logger: logger,
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *openaiProvider) Stream(ctx context.Context, history []callmodel.Turn, cfg callmodel.ModelConfig, onChunk func(string)) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(cfg.SystemPrompt))
	}
	for _, turn := range history {
		switch turn.Role {
		case callmodel.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case callmodel.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(resolveModel(openaiModelAliases, cfg.ModelName)),
		Messages: messages,
	}
	if cfg.Temperature > 0 {
		params.Temperature = openai.Float(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		full += text
		if onChunk != nil {
			onChunk(text)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("llmchat/openai: stream failed: %w", err)
	}
	return full, nil
}
