// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llmchat implements the C3 LLM chat client (spec.md §4.3): a
// provider-agnostic streaming chat session that maintains ordered message
// history and summarizes it once it grows past a threshold.
package llmchat

import (
	"context"
	"sync"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

const (
	historyThreshold = 20
	historyRetain    = 5
)

// Provider is the narrow surface every LLM backend adapter implements.
// Stream sends the full message history (user and assistant turns only;
// the system prompt travels separately in cfg.SystemPrompt) and invokes
// onChunk for each incremental text fragment, returning the accumulated
// full reply.
type Provider interface {
	Stream(ctx context.Context, history []callmodel.Turn, cfg callmodel.ModelConfig, onChunk func(string)) (string, error)
}

// ProviderFactory constructs a provider adapter for one call.
type ProviderFactory func(logger logging.Logger, apiKey string) Provider

var providerFactories = map[string]ProviderFactory{}

// RegisterProvider wires a provider implementation under its config name
// (e.g. "anthropic", "openai"). Called from each provider adapter's init().
func RegisterProvider(name string, f ProviderFactory) {
	providerFactories[name] = f
}

// Client is one call's LLM chat session: ordered history plus the
// summarization policy from spec.md §4.3.
type Client struct {
	mu       sync.Mutex
	logger   logging.Logger
	callID   string
	cfg      callmodel.ModelConfig
	provider Provider
	history  []callmodel.Turn
}

// New resolves the configured provider and starts a session with an empty
// history; the system prompt stays in cfg and is passed to every Stream
// call.
func New(logger logging.Logger, callID string, apiKey string, cfg callmodel.ModelConfig) (*Client, error) {
	factory, ok := providerFactories[cfg.Provider]
	if !ok {
		return nil, voiceerr.New(voiceerr.KindConfigInvalid, callID, errUnknownProvider(cfg.Provider))
	}
	return &Client{
		logger:   logger,
		callID:   callID,
		cfg:      cfg,
		provider: factory(logger, apiKey),
	}, nil
}

// GetResponse sends the user turn, streams the reply through onChunk, and
// returns the full accumulated text. Both sides of the exchange are
// appended to history before returning.
func (c *Client) GetResponse(ctx context.Context, userText string, onChunk func(string)) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, callmodel.Turn{Role: callmodel.RoleUser, Content: userText})
	history := append([]callmodel.Turn(nil), c.history...)
	c.mu.Unlock()

	reply, err := c.provider.Stream(ctx, history, c.cfg, onChunk)
	if err != nil {
		return "", voiceerr.New(voiceerr.KindLLMError, c.callID, err)
	}

	c.mu.Lock()
	c.history = append(c.history, callmodel.Turn{Role: callmodel.RoleAssistant, Content: reply})
	needsSummary := len(c.history) > historyThreshold
	c.mu.Unlock()

	if needsSummary {
		if err := c.summarize(ctx); err != nil {
			// summarization failure is non-fatal: the session continues
			// with its full (unsummarized) history rather than losing it.
			c.logger.Warn("llmchat: summarization failed, retaining full history", "callId", c.callID, "error", err)
		}
	}

	return reply, nil
}

// History returns a snapshot of the conversation log, e.g. for the
// persisted call record (spec.md §6.3).
func (c *Client) History() []callmodel.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]callmodel.Turn(nil), c.history...)
}

// summarize collapses all but the last historyRetain turns into a single
// assistant-authored note, per spec.md §4.3.
func (c *Client) summarize(ctx context.Context) error {
	c.mu.Lock()
	if len(c.history) <= historyRetain {
		c.mu.Unlock()
		return nil
	}
	older := append([]callmodel.Turn(nil), c.history[:len(c.history)-historyRetain]...)
	retained := append([]callmodel.Turn(nil), c.history[len(c.history)-historyRetain:]...)
	c.mu.Unlock()

	summaryPrompt := append(older, callmodel.Turn{
		Role:    callmodel.RoleUser,
		Content: "Summarize the above conversation in a few sentences, preserving any facts the assistant will need later.",
	})

	summaryCfg := c.cfg
	summaryCfg.MaxTokens = 256

	summary, err := c.provider.Stream(ctx, summaryPrompt, summaryCfg, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]callmodel.Turn{{Role: callmodel.RoleAssistant, Content: summary}}, retained...)
	return nil
}

type unknownProviderError struct{ name string }

func (e *unknownProviderError) Error() string { return "llmchat: unknown provider " + e.name }

func errUnknownProvider(name string) error { return &unknownProviderError{name: name} }
