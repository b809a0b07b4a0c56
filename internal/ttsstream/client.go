// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ttsstream implements the C4 TTS stream client (spec.md §4.4): a
// provider-agnostic streaming speech synthesis client that delivers
// mu-law @ 8kHz audio chunks and honors a cooperative stop flag.
package ttsstream

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

// Provider is the narrow surface every TTS backend adapter implements.
// Synthesize streams text to speech, invoking onChunk with each mu-law
// audio fragment as it arrives; it must return promptly once stopped
// reports true.
type Provider interface {
	Synthesize(ctx context.Context, text string, cfg callmodel.VoiceConfig, onChunk func([]byte), stopped func() bool) error
}

// ProviderFactory constructs a provider adapter for one call.
type ProviderFactory func(logger logging.Logger, apiKey string) Provider

var providerFactories = map[string]ProviderFactory{}

// RegisterProvider wires a provider implementation under its config name
// (e.g. "elevenlabs", "cartesia"). Called from each provider adapter's
// init().
func RegisterProvider(name string, f ProviderFactory) {
	providerFactories[name] = f
}

// v3ModelIDs lists the voice model identifiers that reject the legacy
// stability/similarity/style settings (spec.md §4.4: "for a configured
// list of v3 model identifiers, settings are omitted").
var v3ModelIDs = map[string]bool{
	"eleven_v3":        true,
	"eleven_turbo_v3":  true,
	"sonic-3":          true,
}

// SupportsVoiceSettings reports whether the given TTS model accepts the
// stability/similarityBoost/speed/useSpeakerBoost settings.
func SupportsVoiceSettings(ttsModelID string) bool {
	return !v3ModelIDs[ttsModelID]
}

// ForwardLanguageCode reports whether language_code should be sent to the
// provider: non-English voices, or Hinglish mode, per spec.md §4.4.
func ForwardLanguageCode(cfg callmodel.VoiceConfig) bool {
	if cfg.HinglishMode {
		return true
	}
	lang := strings.ToLower(strings.TrimSpace(cfg.Language))
	return lang != "" && lang != "en" && !strings.HasPrefix(lang, "en-")
}

// Client is one call's TTS session. Stop() sets an abort flag the chunk
// loop checks between chunks (spec.md §4.4).
type Client struct {
	logger   logging.Logger
	callID   string
	provider Provider
	stopped  atomic.Bool
}

// New resolves the configured provider for one call.
func New(logger logging.Logger, callID string, apiKey string, providerName string) (*Client, error) {
	factory, ok := providerFactories[providerName]
	if !ok {
		return nil, voiceerr.New(voiceerr.KindConfigInvalid, callID, errUnknownProvider(providerName))
	}
	return &Client{logger: logger, callID: callID, provider: factory(logger, apiKey)}, nil
}

// TextToSpeechStream opens a streaming synthesis request and delivers
// audio chunks via onChunk until the text is exhausted or Stop is
// called.
func (c *Client) TextToSpeechStream(ctx context.Context, text string, cfg callmodel.VoiceConfig, onChunk func([]byte)) error {
	c.stopped.Store(false)
	err := c.provider.Synthesize(ctx, text, cfg, onChunk, c.stopped.Load)
	if err != nil {
		return voiceerr.New(voiceerr.KindTTSError, c.callID, err)
	}
	return nil
}

// Stop sets the abort flag; the provider's chunk loop observes it between
// chunks and terminates cleanly.
func (c *Client) Stop() {
	c.stopped.Store(true)
}

type unknownProviderError struct{ name string }

func (e *unknownProviderError) Error() string { return "ttsstream: unknown provider " + e.name }

func errUnknownProvider(name string) error { return &unknownProviderError{name: name} }
