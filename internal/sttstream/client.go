// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sttstream implements the C2 transcriber component (spec.md §4.2):
// a provider-agnostic streaming speech-to-text client wrapped in an
// utterance-finalization layer so the orchestrator's final-transcript
// callback only ever sees whole utterances; partial fragments reach it
// only through the separate interim callback.
package sttstream

import (
	"context"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

// TranscriptEvent is one event surfaced by a provider's streaming
// connection, before finalization logic is applied.
type TranscriptEvent struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Confidence  float64
}

// utteranceEndMarker is the sentinel Text a provider adapter uses to
// signal the recognizer's explicit end-of-utterance event, distinct from
// an empty final (spec.md §4.2).
const utteranceEndMarker = "\x00utterance-end\x00"

// ProviderStream is the narrow surface every STT provider adapter
// implements. Send pushes one 20ms mu-law frame; events arrive on the
// channel returned by Events until the stream is closed.
type ProviderStream interface {
	Send(ctx context.Context, mulawFrame []byte) error
	Events() <-chan TranscriptEvent
	Errors() <-chan error
	Close() error
}

// ProviderFactory opens a provider connection for one call.
type ProviderFactory func(ctx context.Context, logger logging.Logger, apiKey string, cfg callmodel.TranscriberConfig) (ProviderStream, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProvider wires a provider implementation under its config name
// (e.g. "deepgram"). Called from each provider adapter's init().
func RegisterProvider(name string, f ProviderFactory) {
	providerFactories[name] = f
}

// Open dials the named provider's streaming connection.
func Open(ctx context.Context, logger logging.Logger, callID string, apiKey string, cfg callmodel.TranscriberConfig) (ProviderStream, error) {
	factory, ok := providerFactories[cfg.Provider]
	if !ok {
		return nil, voiceerr.New(voiceerr.KindConfigInvalid, callID, errUnknownProvider(cfg.Provider))
	}
	stream, err := factory(ctx, logger, apiKey, cfg)
	if err != nil {
		return nil, voiceerr.New(voiceerr.KindSTTError, callID, err)
	}
	return stream, nil
}

type unknownProviderError struct{ name string }

func (e *unknownProviderError) Error() string { return "sttstream: unknown provider " + e.name }

func errUnknownProvider(name string) error { return &unknownProviderError{name: name} }
