// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sttstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

func init() {
	RegisterProvider("deepgram", newDeepgramStream)
}

// deepgramStream adapts the Deepgram live-transcription websocket client
// to the ProviderStream surface.
type deepgramStream struct {
	mu       sync.Mutex
	client   *listen.WSCallback
	callback *deepgramCallback
}

// deepgramCallback implements msginterfaces.LiveMessageCallback and fans
// every event onto buffered channels so the SDK's own read goroutine
// never blocks on the orchestrator's consumption rate. It is a distinct
// type from deepgramStream because the SDK's Close(*CloseResponse) and
// ProviderStream's Close() error cannot share one method name.
type deepgramCallback struct {
	events chan TranscriptEvent
	errs   chan error
}

func newDeepgramStream(ctx context.Context, logger logging.Logger, apiKey string, cfg callmodel.TranscriberConfig) (ProviderStream, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sttstream/deepgram: missing api key")
	}

	cb := &deepgramCallback{
		events: make(chan TranscriptEvent, 64),
		errs:   make(chan error, 8),
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          modelOr(cfg.ModelName, "nova-2"),
		Language:       modelOr(cfg.Language, "en-US"),
		Encoding:       "mulaw",
		SampleRate:     8000,
		Channels:       1,
		SmartFormat:    true,
		InterimResults: true,
		VadEvents:      true,
		Endpointing:    intOr(cfg.EndpointingMs, 300),
		UtteranceEndMs: intOr(cfg.UtteranceEndMs, 1000),
	}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	client, err := listen.NewWSUsingCallback(ctx, apiKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return nil, fmt.Errorf("sttstream/deepgram: dial failed: %w", err)
	}
	if ok := client.Connect(); !ok {
		return nil, fmt.Errorf("sttstream/deepgram: connect failed")
	}

	return &deepgramStream{client: client, callback: cb}, nil
}

func modelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (d *deepgramStream) Send(_ context.Context, mulawFrame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return fmt.Errorf("sttstream/deepgram: not connected")
	}
	return d.client.WriteBinary(mulawFrame)
}

func (d *deepgramStream) Events() <-chan TranscriptEvent { return d.callback.events }
func (d *deepgramStream) Errors() <-chan error           { return d.callback.errs }

func (d *deepgramStream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Stop()
		d.client = nil
	}
	return nil
}

// Message implements msginterfaces.LiveMessageCallback — interim and
// final transcripts arrive here.
func (cb *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	cb.send(TranscriptEvent{
		Text:        alt.Transcript,
		IsFinal:     mr.IsFinal,
		SpeechFinal: mr.SpeechFinal,
		Confidence:  alt.Confidence,
	})
	return nil
}

// UtteranceEnd implements msginterfaces.LiveMessageCallback. It is
// surfaced as a distinct sentinel (IsFinal=false, Text=utteranceEndMarker)
// rather than a synthetic empty final, so the finalizer wrapper (which
// consumes these same events in Client.handleEvent) can tell "no new
// interim arrived yet" apart from "the recognizer says the phrase ended" —
// see Client.UtteranceEnd for the promotion logic.
func (cb *deepgramCallback) UtteranceEnd(_ *msginterfaces.UtteranceEndResponse) error {
	cb.send(TranscriptEvent{Text: utteranceEndMarker, IsFinal: false})
	return nil
}

func (cb *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	cb.sendErr(fmt.Errorf("sttstream/deepgram: %s: %s", er.ErrCode, er.ErrMsg))
	return nil
}

func (cb *deepgramCallback) Open(_ *msginterfaces.OpenResponse) error   { return nil }
func (cb *deepgramCallback) Close(_ *msginterfaces.CloseResponse) error { return nil }
func (cb *deepgramCallback) Metadata(_ *msginterfaces.MetadataResponse) error {
	return nil
}
func (cb *deepgramCallback) SpeechStarted(_ *msginterfaces.SpeechStartedResponse) error {
	return nil
}
func (cb *deepgramCallback) UnhandledEvent(_ []byte) error { return nil }

func (cb *deepgramCallback) send(ev TranscriptEvent) {
	select {
	case cb.events <- ev:
	default:
	}
}

func (cb *deepgramCallback) sendErr(err error) {
	select {
	case cb.errs <- err:
	default:
	}
}
