// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package mediabridge implements the C8 media bridge (spec.md §4.8): the
// wiring layer that owns one call end to end, connecting whichever
// transport carries its audio (an outbound SIP/RTP leg, or a hosted
// media-stream websocket) to the conversation orchestrator, the recording
// sink, and the persisted call record.
package mediabridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/callrecord"
	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/logging"
	"github.com/rapidaai/voicecore/internal/mediastream"
	"github.com/rapidaai/voicecore/internal/orchestrator"
	"github.com/rapidaai/voicecore/internal/recording"
	"github.com/rapidaai/voicecore/internal/rtpsession"
	"github.com/rapidaai/voicecore/internal/siptransport"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

// Deps are the process-wide collaborators every call shares.
type Deps struct {
	Logger       logging.Logger
	SIPTransport *siptransport.Transport
	RTPPorts     rtpsession.PortStore
	Recording    *recording.Sink
	Records      callrecord.Store
	Credentials  config.ProviderCredentials
}

// Bridge is the process-wide registry of live calls (spec.md §5), keyed by
// call-id, one entry per in-flight SIP or hosted session.
type Bridge struct {
	deps Deps

	mu     sync.Mutex
	active map[string]*activeCall
}

type activeCall struct {
	conv   *orchestrator.Conversation
	rtp    *rtpsession.Session
	dialog *siptransport.Dialog
	hosted *mediastream.Conn
	cancel context.CancelFunc
}

// New builds a bridge over the given process-wide collaborators.
func New(deps Deps) *Bridge {
	return &Bridge{deps: deps, active: make(map[string]*activeCall)}
}

func (b *Bridge) register(callID string, c *activeCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[callID] = c
}

func (b *Bridge) unregister(callID string) *activeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.active[callID]
	if !ok {
		return nil
	}
	delete(b.active, callID)
	return c
}

// ActiveCallCount reports how many calls this process currently owns.
func (b *Bridge) ActiveCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// resolveCredentials selects the one API key each configured provider
// actually needs out of the process's full credential set (spec.md §6.4).
func resolveCredentials(cfg callmodel.AgentConfig, creds config.ProviderCredentials) orchestrator.Credentials {
	var out orchestrator.Credentials

	switch cfg.Transcriber.Provider {
	case "deepgram":
		out.STTAPIKey = creds.DeepgramAPIKey
	}
	switch cfg.Model.Provider {
	case "anthropic":
		out.LLMAPIKey = creds.AnthropicAPIKey
	case "openai":
		out.LLMAPIKey = creds.OpenAIAPIKey
	}
	switch cfg.Voice.Provider {
	case "elevenlabs":
		out.TTSAPIKey = creds.ElevenLabsAPIKey
	case "cartesia":
		out.TTSAPIKey = creds.CartesiaAPIKey
	}
	return out
}

// endReasonForErr extracts the closing reason a setup-time failure implies,
// using orchestrator.ErrKindToEndReason when the error is one of the
// core's own CallErrors and falling back to a generic failure otherwise.
func endReasonForErr(err error) callmodel.EndReason {
	var callErr *voiceerr.CallError
	if errors.As(err, &callErr) {
		return orchestrator.ErrKindToEndReason(callErr.Kind)
	}
	return callmodel.EndError
}

func statusForReason(reason callmodel.EndReason) callrecord.Status {
	switch reason {
	case callmodel.EndUserHangup, callmodel.EndRemoteHangup, callmodel.EndSilenceTimeout, callmodel.EndMaxDuration:
		return callrecord.StatusCompleted
	default:
		return callrecord.StatusFailed
	}
}

// finishCall is the single teardown path shared by both transports: it
// stops recording, persists the terminal record, and releases transport
// resources. Safe to call from any OnEnded/OnHangup callback.
func (b *Bridge) finishCall(callID string, reason callmodel.EndReason) {
	call := b.unregister(callID)
	if call == nil {
		return
	}
	logger := b.deps.Logger.With("callId", callID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recordingURL, err := b.deps.Recording.StopAndUpload(ctx, callID)
	if err != nil {
		logger.Warn("mediabridge: recording upload failed", "error", err)
	}

	history := call.conv.History()
	if err := b.deps.Records.Finish(callID, statusForReason(reason), string(reason), history, recordingURL, time.Now()); err != nil {
		logger.Warn("mediabridge: failed to persist final call record", "error", err)
	}

	if call.dialog != nil {
		if err := call.dialog.Hangup(ctx); err != nil {
			logger.Warn("mediabridge: hangup failed", "error", err)
		}
	}
	if call.rtp != nil {
		call.rtp.Close()
		b.deps.RTPPorts.Release(call.rtp.LocalPort())
	}
	if call.hosted != nil {
		call.hosted.Close()
	}
	call.cancel()
}

// OutboundCallRequest parameterizes one SIP-dialed call.
type OutboundCallRequest struct {
	CallID      string
	AgentID     string
	AgentConfig callmodel.AgentConfig
	DialOptions siptransport.DialOptions
}

// StartOutboundCall allocates an RTP port, dials the SIP leg, and wires the
// conversation orchestrator to it (spec.md §4.6/§4.7/§4.8 end to end).
func (b *Bridge) StartOutboundCall(ctx context.Context, req OutboundCallRequest) error {
	logger := b.deps.Logger.With("callId", req.CallID)

	if err := req.AgentConfig.Validate(); err != nil {
		return voiceerr.New(voiceerr.KindConfigInvalid, req.CallID, err)
	}

	port, err := b.deps.RTPPorts.Allocate()
	if err != nil {
		return fmt.Errorf("mediabridge: no RTP port available: %w", err)
	}

	rtp, err := rtpsession.NewSession(logger, req.CallID, port)
	if err != nil {
		b.deps.RTPPorts.Release(port)
		return err
	}

	toUser := siptransport.CanonicalizeNumber(req.DialOptions.ToUser)

	record := &callrecord.Record{
		ID:             req.CallID,
		AgentID:        req.AgentID,
		CustomerNumber: toUser,
		StartedAt:      time.Now(),
	}
	if err := b.deps.Records.Initiate(record); err != nil {
		logger.Warn("mediabridge: failed to persist call initiation", "error", err)
	}

	callCtx, cancel := context.WithCancel(ctx)

	creds := resolveCredentials(req.AgentConfig, b.deps.Credentials)
	sendAudio := func(chunk []byte) {
		b.deps.Recording.AddChunk(req.CallID, chunk, recording.Agent)
		rtp.SendAudio(chunk)
	}
	conv, err := orchestrator.New(callCtx, logger, req.CallID, req.AgentConfig, creds, sendAudio, rtp.ClearQueue)
	if err != nil {
		cancel()
		rtp.Close()
		b.deps.RTPPorts.Release(port)
		reason := endReasonForErr(err)
		b.deps.Records.Finish(req.CallID, statusForReason(reason), string(reason), nil, "", time.Now())
		return err
	}

	b.deps.Recording.Start(req.CallID, map[string]string{"agentId": req.AgentID})
	rtp.OnAudioIn(func(frame []byte) {
		b.deps.Recording.AddChunk(req.CallID, frame, recording.Caller)
		conv.HandleAudioIn(callCtx, frame)
	})

	dialOpts := req.DialOptions
	dialOpts.ToUser = toUser
	dialOpts.LocalRTPPort = port

	call := &activeCall{conv: conv, rtp: rtp, cancel: cancel}
	b.register(req.CallID, call)

	conv.OnEnded = func(reason callmodel.EndReason) { b.finishCall(req.CallID, reason) }
	conv.OnStateChange = func(s callmodel.State) {
		if s == callmodel.StateListening || s == callmodel.StateSpeaking {
			if err := b.deps.Records.MarkInProgress(req.CallID); err != nil {
				logger.Warn("mediabridge: failed to mark in-progress", "error", err)
			}
		}
	}

	dialog, err := b.deps.SIPTransport.Dial(callCtx, dialOpts)
	if err != nil {
		conv.End(callCtx, callmodel.EndTransportError)
		return fmt.Errorf("mediabridge: dial failed: %w", err)
	}

	b.mu.Lock()
	if c, ok := b.active[req.CallID]; ok {
		c.dialog = dialog
	}
	b.mu.Unlock()

	dialog.OnRinging = func() {
		if err := b.deps.Records.MarkRinging(req.CallID); err != nil {
			logger.Warn("mediabridge: failed to mark ringing", "error", err)
		}
	}
	dialog.OnHangup = func(reason string) { conv.End(callCtx, callmodel.EndRemoteHangup) }
	dialog.OnReinvite = func(media *siptransport.RemoteMedia) {
		ip := net.ParseIP(media.ConnectionIP)
		if ip == nil {
			logger.Warn("mediabridge: re-INVITE carried unparseable connection IP", "ip", media.ConnectionIP)
			return
		}
		rtp.RerouteRemoteEndpoint(ip, media.AudioPort)
	}

	remoteIP := net.ParseIP(dialog.RemoteMedia.ConnectionIP)
	rtp.SetRemoteEndpoint(remoteIP, dialog.RemoteMedia.AudioPort)
	rtp.SetPayloadType(dialog.NegotiatedCodec.PayloadType)

	go rtp.Start(callCtx)
	conv.Start(callCtx)
	return nil
}
