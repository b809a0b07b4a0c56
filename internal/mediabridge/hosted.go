// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package mediabridge

import (
	"context"
	"time"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/callrecord"
	"github.com/rapidaai/voicecore/internal/mediastream"
	"github.com/rapidaai/voicecore/internal/orchestrator"
	"github.com/rapidaai/voicecore/internal/recording"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

// HandleHostedCall drives one hosted media-stream session end to end
// (spec.md §6.2): it waits for the inbound "start" frame, then wires the
// same orchestrator/recording/record machinery the SIP path uses, with
// conn.SendAudio in place of an RTP session and no jitter buffer to clear
// on abort, since the websocket carries no local pacer queue.
//
// It blocks until the call ends, so callers should invoke it from the
// goroutine that owns the upgraded connection.
func (b *Bridge) HandleHostedCall(ctx context.Context, conn *mediastream.Conn, cfg callmodel.AgentConfig, agentID string) error {
	logger := b.deps.Logger

	start, err := conn.WaitForStart()
	if err != nil {
		return err
	}
	callID := start.CallID
	logger = logger.With("callId", callID)

	if err := cfg.Validate(); err != nil {
		return voiceerr.New(voiceerr.KindConfigInvalid, callID, err)
	}

	record := &callrecord.Record{
		ID:             callID,
		AgentID:        agentID,
		CustomerNumber: start.CustomerNumber,
		StartedAt:      time.Now(),
	}
	if err := b.deps.Records.Initiate(record); err != nil {
		logger.Warn("mediabridge: failed to persist call initiation", "error", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	creds := resolveCredentials(cfg, b.deps.Credentials)
	sendAudio := func(chunk []byte) {
		b.deps.Recording.AddChunk(callID, chunk, recording.Agent)
		conn.SendAudio(chunk)
	}
	conv, err := orchestrator.New(callCtx, logger, callID, cfg, creds, sendAudio, func() {})
	if err != nil {
		cancel()
		reason := endReasonForErr(err)
		b.deps.Records.Finish(callID, statusForReason(reason), string(reason), nil, "", time.Now())
		return err
	}

	b.deps.Recording.Start(callID, map[string]string{"agentId": agentID})
	conn.AttachHandler(func(frame []byte) {
		b.deps.Recording.AddChunk(callID, frame, recording.Caller)
		conv.HandleAudioIn(callCtx, frame)
	})
	conn.OnStop(func() { conv.End(callCtx, callmodel.EndRemoteHangup) })

	call := &activeCall{conv: conv, hosted: conn, cancel: cancel}
	b.register(callID, call)

	conv.OnEnded = func(reason callmodel.EndReason) {
		b.finishCall(callID, reason)
		close(done)
	}
	conv.OnStateChange = func(s callmodel.State) {
		if s == callmodel.StateListening || s == callmodel.StateSpeaking {
			if err := b.deps.Records.MarkInProgress(callID); err != nil {
				logger.Warn("mediabridge: failed to mark in-progress", "error", err)
			}
		}
	}

	conv.Start(callCtx)
	<-done
	return nil
}
