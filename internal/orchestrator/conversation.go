// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package orchestrator implements the C9 conversation orchestrator (spec.md
// §4.9): the state machine driving one call's listen/think/speak cycle,
// wired to the STT/LLM/TTS clients and an outbound audio sink supplied by
// the media bridge.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/llmchat"
	"github.com/rapidaai/voicecore/internal/logging"
	"github.com/rapidaai/voicecore/internal/sttstream"
	"github.com/rapidaai/voicecore/internal/ttsstream"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

const defaultApology = "I'm sorry, I had trouble with that. Could you say that again?"

const (
	defaultSilenceTimeoutSeconds = 15
	defaultMaxDurationSeconds    = 600
)

// Credentials bundles the three provider API keys a Conversation needs.
// Which key is actually used depends on cfg.Model/Voice/Transcriber.Provider.
type Credentials struct {
	STTAPIKey string
	LLMAPIKey string
	TTSAPIKey string
}

// Conversation is one call's orchestrator instance.
type Conversation struct {
	logger logging.Logger
	callID string
	cfg    callmodel.AgentConfig

	stt *sttstream.Client
	llm *llmchat.Client
	tts *ttsstream.Client

	sendAudio  func([]byte)
	clearAudio func()

	mu      sync.Mutex
	state   callmodel.State
	aborted bool

	silenceTimer     *time.Timer
	maxDurationTimer *time.Timer

	endedOnce sync.Once

	// OnStateChange and OnEnded are invoked without the orchestrator's
	// lock held; the media bridge uses them to update lifecycle records.
	OnStateChange func(callmodel.State)
	OnEnded       func(callmodel.EndReason)
}

// New validates the agent configuration, opens the STT/LLM/TTS clients,
// and returns a Conversation in the idle state.
//
// sendAudio delivers mu-law TTS output to the transport (RTP session or
// hosted media-stream socket); clearAudio discards anything already
// queued there, and is called from End when the call ends.
func New(ctx context.Context, logger logging.Logger, callID string, cfg callmodel.AgentConfig, creds Credentials,
	sendAudio func([]byte), clearAudio func()) (*Conversation, error) {

	if err := cfg.Validate(); err != nil {
		return nil, voiceerr.New(voiceerr.KindConfigInvalid, callID, err)
	}

	llm, err := llmchat.New(logger, callID, creds.LLMAPIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	tts, err := ttsstream.New(logger, callID, creds.TTSAPIKey, cfg.Voice.Provider)
	if err != nil {
		return nil, err
	}

	c := &Conversation{
		logger:     logger.With("callId", callID),
		callID:     callID,
		cfg:        cfg,
		llm:        llm,
		tts:        tts,
		sendAudio:  sendAudio,
		clearAudio: clearAudio,
		state:      callmodel.StateIdle,
	}

	stt, err := sttstream.New(ctx, logger, callID, creds.STTAPIKey, cfg.Transcriber,
		c.handleInterim, c.handleFinal, c.handleSTTError)
	if err != nil {
		return nil, err
	}
	c.stt = stt

	return c, nil
}

// Start begins the call: arms the max-duration watchdog and either speaks
// the configured first message or enters listening, per
// cfg.FirstMessageMode. The responseDelay is never applied to the first
// message (spec.md §9's supplemented decision 1) — only to turns that
// follow a committed user utterance.
func (c *Conversation) Start(ctx context.Context) {
	if max := c.effectiveMaxDuration(); max > 0 {
		c.mu.Lock()
		c.maxDurationTimer = time.AfterFunc(max, func() { c.End(ctx, callmodel.EndMaxDuration) })
		c.mu.Unlock()
	}

	if c.cfg.FirstMessageMode == callmodel.AssistantSpeaksFirst && c.cfg.FirstMessage != "" {
		go func() {
			recovered := c.speak(ctx, c.cfg.FirstMessage)
			if recovered || c.isAborted() {
				return
			}
			c.enterListening(ctx)
		}()
		return
	}
	c.enterListening(ctx)
}

// HandleAudioIn forwards one inbound mu-law frame to the recognizer. It is
// always delivered regardless of state so the STT connection stays warm
// through thinking/speaking (spec.md §4.2/§4.9).
func (c *Conversation) HandleAudioIn(ctx context.Context, mulawFrame []byte) {
	if err := c.stt.SendAudio(ctx, mulawFrame); err != nil {
		c.logger.Warn("orchestrator: failed forwarding audio to recognizer", "error", err)
	}
}

// State returns the current lifecycle state.
func (c *Conversation) State() callmodel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns the conversation-log snapshot, for persistence (spec.md
// §6.3).
func (c *Conversation) History() []callmodel.Turn {
	return c.llm.History()
}

func (c *Conversation) effectiveMaxDuration() time.Duration {
	secs := c.cfg.MaxDurationSeconds
	if secs <= 0 {
		secs = defaultMaxDurationSeconds
	}
	return time.Duration(secs) * time.Second
}

func (c *Conversation) effectiveSilenceTimeout() time.Duration {
	secs := c.cfg.SilenceTimeoutSecs
	if secs <= 0 {
		secs = defaultSilenceTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// waitResponseDelay sleeps out cfg.ResponseDelaySecs before a turn's LLM
// call (spec.md §4.9), exempting only the first message (handled directly
// in Start, which never calls processTurn). Returns false if the call
// ended during the wait, so the caller can bail out without invoking the
// LLM.
func (c *Conversation) waitResponseDelay(ctx context.Context) bool {
	if c.cfg.ResponseDelaySecs <= 0 {
		return !c.isAborted()
	}
	delay := time.Duration(c.cfg.ResponseDelaySecs * float64(time.Second))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return !c.isAborted()
}

func (c *Conversation) enterListening(ctx context.Context) {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(callmodel.StateListening)
	c.armSilenceTimerLocked(ctx)
	c.mu.Unlock()
}

func (c *Conversation) armSilenceTimerLocked(ctx context.Context) {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
	}
	c.silenceTimer = time.AfterFunc(c.effectiveSilenceTimeout(), func() {
		c.End(ctx, callmodel.EndSilenceTimeout)
	})
}

func (c *Conversation) setStateLocked(s callmodel.State) {
	c.state = s
	if c.OnStateChange != nil {
		go c.OnStateChange(s)
	}
}

// handleInterim resets the silence timer: any speech, even not yet final,
// proves the caller hasn't gone quiet.
func (c *Conversation) handleInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted || c.state != callmodel.StateListening {
		return
	}
	if c.silenceTimer != nil {
		c.silenceTimer.Reset(c.effectiveSilenceTimeout())
	}
}

// handleFinal is the STT finalizer's one-utterance-per-turn callback
// (spec.md §4.2). A final arriving outside the listening state is a race
// between finalization and our own state transition and is dropped per
// spec.md §9's supplemented decision 3.
func (c *Conversation) handleFinal(text string) {
	ctx := context.Background()

	c.mu.Lock()
	if c.aborted || c.state != callmodel.StateListening {
		c.mu.Unlock()
		return
	}
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
	}
	c.setStateLocked(callmodel.StateThinking)
	c.mu.Unlock()

	go c.processTurn(ctx, text)
}

func (c *Conversation) handleSTTError(err error) {
	c.logger.Warn("orchestrator: recognizer error", "error", err)
}

// processTurn runs one thinking+speaking cycle: the user's utterance goes
// to the LLM, the reply goes to TTS, and the conversation returns to
// listening. Every blocking call is followed by an abort check (spec.md
// §9 "abort-checked-at-every-await"). Every turn following a committed
// utterance first waits out the configured response delay (spec.md §4.9),
// re-checking for abort once the wait ends.
func (c *Conversation) processTurn(ctx context.Context, text string) {
	c.stt.ClearBuffer()
	// Recognizer results stay suppressed through thinking and speaking;
	// speak sets the same flag around its own TTS pass.
	c.stt.SetIgnoreTranscripts(true)
	defer c.stt.SetIgnoreTranscripts(false)

	if !c.waitResponseDelay(ctx) {
		return
	}

	reply, err := c.llm.GetResponse(ctx, text, nil)
	if c.isAborted() {
		return
	}
	if err != nil {
		c.recoverFromError(ctx, err)
		return
	}

	recovered := c.speak(ctx, reply)
	if recovered || c.isAborted() {
		return
	}
	c.enterListening(ctx)
}

// speak drives one TTS pass: echo-suppresses the recognizer, streams audio
// to the transport, and restores the recognizer's normal event flow. It
// reports whether recoverFromError ran, since recoverFromError already
// re-enters listening (or ends the call) itself — a caller must not
// re-enter listening a second time for the same turn.
func (c *Conversation) speak(ctx context.Context, text string) (recovered bool) {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(callmodel.StateSpeaking)
	c.mu.Unlock()

	c.stt.ClearBuffer()
	c.stt.SetIgnoreTranscripts(true)
	defer c.stt.SetIgnoreTranscripts(false)

	err := c.tts.TextToSpeechStream(ctx, text, c.cfg.Voice, func(chunk []byte) {
		if c.isAborted() {
			return
		}
		c.sendAudio(chunk)
	})
	if c.isAborted() {
		return false
	}
	if err != nil {
		c.recoverFromError(ctx, err)
		return true
	}
	return false
}

// recoverFromError speaks a fixed apology and returns to listening. If the
// apology itself cannot be spoken, the call ends with reason "error"
// (spec.md §7).
func (c *Conversation) recoverFromError(ctx context.Context, cause error) {
	c.logger.Warn("orchestrator: recovering from component error", "error", cause)
	if c.isAborted() {
		return
	}

	c.mu.Lock()
	c.setStateLocked(callmodel.StateSpeaking)
	c.mu.Unlock()

	err := c.tts.TextToSpeechStream(ctx, defaultApology, c.cfg.Voice, func(chunk []byte) {
		if !c.isAborted() {
			c.sendAudio(chunk)
		}
	})
	if c.isAborted() {
		return
	}
	if err != nil {
		c.logger.Error("orchestrator: failed to speak apology, ending call", "error", err)
		c.End(ctx, callmodel.EndError)
		return
	}
	c.enterListening(ctx)
}

func (c *Conversation) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// End terminates the call exactly once, tearing down the STT/TTS clients
// concurrently (spec.md §11: errgroup fan-out on abort) and firing OnEnded
// with the given reason.
func (c *Conversation) End(ctx context.Context, reason callmodel.EndReason) {
	c.endedOnce.Do(func() {
		c.mu.Lock()
		c.aborted = true
		c.setStateLocked(callmodel.StateEnded)
		if c.silenceTimer != nil {
			c.silenceTimer.Stop()
		}
		if c.maxDurationTimer != nil {
			c.maxDurationTimer.Stop()
		}
		c.mu.Unlock()

		if c.clearAudio != nil {
			c.clearAudio()
		}

		var g errgroup.Group
		g.Go(func() error { return c.stt.Close() })
		g.Go(func() error { c.tts.Stop(); return nil })
		if err := g.Wait(); err != nil {
			c.logger.Warn("orchestrator: error tearing down provider connections", "error", err)
		}

		if c.OnEnded != nil {
			c.OnEnded(reason)
		}
	})
}

// ErrKindToEndReason maps a CallError's Kind onto the EndReason the media
// bridge reports on the persisted call record (spec.md §6.3).
func ErrKindToEndReason(kind voiceerr.Kind) callmodel.EndReason {
	switch kind {
	case voiceerr.KindRemoteHangup:
		return callmodel.EndRemoteHangup
	case voiceerr.KindSilenceTimeout:
		return callmodel.EndSilenceTimeout
	case voiceerr.KindMaxDuration:
		return callmodel.EndMaxDuration
	case voiceerr.KindTransportFailure:
		return callmodel.EndTransportError
	default:
		return callmodel.EndError
	}
}
