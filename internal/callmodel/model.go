// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callmodel holds the per-call data model from spec.md §3 — the
// immutable agent configuration and the mutable conversation log shared by
// the orchestrator, the media bridge, and the persisted call record.
package callmodel

import "time"

// FirstMessageMode controls who speaks first when a call connects.
type FirstMessageMode string

const (
	AssistantSpeaksFirst FirstMessageMode = "assistant-speaks-first"
	UserSpeaksFirst      FirstMessageMode = "user-speaks-first"
)

// ModelConfig configures the LLM chat client (C3).
type ModelConfig struct {
	Provider     string
	ModelName    string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// VoiceConfig configures the TTS stream client (C4). OutputFormat must be
// 8 kHz mu-law for telephony; callers that configure anything else get a
// ConfigInvalid rejection before dialing.
type VoiceConfig struct {
	Provider        string
	VoiceID         string
	TTSModelID      string
	Stability       float64
	SimilarityBoost float64
	Speed           float64
	Language        string
	OutputFormat    string
	UseSpeakerBoost bool
	HinglishMode    bool
}

// TranscriberConfig configures the STT stream client (C2).
type TranscriberConfig struct {
	Provider       string
	ModelName      string
	Language       string
	Encoding       string // always "mulaw" for this core
	SampleRate     int    // always 8000
	EndpointingMs  int
	UtteranceEndMs int
}

// AgentConfig is immutable for the lifetime of a call (spec.md §3).
type AgentConfig struct {
	Model               ModelConfig
	Voice               VoiceConfig
	Transcriber         TranscriberConfig
	FirstMessage        string
	FirstMessageMode    FirstMessageMode
	MaxDurationSeconds  int
	SilenceTimeoutSecs  int
	ResponseDelaySecs   float64
}

// Validate implements the ConfigInvalid error kind's trigger condition
// (spec.md §7): missing voice/transcriber/model rejects call setup before
// dialing.
func (c *AgentConfig) Validate() error {
	if c.Model.Provider == "" || c.Model.ModelName == "" {
		return errMissing("model")
	}
	if c.Voice.Provider == "" || c.Voice.VoiceID == "" {
		return errMissing("voice")
	}
	if c.Voice.OutputFormat != "" && c.Voice.OutputFormat != "ulaw_8000" && c.Voice.OutputFormat != "mulaw-8000" {
		// telephony requires 8kHz mu-law; an explicit other format is invalid
		return errMissing("voice.outputFormat (must be 8kHz mu-law)")
	}
	if c.Transcriber.Provider == "" {
		return errMissing("transcriber")
	}
	if c.FirstMessageMode == "" {
		c.FirstMessageMode = UserSpeaksFirst
	}
	return nil
}

func errMissing(field string) error {
	return &missingFieldError{field: field}
}

type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string { return "missing required agent config: " + e.field }

// Role identifies the speaker of a conversation-log turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the call's conversation log (spec.md §3).
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// State is the conversation orchestrator's state machine state (spec.md §4.9).
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateEnded     State = "ended"
)

// EndReason enumerates the closing reasons a session's single `ended`
// event may carry (spec.md §8 invariant 3).
type EndReason string

const (
	EndUserHangup     EndReason = "user_hangup"
	EndRemoteHangup   EndReason = "remote_hangup"
	EndSilenceTimeout EndReason = "silence_timeout"
	EndMaxDuration    EndReason = "max_duration"
	EndTransportError EndReason = "transport_error"
	EndError          EndReason = "error"
)
