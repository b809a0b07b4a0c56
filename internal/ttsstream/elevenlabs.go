// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ttsstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

func init() {
	RegisterProvider("elevenlabs", newElevenLabsProvider)
}

// elevenLabsProvider streams synthesis over the provider's websocket
// input-streaming endpoint, requesting mu-law 8kHz output directly so no
// resampling is needed before the RTP transport (spec.md §4.4).
type elevenLabsProvider struct {
	logger logging.Logger
	apiKey string
}

func newElevenLabsProvider(logger logging.Logger, apiKey string) Provider {
	return &elevenLabsProvider{logger: logger, apiKey: apiKey}
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenLabsInitMessage struct {
	Text          string                    `json:"text"`
	VoiceSettings *elevenLabsVoiceSettings  `json:"voice_settings,omitempty"`
	LanguageCode  string                    `json:"language_code,omitempty"`
	GenerationCfg map[string]interface{}    `json:"generation_config,omitempty"`
	XIAPIKey      string                    `json:"xi_api_key,omitempty"`
}

type elevenLabsCloseMessage struct {
	Text string `json:"text"`
}

type elevenLabsOutputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
}

func (p *elevenLabsProvider) Synthesize(ctx context.Context, text string, cfg callmodel.VoiceConfig, onChunk func([]byte), stopped func() bool) error {
	endpoint := fmt.Sprintf(
		"wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=ulaw_8000",
		url.PathEscape(cfg.VoiceID), url.QueryEscape(cfg.TTSModelID))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ttsstream/elevenlabs: dial failed: %w", err)
	}
	defer conn.Close()

	init := elevenLabsInitMessage{Text: " ", XIAPIKey: p.apiKey}
	if SupportsVoiceSettings(cfg.TTSModelID) {
		init.VoiceSettings = &elevenLabsVoiceSettings{
			Stability:       cfg.Stability,
			SimilarityBoost: cfg.SimilarityBoost,
			Speed:           cfg.Speed,
			Style:           0,
			UseSpeakerBoost: cfg.UseSpeakerBoost,
		}
	}
	if ForwardLanguageCode(cfg) {
		init.LanguageCode = cfg.Language
	}
	if err := conn.WriteJSON(init); err != nil {
		return fmt.Errorf("ttsstream/elevenlabs: init frame failed: %w", err)
	}
	if err := conn.WriteJSON(struct {
		Text  string `json:"text"`
		Flush bool   `json:"flush"`
	}{Text: text, Flush: true}); err != nil {
		return fmt.Errorf("ttsstream/elevenlabs: text frame failed: %w", err)
	}
	if err := conn.WriteJSON(elevenLabsCloseMessage{Text: ""}); err != nil {
		return fmt.Errorf("ttsstream/elevenlabs: close frame failed: %w", err)
	}

	for {
		if stopped() {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if stopped() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("ttsstream/elevenlabs: read failed: %w", err)
		}

		var msg elevenLabsOutputMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			p.logger.Warn("ttsstream/elevenlabs: malformed frame", "error", err)
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("ttsstream/elevenlabs: %s", msg.Error)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				p.logger.Warn("ttsstream/elevenlabs: failed to decode audio chunk", "error", err)
				continue
			}
			if stopped() {
				return nil
			}
			onChunk(chunk)
		}
		if msg.IsFinal {
			return nil
		}
	}
}
