// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/voiceerr"
)

func TestErrKindToEndReason(t *testing.T) {
	tests := []struct {
		kind voiceerr.Kind
		want callmodel.EndReason
	}{
		{voiceerr.KindRemoteHangup, callmodel.EndRemoteHangup},
		{voiceerr.KindSilenceTimeout, callmodel.EndSilenceTimeout},
		{voiceerr.KindMaxDuration, callmodel.EndMaxDuration},
		{voiceerr.KindTransportFailure, callmodel.EndTransportError},
		{voiceerr.KindSTTError, callmodel.EndError},
		{voiceerr.KindConfigInvalid, callmodel.EndError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrKindToEndReason(tt.kind))
	}
}

func TestEffectiveTimeoutsFallBackToDefaults(t *testing.T) {
	c := &Conversation{cfg: callmodel.AgentConfig{}}
	assert.Equal(t, defaultSilenceTimeoutSeconds, int(c.effectiveSilenceTimeout().Seconds()))
	assert.Equal(t, defaultMaxDurationSeconds, int(c.effectiveMaxDuration().Seconds()))
}

func TestEffectiveTimeoutsHonorConfiguredValues(t *testing.T) {
	c := &Conversation{cfg: callmodel.AgentConfig{SilenceTimeoutSecs: 5, MaxDurationSeconds: 120}}
	assert.Equal(t, 5, int(c.effectiveSilenceTimeout().Seconds()))
	assert.Equal(t, 120, int(c.effectiveMaxDuration().Seconds()))
}
