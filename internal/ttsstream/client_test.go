// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ttsstream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

type fakeProvider struct {
	chunks   [][]byte
	err      error
	stopSeen bool
}

func (f *fakeProvider) Synthesize(_ context.Context, _ string, _ callmodel.VoiceConfig, onChunk func([]byte), stopped func() bool) error {
	for _, c := range f.chunks {
		if stopped() {
			f.stopSeen = true
			return nil
		}
		onChunk(c)
	}
	return f.err
}

func withFakeProvider(name string, p *fakeProvider) {
	RegisterProvider(name, func(logging.Logger, string) Provider { return p })
}

func TestNewReturnsConfigInvalidForUnknownProvider(t *testing.T) {
	_, err := New(logging.NewTest(), "call-1", "key", "not-a-real-provider")
	require.Error(t, err)
}

func TestTextToSpeechStreamDeliversChunksInOrder(t *testing.T) {
	fake := &fakeProvider{chunks: [][]byte{{1, 2}, {3, 4}, {5, 6}}}
	withFakeProvider("fake-tts", fake)

	client, err := New(logging.NewTest(), "call-2", "key", "fake-tts")
	require.NoError(t, err)

	var got [][]byte
	err = client.TextToSpeechStream(context.Background(), "hello", callmodel.VoiceConfig{}, func(b []byte) {
		got = append(got, b)
	})
	require.NoError(t, err)
	assert.Equal(t, fake.chunks, got)
}

func TestTextToSpeechStreamWrapsProviderError(t *testing.T) {
	fake := &fakeProvider{err: errors.New("provider exploded")}
	withFakeProvider("fake-tts-err", fake)

	client, err := New(logging.NewTest(), "call-3", "key", "fake-tts-err")
	require.NoError(t, err)

	err = client.TextToSpeechStream(context.Background(), "hello", callmodel.VoiceConfig{}, func([]byte) {})
	require.Error(t, err)
}

func TestStopHaltsChunkDeliveryBetweenChunks(t *testing.T) {
	fake := &fakeProvider{chunks: [][]byte{{1}, {2}, {3}}}
	withFakeProvider("fake-tts-stop", fake)

	client, err := New(logging.NewTest(), "call-4", "key", "fake-tts-stop")
	require.NoError(t, err)

	var got [][]byte
	err = client.TextToSpeechStream(context.Background(), "hello", callmodel.VoiceConfig{}, func(b []byte) {
		got = append(got, b)
		if len(got) == 1 {
			client.Stop()
		}
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, fake.stopSeen)
}

func TestSupportsVoiceSettingsExcludesV3Models(t *testing.T) {
	assert.False(t, SupportsVoiceSettings("eleven_v3"))
	assert.False(t, SupportsVoiceSettings("sonic-3"))
	assert.True(t, SupportsVoiceSettings("eleven_turbo_v2_5"))
}

func TestForwardLanguageCode(t *testing.T) {
	assert.True(t, ForwardLanguageCode(callmodel.VoiceConfig{HinglishMode: true}))
	assert.True(t, ForwardLanguageCode(callmodel.VoiceConfig{Language: "hi"}))
	assert.False(t, ForwardLanguageCode(callmodel.VoiceConfig{Language: "en"}))
	assert.False(t, ForwardLanguageCode(callmodel.VoiceConfig{Language: "en-US"}))
	assert.False(t, ForwardLanguageCode(callmodel.VoiceConfig{}))
}
