// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llmchat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

type fakeProvider struct {
	replies []string
	calls   int
	lastLen int
}

func (f *fakeProvider) Stream(_ context.Context, history []callmodel.Turn, _ callmodel.ModelConfig, onChunk func(string)) (string, error) {
	f.lastLen = len(history)
	reply := fmt.Sprintf("reply-%d", f.calls)
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	if onChunk != nil {
		onChunk(reply)
	}
	return reply, nil
}

func newTestClientWithProvider(t *testing.T, p Provider) *Client {
	t.Helper()
	return &Client{
		logger:   logging.NewTest(),
		callID:   "call-1",
		cfg:      callmodel.ModelConfig{Provider: "fake", ModelName: "fake-model"},
		provider: p,
	}
}

func TestClient_GetResponseAppendsBothSidesToHistory(t *testing.T) {
	fake := &fakeProvider{replies: []string{"hello there"}}
	c := newTestClientWithProvider(t, fake)

	var chunks []string
	reply, err := c.GetResponse(context.Background(), "hi", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, []string{"hello there"}, chunks)

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, callmodel.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, callmodel.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello there", history[1].Content)
}

func TestClient_SummarizesPastThreshold(t *testing.T) {
	fake := &fakeProvider{}
	c := newTestClientWithProvider(t, fake)

	// 11 exchanges -> 22 turns, past the 20-turn threshold, triggers
	// summarization after the 11th GetResponse call.
	for i := 0; i < 11; i++ {
		_, err := c.GetResponse(context.Background(), fmt.Sprintf("msg-%d", i), nil)
		require.NoError(t, err)
	}

	history := c.History()
	// summary note + last 5 retained turns
	assert.Len(t, history, 6)
	assert.Equal(t, callmodel.RoleAssistant, history[0].Role)
}

func TestClient_UnknownProviderRejectsConstruction(t *testing.T) {
	_, err := New(logging.NewTest(), "call-2", "key", callmodel.ModelConfig{Provider: "does-not-exist", ModelName: "x"})
	require.Error(t, err)
}
