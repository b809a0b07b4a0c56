// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package recording

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/logging"
)

type fakeObjectStore struct {
	uploadedCallID string
	uploadedBytes  []byte
	url            string
	err            error
	calls          int
}

func (f *fakeObjectStore) Upload(_ context.Context, callID string, wav []byte) (string, error) {
	f.calls++
	f.uploadedCallID = callID
	f.uploadedBytes = wav
	return f.url, f.err
}

func TestStopAndUploadMixesBothDirectionsAndUploads(t *testing.T) {
	store := &fakeObjectStore{url: "https://store.example/call-1.wav"}
	sink := New(logging.NewTest(), store)

	sink.Start("call-1", map[string]string{"agentId": "agent-1"})
	sink.AddChunk("call-1", []byte{1, 2, 3}, Caller)
	sink.AddChunk("call-1", []byte{4, 5, 6}, Agent)

	url, err := sink.StopAndUpload(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, "https://store.example/call-1.wav", url)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "call-1", store.uploadedCallID)
	assert.NotEmpty(t, store.uploadedBytes)
}

func TestAddChunkIsNoopForUnstartedCall(t *testing.T) {
	store := &fakeObjectStore{}
	sink := New(logging.NewTest(), store)

	sink.AddChunk("never-started", []byte{1, 2, 3}, Caller)
	url, err := sink.StopAndUpload(context.Background(), "never-started")

	require.NoError(t, err)
	assert.Equal(t, "", url)
	assert.Equal(t, 0, store.calls)
}

func TestStopAndUploadIsNoopWhenNoAudioWasAdded(t *testing.T) {
	store := &fakeObjectStore{}
	sink := New(logging.NewTest(), store)

	sink.Start("call-2", nil)
	url, err := sink.StopAndUpload(context.Background(), "call-2")

	require.NoError(t, err)
	assert.Equal(t, "", url)
	assert.Equal(t, 0, store.calls)
}

func TestStopAndUploadSecondCallIsNoopAfterFirstDeletesState(t *testing.T) {
	store := &fakeObjectStore{url: "u"}
	sink := New(logging.NewTest(), store)

	sink.Start("call-3", nil)
	sink.AddChunk("call-3", []byte{7}, Caller)

	_, err := sink.StopAndUpload(context.Background(), "call-3")
	require.NoError(t, err)

	url, err := sink.StopAndUpload(context.Background(), "call-3")
	require.NoError(t, err)
	assert.Equal(t, "", url)
	assert.Equal(t, 1, store.calls)
}

func TestStopAndUploadPropagatesUploadError(t *testing.T) {
	store := &fakeObjectStore{err: assert.AnError}
	sink := New(logging.NewTest(), store)

	sink.Start("call-4", nil)
	sink.AddChunk("call-4", []byte{1}, Agent)

	_, err := sink.StopAndUpload(context.Background(), "call-4")
	assert.Error(t, err)
}
