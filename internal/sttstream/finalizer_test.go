// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sttstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProviderStream lets tests push TranscriptEvents directly without a
// real websocket connection.
type fakeProviderStream struct {
	events chan TranscriptEvent
	errs   chan error
	closed bool
}

func newFakeProviderStream() *fakeProviderStream {
	return &fakeProviderStream{events: make(chan TranscriptEvent, 16), errs: make(chan error, 4)}
}

func (f *fakeProviderStream) Send(context.Context, []byte) error { return nil }
func (f *fakeProviderStream) Events() <-chan TranscriptEvent     { return f.events }
func (f *fakeProviderStream) Errors() <-chan error               { return f.errs }
func (f *fakeProviderStream) Close() error                       { f.closed = true; return nil }

func newTestClient(t *testing.T) (*Client, *fakeProviderStream, *recordedCallbacks) {
	t.Helper()
	fake := newFakeProviderStream()
	rec := &recordedCallbacks{}

	c := &Client{
		logger: nil,
		stream: fake,
		done:   make(chan struct{}),
		onInterim: func(s string) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.interims = append(rec.interims, s)
		},
		onFinal: func(s string) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.finals = append(rec.finals, s)
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.pump(ctx)
	return c, fake, rec
}

type recordedCallbacks struct {
	mu       sync.Mutex
	interims []string
	finals   []string
}

func (r *recordedCallbacks) snapshotFinals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finals...)
}

func TestFinalizer_NonEmptyFinalEmitsImmediately(t *testing.T) {
	c, fake, rec := newTestClient(t)
	_ = c
	fake.events <- TranscriptEvent{Text: "hello world", IsFinal: true}

	require.Eventually(t, func() bool { return len(rec.snapshotFinals()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello world"}, rec.snapshotFinals())
}

func TestFinalizer_EmptyFinalPromotesLastInterim(t *testing.T) {
	c, fake, rec := newTestClient(t)
	_ = c
	fake.events <- TranscriptEvent{Text: "partial phrase", IsFinal: false}
	fake.events <- TranscriptEvent{Text: "", IsFinal: true}

	require.Eventually(t, func() bool { return len(rec.snapshotFinals()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"partial phrase"}, rec.snapshotFinals())
}

func TestFinalizer_FallbackTimerPromotesStaleInterim(t *testing.T) {
	c, fake, rec := newTestClient(t)
	_ = c
	fake.events <- TranscriptEvent{Text: "still waiting", IsFinal: false}

	// no final ever arrives; the 1500ms fallback timer should fire
	require.Eventually(t, func() bool { return len(rec.snapshotFinals()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"still waiting"}, rec.snapshotFinals())
}

func TestFinalizer_UtteranceEndPromotesInterim(t *testing.T) {
	c, fake, rec := newTestClient(t)
	fake.events <- TranscriptEvent{Text: "cut off", IsFinal: false}
	time.Sleep(20 * time.Millisecond)
	c.UtteranceEnd()

	require.Eventually(t, func() bool { return len(rec.snapshotFinals()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"cut off"}, rec.snapshotFinals())
}

func TestFinalizer_ClearBufferSuppressesBriefly(t *testing.T) {
	c, fake, rec := newTestClient(t)
	c.ClearBuffer()
	fake.events <- TranscriptEvent{Text: "echoed agent speech", IsFinal: true}

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshotFinals())
}

func TestFinalizer_IgnoreTranscriptsDropsEverythingUntilCleared(t *testing.T) {
	c, fake, rec := newTestClient(t)
	c.SetIgnoreTranscripts(true)
	fake.events <- TranscriptEvent{Text: "self hearing", IsFinal: true}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshotFinals())

	c.SetIgnoreTranscripts(false)
	fake.events <- TranscriptEvent{Text: "real user speech", IsFinal: true}
	require.Eventually(t, func() bool { return len(rec.snapshotFinals()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"real user speech"}, rec.snapshotFinals())
}

func TestFinalizer_SilentTurnEmitsNoFinal(t *testing.T) {
	_, _, rec := newTestClient(t)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshotFinals())
}
