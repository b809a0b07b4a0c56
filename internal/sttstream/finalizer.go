// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sttstream

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/logging"
)

const (
	fallbackFinalDelay   = 1500 * time.Millisecond
	clearBufferSuppress  = 500 * time.Millisecond
)

// Client wraps a provider's raw streaming connection with the
// utterance-finalization logic from spec.md §4.2 so onFinal sees exactly
// one final transcript per speech turn, never a raw interim or a dropped
// trailing phrase; interims are passed to onInterim as they arrive.
type Client struct {
	mu     sync.Mutex
	logger logging.Logger
	stream ProviderStream

	lastInterim string
	finalTimer  *time.Timer
	ignoreUntil time.Time
	ignoreAll   bool

	onInterim func(text string)
	onFinal   func(text string)
	onError   func(err error)

	closed bool
	done   chan struct{}
}

// New opens a provider connection and starts its event pump.
func New(ctx context.Context, logger logging.Logger, callID, apiKey string, cfg callmodel.TranscriberConfig,
	onInterim func(string), onFinal func(string), onError func(error)) (*Client, error) {

	stream, err := Open(ctx, logger, callID, apiKey, cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		logger:    logger,
		stream:    stream,
		onInterim: onInterim,
		onFinal:   onFinal,
		onError:   onError,
		done:      make(chan struct{}),
	}
	go c.pump(ctx)
	return c, nil
}

func (c *Client) pump(ctx context.Context) {
	defer close(c.done)
	events := c.stream.Events()
	errs := c.stream.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if c.onError != nil {
				c.onError(err)
			}
		}
	}
}

func (c *Client) handleEvent(ev TranscriptEvent) {
	if ev.Text == utteranceEndMarker {
		c.UtteranceEnd()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppressedLocked() {
		return
	}

	if ev.IsFinal {
		if ev.Text != "" {
			c.clearInterimLocked()
			c.emitFinalLocked(ev.Text)
			return
		}
		// empty final: fall back to whatever interim we were tracking
		if c.lastInterim != "" {
			text := c.lastInterim
			c.clearInterimLocked()
			c.emitFinalLocked(text)
		}
		return
	}

	if ev.Text == "" {
		return
	}
	c.lastInterim = ev.Text
	c.armFallbackTimerLocked()
	if c.onInterim != nil {
		c.onInterim(ev.Text)
	}
}

// UtteranceEnd handles the recognizer's explicit end-of-utterance signal:
// if an interim is still pending, it is promoted to final.
func (c *Client) UtteranceEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suppressedLocked() || c.lastInterim == "" {
		return
	}
	text := c.lastInterim
	c.clearInterimLocked()
	c.emitFinalLocked(text)
}

func (c *Client) armFallbackTimerLocked() {
	if c.finalTimer != nil {
		c.finalTimer.Stop()
	}
	c.finalTimer = time.AfterFunc(fallbackFinalDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.suppressedLocked() || c.lastInterim == "" {
			return
		}
		text := c.lastInterim
		c.clearInterimLocked()
		c.emitFinalLocked(text)
	})
}

func (c *Client) clearInterimLocked() {
	if c.finalTimer != nil {
		c.finalTimer.Stop()
		c.finalTimer = nil
	}
	c.lastInterim = ""
}

func (c *Client) emitFinalLocked(text string) {
	if c.onFinal != nil {
		c.onFinal(text)
	}
}

func (c *Client) suppressedLocked() bool {
	return c.ignoreAll || time.Now().Before(c.ignoreUntil)
}

// ClearBuffer discards interim state and suppresses every incoming event
// for 500ms — called immediately before invoking the LLM and again
// immediately before TTS playback to prevent the agent transcribing its
// own voice (spec.md §4.9 barge-in / echo suppression).
func (c *Client) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearInterimLocked()
	c.ignoreUntil = time.Now().Add(clearBufferSuppress)
}

// SetIgnoreTranscripts toggles long-lived suppression for the duration of
// the `thinking`/`speaking` states. Audio keeps flowing to the recognizer
// (SendAudio is unaffected) so the session stays warm; only the resulting
// events are discarded.
func (c *Client) SetIgnoreTranscripts(ignore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ignoreAll = ignore
	if ignore {
		c.clearInterimLocked()
	}
}

// SendAudio forwards one mu-law frame to the provider regardless of
// suppression state.
func (c *Client) SendAudio(ctx context.Context, mulawFrame []byte) error {
	return c.stream.Send(ctx, mulawFrame)
}

// Close tears down the provider connection and stops the event pump.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.clearInterimLocked()
	c.mu.Unlock()
	return c.stream.Close()
}
