// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package mediastream implements the §6.2 hosted media-stream transport: a
// websocket carrying JSON-framed, base64-encoded mu-law audio for
// deployments that front this core with a hosted telephony provider
// instead of dialing SIP directly.
package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicecore/internal/logging"
)

// maxBufferedFrames bounds the inbound media buffer kept while a call is
// waiting on its orchestrator to finish dialing out to STT/LLM/TTS
// providers (spec.md §6.2): audio arriving in that window is held, but the
// buffer itself is bounded so a stalled dial doesn't grow without limit;
// once it is full, each new frame drops the oldest one.
const maxBufferedFrames = 500

// StartPayload is the inbound "start" event's parsed body.
type StartPayload struct {
	CallID         string
	AgentID        string
	CustomerNumber string
}

type inboundFrame struct {
	Event string `json:"event"`
	Start struct {
		CallID         string `json:"callId"`
		AgentID        string `json:"agentId"`
		CustomerNumber string `json:"customerNumber"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// Conn is one hosted call's websocket connection.
type Conn struct {
	ws     *websocket.Conn
	logger logging.Logger

	mu      sync.Mutex
	handler func([]byte)
	onStop  func()
	buffer  [][]byte
	closed  bool
}

// NewConn wraps an already-upgraded websocket connection.
func NewConn(ws *websocket.Conn, logger logging.Logger) *Conn {
	return &Conn{ws: ws, logger: logger}
}

// WaitForStart blocks for the inbound "start" event that must open every
// session, then launches the background pump that buffers or dispatches
// subsequent "media"/"stop" frames.
func (c *Conn) WaitForStart() (*StartPayload, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("mediastream: reading start frame: %w", err)
	}
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("mediastream: malformed start frame: %w", err)
	}
	if frame.Event != "start" {
		return nil, fmt.Errorf("mediastream: expected start event, got %q", frame.Event)
	}

	go c.pump()

	return &StartPayload{
		CallID:         frame.Start.CallID,
		AgentID:        frame.Start.AgentID,
		CustomerNumber: frame.Start.CustomerNumber,
	}, nil
}

func (c *Conn) pump() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stop := c.onStop
			c.mu.Unlock()
			if stop != nil {
				stop()
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case "media":
			chunk, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				c.logger.Warn("mediastream: failed to decode media payload", "error", err)
				continue
			}
			c.dispatchOrBuffer(chunk)
		case "stop":
			c.mu.Lock()
			stop := c.onStop
			c.mu.Unlock()
			if stop != nil {
				stop()
			}
			return
		}
	}
}

func (c *Conn) dispatchOrBuffer(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		handler := c.handler
		c.mu.Unlock()
		handler(chunk)
		c.mu.Lock()
		return
	}
	if len(c.buffer) >= maxBufferedFrames {
		c.buffer = c.buffer[1:]
	}
	c.buffer = append(c.buffer, chunk)
}

// AttachHandler wires the orchestrator's audio-in callback, flushing any
// frames buffered while the orchestrator was still dialing out.
func (c *Conn) AttachHandler(h func([]byte)) {
	c.mu.Lock()
	buffered := c.buffer
	c.buffer = nil
	c.handler = h
	c.mu.Unlock()

	for _, chunk := range buffered {
		h(chunk)
	}
}

// OnStop registers the callback fired when the peer sends "stop" or the
// socket closes.
func (c *Conn) OnStop(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStop = f
}

// SendAudio delivers one mu-law chunk as an outbound media frame.
func (c *Conn) SendAudio(mulaw []byte) error {
	frame := outboundFrame{Event: "media"}
	frame.Media.Payload = base64.StdEncoding.EncodeToString(mulaw)
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close shuts down the underlying socket. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}
