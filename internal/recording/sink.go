// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package recording implements the C5 recording sink (spec.md §4.5): it
// accumulates per-direction mu-law audio for a call, mixes the two
// directions into a single WAV on stop, and hands the bytes to an
// object-store collaborator. A two-buffer accumulate-then-mix model: no
// wall-clock pacing, both directions are appended in arrival order and
// mixed sample-for-sample at stop.
package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/codec"
	"github.com/rapidaai/voicecore/internal/logging"
)

// Direction identifies which leg of the call a chunk belongs to.
type Direction int

const (
	Caller Direction = iota
	Agent
)

// ObjectStore uploads a finished recording and returns its retrieval URL.
// Absent configuration, the sink is wired to a no-op implementation
// (spec.md §4.5: "Absent store configuration the sink is a silent no-op").
type ObjectStore interface {
	Upload(ctx context.Context, callID string, wav []byte) (string, error)
}

// NoopObjectStore satisfies ObjectStore when no bucket is configured.
type NoopObjectStore struct{}

func (NoopObjectStore) Upload(context.Context, string, []byte) (string, error) { return "", nil }

type callBuffer struct {
	caller    []byte
	agent     []byte
	meta      map[string]string
	startedAt time.Time
}

// Sink is the process-wide registry of in-flight recordings, keyed by
// call-id (spec.md §5: "the process-wide recording-sink registry").
type Sink struct {
	mu     sync.Mutex
	logger logging.Logger
	store  ObjectStore
	active map[string]*callBuffer
}

// New wires a sink against the given upload collaborator. Pass
// NoopObjectStore{} when no bucket/region/credentials are configured.
func New(logger logging.Logger, store ObjectStore) *Sink {
	if store == nil {
		store = NoopObjectStore{}
	}
	return &Sink{logger: logger, store: store, active: make(map[string]*callBuffer)}
}

// Start begins recording for callID.
func (s *Sink) Start(callID string, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[callID] = &callBuffer{meta: meta, startedAt: time.Now()}
}

// AddChunk appends one mu-law fragment to the named direction's buffer.
// A no-op if the call was never started (e.g. recording disabled).
func (s *Sink) AddChunk(callID string, chunk []byte, dir Direction) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.active[callID]
	if !ok {
		return
	}
	switch dir {
	case Caller:
		buf.caller = append(buf.caller, chunk...)
	case Agent:
		buf.agent = append(buf.agent, chunk...)
	}
}

// StopAndUpload mixes both directions, wraps the result in a mu-law WAV,
// uploads it, deletes the in-memory state, and returns the resulting URL
// (or "" if no store is configured or the call was never started).
func (s *Sink) StopAndUpload(ctx context.Context, callID string) (string, error) {
	s.mu.Lock()
	buf, ok := s.active[callID]
	if ok {
		delete(s.active, callID)
	}
	s.mu.Unlock()

	if !ok {
		return "", nil
	}
	if len(buf.caller) == 0 && len(buf.agent) == 0 {
		return "", nil
	}

	mixed := codec.MixMulaw(buf.caller, buf.agent)
	wav := codec.WriteMulawWAV(mixed)

	url, err := s.store.Upload(ctx, callID, wav)
	if err != nil {
		return "", fmt.Errorf("recording: upload failed for call %s: %w", callID, err)
	}
	s.logger.Info("recording: uploaded", "callId", callID, "bytes", len(wav), "url", url)
	return url, nil
}
