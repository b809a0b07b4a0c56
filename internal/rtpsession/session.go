// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtpsession

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/time/rate"

	"github.com/rapidaai/voicecore/internal/codec"
	"github.com/rapidaai/voicecore/internal/logging"
)

const (
	frameSize        = 160 // 20ms @ 8kHz, 8-bit companded
	frameDuration    = 20 * time.Millisecond
	rerouteLockout   = 5 * time.Second
	queuedFrameLimit = 200 // ~4s of jitter headroom before frames are dropped
)

// PayloadTypePCMU and PayloadTypePCMA are the two negotiable codecs
// (spec.md §4.1/§6.1); telephone-event never flows through this session.
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
)

// Session is one call's RTP transport: a bound UDP socket paced at 20ms,
// with symmetric-RTP recovery subordinate to SDP authority (spec.md §4.7,
// §9 "symmetric RTP vs SDP authority").
type Session struct {
	logger logging.Logger
	callID string
	conn   *net.UDPConn

	mu           sync.Mutex
	remoteAddr   *net.UDPAddr
	payloadType  uint8
	lockoutUntil time.Time
	rerouted     bool
	queue        [][]byte
	seq          uint16
	ts           uint32

	ssrc   uint32
	closed atomic.Bool
	stopCh chan struct{}

	lastRealAudioAt atomic.Int64 // unix nanos; 0 means never
	isSendingAudio  atomic.Bool

	onAudioIn func([]byte)
}

// NewSession binds a UDP socket on localPort. Callers obtain localPort from
// an Allocator before constructing the SDP offer that advertises it.
func NewSession(logger logging.Logger, callID string, localPort int) (*Session, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("rtpsession: bind local port %d: %w", localPort, err)
	}
	return &Session{
		logger:      logger,
		callID:      callID,
		conn:        conn,
		payloadType: PayloadTypePCMU,
		ssrc:        rand.Uint32(),
		stopCh:      make(chan struct{}),
	}, nil
}

// LocalPort reports the bound local port.
func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetRemoteEndpoint records the remote RTP endpoint from the initial SDP
// answer/offer. No lockout applies — this is the first authoritative value.
func (s *Session) SetRemoteEndpoint(ip net.IP, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteAddr = &net.UDPAddr{IP: ip, Port: port}
}

// RerouteRemoteEndpoint applies a mid-call SDP change (e.g. re-INVITE).
// It arms a lockout window during which symmetric-RTP source drift is
// ignored, and permanently disables symmetric-RTP recovery for this
// session afterward: once a dialog has proven it sends authoritative SDP,
// spec.md §9 treats SDP as the permanent source of truth.
func (s *Session) RerouteRemoteEndpoint(ip net.IP, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteAddr = &net.UDPAddr{IP: ip, Port: port}
	s.lockoutUntil = time.Now().Add(rerouteLockout)
	s.rerouted = true
}

// SetPayloadType sets the negotiated outbound codec (PCMU or PCMA).
func (s *Session) SetPayloadType(pt uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloadType = pt
}

// OnAudioIn registers the callback invoked with each received frame's
// payload, already normalized to mu-law regardless of the negotiated
// codec.
func (s *Session) OnAudioIn(f func([]byte)) {
	s.onAudioIn = f
}

// Start launches the pacer and receive loops. It returns once both
// goroutines have exited (on ctx cancellation or Close).
func (s *Session) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pacerLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.recvLoop(ctx)
	}()
	wg.Wait()
}

// SendAudio enqueues mu-law audio for transmission, split into fixed
// 160-byte (20ms) frames. A short final fragment is padded with mu-law
// silence rather than sent as a malformed short RTP payload.
func (s *Session) SendAudio(mulaw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(mulaw); i += frameSize {
		end := i + frameSize
		var frame []byte
		if end <= len(mulaw) {
			frame = append([]byte(nil), mulaw[i:end]...)
		} else {
			frame = make([]byte, frameSize)
			copy(frame, mulaw[i:])
			for j := len(mulaw) - i; j < frameSize; j++ {
				frame[j] = codec.MulawSilenceByte
			}
		}
		if len(s.queue) >= queuedFrameLimit {
			s.logger.Warn("rtpsession: send queue full, dropping oldest frame", "callId", s.callID)
			s.queue = s.queue[1:]
		}
		s.queue = append(s.queue, frame)
	}
}

// ClearQueue discards any audio not yet sent (barge-in / abort).
func (s *Session) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// IsSendingAudio reports whether the most recent pacer tick carried real
// (as opposed to keep-alive) audio.
func (s *Session) IsSendingAudio() bool {
	return s.isSendingAudio.Load()
}

func (s *Session) pacerLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(frameDuration), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		s.tick()
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	var frame []byte
	real := false
	if len(s.queue) > 0 {
		frame = s.queue[0]
		s.queue = s.queue[1:]
		real = true
	} else {
		frame = silenceFrame(s.payloadType)
	}
	remote := s.remoteAddr
	pt := s.payloadType
	seq := s.seq
	ts := s.ts
	s.seq++
	s.ts += frameSize
	s.mu.Unlock()

	s.isSendingAudio.Store(real)
	if real {
		s.lastRealAudioAt.Store(time.Now().UnixNano())
	}

	if remote == nil {
		return // no answer yet; nothing to send
	}

	// Queued audio is mu-law; keep-alive frames from silenceFrame are
	// already in the negotiated codec.
	payload := frame
	if pt == PayloadTypePCMA && real {
		payload = make([]byte, len(frame))
		for i, b := range frame {
			payload[i] = codec.MulawToAlaw(b)
		}
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := packet.Marshal()
	if err != nil {
		s.logger.Error("rtpsession: marshal failed", "callId", s.callID, "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, remote); err != nil {
		if !s.closed.Load() {
			s.logger.Warn("rtpsession: send failed", "callId", s.callID, "error", err)
		}
	}
}

func silenceFrame(pt uint8) []byte {
	b := codec.MulawKeepaliveByte
	if pt == PayloadTypePCMA {
		b = codec.AlawSilenceByte
	}
	frame := make([]byte, frameSize)
	for i := range frame {
		frame[i] = b
	}
	return frame
}

func (s *Session) recvLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil || s.closed.Load() {
			return
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return
			}
			continue
		}
		var packet rtp.Packet
		if err := packet.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		s.handleSymmetricRTP(addr)

		payload := packet.Payload
		s.mu.Lock()
		pt := s.payloadType
		s.mu.Unlock()
		if pt == PayloadTypePCMA {
			converted := make([]byte, len(payload))
			for i, b := range payload {
				converted[i] = codec.AlawToMulaw(b)
			}
			payload = converted
		}

		if s.onAudioIn != nil {
			s.onAudioIn(payload)
		}
	}
}

// handleSymmetricRTP updates the send target to the observed source
// address when it drifts from the SDP-negotiated endpoint (common behind
// NAT/SBCs), unless a reroute has armed the lockout window or already
// made SDP permanently authoritative (spec.md §9).
func (s *Session) handleSymmetricRTP(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remoteAddr != nil && s.remoteAddr.IP.Equal(addr.IP) && s.remoteAddr.Port == addr.Port {
		return
	}
	if s.rerouted || time.Now().Before(s.lockoutUntil) {
		return
	}
	s.logger.Debug("rtpsession: symmetric RTP endpoint update", "callId", s.callID, "from", addr.String())
	s.remoteAddr = &net.UDPAddr{IP: addr.IP, Port: addr.Port}
}

// Close releases the socket. Idempotent.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
		s.conn.Close()
	}
}
