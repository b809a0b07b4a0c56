// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtpsession

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/codec"
	"github.com/rapidaai/voicecore/internal/logging"
)

func TestSessionSendsPacedRTPToRemoteEndpoint(t *testing.T) {
	logger := logging.NewTest()

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peerConn.Close()
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)

	sess, err := NewSession(logger, "call-1", 0)
	require.NoError(t, err)
	defer sess.Close()

	sess.SetRemoteEndpoint(net.IPv4(127, 0, 0, 1), peerAddr.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Start(ctx)

	audio := make([]byte, frameSize)
	for i := range audio {
		audio[i] = byte(i)
	}
	sess.SendAudio(audio)

	buf := make([]byte, 1500)
	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var gotReal bool
	for i := 0; i < 10; i++ {
		n, _, err := peerConn.ReadFromUDP(buf)
		require.NoError(t, err)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		assert.Equal(t, PayloadTypePCMU, pkt.PayloadType)
		if string(pkt.Payload) == string(audio) {
			gotReal = true
			break
		}
	}
	assert.True(t, gotReal, "expected to observe the enqueued audio frame on the wire")
}

func TestSessionSendsKeepaliveWhenQueueEmpty(t *testing.T) {
	logger := logging.NewTest()

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peerConn.Close()
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)

	sess, err := NewSession(logger, "call-2", 0)
	require.NoError(t, err)
	defer sess.Close()
	sess.SetRemoteEndpoint(net.IPv4(127, 0, 0, 1), peerAddr.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Start(ctx)

	buf := make([]byte, 1500)
	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := peerConn.ReadFromUDP(buf)
	require.NoError(t, err)

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	for _, b := range pkt.Payload {
		assert.Equal(t, codec.MulawKeepaliveByte, b)
	}
	assert.False(t, sess.IsSendingAudio())
}

func TestSymmetricRTPUpdatesSourceUntilRerouted(t *testing.T) {
	logger := logging.NewTest()
	sess, err := NewSession(logger, "call-3", 0)
	require.NoError(t, err)
	defer sess.Close()

	initial := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 30000}
	sess.SetRemoteEndpoint(initial.IP, initial.Port)

	drifted := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 40000}
	sess.handleSymmetricRTP(drifted)
	sess.mu.Lock()
	assert.True(t, sess.remoteAddr.IP.Equal(drifted.IP))
	sess.mu.Unlock()

	sess.RerouteRemoteEndpoint(initial.IP, initial.Port)
	sess.handleSymmetricRTP(drifted)
	sess.mu.Lock()
	assert.True(t, sess.remoteAddr.IP.Equal(initial.IP), "reroute makes SDP permanently authoritative")
	sess.mu.Unlock()
}
