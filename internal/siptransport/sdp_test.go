// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSDPAdvertisesTelephoneEvent(t *testing.T) {
	body := GenerateSDP(OfferConfig{LocalIP: "203.0.113.5", RTPPort: 20000})

	assert.Contains(t, body, "c=IN IP4 203.0.113.5")
	assert.Contains(t, body, "m=audio 20000 RTP/AVP 0 8 101")
	assert.Contains(t, body, "a=rtpmap:101 telephone-event/8000")
	assert.Contains(t, body, "a=ptime:20")
	assert.Contains(t, body, "a=sendrecv")
}

func TestParseSDPExtractsAudioSection(t *testing.T) {
	body := []byte("v=0\r\no=- 0 0 IN IP4 198.51.100.9\r\ns=-\r\nc=IN IP4 198.51.100.9\r\nt=0 0\r\n" +
		"m=audio 30000 RTP/AVP 8 101\r\na=rtpmap:8 PCMA/8000\r\na=sendrecv\r\n")

	media, err := ParseSDP(body)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9", media.ConnectionIP)
	assert.Equal(t, 30000, media.AudioPort)
	assert.Equal(t, []uint8{8, 101}, media.PayloadTypes)
	require.NotNil(t, media.PreferredCodec)
	assert.Equal(t, CodecPCMA, *media.PreferredCodec)
	assert.False(t, media.IsHold())
}

func TestParseSDPRejectsEmptyBody(t *testing.T) {
	_, err := ParseSDP(nil)
	assert.Error(t, err)
}

func TestRemoteMediaIsHoldOnSendonlyOrZeroIP(t *testing.T) {
	sendonly := &RemoteMedia{Direction: DirectionSendOnly}
	assert.True(t, sendonly.IsHold())

	zeroIP := &RemoteMedia{Direction: DirectionSendRecv, ConnectionIP: "0.0.0.0"}
	assert.True(t, zeroIP.IsHold())

	active := &RemoteMedia{Direction: DirectionSendRecv, ConnectionIP: "10.0.0.5"}
	assert.False(t, active.IsHold())
}

func TestNegotiateCodecPrefersPCMUThenPCMA(t *testing.T) {
	assert.Equal(t, CodecPCMU, NegotiateCodec([]uint8{101, 0, 8}))
	assert.Equal(t, CodecPCMA, NegotiateCodec([]uint8{101, 8}))
	assert.Equal(t, CodecPCMU, NegotiateCodec([]uint8{101}))
}
