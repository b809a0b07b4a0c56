// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package siptransport implements the C6 SIP transport (spec.md §4.6): an
// outbound SIP UA over emiago/sipgo that dials a single telephony leg per
// call, negotiates PCMU/PCMA media via SDP, and surfaces dialog lifecycle
// events (ringing, answered, hung up) to the media bridge.
package siptransport

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec describes one negotiable RTP payload (spec.md §4.1/§6.1).
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
}

var (
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000}

	// codecTelephoneEvent is RFC 4733 DTMF. Nearly every SIP endpoint
	// (Asterisk, FreeSWITCH, Twilio, Zoiper) refuses to bridge media
	// without it present in the offer, even though this core never
	// originates DTMF itself.
	codecTelephoneEvent = Codec{Name: "telephone-event", PayloadType: 101, ClockRate: 8000}
)

// SupportedCodecs lists audio codecs in offer preference order.
var SupportedCodecs = []Codec{CodecPCMU, CodecPCMA}

// MediaDirection mirrors the SDP a= direction attributes (RFC 3264).
type MediaDirection string

const (
	DirectionSendRecv MediaDirection = "sendrecv"
	DirectionSendOnly MediaDirection = "sendonly"
	DirectionRecvOnly MediaDirection = "recvonly"
	DirectionInactive MediaDirection = "inactive"
)

// RemoteMedia is the parsed audio section of a peer's SDP.
type RemoteMedia struct {
	ConnectionIP   string
	AudioPort      int
	PayloadTypes   []uint8
	PreferredCodec *Codec
	Direction      MediaDirection
}

// IsHold reports whether the peer's SDP signals a hold condition
// (sendonly/inactive direction, or the RFC 3264 0.0.0.0 connection IP).
func (m *RemoteMedia) IsHold() bool {
	if m.Direction == DirectionSendOnly || m.Direction == DirectionInactive {
		return true
	}
	return m.ConnectionIP == "0.0.0.0"
}

// OfferConfig parameterizes GenerateSDP.
type OfferConfig struct {
	LocalIP string
	RTPPort int
	Codecs  []Codec // nil means SupportedCodecs
	PTime   int
}

// GenerateSDP builds an SDP body for an offer or answer. It always
// advertises telephone-event alongside the audio codecs (spec.md §6.1).
func GenerateSDP(cfg OfferConfig) string {
	codecs := cfg.Codecs
	if len(codecs) == 0 {
		codecs = SupportedCodecs
	}
	ptime := cfg.PTime
	if ptime == 0 {
		ptime = 20
	}

	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	sb.WriteString(fmt.Sprintf("o=voicecore 0 0 IN IP4 %s\r\n", cfg.LocalIP))
	sb.WriteString("s=voicecore\r\n")
	sb.WriteString(fmt.Sprintf("c=IN IP4 %s\r\n", cfg.LocalIP))
	sb.WriteString("t=0 0\r\n")

	pts := make([]string, 0, len(codecs)+1)
	hasTelEvent := false
	for _, c := range codecs {
		pts = append(pts, strconv.Itoa(int(c.PayloadType)))
		if c.PayloadType == codecTelephoneEvent.PayloadType {
			hasTelEvent = true
		}
	}
	if !hasTelEvent {
		pts = append(pts, strconv.Itoa(int(codecTelephoneEvent.PayloadType)))
	}
	sb.WriteString(fmt.Sprintf("m=audio %d RTP/AVP %s\r\n", cfg.RTPPort, strings.Join(pts, " ")))

	for _, c := range codecs {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", c.PayloadType, c.Name, c.ClockRate))
	}
	if !hasTelEvent {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", codecTelephoneEvent.PayloadType, codecTelephoneEvent.Name, codecTelephoneEvent.ClockRate))
		sb.WriteString(fmt.Sprintf("a=fmtp:%d 0-16\r\n", codecTelephoneEvent.PayloadType))
	}
	sb.WriteString(fmt.Sprintf("a=ptime:%d\r\n", ptime))
	sb.WriteString("a=sendrecv\r\n")
	return sb.String()
}

// ParseSDP extracts the audio media section from a peer's SDP body.
func ParseSDP(body []byte) (*RemoteMedia, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("siptransport: empty SDP body")
	}

	media := &RemoteMedia{Direction: DirectionSendRecv}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		switch {
		case strings.HasPrefix(line, "c=IN IP4 "):
			media.ConnectionIP = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))
		case strings.HasPrefix(line, "m=audio "):
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				if port, err := strconv.Atoi(parts[1]); err == nil {
					media.AudioPort = port
				}
				for _, field := range parts[3:] {
					if pt, err := strconv.Atoi(field); err == nil && pt >= 0 && pt <= 127 {
						media.PayloadTypes = append(media.PayloadTypes, uint8(pt))
					}
				}
			}
		case line == "a=sendrecv":
			media.Direction = DirectionSendRecv
		case line == "a=sendonly":
			media.Direction = DirectionSendOnly
		case line == "a=recvonly":
			media.Direction = DirectionRecvOnly
		case line == "a=inactive":
			media.Direction = DirectionInactive
		}
	}

	for _, pt := range media.PayloadTypes {
		if pt == codecTelephoneEvent.PayloadType {
			continue
		}
		for _, c := range SupportedCodecs {
			if c.PayloadType == pt {
				codec := c
				media.PreferredCodec = &codec
				break
			}
		}
		if media.PreferredCodec != nil {
			break
		}
	}
	if media.PreferredCodec == nil && len(media.PayloadTypes) > 0 {
		codec := CodecPCMU
		media.PreferredCodec = &codec
	}
	return media, nil
}

// NegotiateCodec picks the first of our supported codecs the peer also
// offered, skipping telephone-event, defaulting to PCMU.
func NegotiateCodec(remotePayloadTypes []uint8) Codec {
	for _, supported := range SupportedCodecs {
		for _, pt := range remotePayloadTypes {
			if pt == codecTelephoneEvent.PayloadType {
				continue
			}
			if pt == supported.PayloadType {
				return supported
			}
		}
	}
	return CodecPCMU
}
