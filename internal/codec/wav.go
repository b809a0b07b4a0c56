// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavFormatMulaw is the RIFF WAVE format tag for ITU-T G.711 mu-law (7),
// per spec.md §4.1's recording container.
const wavFormatMulaw = 7

// WriteMulawWAV wraps raw mu-law samples in a 44-byte RIFF/WAVE/fmt/data
// header: audio format 7 (mu-law), mono, 8000 Hz, 8 bits/sample. The
// recording sink (C5) calls this once at upload time over the full mixed
// buffer rather than streaming incremental RIFF chunks.
func WriteMulawWAV(mulawSamples []byte) []byte {
	const (
		numChannels   = 1
		sampleRate    = 8000
		bitsPerSample = 8
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataSize := uint32(len(mulawSamples))

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatMulaw))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(mulawSamples)

	return buf.Bytes()
}

// WAVHeader is the subset of RIFF/fmt fields callers and tests care about
// when validating a recording.
type WAVHeader struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// ParseMulawWAV recovers the fmt header fields and the raw sample payload
// from a WAV buffer produced by WriteMulawWAV.
func ParseMulawWAV(wav []byte) (WAVHeader, []byte, error) {
	var hdr WAVHeader
	if len(wav) < 44 {
		return hdr, nil, fmt.Errorf("codec: wav buffer too short: %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return hdr, nil, fmt.Errorf("codec: not a RIFF/WAVE buffer")
	}
	if string(wav[12:16]) != "fmt " {
		return hdr, nil, fmt.Errorf("codec: missing fmt chunk")
	}

	hdr.AudioFormat = binary.LittleEndian.Uint16(wav[20:22])
	hdr.NumChannels = binary.LittleEndian.Uint16(wav[22:24])
	hdr.SampleRate = binary.LittleEndian.Uint32(wav[24:28])
	hdr.BitsPerSample = binary.LittleEndian.Uint16(wav[34:36])

	if string(wav[36:40]) != "data" {
		return hdr, nil, fmt.Errorf("codec: missing data chunk")
	}
	hdr.DataSize = binary.LittleEndian.Uint32(wav[40:44])

	end := 44 + int(hdr.DataSize)
	if end > len(wav) {
		end = len(wav)
	}
	return hdr, wav[44:end], nil
}
