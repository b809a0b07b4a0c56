// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawRoundTripIdentity(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32767, -32768}
	for _, s := range samples {
		decoded := MulawToLinear(LinearToMulaw(s))
		// mu-law is lossy companding; round-trip must stay within one
		// quantization step of the original sample (spec.md §8). The top
		// segment's step is 1024; full-scale samples also lose the part
		// above the +/-32635 clip.
		diff := int(decoded) - int(s)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, 1024, "sample %d round-tripped to %d", s, decoded)
	}
}

func TestMulawSilenceRoundTrip(t *testing.T) {
	assert.Equal(t, int16(0), MulawToLinear(MulawSilenceByte)+MulawToLinear(MulawSilenceByte)-MulawToLinear(MulawSilenceByte))
	decoded := MulawToLinear(MulawSilenceByte)
	assert.InDelta(t, 0, int(decoded), 40)
}

func TestAlawRoundTripIdentity(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32767, -32768}
	for _, s := range samples {
		decoded := AlawToLinear(LinearToAlaw(s))
		diff := int(decoded) - int(s)
		if diff < 0 {
			diff = -diff
		}
		// within half of the top segment's 1024 quantization step
		assert.LessOrEqualf(t, diff, 512, "sample %d round-tripped to %d", s, decoded)
	}
}

func TestMulawAlawTranslationIsFixedTable(t *testing.T) {
	// the translation table must be pure: same input always yields the
	// same output, and it must actually move values (not an identity
	// passthrough under a different name).
	a := MulawToAlaw(0x00)
	b := MulawToAlaw(0x00)
	assert.Equal(t, a, b)

	differs := false
	for i := 0; i < 256; i++ {
		if MulawToAlaw(byte(i)) != byte(i) {
			differs = true
			break
		}
	}
	assert.True(t, differs, "mu-law to A-law table should not be an identity map")
}

func TestAlawMulawRoundTripApproximate(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		back := AlawToMulaw(MulawToAlaw(b))
		// companding-law conversion is lossy; the round trip must stay
		// close in the linear domain.
		orig := int(MulawToLinear(b))
		roundTripped := int(MulawToLinear(back))
		diff := orig - roundTripped
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, 1024, "mu-law byte %d round-tripped through A-law to %d (orig %d)", b, roundTripped, orig)
	}
}

func TestMixMulawCommutative(t *testing.T) {
	a := EncodeMulaw([]int16{100, 200, -300, 400})
	b := EncodeMulaw([]int16{-50, 150, 250, -400})

	ab := MixMulaw(a, b)
	ba := MixMulaw(b, a)
	assert.Equal(t, ab, ba)
}

func TestMixMulawPadsShorterWithSilence(t *testing.T) {
	a := EncodeMulaw([]int16{100, 200, 300})
	b := EncodeMulaw([]int16{-50})

	mixed := MixMulaw(a, b)
	require.Len(t, mixed, 3)

	// last two samples of the mix should equal mixing a[i] with silence
	expected := MixMulaw([]byte{a[1]}, []byte{MulawSilenceByte})
	assert.Equal(t, expected[0], mixed[1])
	expected = MixMulaw([]byte{a[2]}, []byte{MulawSilenceByte})
	assert.Equal(t, expected[0], mixed[2])
}

func TestWriteAndParseMulawWAV(t *testing.T) {
	samples := EncodeMulaw([]int16{0, 100, -100, 200, -200})
	wav := WriteMulawWAV(samples)

	hdr, payload, err := ParseMulawWAV(wav)
	require.NoError(t, err)

	assert.EqualValues(t, 7, hdr.AudioFormat)
	assert.EqualValues(t, 1, hdr.NumChannels)
	assert.EqualValues(t, 8000, hdr.SampleRate)
	assert.EqualValues(t, 8, hdr.BitsPerSample)
	assert.EqualValues(t, len(samples), hdr.DataSize)
	assert.Equal(t, samples, payload)
}

func TestParseMulawWAVRejectsTruncatedBuffer(t *testing.T) {
	_, _, err := ParseMulawWAV([]byte("not a wav"))
	assert.Error(t, err)
}

func TestParseMulawWAVRejectsBadMagic(t *testing.T) {
	wav := WriteMulawWAV(EncodeMulaw([]int16{1, 2, 3}))
	corrupted := append([]byte{}, wav...)
	corrupted[0] = 'X'
	_, _, err := ParseMulawWAV(corrupted)
	assert.Error(t, err)
}
