// Package audio holds the small amount of signal plumbing the daemon does
// itself: wrapping raw PCM into a WAV container and computing sample
// statistics for the recording self-test.
package audio

import "encoding/binary"

// WrapPCM prepends a canonical 44-byte WAV header to raw little-endian PCM
// data. sampleBytes is the width of one sample in bytes.
func WrapPCM(raw []byte, numChannels, sampleBytes, sampleRate int) []byte {
	dataLen := len(raw)
	byteRate := sampleRate * numChannels * sampleBytes
	blockAlign := numChannels * sampleBytes

	out := make([]byte, 0, 44+dataLen)
	le := binary.LittleEndian

	u32 := func(v uint32) []byte {
		var b [4]byte
		le.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		le.PutUint16(b[:], v)
		return b[:]
	}

	out = append(out, []byte("RIFF")...)
	out = append(out, u32(uint32(36+dataLen))...)
	out = append(out, []byte("WAVE")...)

	out = append(out, []byte("fmt ")...)
	out = append(out, u32(16)...)
	out = append(out, u16(1)...) // PCM
	out = append(out, u16(uint16(numChannels))...)
	out = append(out, u32(uint32(sampleRate))...)
	out = append(out, u32(uint32(byteRate))...)
	out = append(out, u16(uint16(blockAlign))...)
	out = append(out, u16(uint16(sampleBytes*8))...)

	out = append(out, []byte("data")...)
	out = append(out, u32(uint32(dataLen))...)
	out = append(out, raw...)
	return out
}
