package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// FloatToPCM16LE clamps every sample to [-1, 1], scales it by 32767 and
// writes it as little-endian signed 16-bit PCM.
func FloatToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// PCM16LEToFloat converts little-endian PCM16 back to floats in [-1, 1].
// A trailing odd byte is ignored.
func PCM16LEToFloat(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / pcm16Scale
	}
	return out
}

// PCMInt16ToLE converts int16 samples to raw little-endian bytes.
func PCMInt16ToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// LEToPCMInt16 converts raw little-endian bytes back to int16 samples.
func LEToPCMInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// PCMToBase64 encodes raw PCM16 bytes for the wire.
func PCMToBase64(pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("pcm empty")
	}
	return base64.StdEncoding.EncodeToString(pcm), nil
}

// Base64ToPCM decodes a wire audio payload into raw PCM16 bytes.
func Base64ToPCM(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, errors.New("base64 empty")
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM16 payload: %d bytes is not a multiple of 2", len(pcm))
	}
	return pcm, nil
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * pcm16Scale)
}
