// Package audio handles G.711 μ-law audio for call capture.
package audio

import (
	"encoding/base64"
)

// SilenceByte is digital silence in μ-law, the encoding of linear sample 0.
const SilenceByte byte = 0xFF

// SilenceFrame returns n bytes of μ-law silence.
func SilenceFrame(n int) []byte {
	frame := make([]byte, n)
	for i := range frame {
		frame[i] = SilenceByte
	}
	return frame
}

// FrameBytes returns the μ-law byte count for one frame of the given duration in ms.
func FrameBytes(ms int) int {
	return SampleRate * ms / 1000
}

func Base64ToBytes(base64String string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64String)
}

func BytesToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
