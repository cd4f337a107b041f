package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// μ-law capture format
const (
	FormatMulaw   uint16 = 7
	SampleRate           = 8000
	NumChannels   uint16 = 1
	BitsPerSample uint16 = 8
	HeaderSize           = 44
)

// Offsets of the size fields patched on finalize
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16
	AudioFormat   uint16  // 7 for μ-law
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newMulawHeader returns the header written when a capture opens; both sizes are placeholders.
func newMulawHeader() WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   FormatMulaw,
		NumChannels:   NumChannels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * uint32(NumChannels) * uint32(BitsPerSample) / 8,
		BlockAlign:    NumChannels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
	}
}

func (h WAVHeader) encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadHeader reads and validates the μ-law WAV header of the file at path.
func ReadHeader(path string) (WAVHeader, error) {
	var header WAVHeader

	f, err := os.Open(path)
	if err != nil {
		return header, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return header, fmt.Errorf("WAV data too short in %s", path)
		}
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if header.AudioFormat != FormatMulaw {
		return header, fmt.Errorf("unsupported audio format: %d (only μ-law is supported)", header.AudioFormat)
	}
	if header.NumChannels != NumChannels || header.SampleRate != SampleRate {
		return header, fmt.Errorf("unsupported layout: %d channels at %d Hz", header.NumChannels, header.SampleRate)
	}

	return header, nil
}
