package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilenceFrame(t *testing.T) {
	frame := SilenceFrame(FrameBytes(20))
	require.Len(t, frame, 160)
	for _, b := range frame {
		assert.Equal(t, SilenceByte, b)
	}
}

func TestCaptureSink_HeaderOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "CA1_caller.wav")

	sink, err := OpenCaptureSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Finalize())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize)

	assert.Equal(t, "RIFF", string(raw[0:4]))
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, "WAVE", string(raw[8:12]))
	assert.Equal(t, "fmt ", string(raw[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(raw[16:20]))
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(raw[20:22]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(raw[22:24]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(raw[24:28]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(raw[28:32]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(raw[32:34]))
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(raw[34:36]))
	assert.Equal(t, "data", string(raw[36:40]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(raw[40:44]))
}

func TestCaptureSink_FinalizePatchesSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CA2_agent.wav")
	sink, err := OpenCaptureSink(path)
	require.NoError(t, err)

	first := []byte{0x01, 0x02, 0x03}
	second := SilenceFrame(160)
	require.NoError(t, sink.Append(first))
	require.NoError(t, sink.Append(second))
	require.NoError(t, sink.Finalize())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	size := len(raw)
	require.Equal(t, HeaderSize+163, size)
	assert.Equal(t, uint32(size-8), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint32(size-44), binary.LittleEndian.Uint32(raw[40:44]))
	assert.Equal(t, first, raw[44:47], "payload kept in arrival order")

	header, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(163), header.Subchunk2Size)
}

func TestCaptureSink_FinalizeIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CA3_caller.wav")
	sink, err := OpenCaptureSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append([]byte{0x10, 0x20}))

	require.NoError(t, sink.Finalize())
	once, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, sink.Finalize())
	twice, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestCaptureSink_FinalizeRetriesAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CA5_caller.wav")
	sink, err := OpenCaptureSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append([]byte{0x01, 0x02}))

	// A file shorter than the header cannot be patched
	require.NoError(t, os.Truncate(path, 10))
	require.Error(t, sink.Finalize())
	assert.ErrorIs(t, sink.Append([]byte{0x03}), ErrSinkFinalized)

	require.NoError(t, os.Truncate(path, HeaderSize+56))
	require.NoError(t, sink.Finalize())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize+56)
	assert.Equal(t, uint32(len(raw)-8), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint32(56), binary.LittleEndian.Uint32(raw[40:44]))

	require.NoError(t, sink.Finalize())
}

func TestCaptureSink_AppendAfterFinalize(t *testing.T) {
	sink, err := OpenCaptureSink(filepath.Join(t.TempDir(), "CA4_caller.wav"))
	require.NoError(t, err)
	require.NoError(t, sink.Finalize())

	assert.ErrorIs(t, sink.Append([]byte{0x00}), ErrSinkFinalized)
}

func TestReadHeader_RejectsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))

	_, err := ReadHeader(path)
	assert.Error(t, err)
}

func TestSilenceFiller_StartStop(t *testing.T) {
	f := NewSilenceFiller(5 * time.Millisecond)
	assert.False(t, f.Running())
	assert.Nil(t, f.C())

	f.Start()
	f.Start()
	assert.True(t, f.Running())

	select {
	case <-f.C():
	case <-time.After(time.Second):
		t.Fatal("filler did not tick")
	}

	f.Stop()
	f.Stop()
	assert.False(t, f.Running())
	assert.Nil(t, f.C())
}
