package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrSinkFinalized = errors.New("capture sink finalized")
	ErrSinkNotOpen   = errors.New("capture sink not open")
)

// CaptureSink is an append-only μ-law WAV file for one call track.
// It is not safe for concurrent use; the owning session serializes access.
type CaptureSink struct {
	path string
	file *os.File

	// sealed is set by the first Finalize call and refuses further appends.
	// finalized is set once the sizes are patched.
	sealed    bool
	finalized bool
}

// OpenCaptureSink creates or truncates path, creating parent directories, and
// writes a header with zero sizes.
func OpenCaptureSink(path string) (*CaptureSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	header, err := newMulawHeader().encode()
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header to %s: %w", path, err)
	}

	return &CaptureSink{path: path, file: f}, nil
}

// Append writes b at the end of the data chunk.
func (s *CaptureSink) Append(b []byte) error {
	if s.sealed {
		return ErrSinkFinalized
	}
	if s.file == nil {
		return ErrSinkNotOpen
	}
	if _, err := s.file.Write(b); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

// Finalize patches the RIFF and data sizes from the file length and closes the
// file. After a failure the file stays open and the next call recomputes the
// sizes; after a success further calls are no-ops.
func (s *CaptureSink) Finalize() error {
	if s.finalized {
		return nil
	}
	s.sealed = true

	if s.file == nil {
		return ErrSinkNotOpen
	}

	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	size := info.Size()
	if size < HeaderSize {
		return fmt.Errorf("capture file %s truncated to %d bytes", s.path, size)
	}

	if err := patchUint32(s.file, riffSizeOffset, uint32(size-8)); err != nil {
		return fmt.Errorf("failed to patch RIFF size in %s: %w", s.path, err)
	}
	if err := patchUint32(s.file, dataSizeOffset, uint32(size-HeaderSize)); err != nil {
		return fmt.Errorf("failed to patch data size in %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}

	s.finalized = true
	if err := s.file.Close(); err != nil {
		s.file = nil
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	s.file = nil
	return nil
}

func patchUint32(f *os.File, offset int64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := f.WriteAt(b[:], offset)
	return err
}
