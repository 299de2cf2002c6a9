// Package source provides the ByteSource abstraction flash items are read
// through: a raw file, an archive member, or an LZ4-decompressed stream.
package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel2392/brokkr/archive"
	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/lz4frame"
)

// ByteSource is a sequential, single-pass readable image.
type ByteSource interface {
	// DisplayName is used in log lines and error messages.
	DisplayName() string
	// Size is the logical (decompressed) size in bytes.
	Size() int64
	Read(p []byte) (int, error)
	Close() error
}

// RawFileSource reads an image straight off disk.
type RawFileSource struct {
	f    *os.File
	name string
	size int64
}

// OpenRawFile opens path as a raw image source.
func OpenRawFile(path string) (*RawFileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return &RawFileSource{f: f, name: path, size: info.Size()}, nil
}

func (s *RawFileSource) DisplayName() string { return s.name }
func (s *RawFileSource) Size() int64         { return s.size }
func (s *RawFileSource) Read(p []byte) (int, error) { return s.f.Read(p) }
func (s *RawFileSource) Close() error               { return s.f.Close() }

// TarEntrySource reads one member out of a larger tar file, clamping every
// read to the member's declared size.
type TarEntrySource struct {
	f         *os.File
	name      string
	size      int64
	remaining int64
}

// OpenTarEntry seeks tarPath to entry's data and returns a source bounded to
// entry.Size bytes.
func OpenTarEntry(tarPath string, entry archive.Entry) (*TarEntrySource, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	if _, err := f.Seek(entry.DataOffset, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek to %s: %v", core.ErrIO, entry.Name, err)
	}
	return &TarEntrySource{f: f, name: entry.Name, size: entry.Size, remaining: entry.Size}, nil
}

func (s *TarEntrySource) DisplayName() string { return s.name }
func (s *TarEntrySource) Size() int64         { return s.size }

func (s *TarEntrySource) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.f.Read(p)
	s.remaining -= int64(n)
	return n, err
}

func (s *TarEntrySource) Close() error { return s.f.Close() }

// DecompressingSource wraps an underlying ByteSource whose bytes are an LZ4
// frame, exposing the decompressed content as a ByteSource in its own right.
type DecompressingSource struct {
	under ByteSource
	dr    *lz4frame.DecompressingReader
	info  lz4frame.FrameInfo
}

// OpenDecompressing reads the LZ4 frame header off under and returns a
// source that yields the decompressed content.
func OpenDecompressing(under ByteSource) (*DecompressingSource, error) {
	info, err := lz4frame.ReadFrameHeader(readerFunc(under.Read))
	if err != nil {
		return nil, err
	}
	return &DecompressingSource{
		under: under,
		dr:    lz4frame.NewDecompressingReader(readerFunc(under.Read), info),
		info:  info,
	}, nil
}

func (s *DecompressingSource) DisplayName() string { return s.under.DisplayName() }
func (s *DecompressingSource) Size() int64         { return s.info.ContentSize }
func (s *DecompressingSource) Read(p []byte) (int, error) { return s.dr.Read(p) }
func (s *DecompressingSource) Close() error               { return s.under.Close() }

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// Basename strips a path down to its final component and, if present, a
// trailing ".lz4" suffix, matching the logical name the planner maps against
// PIT entries.
func Basename(path string) (base string, isLZ4 bool) {
	base = path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if strings.HasSuffix(base, ".lz4") {
		return strings.TrimSuffix(base, ".lz4"), true
	}
	return base, false
}
