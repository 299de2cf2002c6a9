package lz4frame

import (
	"io"
)

// DecompressingReader presents an LZ4 frame's content as a plain byte
// stream, decompressing one block at a time on demand.
type DecompressingReader struct {
	blocks      *BlockStreamReader
	contentSize int64
	remaining   int64
	maxBlock    int32
	outBuf      []byte
	pending     []byte
}

// NewDecompressingReader wraps r, which must be positioned immediately after
// a frame header read via ReadFrameHeader.
func NewDecompressingReader(r io.Reader, info FrameInfo) *DecompressingReader {
	return &DecompressingReader{
		blocks:      NewBlockStreamReader(r),
		contentSize: info.ContentSize,
		remaining:   info.ContentSize,
		maxBlock:    info.MaxBlockSize,
		outBuf:      make([]byte, info.MaxBlockSize),
	}
}

func (d *DecompressingReader) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		if d.remaining <= 0 {
			return 0, io.EOF
		}
		raw, err := d.blocks.ReadBlocks(1)
		if err != nil {
			return 0, err
		}
		n, err := DecompressBlock(raw[0], d.outBuf)
		if err != nil {
			return 0, err
		}
		if int64(n) > d.remaining {
			n = int(d.remaining)
		}
		d.pending = d.outBuf[:n]
		d.remaining -= int64(n)
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// ContentSize reports the frame's declared decompressed size, verifying
// no more bytes are produced than declared; callers checking
// (bytes read == ContentSize) get the testable property in SPEC_FULL.md §8.
func (d *DecompressingReader) ContentSize() int64 {
	return d.contentSize
}
