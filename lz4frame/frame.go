// Package lz4frame parses the standard LZ4 frame format and exposes either a
// raw block-by-block reader or a transparently decompressing source. Block
// decompression itself is delegated to github.com/pierrec/lz4/v4.
package lz4frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gabriel2392/brokkr/core"
	"github.com/pierrec/lz4/v4"
)

var frameMagic = [4]byte{0x04, 0x22, 0x4D, 0x18}

const maxBlockSize1MiB = 1 << 20

// FrameInfo is the decoded frame descriptor.
type FrameInfo struct {
	ContentSize     int64
	MaxBlockSize    int32
	BlockIndependent bool
}

// ReadFrameHeader parses the LZ4 frame magic and descriptor from r, enforcing
// the subset of the format brokkr requires: block independence mandatory, no
// block checksums, no dictionary IDs, content size mandatory, max block
// size capped at 1 MiB unconditionally, and a content size above 1 MiB
// requiring a max block size of exactly 1 MiB.
func ReadFrameHeader(r io.Reader) (FrameInfo, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return FrameInfo{}, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}
	if magic != frameMagic {
		return FrameInfo{}, fmt.Errorf("%w: bad frame magic", core.ErrLz4)
	}

	var flgBd [2]byte
	if _, err := io.ReadFull(r, flgBd[:]); err != nil {
		return FrameInfo{}, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}
	flg, bd := flgBd[0], flgBd[1]

	version := (flg >> 6) & 0x3
	if version != 1 {
		return FrameInfo{}, fmt.Errorf("%w: unsupported frame version %d", core.ErrLz4, version)
	}
	blockIndependent := flg&0x20 != 0
	blockChecksum := flg&0x10 != 0
	contentSizePresent := flg&0x08 != 0
	dictIDPresent := flg&0x01 != 0

	if !blockIndependent {
		return FrameInfo{}, fmt.Errorf("%w: block dependence not supported", core.ErrLz4)
	}
	if blockChecksum {
		return FrameInfo{}, fmt.Errorf("%w: block checksums not supported", core.ErrLz4)
	}
	if dictIDPresent {
		return FrameInfo{}, fmt.Errorf("%w: dictionary IDs not supported", core.ErrLz4)
	}
	if !contentSizePresent {
		return FrameInfo{}, fmt.Errorf("%w: frame missing content size", core.ErrLz4)
	}

	maxBlock, err := decodeMaxBlockSize((bd >> 4) & 0x7)
	if err != nil {
		return FrameInfo{}, err
	}

	var contentSize uint64
	if err := binary.Read(r, binary.LittleEndian, &contentSize); err != nil {
		return FrameInfo{}, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}

	// header checksum byte: not validated, per SPEC_FULL.md §4.4.
	var hc [1]byte
	if _, err := io.ReadFull(r, hc[:]); err != nil {
		return FrameInfo{}, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}

	if maxBlock > maxBlockSize1MiB {
		return FrameInfo{}, fmt.Errorf("%w: max block size %d exceeds 1MiB limit", core.ErrLz4, maxBlock)
	}
	if contentSize > maxBlockSize1MiB && maxBlock != maxBlockSize1MiB {
		return FrameInfo{}, fmt.Errorf("%w: content size %d requires a 1MiB max block size, got %d", core.ErrLz4, contentSize, maxBlock)
	}

	return FrameInfo{
		ContentSize:      int64(contentSize),
		MaxBlockSize:     maxBlock,
		BlockIndependent: blockIndependent,
	}, nil
}

func decodeMaxBlockSize(code byte) (int32, error) {
	switch code {
	case 4:
		return 64 << 10, nil
	case 5:
		return 256 << 10, nil
	case 6:
		return 1 << 20, nil
	case 7:
		return 4 << 20, nil
	default:
		return 0, fmt.Errorf("%w: invalid block size code %d", core.ErrLz4, code)
	}
}

// BlockStreamReader reads raw frame blocks (4-byte LE size prefix + payload)
// verbatim, without decompressing them.
type BlockStreamReader struct {
	r io.Reader
}

func NewBlockStreamReader(r io.Reader) *BlockStreamReader {
	return &BlockStreamReader{r: r}
}

// ReadBlock reads one block, returning its raw payload and whether it is
// stored uncompressed (size word's MSB set).
func (b *BlockStreamReader) ReadBlock() (payload []byte, uncompressed bool, err error) {
	var sizeWord uint32
	if err := binary.Read(b.r, binary.LittleEndian, &sizeWord); err != nil {
		return nil, false, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}
	if sizeWord == 0 {
		return nil, false, fmt.Errorf("%w: unexpected end-mark while reading blocks", core.ErrLz4)
	}
	uncompressed = sizeWord&0x80000000 != 0
	size := sizeWord &^ 0x80000000
	buf := make([]byte, size)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, false, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}
	return buf, uncompressed, nil
}

// ReadBlocks reads exactly n blocks, returning their raw wire representation
// (size prefix included) so callers can resend it verbatim over the wire
// during compressed uploads.
func (b *BlockStreamReader) ReadBlocks(n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		var sizeWord uint32
		if err := binary.Read(b.r, binary.LittleEndian, &sizeWord); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrLz4, err)
		}
		if sizeWord == 0 {
			return nil, fmt.Errorf("%w: unexpected end-mark while reading blocks", core.ErrLz4)
		}
		size := sizeWord &^ 0x80000000
		raw := make([]byte, 4+size)
		binary.LittleEndian.PutUint32(raw, sizeWord)
		if _, err := io.ReadFull(b.r, raw[4:]); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrLz4, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// ReadWindow reads up to n blocks, stopping early (without error) if the
// frame's end marker is reached first. last reports whether the end marker
// was consumed.
func (b *BlockStreamReader) ReadWindow(n int) (blocks [][]byte, last bool, err error) {
	for i := 0; i < n; i++ {
		var sizeWord uint32
		if err := binary.Read(b.r, binary.LittleEndian, &sizeWord); err != nil {
			return nil, false, fmt.Errorf("%w: %v", core.ErrLz4, err)
		}
		if sizeWord == 0 {
			return blocks, true, nil
		}
		size := sizeWord &^ 0x80000000
		raw := make([]byte, 4+size)
		binary.LittleEndian.PutUint32(raw, sizeWord)
		if _, err := io.ReadFull(b.r, raw[4:]); err != nil {
			return nil, false, fmt.Errorf("%w: %v", core.ErrLz4, err)
		}
		blocks = append(blocks, raw)
	}
	return blocks, false, nil
}

// DecompressBlock decompresses a single raw wire block (as returned by
// ReadBlocks) into dst, which must be at least maxBlockSize bytes.
func DecompressBlock(raw []byte, dst []byte) (int, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("%w: truncated block", core.ErrLz4)
	}
	sizeWord := binary.LittleEndian.Uint32(raw)
	payload := raw[4:]
	if sizeWord&0x80000000 != 0 {
		n := copy(dst, payload)
		return n, nil
	}
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrLz4, err)
	}
	return n, nil
}
