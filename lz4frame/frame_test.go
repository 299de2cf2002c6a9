package lz4frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/gabriel2392/brokkr/core"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

// buildFrame assembles a minimal single-block LZ4 frame (content <= 1MiB, so
// any block size code up to 1MiB is legal) carrying payload as one block.
func buildFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.Write(frameMagic[:])

	flg := byte(1<<6) | 0x20 | 0x08 // version 1, block independent, content size present
	bd := byte(6 << 4)              // 1 MiB max block size
	buf.Write([]byte{flg, bd})

	binary.Write(buf, binary.LittleEndian, uint64(len(payload)))
	buf.WriteByte(0) // header checksum, unchecked

	compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
	n, err := lz4.CompressBlock(payload, compressed, nil)
	require.NoError(t, err)

	var sizeWord uint32
	var blockPayload []byte
	if n == 0 || n >= len(payload) {
		sizeWord = uint32(len(payload)) | 0x80000000
		blockPayload = payload
	} else {
		sizeWord = uint32(n)
		blockPayload = compressed[:n]
	}
	binary.Write(buf, binary.LittleEndian, sizeWord)
	buf.Write(blockPayload)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // end mark

	return buf.Bytes()
}

func TestReadFrameHeaderAndDecompress(t *testing.T) {
	payload := bytes.Repeat([]byte("hello-brokkr-"), 1000)
	frame := buildFrame(t, payload)

	r := bytes.NewReader(frame)
	info, err := ReadFrameHeader(r)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), info.ContentSize)
	require.Equal(t, int32(1<<20), info.MaxBlockSize)

	dr := NewDecompressingReader(r, info)
	got, err := io.ReadAll(dr)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadFrameHeaderRejectsBadMagic(t *testing.T) {
	_, err := ReadFrameHeader(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0}))
	require.Error(t, err)
}

func TestReadFrameHeaderRejectsBlockSizeAbove1MiB(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write(frameMagic[:])
	flg := byte(1<<6) | 0x20 | 0x08
	bd := byte(7 << 4) // 4 MiB max block size
	buf.Write([]byte{flg, bd})
	binary.Write(buf, binary.LittleEndian, uint64(100)) // small content size
	buf.WriteByte(0)

	_, err := ReadFrameHeader(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}

func TestReadFrameHeaderRejectsSmallBlockWithLargeContentSize(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write(frameMagic[:])
	flg := byte(1<<6) | 0x20 | 0x08
	bd := byte(4 << 4) // 64KiB max block size
	buf.Write([]byte{flg, bd})
	binary.Write(buf, binary.LittleEndian, uint64(2<<20)) // 2MiB content needs a 1MiB block size
	buf.WriteByte(0)

	_, err := ReadFrameHeader(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrLz4)
}
