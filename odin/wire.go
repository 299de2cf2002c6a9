// Package odin implements the Samsung download-mode ("Odin") wire protocol:
// request/response frame codec, command verbs, and the per-device command
// surface (handshake, version negotiation, PIT transfer, payload upload,
// shutdown).
package odin

import (
	"encoding/binary"
	"fmt"

	"github.com/gabriel2392/brokkr/core"
)

const (
	RequestFrameSize  = 1024
	ResponseFrameSize = 8
)

// Command IDs, matching original_source/src/protocol/odin/odin_wire.hpp.
const (
	CmdInit  int32 = 0x64
	CmdPit   int32 = 0x65
	CmdXmit  int32 = 0x66
	CmdClose int32 = 0x67
)

// INIT sub-commands.
const (
	InitTarget      int32 = 0x0
	InitPacketSize  int32 = 0x5
	InitTotalSize   int32 = 0x4
)

// PIT sub-commands.
const (
	PitStart    int32 = 0x0
	PitGet      int32 = 0x1
	PitSet      int32 = 0x2
	PitComplete int32 = 0x3
)

// XMIT sub-commands.
const (
	XmitStart            int32 = 0x0
	XmitDownload         int32 = 0x2
	XmitCompressedDownload int32 = 0x3
	XmitComplete         int32 = 0x4
)

// CLOSE sub-commands.
const (
	CloseEnd        int32 = 0x0
	CloseReboot     int32 = 0x1
	CloseRedownload int32 = 0x2
)

const (
	// AckFail is returned as the response ID when the bootloader rejects a
	// request outright.
	AckFail int32 = -1
	// AckProtocolError is returned as the response ID on a protocol-level
	// mismatch (e.g. unexpected frame ordering).
	AckProtocolError int32 = -2147483648 // INT32_MIN

	// RqtEmpty is the expected response ID for a plain data-packet ack
	// during payload upload.
	RqtEmpty int32 = 0x00
)

// compressedDownloadBit marks bit 0x8000 of the handshake ack word,
// indicating the bootloader supports XMIT/COMPRESSED_DOWNLOAD.
const compressedDownloadBit = 0x8000

// Request is the fixed 1024-byte LE request frame.
type Request struct {
	ID       int32
	Param    int32
	IntData  [9]int32
	CharData [128]int8
	MD5      [32]int8
}

// Response is the 8-byte LE response frame.
type Response struct {
	ID  int32
	Ack int32
}

// Encode serializes r into a zero-padded 1024-byte frame.
func (r Request) Encode() []byte {
	buf := make([]byte, RequestFrameSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(r.ID))
	binary.LittleEndian.PutUint32(buf[4:], uint32(r.Param))
	for i, v := range r.IntData {
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(v))
	}
	off := 8 + 4*len(r.IntData)
	for i, v := range r.CharData {
		buf[off+i] = byte(v)
	}
	off += len(r.CharData)
	for i, v := range r.MD5 {
		buf[off+i] = byte(v)
	}
	return buf
}

// DecodeResponse parses an 8-byte response frame.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < ResponseFrameSize {
		return Response{}, fmt.Errorf("%w: short response frame (%d bytes)", core.ErrProtocol, len(buf))
	}
	return Response{
		ID:  int32(binary.LittleEndian.Uint32(buf[0:])),
		Ack: int32(binary.LittleEndian.Uint32(buf[4:])),
	}, nil
}

// InitTargetInfo decodes the INIT/INIT_TARGET response's Ack word.
type InitTargetInfo struct {
	AckWord uint32
}

// ProtoRaw returns the raw protocol-version field (upper 16 bits of AckWord).
func (i InitTargetInfo) ProtoRaw() uint16 { return uint16(i.AckWord >> 16) }

// Protocol returns the negotiated protocol version: 1 if ProtoRaw is zero
// (legacy bootloaders never set it), else the signed raw value.
func (i InitTargetInfo) Protocol() int16 {
	raw := i.ProtoRaw()
	if raw == 0 {
		return 1
	}
	return int16(raw)
}

// SupportsCompressedDownload reports whether bit 0x8000 of AckWord is set.
func (i InitTargetInfo) SupportsCompressedDownload() bool {
	return i.AckWord&compressedDownloadBit != 0
}
