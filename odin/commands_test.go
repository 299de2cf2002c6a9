package odin

import (
	"bytes"
	"testing"
	"time"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/transport"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport double that buffers what was sent
// and serves canned responses in order, enough to exercise Commands'
// framing logic without real hardware.
type fakeTransport struct {
	kind      transport.Kind
	sent      [][]byte
	responses [][]byte
	timeout   time.Duration
}

func (f *fakeTransport) Kind() transport.Kind          { return f.kind }
func (f *fakeTransport) Connected() bool                { return true }
func (f *fakeTransport) SetTimeout(d time.Duration)     { f.timeout = d }
func (f *fakeTransport) Timeout() time.Duration         { return f.timeout }
func (f *fakeTransport) Close() error                   { return nil }
func (f *fakeTransport) RecvZLP(retries uint) error     { return nil }

func (f *fakeTransport) Send(data []byte, retries uint) (int, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return len(data), nil
}

func (f *fakeTransport) Recv(data []byte, retries uint) (int, error) {
	if len(f.responses) == 0 {
		return 0, nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	n := copy(data, next)
	return n, nil
}

func respFrame(id, ack int32) []byte {
	r := Response{ID: id, Ack: ack}
	return r.encode()
}

func (r Response) encode() []byte {
	buf := make([]byte, ResponseFrameSize)
	putLE32(buf[0:], uint32(r.ID))
	putLE32(buf[4:], uint32(r.Ack))
	return buf
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestHandshake(t *testing.T) {
	ft := &fakeTransport{kind: transport.UsbBulk, responses: [][]byte{append([]byte("LOKE"), 0, 0, 0, 0)}}
	c := &Commands{T: ft, Retries: 2}
	require.NoError(t, c.Handshake())
	require.Len(t, ft.sent, 1)
	require.True(t, bytes.HasPrefix(ft.sent[0], []byte("ODIN")))
	require.Equal(t, byte(0), ft.sent[0][len(ft.sent[0])-1])
}

func TestVersionNegotiatesCompressedSupport(t *testing.T) {
	ackWord := uint32(5)<<16 | compressedDownloadBit
	ft := &fakeTransport{responses: [][]byte{respFrame(CmdInit, int32(ackWord))}}
	c := &Commands{T: ft, Retries: 1}
	require.NoError(t, c.Version())
	require.Equal(t, int16(5), c.Protocol)
	require.True(t, c.CompressedOK)
}

func TestRpcReturnsProtocolErrorOnFail(t *testing.T) {
	ft := &fakeTransport{responses: [][]byte{respFrame(AckFail, 0)}}
	c := &Commands{T: ft, Retries: 1}
	_, err := c.rpc(Request{ID: CmdInit}, false)
	require.Error(t, err)
}

func TestRpcReturnsProtocolErrorOnProtocolErrorID(t *testing.T) {
	ft := &fakeTransport{responses: [][]byte{respFrame(AckProtocolError, 0)}}
	c := &Commands{T: ft, Retries: 1}
	_, err := c.rpc(Request{ID: CmdInit}, false)
	require.Error(t, err)
}

func TestRpcReturnsProtocolErrorOnMismatchedID(t *testing.T) {
	ft := &fakeTransport{responses: [][]byte{respFrame(CmdPit, 0)}}
	c := &Commands{T: ft, Retries: 1}
	_, err := c.rpc(Request{ID: CmdInit}, false)
	require.ErrorIs(t, err, core.ErrProtocol)
}

func TestRpcRejectsNegativeAckWhenNotRead(t *testing.T) {
	ft := &fakeTransport{responses: [][]byte{respFrame(CmdInit, -5)}}
	c := &Commands{T: ft, Retries: 1}
	_, err := c.rpc(Request{ID: CmdInit}, false)
	require.ErrorIs(t, err, core.ErrOperationFailed)
}

func TestRpcAllowsNegativeAckWhenCallerReadsIt(t *testing.T) {
	ft := &fakeTransport{responses: [][]byte{respFrame(CmdInit, -5)}}
	c := &Commands{T: ft, Retries: 1}
	resp, err := c.rpc(Request{ID: CmdInit}, true)
	require.NoError(t, err)
	require.Equal(t, int32(-5), resp.Ack)
}

func TestGetPitChunksAndCompletes(t *testing.T) {
	pitBytes := bytes.Repeat([]byte{0xAB}, 700)
	ft := &fakeTransport{responses: [][]byte{
		respFrame(CmdPit, 500), // PIT_START ack for chunk 0 (ack value unused)
		pitBytes[:500],
		respFrame(CmdPit, 200), // PIT_START ack for chunk 1
		pitBytes[500:],
		respFrame(CmdPit, 0), // PIT_COMPLETE ack
	}}
	c := &Commands{T: ft, Retries: 1}
	got, err := c.GetPit(700)
	require.NoError(t, err)
	require.Equal(t, pitBytes, got)
}
