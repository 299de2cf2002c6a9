package odin

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/transport"
)

const pitChunkSize = 500

// ShutdownMode selects the CLOSE verb sequence sent at the end of a session.
type ShutdownMode int

const (
	NoReboot ShutdownMode = iota
	Reboot
	ReDownload
)

// Commands drives a single device through the Odin protocol over an
// already-open Transport.
type Commands struct {
	T            transport.Transport
	Retries      uint
	PacketSize   int32
	Protocol     int16
	CompressedOK bool
}

// rpc sends req and reads back one response frame, applying the protocol
// error taxonomy in SPEC_FULL.md §4.6.8. readAck tells rpc whether the
// caller is going to inspect resp.Ack itself: callers that do (Version,
// GetPitSize) accept any ack value including negative ones, since a
// negative ack there can itself be meaningful data; callers that discard
// the ack get a negative one rejected as OperationFailed on their behalf,
// matching check_resp's out_ack-null branch.
func (c *Commands) rpc(req Request, readAck bool) (Response, error) {
	if _, err := c.T.Send(req.Encode(), c.Retries); err != nil {
		return Response{}, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	buf := make([]byte, ResponseFrameSize)
	if _, err := c.T.Recv(buf, c.Retries); err != nil {
		return Response{}, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	resp, err := DecodeResponse(buf)
	if err != nil {
		return Response{}, err
	}
	if resp.ID == AckFail {
		return resp, fmt.Errorf("%w: bootloader rejected command", core.ErrProtocol)
	}
	if resp.ID == AckProtocolError {
		return resp, fmt.Errorf("%w: bootloader reported protocol error", core.ErrProtocol)
	}
	if resp.ID != req.ID {
		return resp, fmt.Errorf("%w: unexpected response id %d (want %d)", core.ErrProtocol, resp.ID, req.ID)
	}
	if !readAck && resp.Ack < 0 {
		return resp, fmt.Errorf("%w: negative ack %d for command 0x%x/0x%x", core.ErrOperationFailed, resp.Ack, req.ID, req.Param)
	}
	return resp, nil
}

// sendRaw writes data with no response expected (used for bulk payload
// chunks during the Data phase, which the caller reads separately).
func (c *Commands) sendRaw(data []byte) error {
	_, err := c.T.Send(data, c.Retries)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return nil
}

func (c *Commands) recvRaw(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.T.Recv(buf, c.Retries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return buf[:got], nil
}

// Handshake performs the ODIN/LOKE exchange. On USB, the outgoing payload
// carries a trailing NUL byte.
func (c *Commands) Handshake() error {
	out := []byte("ODIN")
	if c.T.Kind() == transport.UsbBulk {
		out = append(out, 0)
	}
	if err := c.sendRaw(out); err != nil {
		return err
	}
	reply, err := c.recvRaw(ResponseFrameSize)
	if err != nil {
		return err
	}
	if len(reply) < 4 || !bytes.Equal(reply[:4], []byte("LOKE")) {
		return fmt.Errorf("%w: unexpected handshake reply", core.ErrProtocol)
	}
	return nil
}

// Version sends INIT/INIT_TARGET requesting protocol 5 and records the
// negotiated protocol version and compressed-download support.
func (c *Commands) Version() error {
	req := Request{ID: CmdInit, Param: InitTarget}
	req.IntData[0] = 5
	resp, err := c.rpc(req, true)
	if err != nil {
		return err
	}
	info := InitTargetInfo{AckWord: uint32(resp.Ack)}
	c.Protocol = info.Protocol()
	c.CompressedOK = info.SupportsCompressedDownload()
	return nil
}

// SetupTransferOptions negotiates packet size (protocol >= 2 only) and
// records it on Commands for later use building payload windows.
func (c *Commands) SetupTransferOptions(packetSize int32) error {
	c.PacketSize = packetSize
	if c.Protocol < 2 {
		return nil
	}
	req := Request{ID: CmdInit, Param: InitPacketSize}
	req.IntData[0] = packetSize
	_, err := c.rpc(req, false)
	return err
}

// SendTotalSize sends INIT/INIT_TOTALSIZE, splitting into low/high words for
// protocol >= 2 and erroring on overflow for protocol < 2.
func (c *Commands) SendTotalSize(total int64) error {
	req := Request{ID: CmdInit, Param: InitTotalSize}
	if c.Protocol < 2 {
		if total > 0x7FFFFFFF {
			return fmt.Errorf("%w: total size %d exceeds INT32_MAX on protocol %d", core.ErrProtocol, total, c.Protocol)
		}
		req.IntData[0] = int32(total)
	} else {
		req.IntData[0] = int32(uint32(total))
		req.IntData[1] = int32(uint32(total >> 32))
	}
	_, err := c.rpc(req, false)
	return err
}

// GetPitSize sends PIT/PIT_GET and returns the PIT's byte size per the ack.
func (c *Commands) GetPitSize() (int32, error) {
	resp, err := c.rpc(Request{ID: CmdPit, Param: PitGet}, true)
	if err != nil {
		return 0, err
	}
	return resp.Ack, nil
}

// GetPit downloads size bytes of PIT data in 500-byte chunks.
func (c *Commands) GetPit(size int32) ([]byte, error) {
	out := make([]byte, 0, size)
	remaining := size
	chunk := int32(0)
	for remaining > 0 {
		n := int32(pitChunkSize)
		if remaining < n {
			n = remaining
		}
		req := Request{ID: CmdPit, Param: PitStart}
		req.IntData[0] = chunk
		if _, err := c.rpc(req, false); err != nil {
			return nil, err
		}
		data, err := c.recvRaw(int(n))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		remaining -= n
		chunk++
	}
	if err := c.T.RecvZLP(c.Retries); err != nil {
		return nil, err
	}
	if _, err := c.rpc(Request{ID: CmdPit, Param: PitComplete}, false); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPit uploads a PIT blob unchanged, as downloaded.
func (c *Commands) SetPit(data []byte) error {
	if _, err := c.rpc(Request{ID: CmdPit, Param: PitSet}, false); err != nil {
		return err
	}
	startReq := Request{ID: CmdPit, Param: PitStart}
	startReq.IntData[0] = int32(len(data))
	if _, err := c.rpc(startReq, false); err != nil {
		return err
	}
	if err := c.sendRaw(data); err != nil {
		return err
	}
	if _, err := c.recvRaw(ResponseFrameSize); err != nil {
		return err
	}
	completeReq := Request{ID: CmdPit, Param: PitComplete}
	completeReq.IntData[0] = int32(len(data))
	_, err := c.rpc(completeReq, false)
	return err
}

// BeginDownload sends XMIT/DOWNLOAD (or COMPRESSED_DOWNLOAD) and
// XMIT/START for a window of the given size.
func (c *Commands) BeginDownload(windowSize int32, compressed bool) error {
	param := XmitDownload
	if compressed {
		param = XmitCompressedDownload
	}
	if _, err := c.rpc(Request{ID: CmdXmit, Param: param}, false); err != nil {
		return err
	}
	startReq := Request{ID: CmdXmit, Param: XmitStart}
	startReq.IntData[0] = windowSize
	_, err := c.rpc(startReq, false)
	return err
}

// SendDataPacket writes one packet of the current window and reads its ack,
// expecting RqtEmpty.
func (c *Commands) SendDataPacket(packet []byte) error {
	if err := c.sendRaw(packet); err != nil {
		return err
	}
	buf := make([]byte, ResponseFrameSize)
	if _, err := c.T.Recv(buf, c.Retries); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	resp, err := DecodeResponse(buf)
	if err != nil {
		return err
	}
	if resp.ID != RqtEmpty {
		return fmt.Errorf("%w: unexpected data-packet ack id %d", core.ErrProtocol, resp.ID)
	}
	return nil
}

// EndDownload sends XMIT/COMPLETE with the item's placement metadata.
func (c *Commands) EndDownload(sizeToFlash int32, binType, devType, partID int32, isLast bool) error {
	req := Request{ID: CmdXmit, Param: XmitComplete}
	req.IntData[0] = 0
	req.IntData[1] = sizeToFlash
	req.IntData[2] = binType
	req.IntData[3] = devType
	req.IntData[4] = partID
	if isLast {
		req.IntData[5] = 1
	}
	_, err := c.rpc(req, false)
	return err
}

// Shutdown sends the CLOSE sequence for mode.
func (c *Commands) Shutdown(mode ShutdownMode) error {
	switch mode {
	case NoReboot:
		_, err := c.rpc(Request{ID: CmdClose, Param: CloseEnd}, false)
		return err
	case Reboot:
		if _, err := c.rpc(Request{ID: CmdClose, Param: CloseEnd}, false); err != nil {
			return err
		}
		_, err := c.rpc(Request{ID: CmdClose, Param: CloseReboot}, false)
		return err
	case ReDownload:
		if _, err := c.rpc(Request{ID: CmdClose, Param: CloseRedownload}, false); err != nil {
			return err
		}
		if err := c.sendRaw([]byte("@#AuToTEstRst@#")); err != nil {
			return err
		}
		prev := c.T.Timeout()
		c.T.SetTimeout(500 * time.Millisecond)
		_, _ = c.recvRaw(ResponseFrameSize)
		c.T.SetTimeout(prev)
		return nil
	}
	return fmt.Errorf("%w: unknown shutdown mode %d", core.ErrUsage, mode)
}
