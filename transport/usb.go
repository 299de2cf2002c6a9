package transport

import (
	"fmt"
	"time"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/usbdev"
)

// Chunk sizes for USBDEVFS_BULK transfers, selected by whether the kernel
// reports CapNoPacketSizeLim via USBDEVFS_GET_CAPABILITIES. Ported verbatim
// from original_source/src/platform/linux/usbfs_conn.cpp.
const (
	bulkChunkLimited   = 16 * 1024
	bulkChunkUnlimited = 128 * 1024
)

// UsbBulkTransport drives one USB bulk IN/OUT endpoint pair.
type UsbBulkTransport struct {
	dev        *usbdev.Device
	epIn       uint8
	epOut      uint8
	maxPacket  int
	timeout    time.Duration
	zlpNeeded  bool
}

// OpenUsbBulk opens dev (if not already open) and wraps its bulk endpoint
// pair epOut/epIn, choosing the chunk size from the device's reported usbfs
// capabilities.
func OpenUsbBulk(dev *usbdev.Device, epOut, epIn uint8, noPacketSizeLimit bool) (*UsbBulkTransport, error) {
	if !dev.IsOpen() {
		if err := dev.Open(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
		}
	}
	maxPacket := bulkChunkLimited
	if noPacketSizeLimit {
		maxPacket = bulkChunkUnlimited
	}
	return &UsbBulkTransport{
		dev:       dev,
		epIn:      epIn,
		epOut:     epOut,
		maxPacket: maxPacket,
		timeout:   time.Second,
		zlpNeeded: true,
	}, nil
}

func (t *UsbBulkTransport) Kind() Kind               { return UsbBulk }
func (t *UsbBulkTransport) Connected() bool           { return t.dev.IsOpen() }
func (t *UsbBulkTransport) SetTimeout(d time.Duration) { t.timeout = d }
func (t *UsbBulkTransport) Timeout() time.Duration     { return t.timeout }

func (t *UsbBulkTransport) Close() error { return t.dev.Close() }

// Send chunks data into t.maxPacket-sized writes, retrying each failed chunk
// up to retries times with a 10ms backoff, then emits a trailing
// zero-length packet. Once the device rejects a ZLP, later Sends stop
// emitting one; the rejection itself is not reported as an error.
func (t *UsbBulkTransport) Send(data []byte, retries uint) (int, error) {
	sent := 0
	ms := uint32(t.timeout.Milliseconds())
	for sent < len(data) {
		end := sent + t.maxPacket
		if end > len(data) {
			end = len(data)
		}
		chunk := data[sent:end]

		var n int
		var err error
		for attempt := uint(0); ; attempt++ {
			n, err = t.dev.BulkTimeout(t.epOut, chunk, ms)
			if err == nil {
				break
			}
			if attempt >= retries {
				return sent, fmt.Errorf("%w: bulk send: %v", core.ErrIO, err)
			}
			time.Sleep(10 * time.Millisecond)
		}
		sent += n
	}

	if t.zlpNeeded {
		if _, err := t.dev.BulkTimeout(t.epOut, nil, ms); err != nil {
			t.zlpNeeded = false
		}
	}
	return sent, nil
}

// Recv reads at most t.maxPacket bytes at a time, returning as soon as a
// short read occurs (a legal USB frame boundary), retrying transient
// failures up to retries times.
func (t *UsbBulkTransport) Recv(data []byte, retries uint) (int, error) {
	received := 0
	ms := uint32(t.timeout.Milliseconds())
	for received < len(data) {
		end := received + t.maxPacket
		if end > len(data) {
			end = len(data)
		}
		chunk := data[received:end]

		var n int
		var err error
		for attempt := uint(0); ; attempt++ {
			n, err = t.dev.BulkTimeout(t.epIn, chunk, ms)
			if err == nil {
				break
			}
			if attempt >= retries {
				return received, fmt.Errorf("%w: bulk recv: %v", core.ErrIO, err)
			}
			time.Sleep(10 * time.Millisecond)
		}
		received += n
		if n < len(chunk) {
			break
		}
	}
	return received, nil
}

// RecvZLP issues a short zero-length-packet read with a fixed 10ms timeout
// and ignores its result, draining a trailing ZLP after a multi-packet
// transfer.
func (t *UsbBulkTransport) RecvZLP(retries uint) error {
	buf := make([]byte, 0)
	_, _ = t.dev.BulkTimeout(t.epIn, buf, 10)
	return nil
}
