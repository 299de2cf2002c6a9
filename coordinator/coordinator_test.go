package coordinator

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gabriel2392/brokkr/odin"
	"github.com/gabriel2392/brokkr/pit"
	"github.com/gabriel2392/brokkr/plan"
	"github.com/gabriel2392/brokkr/transport"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a minimal Odin bootloader stand-in: it inspects each
// outgoing frame and queues the response a well-behaved device would send.
type fakeDevice struct {
	mu      sync.Mutex
	replies [][]byte

	sawDownloadBegins int
	sawCompletes      int
	packetsSeen       int
}

func (f *fakeDevice) Kind() transport.Kind       { return transport.TcpStream }
func (f *fakeDevice) Connected() bool            { return true }
func (f *fakeDevice) SetTimeout(time.Duration)    {}
func (f *fakeDevice) Timeout() time.Duration      { return 0 }
func (f *fakeDevice) RecvZLP(uint) error          { return nil }
func (f *fakeDevice) Close() error                { return nil }

func encResp(id, ack int32) []byte {
	buf := make([]byte, odin.ResponseFrameSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(id))
	binary.LittleEndian.PutUint32(buf[4:], uint32(ack))
	return buf
}

func (f *fakeDevice) Send(data []byte, retries uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case len(data) >= 4 && string(data[:4]) == "ODIN":
		f.replies = append(f.replies, []byte("LOKE\x00\x00\x00\x00"))
	case len(data) == odin.RequestFrameSize:
		id := int32(leUint32(data[0:4]))
		param := int32(leUint32(data[4:8]))
		f.replies = append(f.replies, f.respondTo(id, param))
	default:
		f.packetsSeen++
		f.replies = append(f.replies, encResp(odin.RqtEmpty, 0))
	}
	return len(data), nil
}

func (f *fakeDevice) respondTo(id, param int32) []byte {
	switch id {
	case odin.CmdInit:
		if param == odin.InitTarget {
			ack := int32(uint32(2)<<16 | 0x8000) // protocol 2, compressed-capable
			return encResp(id, ack)
		}
		return encResp(id, 0)
	case odin.CmdXmit:
		if param == odin.XmitDownload || param == odin.XmitCompressedDownload {
			f.sawDownloadBegins++
		}
		if param == odin.XmitComplete {
			f.sawCompletes++
		}
		return encResp(id, 0)
	default:
		return encResp(id, 0)
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (f *fakeDevice) Recv(data []byte, retries uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return 0, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	n := copy(data, reply)
	return n, nil
}

func newFakeTarget(t *testing.T, label string) (*Target, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	cmds := &odin.Commands{T: dev, Retries: 0}
	return &Target{Label: label, Cmds: cmds}, dev
}

func TestCoordinatorStagesAndFlash(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "boot.img")
	require.NoError(t, os.WriteFile(imgPath, []byte("boot-image-payload"), 0644))

	t0, dev0 := newFakeTarget(t, "dev0")
	t1, dev1 := newFakeTarget(t, "dev1")
	targets := []*Target{t0, t1}
	c := &Coordinator{Targets: targets}

	c.HandshakeAndVersion()
	require.False(t, targets[0].IsDead())
	require.False(t, targets[1].IsDead())
	require.Equal(t, int16(2), targets[0].Cmds.Protocol)

	c.NegotiatePacketSize()
	require.Equal(t, int32(1<<20), c.PacketSize)
	c.PacketSize = 4096 // shrink for a fast test

	item := plan.FlashItem{
		Partition: pit.Partition{ID: 1, DevType: 0, BinType: 0, FileName: "boot.img"},
		Spec: plan.ImageSpec{
			RawPath:  imgPath,
			Basename: "boot.img",
			Size:     18,
		},
	}
	c.Plan = []plan.FlashItem{item}

	c.SendTotalSize()

	err := c.RunFlash()
	require.NoError(t, err)
	require.Nil(t, c.FirstError())

	c.Shutdown(odin.NoReboot)
	require.False(t, targets[0].IsDead())
	require.False(t, targets[1].IsDead())

	for _, dev := range []*fakeDevice{dev0, dev1} {
		require.Equal(t, 1, dev.sawDownloadBegins)
		require.Equal(t, 1, dev.sawCompletes)
		require.Equal(t, 1, dev.packetsSeen)
	}
}

// buildUncompressedLz4Frame assembles a minimal single-block LZ4 frame that
// stores payload verbatim (block size word's MSB set), enough to exercise
// the compressed transfer path without needing a real compressor.
func buildUncompressedLz4Frame(payload []byte) []byte {
	buf := &bytesBuffer{}
	buf.Write([]byte{0x04, 0x22, 0x4D, 0x18})
	flg := byte(1<<6) | 0x20 | 0x08
	bd := byte(6 << 4) // 1 MiB max block size
	buf.Write([]byte{flg, bd})
	buf.WriteUint64LE(uint64(len(payload)))
	buf.Write([]byte{0}) // header checksum, unchecked
	buf.WriteUint32LE(uint32(len(payload)) | 0x80000000)
	buf.Write(payload)
	buf.WriteUint32LE(0) // end mark
	return buf.data
}

type bytesBuffer struct{ data []byte }

func (b *bytesBuffer) Write(p []byte)          { b.data = append(b.data, p...) }
func (b *bytesBuffer) WriteUint32LE(v uint32) { b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}) }
func (b *bytesBuffer) WriteUint64LE(v uint64) {
	b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24), byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56)})
}

// TestRunFlashProgressSumsToItemSize asserts SPEC_FULL.md §8's
// Σ packet_contrib == item.size invariant, for both the plain and the
// compressed transfer path.
func TestRunFlashProgressSumsToItemSize(t *testing.T) {
	dir := t.TempDir()

	plainPath := filepath.Join(dir, "boot.img")
	plainPayload := make([]byte, 9000)
	for i := range plainPayload {
		plainPayload[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(plainPath, plainPayload, 0644))

	compPath := filepath.Join(dir, "modem.bin.lz4")
	compPayload := make([]byte, 9000)
	for i := range compPayload {
		compPayload[i] = byte(i * 3)
	}
	require.NoError(t, os.WriteFile(compPath, buildUncompressedLz4Frame(compPayload), 0644))

	t0, _ := newFakeTarget(t, "dev0")
	c := &Coordinator{Targets: []*Target{t0}, PacketSize: 4096}

	c.HandshakeAndVersion()
	require.False(t, t0.IsDead())
	require.True(t, t0.Cmds.CompressedOK)

	totals := map[int]int64{}
	c.OnProgress = func(itemIdx int, n int64) { totals[itemIdx] += n }

	c.Plan = []plan.FlashItem{
		{
			Partition: pit.Partition{ID: 1, DevType: 0, BinType: 0, FileName: "boot.img"},
			Spec:      plan.ImageSpec{RawPath: plainPath, Basename: "boot.img", Size: int64(len(plainPayload))},
		},
		{
			Partition: pit.Partition{ID: 2, DevType: 0, BinType: 0, FileName: "modem.bin"},
			Spec:      plan.ImageSpec{RawPath: compPath, Basename: "modem.bin", Size: int64(len(compPayload)), LZ4: true},
		},
	}

	require.NoError(t, c.RunFlash())
	require.Nil(t, c.FirstError())

	require.Equal(t, int64(len(plainPayload)), totals[0])
	require.Equal(t, int64(len(compPayload)), totals[1])
}

func TestCoordinatorDropsFailedDevice(t *testing.T) {
	good, _ := newFakeTarget(t, "good")
	bad, badDev := newFakeTarget(t, "bad")
	// bad device answers the handshake with the wrong magic, so
	// HandshakeAndVersion must drop it while keeping the good one.
	badDev.replies = [][]byte{[]byte("NOPE\x00\x00\x00\x00")}

	c := &Coordinator{Targets: []*Target{good, bad}}
	require.Equal(t, 1, len(c.Targets)-1) // sanity on fixture shape

	c.HandshakeAndVersion()
	require.False(t, good.IsDead())
	require.True(t, bad.IsDead())
}
