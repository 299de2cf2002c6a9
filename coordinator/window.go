package coordinator

import (
	"fmt"
	"io"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/lz4frame"
	"github.com/gabriel2392/brokkr/plan"
	"github.com/gabriel2392/brokkr/prefetch"
	"github.com/gabriel2392/brokkr/source"
)

// bufferBytes is the host-side read-ahead window size before packet-size
// rounding, matching original_source's Cfg::buffer_bytes default.
const bufferBytes = 30 * 1024 * 1024

const oneMiB = 1 << 20

// maxCompressedBlocksPerWindow mirrors lz4_nonfinal_block_limit(bufferBytes).
var maxCompressedBlocksPerWindow = func() int {
	n := bufferBytes / oneMiB
	if n > maxLz4BlocksPerWindow {
		n = maxLz4BlocksPerWindow
	}
	return n
}()

// windowSlot is one prefetched, packet-size-rounded chunk of wire data ready
// to stream to every device.
type windowSlot struct {
	data      []byte // rounded, zero-padded to a multiple of packetSize
	beginSize int32  // XMIT/START window size
	endSize   int32  // XMIT/COMPLETE size_to_flash
	last      bool
}

type window struct {
	packets          [][]byte
	size             int32 // beginSize, passed to BeginDownload
	decompressedSize int32 // endSize, passed to EndDownload
}

// itemSource streams one flash item as a sequence of packet-size-rounded
// windows, identical for every device in the group.
type itemSource struct {
	under  source.ByteSource
	pf     *prefetch.TwoSlotPrefetcher[windowSlot]
	packetSize int32
}

func openForTransfer(item plan.FlashItem, compressed bool, packetSize int32) (*itemSource, error) {
	if compressed {
		return openCompressedTransfer(item, packetSize)
	}
	return openPlainTransfer(item, packetSize)
}

func openPlainTransfer(item plan.FlashItem, packetSize int32) (*itemSource, error) {
	raw, err := item.Spec.Open()
	if err != nil {
		return nil, err
	}
	var src source.ByteSource = raw
	if item.Spec.LZ4 {
		src, err = source.OpenDecompressing(raw)
		if err != nil {
			raw.Close()
			return nil, err
		}
	}

	fileSize := src.Size()
	if fileSize == 0 {
		src.Close()
		return nil, fmt.Errorf("%w: empty source %s", core.ErrIO, src.DisplayName())
	}

	var sent int64
	fill := func(idx int, slot *windowSlot) (bool, error) {
		if sent >= fileSize {
			return false, nil
		}
		rem := fileSize - sent
		actual := rem
		if actual > bufferBytes {
			actual = bufferBytes
		}
		rounded := core.PadUp(actual, int64(packetSize))

		buf := make([]byte, rounded)
		if _, err := io.ReadFull(src, buf[:actual]); err != nil {
			return false, fmt.Errorf("%w: reading %s: %v", core.ErrIO, src.DisplayName(), err)
		}

		slot.data = buf
		slot.beginSize = int32(rounded)
		slot.endSize = int32(actual)
		sent += actual
		slot.last = sent >= fileSize
		return true, nil
	}

	pf := prefetch.New[windowSlot](fill)
	return &itemSource{under: src, pf: pf, packetSize: packetSize}, nil
}

func openCompressedTransfer(item plan.FlashItem, packetSize int32) (*itemSource, error) {
	raw, err := item.Spec.Open()
	if err != nil {
		return nil, err
	}
	info, err := lz4frame.ReadFrameHeader(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if info.ContentSize == 0 {
		raw.Close()
		return nil, fmt.Errorf("%w: lz4 content size is zero: %s", core.ErrLz4, raw.DisplayName())
	}

	reader := lz4frame.NewBlockStreamReader(raw)
	totalDecomp := info.ContentSize

	var sent int64
	fill := func(idx int, slot *windowSlot) (bool, error) {
		if sent >= totalDecomp {
			return false, nil
		}
		blocks, endMarker, err := reader.ReadWindow(maxCompressedBlocksPerWindow)
		if err != nil {
			return false, err
		}
		if len(blocks) == 0 {
			return false, nil
		}

		var compSize int64
		for _, b := range blocks {
			compSize += int64(len(b))
		}
		rounded := core.PadUp(compSize, int64(packetSize))
		buf := make([]byte, rounded)
		var off int64
		for _, b := range blocks {
			copy(buf[off:], b)
			off += int64(len(b))
		}

		rem := totalDecomp - sent
		decompSize := int64(maxCompressedBlocksPerWindow) * oneMiB
		last := endMarker
		if decompSize >= rem {
			decompSize = rem
			last = true
		}

		slot.data = buf
		slot.beginSize = int32(compSize)
		slot.endSize = int32(decompSize)
		slot.last = last
		sent += decompSize
		return true, nil
	}

	pf := prefetch.New[windowSlot](fill)
	return &itemSource{under: raw, pf: pf, packetSize: packetSize}, nil
}

// packetContributions returns, for each packet in win, how many decompressed
// bytes that packet contributes toward item progress, per SPEC_FULL.md
// §4.8.2: plain mode attributes min(packetSize, bytes_remaining) to each
// packet in turn (the tail packet gets whatever's left of the window's
// zero-padding); compressed mode has no per-packet decompressed boundary, so
// it spreads win.decompressedSize evenly across the packet axis using the
// same floor((p+1)*end/n) - floor(p*end/n) split original_source uses for
// its progress callback. Either way, summing the result equals
// win.decompressedSize.
func packetContributions(win window, packetSize int32, compressed bool) []int64 {
	n := len(win.packets)
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	if !compressed {
		remaining := int64(win.decompressedSize)
		for i := 0; i < n; i++ {
			c := int64(packetSize)
			if c > remaining {
				c = remaining
			}
			out[i] = c
			remaining -= c
		}
		return out
	}
	end := int64(win.decompressedSize)
	for p := 0; p < n; p++ {
		out[p] = (int64(p+1)*end)/int64(n) - (int64(p)*end)/int64(n)
	}
	return out
}

// nextWindow returns the next prepared window, or done=true once the item is
// exhausted.
func (s *itemSource) nextWindow() (w window, isLast bool, done bool, err error) {
	lease, err := s.pf.Next()
	if err != nil {
		return window{}, false, false, err
	}
	if lease == nil {
		return window{}, false, true, nil
	}
	defer lease.Release()

	slot := *lease.Slot
	packets := make([][]byte, 0, len(slot.data)/int(s.packetSize))
	for off := 0; off < len(slot.data); off += int(s.packetSize) {
		packets = append(packets, slot.data[off:off+int(s.packetSize)])
	}
	return window{
		packets:          packets,
		size:             slot.beginSize,
		decompressedSize: slot.endSize,
	}, slot.last, false, nil
}

func (s *itemSource) close() {
	s.pf.Close()
	s.under.Close()
}
