// Package pit implements the binary Partition Information Table codec used
// by Samsung's download-mode protocol.
package pit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gabriel2392/brokkr/core"
)

const (
	magic = 0x12349876

	headerWireSize = 28
	entryWireSize  = 132

	// devTypeUFS is the device type whose blocks are 4096 bytes instead of
	// the usual 512.
	devTypeUFS = 8
)

// Partition is a single entry of a parsed PIT, with block geometry resolved
// to a byte size.
type Partition struct {
	BinType         int32
	DevType         int32
	ID              int32
	Attribute       int32
	UpdateAttribute int32
	BeginBlock      int32
	BlockSize       int32 // in blocks
	BlockBytes      int32 // bytes per block for this partition's DevType
	FileSize        int64 // BlockBytes * BlockSize

	Name      string
	FileName  string
	DeltaName string
}

// Table is a fully parsed PIT. CpuBlID identifies the bootloader family; the
// multi-device coordinator refuses to proceed if devices in a group disagree
// on it (SPEC_FULL.md §4.8.3).
type Table struct {
	CpuBlID    int32
	Partitions []Partition
}

// FindByFileName returns the first partition whose FileName matches
// basename, the lookup the flash planner uses to bind an image to a slot.
func (t Table) FindByFileName(basename string) (*Partition, bool) {
	for i := range t.Partitions {
		if t.Partitions[i].FileName == basename {
			return &t.Partitions[i], true
		}
	}
	return nil, false
}

// CommonBlockSize returns the single BlockBytes value shared by every
// partition, or ok=false if the table mixes block sizes.
func (t Table) CommonBlockSize() (size int32, ok bool) {
	if len(t.Partitions) == 0 {
		return 0, false
	}
	size = t.Partitions[0].BlockBytes
	for _, p := range t.Partitions[1:] {
		if p.BlockBytes != size {
			return 0, false
		}
	}
	return size, true
}

// header is the 28-byte PIT header: magic, entry count, and reserved words
// the real Heimdall/Odin format never defines beyond the bootloader family
// identifier used for cross-device consistency checks.
type header struct {
	Magic      uint32
	LuCount    uint16
	Unknown1   uint16
	Unknown2   int32
	Unknown3   int32
	CpuBlID    int32
	Unknown5   int32
	Unknown6   int32
}

type entryWire struct {
	BinType         int32
	DevType         int32
	ID              int32
	Attribute       int32
	UpdateAttribute int32
	BlockSizeOrBB   int32 // ambiguous begin-block vs blockSize column, see resolveBeginBlock
	BlockLength     int32
	Offset          int32
	FileSize        int32
	Name            [32]byte
	FileName        [32]byte
	DeltaName       [32]byte
}

// Parse decodes a raw PIT byte stream as downloaded from a device.
func Parse(data []byte) (Table, error) {
	if len(data) < headerWireSize {
		return Table{}, fmt.Errorf("%w: pit header truncated (%d bytes)", core.ErrPitParse, len(data))
	}
	var hdr header
	r := bytes.NewReader(data[:headerWireSize])
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return Table{}, fmt.Errorf("%w: %v", core.ErrPitParse, err)
	}
	if hdr.Magic != magic {
		return Table{}, fmt.Errorf("%w: bad pit magic %#x", core.ErrPitParse, hdr.Magic)
	}

	count := int(hdr.LuCount)
	want := headerWireSize + count*entryWireSize
	if len(data) < want {
		return Table{}, fmt.Errorf("%w: pit body truncated, want %d bytes got %d", core.ErrPitParse, want, len(data))
	}

	entries := make([]entryWire, count)
	body := bytes.NewReader(data[headerWireSize:want])
	for i := 0; i < count; i++ {
		if err := binary.Read(body, binary.LittleEndian, &entries[i]); err != nil {
			return Table{}, fmt.Errorf("%w: entry %d: %v", core.ErrPitParse, i, err)
		}
	}

	useBlockSizeAsBegin := resolveBeginBlockColumn(entries)

	parts := make([]Partition, count)
	for i, e := range entries {
		blockBytes := int32(512)
		if e.DevType == devTypeUFS {
			blockBytes = 4096
		}
		begin := e.Offset
		if useBlockSizeAsBegin {
			begin = e.BlockSizeOrBB
		}
		parts[i] = Partition{
			BinType:         e.BinType,
			DevType:         e.DevType,
			ID:              e.ID,
			Attribute:       e.Attribute,
			UpdateAttribute: e.UpdateAttribute,
			BeginBlock:      begin,
			BlockBytes:      blockBytes,
			Name:            core.NulString(e.Name[:]),
			FileName:        core.NulString(e.FileName[:]),
			DeltaName:       core.NulString(e.DeltaName[:]),
		}
		// BlockSize (in blocks) is resolved below, once partitions are
		// grouped and sorted by DevType.
		_ = e.BlockLength
	}

	resolveBlockSizes(parts, entries)

	return Table{
		CpuBlID:    hdr.CpuBlID,
		Partitions: parts,
	}, nil
}

// resolveBeginBlockColumn implements the heuristic in SPEC_FULL.md §4.2: if
// any blockSize exceeds 4096 while every offset stays within it, blockSize
// is actually the begin-block column.
func resolveBeginBlockColumn(entries []entryWire) bool {
	anyBigBlockSize := false
	allOffsetsSmall := true
	for _, e := range entries {
		if e.BlockSizeOrBB > 4096 {
			anyBigBlockSize = true
		}
		if e.Offset > 4096 {
			allOffsetsSmall = false
		}
	}
	return anyBigBlockSize && allOffsetsSmall
}

// resolveBlockSizes groups partitions by DevType, sorts by BeginBlock, and
// derives each partition's BlockSize (in blocks) and FileSize (in bytes) from
// the gap to the next partition, falling back to the wire's BlockLength for
// the last partition in each group.
func resolveBlockSizes(parts []Partition, entries []entryWire) {
	byDev := map[int32][]int{}
	for i, p := range parts {
		byDev[p.DevType] = append(byDev[p.DevType], i)
	}
	for _, idxs := range byDev {
		sort.Slice(idxs, func(a, b int) bool {
			return parts[idxs[a]].BeginBlock < parts[idxs[b]].BeginBlock
		})
		for k, idx := range idxs {
			if k+1 < len(idxs) {
				next := parts[idxs[k+1]]
				parts[idx].BlockSize = next.BeginBlock - parts[idx].BeginBlock
			} else {
				parts[idx].BlockSize = entries[idx].BlockLength
			}
			parts[idx].FileSize = int64(parts[idx].BlockBytes) * int64(parts[idx].BlockSize)
		}
	}
}

// Synthesize re-encodes a Table back to its wire form, the inverse of Parse.
// Only the round-trip tests call it; the CLI does not, and the
// device-facing upload path always resends the original downloaded bytes
// unmodified (SPEC_FULL.md §4.2).
func Synthesize(t Table) []byte {
	buf := &bytes.Buffer{}
	hdr := header{
		Magic:   magic,
		LuCount: uint16(len(t.Partitions)),
		CpuBlID: t.CpuBlID,
	}
	binary.Write(buf, binary.LittleEndian, &hdr)

	for _, p := range t.Partitions {
		e := entryWire{
			BinType:         p.BinType,
			DevType:         p.DevType,
			ID:              p.ID,
			Attribute:       p.Attribute,
			UpdateAttribute: p.UpdateAttribute,
			BlockSizeOrBB:   p.BeginBlock,
			BlockLength:     p.BlockSize,
			Offset:          p.BeginBlock,
			FileSize:        int32(p.FileSize),
		}
		core.PutNulString(e.Name[:], p.Name)
		core.PutNulString(e.FileName[:], p.FileName)
		core.PutNulString(e.DeltaName[:], p.DeltaName)
		binary.Write(buf, binary.LittleEndian, &e)
	}
	return buf.Bytes()
}
