package pit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		CpuBlID: 0x1234,
		Partitions: []Partition{
			{
				DevType:    0,
				ID:         1,
				BeginBlock: 0,
				BlockSize:  100,
				BlockBytes: 512,
				FileSize:   100 * 512,
				Name:       "BOOT",
				FileName:   "boot.img",
			},
			{
				DevType:    0,
				ID:         2,
				BeginBlock: 100,
				BlockSize:  200,
				BlockBytes: 512,
				FileSize:   200 * 512,
				Name:       "SYSTEM",
				FileName:   "system.img",
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleTable()
	wire := Synthesize(want)
	require.Len(t, wire, headerWireSize+2*entryWireSize)

	got, err := Parse(wire)
	require.NoError(t, err)
	require.Equal(t, want.CpuBlID, got.CpuBlID)
	require.Len(t, got.Partitions, 2)
	require.Equal(t, want.Partitions[0].Name, got.Partitions[0].Name)
	require.Equal(t, want.Partitions[0].FileName, got.Partitions[0].FileName)
	require.Equal(t, want.Partitions[1].BeginBlock, got.Partitions[1].BeginBlock)
}

func TestParseRejectsBadMagic(t *testing.T) {
	wire := Synthesize(sampleTable())
	wire[0] ^= 0xFF
	_, err := Parse(wire)
	require.Error(t, err)
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestFindByFileName(t *testing.T) {
	table := sampleTable()
	p, ok := table.FindByFileName("system.img")
	require.True(t, ok)
	require.Equal(t, int32(2), p.ID)

	_, ok = table.FindByFileName("missing.img")
	require.False(t, ok)
}

func TestCommonBlockSize(t *testing.T) {
	table := sampleTable()
	size, ok := table.CommonBlockSize()
	require.True(t, ok)
	require.Equal(t, int32(512), size)

	table.Partitions[1].BlockBytes = 4096
	_, ok = table.CommonBlockSize()
	require.False(t, ok)
}
