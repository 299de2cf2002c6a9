package odin

import (
	"fmt"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/pit"
)

// DownloadPitBytes retrieves the raw PIT blob from the device: size, then
// data. Thin orchestration wrapper, grounded on
// original_source/src/protocol/odin/pit_transfer.cpp.
func DownloadPitBytes(c *Commands) ([]byte, error) {
	size, err := c.GetPitSize()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: device reported non-positive pit size %d", core.ErrProtocol, size)
	}
	return c.GetPit(size)
}

// DownloadPitTable downloads and parses the device's PIT.
func DownloadPitTable(c *Commands) (pit.Table, error) {
	data, err := DownloadPitBytes(c)
	if err != nil {
		return pit.Table{}, err
	}
	return pit.Parse(data)
}
