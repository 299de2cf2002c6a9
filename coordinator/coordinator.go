package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/odin"
	"github.com/gabriel2392/brokkr/plan"
	"github.com/sirupsen/logrus"
)

// maxLz4BlocksPerWindow caps compressed windows at 31 one-MiB blocks, the
// value group_flasher.cpp uses to keep windows within the protocol's packet
// accounting range.
const maxLz4BlocksPerWindow = 31

// Coordinator drives every Target in Targets through the stage sequence in
// SPEC_FULL.md §4.8 for one flash run.
type Coordinator struct {
	Targets    []*Target
	Plan       []plan.FlashItem
	PacketSize int32
	Log        *logrus.Logger

	// OnDeviceFail, if set, is called once per device the first time it is
	// dropped from the active set.
	OnDeviceFail func(idx int, err error)

	// OnProgress, if set, is called after each Data-phase packet with the
	// item's index in Plan and the decompressed-byte contribution of that
	// packet, per SPEC_FULL.md §4.8.2's plain/compressed accounting
	// formulas. Summing every call for one item's index equals that item's
	// ImageSpec.Size.
	OnProgress func(itemIdx int, bytesContributed int64)

	firstErr firstError
	deadCount atomic.Int32
}

func (c *Coordinator) logger() *logrus.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func (c *Coordinator) failDevice(idx int, err error) {
	t := c.Targets[idx]
	if t.IsDead() {
		return
	}
	t.MarkDead()
	c.deadCount.Add(1)
	c.firstErr.Set(err)
	c.logger().WithFields(logrus.Fields{"event": "devfail", "idx": idx, "device": t.Label}).Error(err)
	if c.OnDeviceFail != nil {
		c.OnDeviceFail(idx, err)
	}
}

func (c *Coordinator) allDead() bool {
	return int(c.deadCount.Load()) >= len(c.Targets)
}

// HandshakeAndVersion runs the common prefix every stage sequence begins
// with: handshake, then protocol/feature negotiation, independently per
// device.
func (c *Coordinator) HandshakeAndVersion() {
	var wg sync.WaitGroup
	for i, t := range c.Targets {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Cmds.Handshake(); err != nil {
				c.failDevice(i, err)
				return
			}
			if err := t.Cmds.Version(); err != nil {
				c.failDevice(i, err)
			}
		}()
	}
	wg.Wait()
}

// NegotiatePacketSize chooses 1MiB if every alive device is protocol>=2,
// else 128KiB, and sends INIT_PACKETSIZE to each alive device.
func (c *Coordinator) NegotiatePacketSize() {
	packetSize := int32(1 << 20)
	for _, t := range c.Targets {
		if t.IsDead() {
			continue
		}
		if t.Cmds.Protocol < 2 {
			packetSize = 128 * 1024
			break
		}
	}
	c.PacketSize = packetSize

	var wg sync.WaitGroup
	for i, t := range c.Targets {
		if t.IsDead() {
			continue
		}
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Cmds.SetupTransferOptions(packetSize); err != nil {
				c.failDevice(i, err)
			}
		}()
	}
	wg.Wait()
}

// SendTotalSize reports the plan's aggregate logical size to every alive
// device.
func (c *Coordinator) SendTotalSize() {
	var total int64
	for _, item := range c.Plan {
		total += item.Spec.Size
	}
	var wg sync.WaitGroup
	for i, t := range c.Targets {
		if t.IsDead() {
			continue
		}
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Cmds.SendTotalSize(total); err != nil {
				c.failDevice(i, err)
			}
		}()
	}
	wg.Wait()
}

// Shutdown sends the given shutdown sequence to every alive device.
func (c *Coordinator) Shutdown(mode odin.ShutdownMode) {
	var wg sync.WaitGroup
	for i, t := range c.Targets {
		if t.IsDead() {
			continue
		}
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Cmds.Shutdown(mode); err != nil {
				c.failDevice(i, err)
			}
		}()
	}
	wg.Wait()
}

// FirstError returns the first error any device encountered during the run,
// or nil.
func (c *Coordinator) FirstError() error {
	return c.firstErr.Get()
}

// RunFlash executes the per-item transfer loop (SPEC_FULL.md §4.8.2) over
// every item in c.Plan, byte-identically across all alive devices.
func (c *Coordinator) RunFlash() error {
	n := len(c.Targets)
	b1 := newBarrier(n + 1)
	b2 := newBarrier(n + 1)

	var current step
	var wg sync.WaitGroup
	wg.Add(n)
	for i, t := range c.Targets {
		i, t := i, t
		go func() {
			defer wg.Done()
			for {
				b1.Arrive()
				s := current
				if s.Op == opQuit {
					b2.Arrive()
					return
				}
				if !t.IsDead() {
					if err := executeStep(t, s); err != nil {
						c.failDevice(i, err)
					}
				}
				b2.Arrive()
			}
		}()
	}

	publish := func(s step) {
		current = s
		b1.Arrive()
		b2.Arrive()
	}

	for idx, item := range c.Plan {
		if c.allDead() {
			break
		}
		if err := c.runItem(idx, item, publish); err != nil {
			c.firstErr.Set(err)
			break
		}
	}

	publish(step{Op: opQuit})
	wg.Wait()

	if c.allDead() {
		if err := c.firstErr.Get(); err != nil {
			return err
		}
		return fmt.Errorf("%w: every device failed", core.ErrIO)
	}
	return nil
}

func (c *Coordinator) runItem(itemIdx int, item plan.FlashItem, publish func(step)) error {
	compressed := item.Spec.LZ4 && c.allCompressedCapable()

	src, err := openForTransfer(item, compressed, c.PacketSize)
	if err != nil {
		return err
	}
	defer src.close()

	for {
		win, winIsLast, done, err := src.nextWindow()
		if err != nil {
			return err
		}
		if done {
			break
		}

		contribs := packetContributions(win, c.PacketSize, compressed)
		publish(stBegin(win.size, compressed))
		for i, pkt := range win.packets {
			publish(stData(pkt))
			if c.OnProgress != nil {
				c.OnProgress(itemIdx, contribs[i])
			}
		}
		publish(stEnd(win.decompressedSize, item.Partition.BinType, item.Partition.DevType, item.Partition.ID, winIsLast, compressed))
		c.logger().WithFields(logrus.Fields{
			"event": "progress", "item": itemIdx, "bytes": win.decompressedSize, "last": winIsLast,
		}).Debug("window complete")
	}
	return nil
}

func (c *Coordinator) allCompressedCapable() bool {
	for _, t := range c.Targets {
		if t.IsDead() {
			continue
		}
		if !t.Cmds.CompressedOK {
			return false
		}
	}
	return true
}

// executeStep performs one target's side of a published step.
func executeStep(t *Target, s step) error {
	switch s.Op {
	case opBegin:
		return t.Cmds.BeginDownload(s.WindowSize, s.Compressed)
	case opData:
		return t.Cmds.SendDataPacket(s.Packet)
	case opEnd:
		return t.Cmds.EndDownload(s.SizeToFlash, s.BinType, s.DevType, s.PartID, s.IsLast)
	}
	return nil
}
