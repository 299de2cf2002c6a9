package main

import (
	"fmt"

	"github.com/gabriel2392/brokkr/odin"
	"github.com/gabriel2392/brokkr/transport"
	"github.com/gabriel2392/brokkr/usbdev"
)

// odinInterface is the single bulk interface Samsung download-mode devices
// expose; there is no alternate-setting negotiation to perform.
const odinInterface = 0

func enumerateTargets(o *options) ([]*usbdev.Device, error) {
	devs, err := usbdev.FindDownloadModeDevices()
	if err != nil {
		return nil, fmt.Errorf("enumerating USB devices: %w", err)
	}
	if o.targetSysname == "" {
		return devs, nil
	}

	var bus, addr int
	if _, err := fmt.Sscanf(o.targetSysname, "%d-%d", &bus, &addr); err != nil {
		return nil, fmt.Errorf("invalid --target %q, expected \"bus-device\"", o.targetSysname)
	}
	for _, d := range devs {
		if d.BusNumber == bus && d.DeviceNumber == addr {
			return []*usbdev.Device{d}, nil
		}
	}
	return nil, nil
}

// openUsbTarget opens dev, claims its bulk interface, and wraps it as an
// odin.Commands session ready for Handshake.
func openUsbTarget(dev *usbdev.Device, retries uint) (*odin.Commands, error) {
	if err := dev.Open(); err != nil {
		return nil, fmt.Errorf("opening device: %w", err)
	}
	_ = dev.DetachKernel(odinInterface) // best-effort: usbfs devices rarely have a kernel driver bound
	if err := dev.ClaimInterface(odinInterface); err != nil {
		dev.Close()
		return nil, fmt.Errorf("claiming interface: %w", err)
	}

	epOut, epIn, err := usbdev.BulkEndpoints(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}

	noLimit := dev.NoPacketSizeLimit()
	t, err := transport.OpenUsbBulk(dev, epOut, epIn, noLimit)
	if err != nil {
		dev.Close()
		return nil, err
	}

	return &odin.Commands{T: t, Retries: retries}, nil
}

func deviceLabel(dev *usbdev.Device) string {
	return fmt.Sprintf("usb:%d-%d", dev.BusNumber, dev.DeviceNumber)
}
