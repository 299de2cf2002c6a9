package usbdev

import (
	"fmt"
	"github.com/gabriel2392/brokkr/usbdev/usbfs"
	"syscall"
)

type Device struct {
	fd           int
	BusNumber    int
	DeviceNumber int
	Descriptors  []Descriptor
}

func (d *Device) GetDeviceDescriptor() *DeviceDescriptor {
	return d.Descriptors[0].(*DeviceDescriptor)
}

func (d *Device) Open() error {
	if d.fd != -1 {
		return fmt.Errorf("device already open")
	}
	fd, err := usbfs.OpenDevice(d.BusNumber, d.DeviceNumber)
	if err != nil {
		return err
	}
	d.fd = fd
	return nil
}

func (d *Device) IsOpen() bool {
	return d.fd != -1
}

func (d *Device) GetDriver(iface uint32) (string, error) {
	return usbfs.GetDriver(d.fd, iface)
}

func (d *Device) DetachKernel(iface uint32) error {
	return usbfs.Disconnect(d.fd, iface)
}

func (d *Device) AttachKernel(iface uint32) error {
	return usbfs.Connect(d.fd, iface)
}

func (d *Device) ClaimInterface(iface int) error {
	return usbfs.ClaimInterface(d.fd, iface)
}

func (d *Device) ReleaseInterface(iface int) error {
	return usbfs.ReleaseInterface(d.fd, iface)
}

func (d *Device) Bulk(ep uint8, data []byte) (int, error) {
	return usbfs.BulkTransfer(d.fd, uint32(ep)&0xFF, 1000, data)
}

func (d *Device) BulkTimeout(ep uint8, data []byte, timeout uint32) (int, error) {
	return usbfs.BulkTransfer(d.fd, uint32(ep)&0xFF, timeout, data)
}

// NoPacketSizeLimit reports whether the kernel's usbfs driver for this
// device accepts bulk transfers larger than 16KiB in one call.
func (d *Device) NoPacketSizeLimit() bool {
	caps, err := usbfs.GetCapabilities(d.fd)
	if err != nil {
		return false
	}
	return caps&usbfs.CapNoPacketSizeLim != 0
}

func (d *Device) Close() error {
	e := syscall.Close(d.fd)
	d.fd = -1
	return e
}
