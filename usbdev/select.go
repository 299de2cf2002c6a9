package usbdev

import "fmt"

// samsungVendorID is Samsung Electronics' USB vendor ID; Odin download mode
// always enumerates under it.
const samsungVendorID = 0x04e8

// FindDownloadModeDevices returns every connected device whose descriptors
// identify it as a Samsung device, using the sysfs-backed enumeration this
// package already provides.
func FindDownloadModeDevices() ([]*Device, error) {
	return FindDevices(func(d *Device) bool {
		if len(d.Descriptors) == 0 {
			return false
		}
		dd, ok := d.Descriptors[0].(*DeviceDescriptor)
		if !ok {
			return false
		}
		return dd.IDVendor == samsungVendorID
	})
}

// BulkEndpoints walks a device's configuration/interface/endpoint
// descriptors and returns the first bulk IN and first bulk OUT endpoint found —
// exactly what the Odin transport needs, without requiring a caller to know
// USB descriptor layout.
func BulkEndpoints(dev *Device) (epOut, epIn uint8, err error) {
	var foundOut, foundIn bool
	for _, d := range dev.Descriptors {
		ep, ok := d.(*EndpointDescriptor)
		if !ok {
			continue
		}
		if ep.TransferType() != TransferTypeBulk {
			continue
		}
		if ep.BEndpointAddress&EndpointDirectionIn != 0 {
			if foundIn {
				continue
			}
			epIn = ep.BEndpointAddress
			foundIn = true
		} else if !foundOut {
			epOut = ep.BEndpointAddress
			foundOut = true
		}
	}
	if !foundIn || !foundOut {
		return 0, 0, fmt.Errorf("usbdev: no bulk endpoint pair found")
	}
	return epOut, epIn, nil
}
