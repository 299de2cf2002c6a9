package usbdev

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
)

// sysfsDeviceDir is where the Linux kernel exposes every enumerated USB
// device's raw descriptor dump and address attributes.
const sysfsDeviceDir = "/sys/bus/usb/devices"

func readSysfsAttrInt(devName, attrName string) (int, error) {
	data, err := ioutil.ReadFile(fmt.Sprintf("%s/%s/%s", sysfsDeviceDir, devName, attrName))
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(strings.Trim(string(data), "\n"), 10, 64)
	if err != nil {
		return 0, err
	}
	return int(value), nil
}

func openSysfsAttr(devName, attrName string) (*os.File, error) {
	return os.Open(fmt.Sprintf("%s/%s/%s", sysfsDeviceDir, devName, attrName))
}

func getDeviceAddress(devName string) (busNum, devNum int, err error) {
	busNum, err = readSysfsAttrInt(devName, "busnum")
	if err != nil {
		return 0, 0, err
	}
	devNum, err = readSysfsAttrInt(devName, "devnum")
	if err != nil {
		return 0, 0, err
	}
	return busNum, devNum, nil
}

// parseDescriptors walks a device's raw "descriptors" sysfs attribute, which
// concatenates the device descriptor followed by every configuration's
// interface/endpoint descriptors back to back with no separators other than
// each descriptor's own length byte.
func parseDescriptors(devName string) ([]Descriptor, error) {
	f, err := openSysfsAttr(devName, "descriptors")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res := make([]Descriptor, 0, 10)
	for {
		hdr, err := readDescriptorHeader(f)
		if err != nil {
			if err == io.EOF {
				return res, nil
			}
			return nil, err
		}
		// Bound the reader to this descriptor's own length so a skipped
		// UnknownDescriptor can't swallow the rest of the dump.
		body := make([]byte, int(hdr.Length)-2)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, fmt.Errorf("usbdev: truncated descriptor for %s: %w", devName, err)
		}
		desc, err := readDescriptor(hdr, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		res = append(res, desc)
	}
}

// EnumerateDevices lists every USB device sysfs currently exposes, parsing
// each one's descriptor dump. Root hubs (named "usbN") and interface nodes
// (named "N-M:C.I") are skipped; only device nodes carry a full descriptor
// set.
func EnumerateDevices() ([]*Device, error) {
	entries, err := ioutil.ReadDir(sysfsDeviceDir)
	if err != nil {
		return nil, err
	}

	res := make([]*Device, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		descriptors, err := parseDescriptors(name)
		if err != nil {
			return nil, err
		}
		busNum, devNum, err := getDeviceAddress(name)
		if err != nil {
			return nil, err
		}
		res = append(res, &Device{
			BusNumber:    busNum,
			DeviceNumber: devNum,
			Descriptors:  descriptors,
			fd:           -1,
		})
	}
	return res, nil
}

// FindDevices enumerates and returns only the devices filter accepts.
func FindDevices(filter func(device *Device) bool) ([]*Device, error) {
	all, err := EnumerateDevices()
	if err != nil {
		return nil, err
	}
	res := make([]*Device, 0, len(all))
	for _, dev := range all {
		if filter(dev) {
			res = append(res, dev)
		}
	}
	return res, nil
}
