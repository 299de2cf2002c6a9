package usbdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"reflect"
)

type (
	DescriptorType uint8

	Descriptor interface {
		Type() DescriptorType
	}

	DescriptorHeader struct {
		Length         uint8
		DescriptorType DescriptorType
	}

	// UnknownDescriptor holds the raw payload of any descriptor this package
	// doesn't need to inspect field-by-field (configuration, interface,
	// string, ...). Odin's enumeration only cares about the device and
	// endpoint descriptors; everything else just needs to be skipped over
	// without breaking the stream.
	UnknownDescriptor struct {
		DescriptorHeader
		Data []byte
	}
)

const (
	DescriptorTypeDevice   = DescriptorType(1)
	DescriptorTypeConfig   = DescriptorType(2)
	DescriptorTypeString   = DescriptorType(3)
	DescriptorTypeInterface = DescriptorType(4)
	DescriptorTypeEndpoint = DescriptorType(5)
)

// descriptorMap only registers the shapes this package reads fields from.
// Any other descriptor type encountered in a sysfs descriptor dump decodes
// as UnknownDescriptor and is skipped.
var descriptorMap = map[DescriptorType]reflect.Type{
	DescriptorTypeDevice:   reflect.TypeOf(DeviceDescriptor{}),
	DescriptorTypeEndpoint: reflect.TypeOf(EndpointDescriptor{}),
}

func (h DescriptorHeader) Type() DescriptorType {
	return h.DescriptorType
}

func (t DescriptorType) String() string {
	if typ, exist := descriptorMap[t]; exist {
		return typ.String()
	}
	return fmt.Sprintf("Unknown(0x%.2X)", uint8(t))
}

type (
	// DeviceDescriptor carries the fields FindDownloadModeDevices filters
	// on: vendor/product ID. A device has exactly one.
	DeviceDescriptor struct {
		DescriptorHeader
		BcdUSB             uint16
		BDeviceClass       uint8
		BDeviceSubClass    uint8
		BDeviceProtocol    uint8
		BMaxPacketSize0    uint8
		IDVendor           uint16
		IDProduct          uint16
		BcdDevice          uint16
		IManufacturer      uint8
		IProduct           uint8
		ISerialNumber      uint8
		BNumConfigurations uint8
	}

	// EndpointDescriptor is what BulkEndpoints walks looking for the bulk
	// IN/OUT pair the Odin transport bulk-transfers over.
	EndpointDescriptor struct {
		DescriptorHeader
		BEndpointAddress uint8
		BmAttributes     uint8
		WMaxPacketSize   uint16
		BInterval        uint8
	}
)

func readDescriptorHeader(i io.Reader) (*DescriptorHeader, error) {
	header := DescriptorHeader{}
	err := binary.Read(i, binary.BigEndian, &header)
	return &header, err
}

func newDescriptor(hdr DescriptorHeader) (any, reflect.Value) {
	if descriptor, exist := descriptorMap[hdr.DescriptorType]; exist {
		x := reflect.New(descriptor)
		x.Elem().Field(0).Set(reflect.ValueOf(hdr))
		return x.Interface(), x
	}
	x := reflect.New(reflect.TypeOf(UnknownDescriptor{}))
	x.Elem().Field(0).Set(reflect.ValueOf(hdr))
	return x.Interface(), x
}

// readDescriptor consumes exactly one descriptor's body from i, dispatching
// on hdr.DescriptorType through descriptorMap. i must be bounded to the
// descriptor's own length (see sysfs.go's per-descriptor reader) so an
// UnknownDescriptor's greedy ReadAll only swallows its own remainder.
func readDescriptor(header *DescriptorHeader, i io.Reader) (Descriptor, error) {
	descriptor, ptrVal := newDescriptor(*header)
	elem := ptrVal.Elem()

loop:
	for elemIndex := 1; elemIndex < elem.NumField(); elemIndex++ {
		field := elem.Field(elemIndex)
		dest := field.Addr().Interface()

		switch field.Kind() {
		case reflect.Slice:
			switch field.Type() {
			case reflect.TypeOf([]uint8{}):
				excessiveData, err := ioutil.ReadAll(i)
				field.Set(reflect.ValueOf(excessiveData))
				if err != nil {
					return nil, err
				}
			default:
				if err := binary.Read(i, binary.LittleEndian, dest); err != nil {
					break loop
				}
			}
		default:
			if err := binary.Read(i, binary.LittleEndian, dest); err != nil {
				break loop
			}
		}
	}
	return descriptor.(Descriptor), nil
}

// ParseDescriptor decodes a single standalone descriptor blob, used by
// callers that already have a bounded buffer in hand.
func ParseDescriptor(data []byte) (Descriptor, error) {
	reader := bytes.NewReader(data)
	hdr, err := readDescriptorHeader(reader)
	if err != nil {
		return nil, err
	}
	return readDescriptor(hdr, reader)
}
