package usbdev

type TransferType uint8

const (
	TransferTypeControl = TransferType(iota)
	TransferTypeIsochronous
	TransferTypeBulk
	TransferTypeInterrupt
)

const (
	EndpointDirectionIn  = 0x80
	EndpointDirectionOut = 0x00
)

// TransferType reports the endpoint's transfer type from bits 1:0 of
// BmAttributes. BulkEndpoints uses this to pick out the bulk pair Odin
// transfers over.
func (ep *EndpointDescriptor) TransferType() TransferType {
	return TransferType(ep.BmAttributes & 0b00000011)
}
