package device

import "github.com/go-ble/ble"

// BLEProperty is a single characteristic property bit with a readable name.
type BLEProperty struct {
	value ble.Property
	name  string
}

func (p *BLEProperty) Value() int        { return int(p.value) }
func (p *BLEProperty) KnownName() string { return p.name }

// BLEProperties holds the decoded property bits of a characteristic.
type BLEProperties struct {
	mask                      ble.Property
	broadcast                 *BLEProperty
	read                      *BLEProperty
	writeWithoutResponse      *BLEProperty
	write                     *BLEProperty
	notify                    *BLEProperty
	indicate                  *BLEProperty
	authenticatedSignedWrites *BLEProperty
	extendedProperties        *BLEProperty
}

// NewProperties creates a Properties instance from ble.Property bit flags.
func NewProperties(p ble.Property) Properties {
	props := &BLEProperties{mask: p}

	if p&ble.CharBroadcast != 0 {
		props.broadcast = &BLEProperty{value: ble.CharBroadcast, name: "Broadcast"}
	}
	if p&ble.CharRead != 0 {
		props.read = &BLEProperty{value: ble.CharRead, name: "Read"}
	}
	if p&ble.CharWriteNR != 0 {
		props.writeWithoutResponse = &BLEProperty{value: ble.CharWriteNR, name: "WriteWithoutResponse"}
	}
	if p&ble.CharWrite != 0 {
		props.write = &BLEProperty{value: ble.CharWrite, name: "Write"}
	}
	if p&ble.CharNotify != 0 {
		props.notify = &BLEProperty{value: ble.CharNotify, name: "Notify"}
	}
	if p&ble.CharIndicate != 0 {
		props.indicate = &BLEProperty{value: ble.CharIndicate, name: "Indicate"}
	}
	if p&ble.CharSignedWrite != 0 {
		props.authenticatedSignedWrites = &BLEProperty{value: ble.CharSignedWrite, name: "AuthenticatedSignedWrites"}
	}
	if p&ble.CharExtended != 0 {
		props.extendedProperties = &BLEProperty{value: ble.CharExtended, name: "ExtendedProperties"}
	}

	return props
}

// Mask returns the raw property bit mask as it appears in the attribute table.
func (p *BLEProperties) Mask() uint8 { return uint8(p.mask) }

func (p *BLEProperties) Broadcast() Property {
	if p.broadcast == nil {
		return nil
	}
	return p.broadcast
}

func (p *BLEProperties) Read() Property {
	if p.read == nil {
		return nil
	}
	return p.read
}

func (p *BLEProperties) Write() Property {
	if p.write == nil {
		return nil
	}
	return p.write
}

func (p *BLEProperties) WriteWithoutResponse() Property {
	if p.writeWithoutResponse == nil {
		return nil
	}
	return p.writeWithoutResponse
}

func (p *BLEProperties) Notify() Property {
	if p.notify == nil {
		return nil
	}
	return p.notify
}

func (p *BLEProperties) Indicate() Property {
	if p.indicate == nil {
		return nil
	}
	return p.indicate
}

func (p *BLEProperties) AuthenticatedSignedWrites() Property {
	if p.authenticatedSignedWrites == nil {
		return nil
	}
	return p.authenticatedSignedWrites
}

func (p *BLEProperties) ExtendedProperties() Property {
	if p.extendedProperties == nil {
		return nil
	}
	return p.extendedProperties
}
