package device

import (
	"github.com/go-ble/ble"

	"github.com/evanslai/thingy/internal/bledb"
)

// BLEDescriptor is the metadata of a discovered descriptor. Descriptor values
// are not read; the services dump lists them by UUID and handle only.
type BLEDescriptor struct {
	uuid      string
	knownName string
	handle    uint16
}

func newDescriptor(d *ble.Descriptor) *BLEDescriptor {
	rawUUID := d.UUID.String()
	return &BLEDescriptor{
		uuid:      bledb.NormalizeUUID(rawUUID),
		knownName: bledb.LookupDescriptor(rawUUID),
		handle:    d.Handle,
	}
}

func (d *BLEDescriptor) UUID() string      { return d.uuid }
func (d *BLEDescriptor) KnownName() string { return d.knownName }
func (d *BLEDescriptor) Handle() uint16    { return d.handle }
