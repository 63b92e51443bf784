package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/evanslai/thingy/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked BLE advertisements. Mock expectations
// are only registered for explicitly set fields so unexpected calls fail
// loudly.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     *int
	connectable bool

	nameSet        bool
	addressSet     bool
	rssiSet        bool
	servicesSet    bool
	manufDataSet   bool
	serviceDataSet bool
	txPowerSet     bool
	connectableSet bool
}

// NewAdvertisementBuilder creates a builder with connectable defaulting to true.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		serviceData: make(map[string][]byte),
		connectable: true,
	}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	b.nameSet = true
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	b.addressSet = true
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	b.rssiSet = true
	return b
}

// WithServices adds advertised service UUIDs, short or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	b.servicesSet = true
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	b.manufDataSet = true
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	b.serviceDataSet = true
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = &power
	b.txPowerSet = true
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	b.connectableSet = true
	return b
}

// FromJSON fills builder fields from a JSON string. Panics on invalid JSON
// since this is test setup code.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		TxPower          *int              `json:"txPower"`
		Connectable      *bool             `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	for uuid, sd := range data.ServiceData {
		b.WithServiceData(uuid, sd)
	}
	if data.TxPower != nil {
		b.WithTxPower(*data.TxPower)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build creates a MockAdvertisement implementing ble.Advertisement.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	var bleServices []ble.UUID
	for _, s := range b.services {
		bleServices = append(bleServices, ble.MustParse(s))
	}

	var bleServiceData []ble.ServiceData
	for uuid, data := range b.serviceData {
		bleServiceData = append(bleServiceData, ble.ServiceData{
			UUID: ble.MustParse(uuid),
			Data: data,
		})
	}

	if b.addressSet {
		addr := &mocks.MockAddr{}
		addr.On("String").Return(b.address)
		adv.On("Addr").Return(addr)
	}
	if b.nameSet {
		adv.On("LocalName").Return(b.name)
	}
	if b.rssiSet {
		adv.On("RSSI").Return(b.rssi)
	}
	if b.manufDataSet {
		adv.On("ManufacturerData").Return(b.manufData)
	}
	// The device wrapper always reads service data, so the expectation is
	// registered unconditionally.
	adv.On("ServiceData").Return(bleServiceData)
	if b.servicesSet {
		adv.On("Services").Return(bleServices)
	}
	if b.connectableSet {
		adv.On("Connectable").Return(b.connectable)
	}
	if b.txPowerSet {
		if b.txPower != nil {
			adv.On("TxPowerLevel").Return(*b.txPower)
		} else {
			// 127 is the BLE marker for TX power not present.
			adv.On("TxPowerLevel").Return(127)
		}
	}

	return adv
}
