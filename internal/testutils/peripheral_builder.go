package testutils

import (
	"encoding/json"
	"fmt"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/evanslai/thingy/internal/testutils/mocks"
)

// CharacteristicConfig describes a mocked BLE characteristic.
type CharacteristicConfig struct {
	UUID        string `json:"uuid"`
	Properties  string `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value       []byte `json:"value,omitempty"`
	Handle      uint16 `json:"handle,omitempty"`      // declaration handle; 0 means auto-assign
	ValueHandle uint16 `json:"valueHandle,omitempty"` // value handle; 0 means Handle+1
}

// ServiceConfig describes a mocked BLE service.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Handle          uint16                 `json:"handle,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig is the complete attribute table for a mocked peripheral.
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// Peripheral is the built mock. It captures notification handlers registered
// via Subscribe so tests can push payloads into the stack.
type Peripheral struct {
	Device *mocks.MockDevice
	Client *mocks.MockClient

	mu           sync.Mutex
	handlers     map[uint16]blelib.NotificationHandler // keyed by value handle
	disconnected chan struct{}
	dropOnce     sync.Once
}

// Notify invokes the captured notification handler for a value handle,
// simulating a notification from the peripheral. Returns false when nothing
// is subscribed on that handle.
func (p *Peripheral) Notify(valueHandle uint16, data []byte) bool {
	p.mu.Lock()
	h, ok := p.handlers[valueHandle]
	p.mu.Unlock()
	if !ok || h == nil {
		return false
	}
	h(data)
	return true
}

// DropLink simulates link loss by closing the Disconnected channel.
func (p *Peripheral) DropLink() {
	p.dropOnce.Do(func() { close(p.disconnected) })
}

// PeripheralBuilder builds a mocked ble.Device with full service and
// characteristic support, including attribute handle assignment.
type PeripheralBuilder struct {
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement
	dialErr            error
}

// NewPeripheralBuilder creates a new peripheral builder.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// WithService adds a service to the device profile.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	return b.WithCharacteristicAt(uuid, properties, value, 0, 0)
}

// WithCharacteristicAt adds a characteristic with explicit attribute handles.
// Zero handles are auto-assigned at build time.
func (b *PeripheralBuilder) WithCharacteristicAt(uuid, properties string, value []byte, handle, valueHandle uint16) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Properties:  properties,
		Value:       value,
		Handle:      handle,
		ValueHandle: valueHandle,
	})
	return b
}

// FromJSON fills the device profile from JSON. Panics on invalid JSON since
// this is test setup code.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithScanAdvertisements sets the advertisements Scan will report.
func (b *PeripheralBuilder) WithScanAdvertisements(ads ...blelib.Advertisement) *PeripheralBuilder {
	b.scanAdvertisements = append(b.scanAdvertisements, ads...)
	return b
}

// WithDialError makes Dial fail with the given error.
func (b *PeripheralBuilder) WithDialError(err error) *PeripheralBuilder {
	b.dialErr = err
	return b
}

func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for i, j := 0, 0; i <= len(props); i++ {
		if i == len(props) || props[i] == ',' {
			switch props[j:i] {
			case "broadcast":
				property |= blelib.CharBroadcast
			case "read":
				property |= blelib.CharRead
			case "write":
				property |= blelib.CharWrite
			case "write-without-response":
				property |= blelib.CharWriteNR
			case "notify":
				property |= blelib.CharNotify
			case "indicate":
				property |= blelib.CharIndicate
			}
			j = i + 1
		}
	}
	return property
}

// Build creates the mocked ble.Device plus a Peripheral handle for driving
// notifications and link loss from tests.
func (b *PeripheralBuilder) Build() *Peripheral {
	p := &Peripheral{
		Device:       &mocks.MockDevice{},
		Client:       &mocks.MockClient{},
		handlers:     make(map[uint16]blelib.NotificationHandler),
		disconnected: make(chan struct{}),
	}

	// Assign attribute handles the way a real server lays them out: service
	// declaration, then per characteristic a declaration and a value handle.
	nextHandle := uint16(1)
	var bleServices []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		svcHandle := svcConfig.Handle
		if svcHandle == 0 {
			svcHandle = nextHandle
		}
		nextHandle = svcHandle + 1

		bleService := &blelib.Service{
			UUID:   blelib.MustParse(svcConfig.UUID),
			Handle: svcHandle,
		}

		for _, charConfig := range svcConfig.Characteristics {
			declHandle := charConfig.Handle
			if declHandle == 0 {
				declHandle = nextHandle
			}
			valueHandle := charConfig.ValueHandle
			if valueHandle == 0 {
				valueHandle = declHandle + 1
			}
			nextHandle = valueHandle + 1

			bleService.Characteristics = append(bleService.Characteristics, &blelib.Characteristic{
				UUID:        blelib.MustParse(charConfig.UUID),
				Property:    parseCharacteristicProperties(charConfig.Properties),
				Value:       charConfig.Value,
				Handle:      declHandle,
				ValueHandle: valueHandle,
			})
		}
		bleService.EndHandle = nextHandle - 1
		bleServices = append(bleServices, bleService)
	}

	mockProfile := &blelib.Profile{Services: bleServices}

	if b.dialErr != nil {
		p.Device.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
		return p
	}

	p.Device.On("Dial", mock.Anything, mock.Anything).Return(p.Client, nil)
	p.Client.On("DiscoverProfile", true).Return(mockProfile, nil)
	p.Client.On("CancelConnection").Return(nil)
	p.Client.On("Disconnected").Return((<-chan struct{})(p.disconnected))
	p.Client.On("ExchangeMTU", mock.Anything).Return(23, nil)

	for _, svc := range bleServices {
		for _, char := range svc.Characteristics {
			charCapture := char
			p.Client.On("Subscribe", char, false, mock.Anything).
				Run(func(args mock.Arguments) {
					h := args.Get(2).(blelib.NotificationHandler)
					p.mu.Lock()
					p.handlers[charCapture.ValueHandle] = h
					p.mu.Unlock()
				}).
				Return(nil)
			p.Client.On("Unsubscribe", char, false).Return(nil)
			p.Client.On("Unsubscribe", char, true).Return(nil)

			if char.Property&blelib.CharRead != 0 {
				p.Client.On("ReadCharacteristic", char).Return(char.Value, nil)
			} else {
				p.Client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read"))
			}
		}
	}

	p.Device.On("Scan", mock.Anything, mock.Anything, mock.MatchedBy(func(handler blelib.AdvHandler) bool {
		for _, adv := range b.scanAdvertisements {
			handler(adv)
		}
		return true
	})).Return(nil)
	p.Device.On("Stop").Return(nil)

	return p
}
