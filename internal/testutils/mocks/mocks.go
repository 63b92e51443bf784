// Package mocks provides testify mocks for the go-ble interfaces used in
// tests. Only the methods exercised by this project have meaningful
// expectations; the rest exist to satisfy the interfaces.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAddr mocks ble.Addr.
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	args := m.Called()
	return args.String(0)
}

// MockAdvertisement mocks ble.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]byte)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]ble.ServiceData)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) TxPowerLevel() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	return args.Get(0).(ble.Addr)
}

// MockDevice mocks ble.Device.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) AddService(svc *ble.Service) error {
	args := m.Called(svc)
	return args.Error(0)
}

func (m *MockDevice) RemoveAllServices() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDevice) SetServices(svcs []*ble.Service) error {
	args := m.Called(svcs)
	return args.Error(0)
}

func (m *MockDevice) Advertise(ctx context.Context, adv ble.Advertisement) error {
	args := m.Called(ctx, adv)
	return args.Error(0)
}

func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	args := m.Called(ctx, name, uuids)
	return args.Error(0)
}

func (m *MockDevice) AdvertiseMfgData(ctx context.Context, id uint16, b []byte) error {
	args := m.Called(ctx, id, b)
	return args.Error(0)
}

func (m *MockDevice) AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error {
	args := m.Called(ctx, id, b)
	return args.Error(0)
}

func (m *MockDevice) AdvertiseIBeaconData(ctx context.Context, b []byte) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockDevice) AdvertiseIBeacon(ctx context.Context, u ble.UUID, major, minor uint16, pwr int8) error {
	args := m.Called(ctx, u, major, minor, pwr)
	return args.Error(0)
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ble.Client), args.Error(1)
}

// MockClient mocks ble.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Addr() ble.Addr {
	args := m.Called()
	return args.Get(0).(ble.Addr)
}

func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) Profile() *ble.Profile {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*ble.Profile)
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ble.Profile), args.Error(1)
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ble.Service), args.Error(1)
}

func (m *MockClient) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	args := m.Called(filter, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ble.Service), args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ble.Characteristic), args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ble.Descriptor), args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockClient) ReadLongCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, v []byte, noRsp bool) error {
	args := m.Called(c, v, noRsp)
	return args.Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	args := m.Called(d, v)
	return args.Error(0)
}

func (m *MockClient) ReadRSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockClient) ClearSubscriptions() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockClient) Conn() ble.Conn {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(ble.Conn)
}
