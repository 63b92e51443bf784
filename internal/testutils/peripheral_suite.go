package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/evanslai/thingy/internal/device"
)

// MockBLEPeripheralSuite is a reusable testify suite backed by a mock BLE
// peripheral. It swaps the device factory for each test so the full
// connect/discover/subscribe path runs without hardware.
//
// Basic usage relies on the default Thingy:52 environment profile:
//
//	type ListenSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func TestListenSuite(t *testing.T) {
//	    suite.Run(t, new(ListenSuite))
//	}
//
// Custom profiles are configured in SetupTest before calling the parent:
//
//	func (s *CustomSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180F").
//	        WithCharacteristic("2A19", "read,notify", []byte{80})
//	    s.MockBLEPeripheralSuite.SetupTest()
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	// Peripheral is the built mock, valid after SetupTest. Tests push
	// notifications through it.
	Peripheral *Peripheral

	builder         *PeripheralBuilder
	originalFactory func(adapterID int) (blelib.Device, error)
}

// SetupSuite runs once before all tests in the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 30 * time.Second

	s.originalFactory = device.DeviceFactory
	s.T().Cleanup(func() {
		if s.originalFactory != nil {
			device.DeviceFactory = s.originalFactory
		}
	})
}

// SetupTest installs the mock device factory before each test.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.builder == nil {
		s.builder = NewThingyPeripheralBuilder()
	}

	s.Peripheral = s.builder.Build()
	device.DeviceFactory = func(adapterID int) (blelib.Device, error) {
		return s.Peripheral.Device, nil
	}
}

// TearDownTest restores the factory and resets the builder.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.originalFactory != nil {
		device.DeviceFactory = s.originalFactory
	}
	s.builder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
// Call before MockBLEPeripheralSuite.SetupTest applies it.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.builder == nil {
		s.builder = NewPeripheralBuilder()
	}
	return s.builder
}
