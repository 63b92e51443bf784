package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/suite"

	"github.com/evanslai/thingy/internal/device"
	"github.com/evanslai/thingy/internal/sensor"
	"github.com/evanslai/thingy/internal/testutils"
)

// ServicesCommandTestSuite tests the services command's GATT tree rendering
// against a mock Thingy:52 peripheral.
type ServicesCommandTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (suite *ServicesCommandTestSuite) connectDevice() (device.Device, func()) {
	dev := device.NewBLEDevice(testutils.ThingyAddress, suite.Logger)
	err := dev.Connect(context.Background(), &device.ConnectOptions{
		ConnectTimeout: 5 * time.Second,
		AdapterID:      -1,
	})
	suite.Require().NoError(err, "connection MUST succeed")
	return dev, func() { _ = dev.Disconnect() }
}

func (suite *ServicesCommandTestSuite) captureFile(fn func(w *os.File)) string {
	r, w, err := os.Pipe()
	suite.Require().NoError(err, "pipe creation MUST succeed")

	fn(w)

	suite.Require().NoError(w.Close())
	out, err := io.ReadAll(r)
	suite.Require().NoError(err)
	return string(out)
}

func (suite *ServicesCommandTestSuite) TestServicesCmd() {
	suite.Run("command definition", func() {
		suite.Assert().NotNil(servicesCmd, "services command MUST be defined")
		suite.Assert().Equal("services <device-address>", servicesCmd.Use)
	})

	suite.Run("flags", func() {
		flags := []struct {
			name         string
			defaultValue string
		}{
			{name: "timeout", defaultValue: "30s"},
			{name: "json", defaultValue: "false"},
			{name: "read-limit", defaultValue: "64"},
			{name: "adapter", defaultValue: "-1"},
		}
		for _, f := range flags {
			flag := servicesCmd.Flags().Lookup(f.name)
			suite.Require().NotNil(flag, "flag %s MUST exist", f.name)
			suite.Assert().Equal(f.defaultValue, flag.DefValue, "flag %s default MUST match", f.name)
		}
	})

	suite.Run("args validation", func() {
		suite.Assert().Error(servicesCmd.Args(servicesCmd, []string{}), "MUST require an address")
		suite.Assert().NoError(servicesCmd.Args(servicesCmd, []string{testutils.ThingyAddress}))
		suite.Assert().Error(servicesCmd.Args(servicesCmd, []string{testutils.ThingyAddress, "extra"}))
	})
}

func (suite *ServicesCommandTestSuite) TestPropertyNames() {
	tests := []struct {
		name     string
		props    blelib.Property
		expected []string
	}{
		{name: "notify only", props: blelib.CharNotify, expected: []string{"Notify"}},
		{name: "read and notify", props: blelib.CharRead | blelib.CharNotify, expected: []string{"Read", "Notify"}},
		{
			name:     "bit field order",
			props:    blelib.CharIndicate | blelib.CharWrite | blelib.CharRead | blelib.CharBroadcast,
			expected: []string{"Broadcast", "Read", "Write", "Indicate"},
		},
		{name: "none", props: 0, expected: nil},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Assert().Equal(tt.expected, propertyNames(device.NewProperties(tt.props)))
		})
	}
}

func (suite *ServicesCommandTestSuite) TestIsPrintableASCII() {
	tests := []struct {
		name     string
		input    []byte
		expected bool
	}{
		{name: "plain text", input: []byte("Thingy"), expected: true},
		{name: "with space", input: []byte("Thingy 52"), expected: true},
		{name: "empty", input: nil, expected: false},
		{name: "control byte", input: []byte{0x54, 0x00}, expected: false},
		{name: "high byte", input: []byte{0xff}, expected: false},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Assert().Equal(tt.expected, isPrintableASCII(tt.input))
		})
	}
}

func (suite *ServicesCommandTestSuite) TestOutputServicesTree() {
	dev, cleanup := suite.connectDevice()
	defer cleanup()

	conn := dev.GetConnection()
	suite.Require().NotNil(conn, "connection MUST exist")

	out := suite.captureFile(func(w *os.File) {
		suite.Require().NoError(outputServicesTree(w, dev, conn))
	})

	suite.Assert().Contains(out, testutils.ThingyAddress)
	suite.Assert().Contains(out, sensor.EnvironmentServiceUUID)
	for _, k := range sensor.Kinds() {
		suite.Assert().Contains(out, k.CharacteristicUUID(), "tree MUST list the %s characteristic", k)
	}
	suite.Assert().Contains(out, "value 0x001f", "value handles MUST be shown")
	suite.Assert().Contains(out, "Notify")
}

func (suite *ServicesCommandTestSuite) TestOutputServicesJSON() {
	dev, cleanup := suite.connectDevice()
	defer cleanup()

	conn := dev.GetConnection()
	suite.Require().NotNil(conn, "connection MUST exist")

	out := suite.captureFile(func(w *os.File) {
		suite.Require().NoError(outputServicesJSON(w, dev, conn))
	})

	var parsed map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &parsed), "output MUST be valid JSON")

	suite.Assert().Equal(testutils.ThingyAddress, parsed["address"])

	services, ok := parsed["services"].(map[string]any)
	suite.Require().True(ok, "services MUST be an object")

	envService, ok := services[sensor.EnvironmentServiceUUID].(map[string]any)
	suite.Require().True(ok, "environment service MUST be present")

	chars, ok := envService["characteristics"].(map[string]any)
	suite.Require().True(ok, "characteristics MUST be an object")
	suite.Require().Len(chars, 4)

	tempChar, ok := chars[sensor.Temperature.CharacteristicUUID()].(map[string]any)
	suite.Require().True(ok, "temperature characteristic MUST be present")
	suite.Assert().Equal(float64(0x001f), tempChar["value_handle"])
	suite.Assert().Contains(tempChar["properties"], "Notify")
}

func TestServicesCommandSuite(t *testing.T) {
	suite.Run(t, new(ServicesCommandTestSuite))
}
