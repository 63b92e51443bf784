package inspector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/evanslai/thingy/inspector"
	"github.com/evanslai/thingy/internal/device"
	"github.com/evanslai/thingy/internal/testutils"
)

type InspectorTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (suite *InspectorTestSuite) TestInspectDeviceLifecycle() {
	var phases []string
	var connectedDuringCallback bool
	var dev device.Device

	count, err := inspector.InspectDevice(context.Background(), testutils.ThingyAddress,
		&inspector.InspectOptions{ConnectTimeout: 5 * time.Second, AdapterID: -1},
		suite.Logger,
		func(phase string) { phases = append(phases, phase) },
		func(d device.Device) (int, error) {
			dev = d
			connectedDuringCallback = d.IsConnected()
			return len(d.GetConnection().Services()), nil
		})

	suite.Require().NoError(err)
	suite.Assert().Equal(1, count, "Thingy profile has one service")
	suite.Assert().True(connectedDuringCallback, "device MUST be connected inside the callback")
	suite.Assert().False(dev.IsConnected(), "device MUST be disconnected after the callback")
	suite.Assert().Equal([]string{"Connecting", "Connected", "Processing results"}, phases)
}

func (suite *InspectorTestSuite) TestInspectDeviceConnectFailure() {
	suite.WithPeripheral().WithDialError(errors.New("dial refused"))
	suite.MockBLEPeripheralSuite.SetupTest()

	var phases []string
	_, err := inspector.InspectDevice(context.Background(), testutils.ThingyAddress,
		nil, suite.Logger,
		func(phase string) { phases = append(phases, phase) },
		func(d device.Device) (struct{}, error) {
			suite.FailNow("callback MUST not run when connect fails")
			return struct{}{}, nil
		})

	suite.Require().Error(err)
	suite.Assert().Equal([]string{"Connecting", "Failed"}, phases)
}

func (suite *InspectorTestSuite) TestInspectDeviceCallbackError() {
	wantErr := errors.New("render failed")

	_, err := inspector.InspectDevice(context.Background(), testutils.ThingyAddress,
		&inspector.InspectOptions{ConnectTimeout: 5 * time.Second, AdapterID: -1},
		suite.Logger, nil,
		func(d device.Device) (struct{}, error) {
			return struct{}{}, wantErr
		})

	suite.Assert().ErrorIs(err, wantErr)
}

func TestInspectorTestSuite(t *testing.T) {
	suite.Run(t, new(InspectorTestSuite))
}
