package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/evanslai/thingy/internal/device"
	"github.com/evanslai/thingy/internal/testutils"
)

const envServiceUUID = "ef680200-9b35-4933-9b10-52ffa9740042"

type ConnectionTestSuite struct {
	testutils.MockBLEPeripheralSuite

	device     device.Device
	connection device.Connection
}

func (suite *ConnectionTestSuite) connect() {
	dev := device.NewBLEDevice(testutils.ThingyAddress, suite.Logger)
	err := dev.Connect(context.Background(), &device.ConnectOptions{
		ConnectTimeout: 5 * time.Second,
		AdapterID:      -1,
	})
	suite.Require().NoError(err, "MUST connect successfully")

	suite.device = dev
	suite.connection = dev.GetConnection()
	suite.Require().NotNil(suite.connection)
}

func (suite *ConnectionTestSuite) TearDownTest() {
	if suite.device != nil {
		_ = suite.device.Disconnect()
		suite.device = nil
		suite.connection = nil
	}
	suite.MockBLEPeripheralSuite.TearDownTest()
}

func (suite *ConnectionTestSuite) TestDiscovery() {
	suite.connect()

	suite.Run("all services in handle order", func() {
		services := suite.connection.Services()

		suite.Require().Len(services, 1)
		suite.Assert().Equal("ef6802009b3549339b1052ffa9740042", services[0].UUID())
		suite.Assert().Equal(uint16(0x001d), services[0].Handle())
		suite.Assert().Equal(uint16(0x0028), services[0].EndHandle())
	})

	suite.Run("characteristics in handle order", func() {
		svc, err := suite.connection.GetService(envServiceUUID)
		suite.Require().NoError(err)

		chars := svc.GetCharacteristics()
		suite.Require().Len(chars, 4)
		suite.Assert().Equal(uint16(0x001f), chars[0].ValueHandle())
		suite.Assert().Equal(uint16(0x0022), chars[1].ValueHandle())
		suite.Assert().Equal(uint16(0x0025), chars[2].ValueHandle())
		suite.Assert().Equal(uint16(0x0028), chars[3].ValueHandle())
	})

	suite.Run("get characteristic by UUID forms", func() {
		char1, err1 := suite.connection.GetCharacteristic(envServiceUUID, "ef680201-9b35-4933-9b10-52ffa9740042")
		char2, err2 := suite.connection.GetCharacteristic("EF680200-9B35-4933-9B10-52FFA9740042", "ef6802019b3549339b1052ffa9740042")

		suite.Require().NoError(err1)
		suite.Require().NoError(err2)
		suite.Assert().Equal(char1.UUID(), char2.UUID())
		suite.Assert().Equal("ef6802009b3549339b1052ffa9740042", char1.ServiceUUID())
	})

	suite.Run("find by value handle", func() {
		char, err := suite.connection.FindByValueHandle(0x0022)

		suite.Require().NoError(err)
		suite.Assert().Equal("ef6802029b3549339b1052ffa9740042", char.UUID())
	})

	suite.Run("not found errors", func() {
		_, err := suite.connection.GetService("ffff")
		var notFound *device.NotFoundError
		suite.Assert().ErrorAs(err, &notFound)
		suite.Assert().Equal("service", notFound.Resource)

		_, err = suite.connection.FindByValueHandle(0x1234)
		suite.Assert().ErrorAs(err, &notFound)
	})
}

func (suite *ConnectionTestSuite) TestConnectTwiceFails() {
	suite.connect()

	err := suite.device.Connect(context.Background(), nil)
	suite.Assert().ErrorIs(err, device.ErrAlreadyConnected)
}

func (suite *ConnectionTestSuite) TestDisconnectIsIdempotent() {
	suite.connect()

	suite.Require().NoError(suite.device.Disconnect())
	suite.Assert().False(suite.device.IsConnected())
	suite.Assert().NoError(suite.device.Disconnect())
}

func (suite *ConnectionTestSuite) TestSubscribeEveryUpdate() {
	suite.connect()

	records := make(chan [][2]interface{}, 16)
	err := suite.connection.Subscribe([]*device.SubscribeOptions{
		{Service: envServiceUUID},
	}, device.StreamEveryUpdate, 0, func(r *device.Record) {
		var pairs [][2]interface{}
		for uuid, data := range r.Values {
			// Data is pooled; copy before the callback returns.
			cp := make([]byte, len(data))
			copy(cp, data)
			pairs = append(pairs, [2]interface{}{uuid, cp})
		}
		records <- pairs
	})
	suite.Require().NoError(err, "MUST subscribe successfully")

	delivered := suite.Peripheral.Notify(0x0025, []byte{42})
	suite.Require().True(delivered, "notification handler MUST be registered for humidity handle")

	select {
	case pairs := <-records:
		suite.Require().Len(pairs, 1)
		suite.Assert().Equal("ef6802039b3549339b1052ffa9740042", pairs[0][0])
		suite.Assert().Equal([]byte{42}, pairs[0][1])
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for subscription record")
	}
}

func (suite *ConnectionTestSuite) TestSubscribeValidation() {
	suite.connect()

	err := suite.connection.Subscribe(nil, device.StreamEveryUpdate, 0, func(*device.Record) {})
	suite.Assert().Error(err, "empty options MUST fail")

	err = suite.connection.Subscribe([]*device.SubscribeOptions{{Service: envServiceUUID}}, device.StreamEveryUpdate, 0, nil)
	suite.Assert().Error(err, "nil callback MUST fail")

	err = suite.connection.Subscribe([]*device.SubscribeOptions{
		{Service: "1234"},
	}, device.StreamEveryUpdate, 0, func(*device.Record) {})
	suite.Assert().ErrorContains(err, "missing services")

	err = suite.connection.Subscribe([]*device.SubscribeOptions{
		{Service: envServiceUUID, Characteristics: []string{"beef"}},
	}, device.StreamEveryUpdate, 0, func(*device.Record) {})
	suite.Assert().ErrorContains(err, "missing characteristics")
}

func (suite *ConnectionTestSuite) TestLinkLossCancelsContext() {
	suite.connect()

	ctx := suite.connection.ConnectionContext()
	suite.Peripheral.DropLink()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		suite.FailNow("connection context MUST be cancelled on link loss")
	}
	suite.Assert().Eventually(func() bool { return !suite.device.IsConnected() },
		2*time.Second, 10*time.Millisecond, "device MUST report disconnected after link loss")
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
