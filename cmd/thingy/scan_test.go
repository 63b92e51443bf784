package main

import (
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/evanslai/thingy/internal/device"
	"github.com/evanslai/thingy/internal/testutils"
)

// ScanCommandTestSuite tests the scan command's option handling and output
// formatting.
type ScanCommandTestSuite struct {
	testutils.MockBLEPeripheralSuite
	originalFlags struct {
		scanDuration     time.Duration
		scanServices     []string
		scanAllowList    []string
		scanBlockList    []string
		scanNoDuplicates bool
		scanAdapter      int
	}
}

func (suite *ScanCommandTestSuite) SetupSuite() {
	suite.MockBLEPeripheralSuite.SetupSuite()

	suite.originalFlags.scanDuration = scanDuration
	suite.originalFlags.scanServices = scanServices
	suite.originalFlags.scanAllowList = scanAllowList
	suite.originalFlags.scanBlockList = scanBlockList
	suite.originalFlags.scanNoDuplicates = scanNoDuplicates
	suite.originalFlags.scanAdapter = scanAdapter
}

func (suite *ScanCommandTestSuite) TearDownSuite() {
	scanDuration = suite.originalFlags.scanDuration
	scanServices = suite.originalFlags.scanServices
	scanAllowList = suite.originalFlags.scanAllowList
	scanBlockList = suite.originalFlags.scanBlockList
	scanNoDuplicates = suite.originalFlags.scanNoDuplicates
	scanAdapter = suite.originalFlags.scanAdapter
}

func (suite *ScanCommandTestSuite) SetupTest() {
	suite.MockBLEPeripheralSuite.SetupTest()

	scanDuration = 10 * time.Second
	scanServices = nil
	scanAllowList = nil
	scanBlockList = nil
	scanNoDuplicates = false
	scanAdapter = -1
}

func (suite *ScanCommandTestSuite) TestScanCmd() {
	suite.Run("command definition", func() {
		suite.Assert().NotNil(scanCmd, "scan command MUST be defined")
		suite.Assert().Equal("scan", scanCmd.Use)
	})

	suite.Run("flags", func() {
		flags := []struct {
			name         string
			defaultValue string
		}{
			{name: "duration", defaultValue: "10s"},
			{name: "format", defaultValue: "table"},
			{name: "watch", defaultValue: "false"},
			{name: "no-duplicates", defaultValue: "false"},
			{name: "adapter", defaultValue: "-1"},
		}
		for _, f := range flags {
			flag := scanCmd.Flags().Lookup(f.name)
			suite.Require().NotNil(flag, "flag %s MUST exist", f.name)
			suite.Assert().Equal(f.defaultValue, flag.DefValue, "flag %s default MUST match", f.name)
		}
	})

	suite.Run("args validation", func() {
		suite.Assert().NoError(scanCmd.Args(scanCmd, []string{}))
		suite.Assert().Error(scanCmd.Args(scanCmd, []string{"unexpected"}), "MUST reject positional args")
	})
}

func (suite *ScanCommandTestSuite) TestBuildScanOptions() {
	suite.Run("defaults", func() {
		opts, err := buildScanOptions()
		suite.Require().NoError(err)
		suite.Assert().Equal(10*time.Second, opts.Duration)
		suite.Assert().True(opts.DuplicateFilter)
		suite.Assert().Equal(-1, opts.AdapterID)
		suite.Assert().Empty(opts.ServiceUUIDs)
	})

	suite.Run("no-duplicates inverts the filter", func() {
		scanNoDuplicates = true
		defer func() { scanNoDuplicates = false }()

		opts, err := buildScanOptions()
		suite.Require().NoError(err)
		suite.Assert().False(opts.DuplicateFilter)
	})

	suite.Run("service UUIDs parsed", func() {
		scanServices = []string{"180d", "ef680200-9b35-4933-9b10-52ffa9740042"}
		defer func() { scanServices = nil }()

		opts, err := buildScanOptions()
		suite.Require().NoError(err)
		suite.Require().Len(opts.ServiceUUIDs, 2)
	})

	suite.Run("invalid service UUID rejected", func() {
		scanServices = []string{"not-a-uuid"}
		defer func() { scanServices = nil }()

		_, err := buildScanOptions()
		suite.Assert().Error(err, "MUST reject malformed UUIDs")
		suite.Assert().Contains(err.Error(), "invalid service UUID")
	})

	suite.Run("allow and block lists carried through", func() {
		scanAllowList = []string{"AA:BB:CC:DD:EE:FF"}
		scanBlockList = []string{"11:22:33:44:55:66"}
		defer func() {
			scanAllowList = nil
			scanBlockList = nil
		}()

		opts, err := buildScanOptions()
		suite.Require().NoError(err)
		suite.Assert().Equal([]string{"AA:BB:CC:DD:EE:FF"}, opts.AllowList)
		suite.Assert().Equal([]string{"11:22:33:44:55:66"}, opts.BlockList)
	})
}

// discoveredDevice builds a DeviceInfo as the scanner would from an
// advertisement.
func (suite *ScanCommandTestSuite) discoveredDevice(name, addr string, rssi int) device.DeviceInfo {
	adv := testutils.NewAdvertisementBuilder().
		WithName(name).
		WithAddress(addr).
		WithRSSI(rssi).
		WithConnectable(true).
		WithManufacturerData([]byte{0x59, 0x00}).
		WithTxPower(4).
		WithServices("ef680200-9b35-4933-9b10-52ffa9740042").
		Build()
	return device.NewBLEDeviceFromAdvertisement(device.NewBLEAdvertisement(adv), suite.Logger)
}

func (suite *ScanCommandTestSuite) captureFile(fn func(w *os.File)) string {
	r, w, err := os.Pipe()
	suite.Require().NoError(err, "pipe creation MUST succeed")

	fn(w)

	suite.Require().NoError(w.Close())
	out, err := io.ReadAll(r)
	suite.Require().NoError(err)
	return string(out)
}

func (suite *ScanCommandTestSuite) TestSortedAddresses() {
	devices := map[string]device.DeviceInfo{
		"11:22:33:44:55:66": suite.discoveredDevice("Far", "11:22:33:44:55:66", -80),
		"AA:BB:CC:DD:EE:FF": suite.discoveredDevice("Near", "AA:BB:CC:DD:EE:FF", -40),
		"22:22:22:22:22:22": suite.discoveredDevice("Mid", "22:22:22:22:22:22", -60),
	}

	addrs := sortedAddresses(devices)
	suite.Assert().Equal([]string{"AA:BB:CC:DD:EE:FF", "22:22:22:22:22:22", "11:22:33:44:55:66"}, addrs,
		"devices MUST be ordered strongest signal first")
}

func (suite *ScanCommandTestSuite) TestOutputScanTable() {
	devices := map[string]device.DeviceInfo{
		"AA:BB:CC:DD:EE:FF": suite.discoveredDevice("Thingy", "AA:BB:CC:DD:EE:FF", -40),
	}

	out := suite.captureFile(func(w *os.File) {
		outputScanTable(w, devices, nil)
	})

	suite.Assert().Contains(out, "NAME")
	suite.Assert().Contains(out, "ADDRESS")
	suite.Assert().NotContains(out, "LAST SEEN", "single scan MUST omit the last-seen column")
	suite.Assert().Contains(out, "Thingy")
	suite.Assert().Contains(out, "AA:BB:CC:DD:EE:FF")
	suite.Assert().Contains(out, "-40")
	suite.Assert().Contains(out, "ef680200", "advertised services MUST be shown shortened")
}

func (suite *ScanCommandTestSuite) TestOutputScanTableWatch() {
	devices := map[string]device.DeviceInfo{
		"AA:BB:CC:DD:EE:FF": suite.discoveredDevice("Thingy", "AA:BB:CC:DD:EE:FF", -40),
	}
	lastSeen := map[string]time.Time{
		"AA:BB:CC:DD:EE:FF": time.Now().Add(-3 * time.Second),
	}

	out := suite.captureFile(func(w *os.File) {
		outputScanTable(w, devices, lastSeen)
	})

	suite.Assert().Contains(out, "LAST SEEN")
	suite.Assert().Contains(out, "3s ago")
}

func (suite *ScanCommandTestSuite) TestOutputScanJSON() {
	devices := map[string]device.DeviceInfo{
		"AA:BB:CC:DD:EE:FF": suite.discoveredDevice("Thingy", "AA:BB:CC:DD:EE:FF", -40),
	}

	out := suite.captureFile(func(w *os.File) {
		suite.Require().NoError(outputScanJSON(w, devices))
	})

	var results []map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &results), "output MUST be valid JSON")
	suite.Require().Len(results, 1)

	suite.Assert().Equal("Thingy", results[0]["name"])
	suite.Assert().Equal("AA:BB:CC:DD:EE:FF", results[0]["address"])
	suite.Assert().Equal(float64(-40), results[0]["rssi"])
	suite.Assert().Equal(float64(4), results[0]["tx_power"])
	suite.Assert().Equal(true, results[0]["connectable"])
	suite.Assert().Equal("5900", results[0]["manufacturer_data"])
}

func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}
