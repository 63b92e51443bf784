package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/evanslai/thingy/internal/bledb"
)

// BLEDevice implements the Device interface for peripherals seen over the air
// or addressed directly.
type BLEDevice struct {
	id                 string
	name               string
	address            string
	rssi               int
	txPower            *int
	connectable        bool
	lastSeen           time.Time
	advertisedServices []string
	manufData          []byte
	serviceData        map[string][]byte
	connection         *BLEConnection
	logger             *logrus.Logger
	mu                 sync.RWMutex
}

// NewBLEDevice creates a BLEDevice with a pre-created connection instance.
func NewBLEDevice(address string, logger *logrus.Logger) *BLEDevice {
	if logger == nil {
		logger = logrus.New()
	}

	return &BLEDevice{
		id:                 address,
		address:            address,
		advertisedServices: make([]string, 0),
		serviceData:        make(map[string][]byte),
		lastSeen:           time.Now(),
		connection:         NewBLEConnection(logger),
		logger:             logger,
	}
}

// NewBLEDeviceFromAdvertisement creates a BLEDevice from an advertisement.
func NewBLEDeviceFromAdvertisement(adv Advertisement, logger *logrus.Logger) *BLEDevice {
	dev := NewBLEDevice(adv.Addr(), logger)

	dev.name = adv.LocalName()
	dev.rssi = adv.RSSI()
	dev.connectable = adv.Connectable()
	dev.manufData = adv.ManufacturerData()

	for _, uuid := range adv.Services() {
		dev.advertisedServices = append(dev.advertisedServices, bledb.NormalizeUUID(uuid))
	}
	sort.Strings(dev.advertisedServices)

	for _, svcData := range adv.ServiceData() {
		dev.serviceData[bledb.NormalizeUUID(svcData.UUID)] = svcData.Data
	}

	// 127 means TX power not present in the advertisement.
	if adv.TxPowerLevel() != 127 {
		txPower := adv.TxPowerLevel()
		dev.txPower = &txPower
	}

	return dev
}

func (d *BLEDevice) ID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.id
}

// Name returns the device name, falling back to the address when the
// peripheral never advertised one.
func (d *BLEDevice) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.name == "" {
		return d.address
	}
	return d.name
}

func (d *BLEDevice) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.address
}

func (d *BLEDevice) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

func (d *BLEDevice) TxPower() *int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.txPower
}

func (d *BLEDevice) IsConnectable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectable
}

func (d *BLEDevice) AdvertisedServices() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.advertisedServices
}

func (d *BLEDevice) ManufacturerData() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manufData
}

func (d *BLEDevice) ServiceData() map[string][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.serviceData
}

// LastSeen returns when the device was last observed advertising.
func (d *BLEDevice) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Connect establishes the BLE link and discovers the attribute tree.
func (d *BLEDevice) Connect(ctx context.Context, opts *ConnectOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connection == nil {
		return fmt.Errorf("internal error: connection is not initialized")
	}

	if opts == nil {
		opts = &ConnectOptions{ConnectTimeout: DefaultConnectTimeout, AdapterID: -1}
	}

	if err := d.connection.Connect(ctx, d.address, opts); err != nil {
		return err
	}

	d.resolveGAPName()
	return nil
}

// resolveGAPName reads the GAP Device Name characteristic (0x2A00), which is
// more authoritative than the advertised local name. Failures are ignored.
// Caller must hold d.mu.
func (d *BLEDevice) resolveGAPName() {
	const (
		gapServiceUUID = "1800"
		deviceNameChar = "2a00"
	)

	char, err := d.connection.GetCharacteristic(gapServiceUUID, deviceNameChar)
	if err != nil {
		return
	}

	data, err := char.Read(DefaultReadTimeout)
	if err != nil || len(data) == 0 {
		return
	}

	name := strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
	if isValidDeviceName(name) {
		d.name = name
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"name":    name,
		}).Debug("Resolved device name from GAP")
	}
}

// Disconnect closes the connection and clears live handles.
func (d *BLEDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connection == nil {
		return fmt.Errorf("internal error: connection is not initialized")
	}
	return d.connection.Disconnect()
}

func (d *BLEDevice) isConnectedInternal() bool {
	if d.connection == nil {
		return false
	}
	return d.connection.IsConnected()
}

// IsConnected reports the link status.
func (d *BLEDevice) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isConnectedInternal()
}

// Update refreshes device information from a new advertisement.
func (d *BLEDevice) Update(adv Advertisement) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rssi = adv.RSSI()
	d.lastSeen = time.Now()

	if name := adv.LocalName(); name != "" {
		d.name = name
	}

	if manufData := adv.ManufacturerData(); len(manufData) > 0 {
		d.manufData = manufData
	}

	needsSort := false
	for _, svc := range adv.Services() {
		normalized := bledb.NormalizeUUID(svc)
		if !d.hasServiceUUID(normalized) {
			d.advertisedServices = append(d.advertisedServices, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(d.advertisedServices)
	}

	for _, svcData := range adv.ServiceData() {
		d.serviceData[bledb.NormalizeUUID(svcData.UUID)] = svcData.Data
	}

	if adv.TxPowerLevel() != 127 {
		txPower := adv.TxPowerLevel()
		d.txPower = &txPower
	}
}

// GetConnection returns the GATT connection interface.
func (d *BLEDevice) GetConnection() Connection {
	return d.connection
}

// isValidDeviceName filters out control bytes and junk reads masquerading as
// a device name.
func isValidDeviceName(name string) bool {
	if len(name) < 1 || len(name) > 32 {
		return false
	}

	hasLetter := false
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

func (d *BLEDevice) hasServiceUUID(uuid string) bool {
	for _, s := range d.advertisedServices {
		if strings.EqualFold(s, uuid) {
			return true
		}
	}
	return false
}
