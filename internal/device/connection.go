package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/evanslai/thingy/internal/bledb"
	"github.com/evanslai/thingy/internal/groutine"
)

const (
	// DefaultChannelBuffer is the default buffer size for notification channels.
	DefaultChannelBuffer = 128

	// DefaultUpdateInterval is the polling interval for StreamEveryUpdate mode.
	DefaultUpdateInterval = 5 * time.Millisecond

	// DefaultBatchedInterval is the default rate interval for batched and
	// aggregated modes.
	DefaultBatchedInterval = 100 * time.Millisecond

	// DefaultConnectTimeout bounds connection establishment when the caller
	// does not set one.
	DefaultConnectTimeout = 30 * time.Second
)

// DeviceFactory creates ble.Device instances (overridable in tests).
// A negative adapterID selects the default HCI adapter.
var DeviceFactory = func(adapterID int) (ble.Device, error) {
	if adapterID >= 0 {
		return linux.NewDevice(ble.OptDeviceID(adapterID))
	}
	return linux.NewDevice()
}

// BLEConnection is a live GATT connection: the discovered attribute tree plus
// the subscription machinery on top of it.
type BLEConnection struct {
	client    ble.Client
	logger    *logrus.Logger
	connMutex sync.RWMutex
	connected bool

	services     map[string]*BLEService
	byValueHandle map[uint16]*BLECharacteristic

	subMgr *SubscriptionManager
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewBLEConnection creates a disconnected connection.
func NewBLEConnection(logger *logrus.Logger) *BLEConnection {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLEConnection{
		services:      make(map[string]*BLEService),
		byValueHandle: make(map[uint16]*BLECharacteristic),
		subMgr:        NewSubscriptionManager(logger),
		ctx:           context.Background(),
		logger:        logger,
	}
}

// Connect dials the peripheral, discovers its profile, and indexes the
// attribute tree by UUID and by value handle.
func (c *BLEConnection) Connect(ctx context.Context, address string, opts *ConnectOptions) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("device address is empty")
	}
	if c.isConnectedInternal() {
		c.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return ErrAlreadyConnected
	}
	if opts == nil {
		opts = &ConnectOptions{ConnectTimeout: DefaultConnectTimeout, AdapterID: -1}
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"adapter": opts.AdapterID,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	dev, err := DeviceFactory(opts.AdapterID)
	if err != nil {
		return fmt.Errorf("failed to open HCI device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return fmt.Errorf("failed to connect to device %q: %w", address, err)
	}

	if opts.MTU > 0 {
		if mtu, err := client.ExchangeMTU(opts.MTU); err != nil {
			c.logger.WithFields(logrus.Fields{
				"requested": opts.MTU,
				"error":     err,
			}).Warn("ATT MTU exchange failed, continuing with stack default")
		} else {
			c.logger.WithField("mtu", mtu).Debug("ATT MTU exchanged")
		}
	}

	c.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	for _, bleSvc := range profile.Services {
		svcRawUUID := bleSvc.UUID.String()
		svcUUID := bledb.NormalizeUUID(svcRawUUID)
		svc, ok := c.services[svcUUID]
		if !ok {
			svc = &BLEService{
				uuid:            svcUUID,
				knownName:       bledb.LookupService(svcRawUUID),
				handle:          bleSvc.Handle,
				endHandle:       bleSvc.EndHandle,
				Characteristics: make(map[string]*BLECharacteristic),
			}
			c.services[svcUUID] = svc
		}

		for _, bleChar := range bleSvc.Characteristics {
			charUUID := bledb.NormalizeUUID(bleChar.UUID.String())
			char, ok := svc.Characteristics[charUUID]
			if !ok {
				char = NewCharacteristic(bleChar, svcUUID, DefaultChannelBuffer, c)
				svc.Characteristics[charUUID] = char
			} else {
				// Reconnect path: refresh the live handle, reopen the stream.
				char.BLEChar = bleChar
				char.handle = bleChar.Handle
				char.valueHandle = bleChar.ValueHandle
				if char.closed.Load() {
					if err := char.ResetUpdates(DefaultChannelBuffer); err != nil {
						c.logger.WithFields(logrus.Fields{
							"char_uuid": charUUID,
							"error":     err,
						}).Warn("Failed to reset updates channel during reconnection")
					}
				}
			}
			c.byValueHandle[char.valueHandle] = char
		}
	}

	c.client = client
	c.connected = true
	connectionCtx, connectionCancel := context.WithCancelCause(ctx)
	c.ctx, c.cancel = connectionCtx, connectionCancel

	// The stack reports link loss on the Disconnected channel; fold that into
	// the connection context so subscribers unwind.
	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		select {
		case <-client.Disconnected():
			c.logger.Warn("Peripheral disconnected, cancelling connection context")
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()
			connectionCancel(ErrNotConnected)
		case <-connectionCtx.Done():
		}
	})

	totalChars := 0
	for _, svc := range c.services {
		totalChars += len(svc.Characteristics)
	}
	c.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(c.services),
		"characteristics": totalChars,
	}).Info("BLE device connected")
	return nil
}

// Disconnect cancels subscriptions, unsubscribes remote notifications, and
// tears down the link. Safe to call when already disconnected.
func (c *BLEConnection) Disconnect() error {
	c.connMutex.Lock()
	if c.client == nil || !c.connected {
		c.connMutex.Unlock()
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	c.logger.WithField("services", len(c.services)).Info("Disconnecting BLE device...")

	c.subMgr.CancelAll()

	client := c.client
	cancel := c.cancel

	servicesCopy := make(map[string]*BLEService, len(c.services))
	for k, v := range c.services {
		servicesCopy[k] = v
	}

	c.client = nil
	c.cancel = nil
	c.connected = false
	c.connMutex.Unlock()

	if cancel != nil {
		cancel(nil)
	}

	c.subMgr.Wait()

	unsubscribeErrors := c.unsubscribeAllCharacteristics(client, servicesCopy)
	if len(unsubscribeErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).
			Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	for _, service := range servicesCopy {
		for _, char := range service.Characteristics {
			drainAndReleaseChannel(char.updates)
			char.CloseUpdates()
		}
	}

	var disconnectErr error
	if client != nil {
		disconnectErr = client.CancelConnection()
	}

	if disconnectErr != nil {
		c.logger.WithField("error", disconnectErr).Warn("BLE device disconnected with errors")
	} else {
		c.logger.Info("BLE device disconnected")
	}
	return disconnectErr
}

// isConnectedInternal must only be called with connMutex held.
func (c *BLEConnection) isConnectedInternal() bool {
	return c.client != nil && c.connected
}

// IsConnected reports whether the link is up.
func (c *BLEConnection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnectedInternal()
}

// ConnectionContext returns a context cancelled on disconnect or link loss.
func (c *BLEConnection) ConnectionContext() context.Context {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.ctx
}

// Services returns all discovered services ordered by start handle.
func (c *BLEConnection) Services() []Service {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	result := make([]Service, 0, len(c.services))
	for _, v := range c.services {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Handle() < result[j].Handle()
	})
	return result
}

// GetService retrieves a service by UUID (any accepted form).
func (c *BLEConnection) GetService(uuid string) (Service, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	svc, ok := c.services[bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

// GetCharacteristic retrieves a characteristic by service and characteristic UUID.
func (c *BLEConnection) GetCharacteristic(service, uuid string) (Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	svc, ok := c.services[bledb.NormalizeUUID(service)]
	if !ok {
		return nil, &NotFoundError{Resource: "service", UUIDs: []string{service}}
	}

	char, ok := svc.Characteristics[bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return char, nil
}

// FindByValueHandle retrieves a characteristic by its value attribute handle.
func (c *BLEConnection) FindByValueHandle(handle uint16) (Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	char, ok := c.byValueHandle[handle]
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{fmt.Sprintf("handle 0x%04x", handle)}}
	}
	return char, nil
}

// ProcessCharacteristicNotification feeds one received notification into a
// characteristic's update stream. Exposed for tests to simulate traffic.
func (c *BLEConnection) ProcessCharacteristicNotification(char *BLECharacteristic, data []byte) {
	char.EnqueueValue(newValue(data))
}

// validateSubscribeOptions checks service and characteristic existence and
// notification support, collecting every problem before failing.
func (c *BLEConnection) validateSubscribeOptions(opts *SubscribeOptions, requireNotificationSupport bool) (map[string]*BLECharacteristic, error) {
	var missingServices []string
	var missingChars []string
	var unsupportedChars []string
	selected := make(map[string]*BLECharacteristic)

	supportsNotify := func(char *BLECharacteristic) bool {
		if char.BLEChar == nil {
			return false
		}
		return char.BLEChar.Property&ble.CharNotify != 0 || char.BLEChar.Property&ble.CharIndicate != 0
	}

	svcUUID := bledb.NormalizeUUID(opts.Service)
	service, serviceExists := c.services[svcUUID]
	if !serviceExists {
		missingServices = append(missingServices, opts.Service)
	} else if len(opts.Characteristics) == 0 {
		for charUUID, char := range service.Characteristics {
			switch {
			case char.BLEChar == nil:
				missingChars = append(missingChars, fmt.Sprintf("%s (in service %s)", charUUID, opts.Service))
			case requireNotificationSupport && !supportsNotify(char):
				unsupportedChars = append(unsupportedChars, fmt.Sprintf("%s (in service %s)", charUUID, opts.Service))
			default:
				selected[charUUID] = char
			}
		}
	} else {
		for _, rawUUID := range opts.Characteristics {
			charUUID := bledb.NormalizeUUID(rawUUID)
			char, ok := service.Characteristics[charUUID]
			switch {
			case !ok || char.BLEChar == nil:
				missingChars = append(missingChars, fmt.Sprintf("%s (in service %s)", rawUUID, opts.Service))
			case requireNotificationSupport && !supportsNotify(char):
				unsupportedChars = append(unsupportedChars, fmt.Sprintf("%s (in service %s)", rawUUID, opts.Service))
			default:
				selected[charUUID] = char
			}
		}
	}

	if len(missingServices) > 0 || len(missingChars) > 0 || len(unsupportedChars) > 0 {
		var parts []string
		if len(missingServices) > 0 {
			parts = append(parts, fmt.Sprintf("missing services: %s", strings.Join(missingServices, ", ")))
		}
		if len(missingChars) > 0 {
			parts = append(parts, fmt.Sprintf("missing characteristics: %s", strings.Join(missingChars, ", ")))
		}
		if len(unsupportedChars) > 0 {
			parts = append(parts, fmt.Sprintf("characteristics without notification support: %s", strings.Join(unsupportedChars, ", ")))
		}
		return nil, fmt.Errorf("validation failed - %s", strings.Join(parts, "; "))
	}

	return selected, nil
}

// registerNotifications arms remote notifications for the given characteristics.
// Must be called without holding connMutex.
func (c *BLEConnection) registerNotifications(client ble.Client, chars map[string]*BLECharacteristic) error {
	var subscriptionErrors []string
	for charUUID, char := range chars {
		charCapture := char
		err := NormalizeError(client.Subscribe(char.BLEChar, false, func(data []byte) {
			c.ProcessCharacteristicNotification(charCapture, data)
		}))
		if err != nil {
			subscriptionErrors = append(subscriptionErrors, fmt.Sprintf("%s: %v", charUUID, err))
			c.logger.WithFields(logrus.Fields{
				"charUUID": charUUID,
				"error":    err,
			}).Error("Failed to register characteristic notifications")
			continue
		}
		c.logger.WithFields(logrus.Fields{
			"charUUID":    charUUID,
			"valueHandle": fmt.Sprintf("0x%04x", char.valueHandle),
		}).Info("Registered characteristic notifications")
	}

	if len(subscriptionErrors) > 0 {
		return fmt.Errorf("subscription failures - %s", strings.Join(subscriptionErrors, "; "))
	}
	return nil
}

// tryUnsubscribe disarms both notify and indicate modes, returning an error
// only when both fail.
func (c *BLEConnection) tryUnsubscribe(client ble.Client, char *BLECharacteristic, charUUID string) error {
	if char.BLEChar == nil {
		return nil
	}

	err1 := NormalizeError(client.Unsubscribe(char.BLEChar, false))
	err2 := NormalizeError(client.Unsubscribe(char.BLEChar, true))
	if err1 != nil && err2 != nil {
		return fmt.Errorf("%s: notify=%v, indicate=%v", charUUID, err1, err2)
	}
	return nil
}

func (c *BLEConnection) unsubscribeAllCharacteristics(client ble.Client, services map[string]*BLEService) []string {
	var unsubscribeErrors []string
	if client == nil {
		return unsubscribeErrors
	}

	for serviceUUID, service := range services {
		for charUUID, char := range service.Characteristics {
			if err := c.tryUnsubscribe(client, char, charUUID); err != nil {
				unsubscribeErrors = append(unsubscribeErrors, fmt.Sprintf("%s (in service %s): %v", charUUID, serviceUUID, err))
			}
		}
	}
	return unsubscribeErrors
}
