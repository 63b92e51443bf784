// Package scanner implements BLE device discovery with allow/block and
// service filters, a concurrent device registry, and an event stream for
// watch-style consumers.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/evanslai/thingy/internal/device"
)

// ProgressCallback is called when the scan phase changes.
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated.
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo device.DeviceInfo
	Timestamp  time.Time
}

// Scanner handles BLE device discovery.
type Scanner struct {
	devices *hashmap.Map[string, device.Device]
	events  *RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
	scanDevice  blelib.Device
}

// ScanOptions configures scanning behavior.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AdapterID       int // HCI adapter index; negative means the default adapter
	ServiceUUIDs    []blelib.UUID
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		AdapterID:       -1,
	}
}

// NewScanner creates a new BLE scanner.
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		events: NewRingChannel[DeviceEvent](100),
		logger: logger,
	}, nil
}

// Scan performs BLE discovery with the provided options, blocking until the
// context is done, and returns a snapshot of everything seen.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]device.DeviceInfo, error) {
	s.devices = hashmap.New[string, device.Device]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	progressCallback("Scanning")

	dev, err := device.DeviceFactory(opts.AdapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	s.scanDevice = dev

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err = s.scanDevice.Scan(scanCtx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	progressCallback("Processing results")

	devices := make(map[string]device.DeviceInfo, s.devices.Len())
	s.devices.Range(func(key string, value device.Device) bool {
		devices[key] = value
		return true
	})

	return devices, nil
}

// handleAdvertisement updates an existing registry entry or adds a new one.
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	deviceID := adv.Addr().String()

	dev, existing := s.devices.Get(deviceID)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return
		}
		wrapped := device.NewBLEAdvertisement(adv)
		dev, existing = s.devices.GetOrInsert(deviceID, device.NewBLEDeviceFromAdvertisement(wrapped, s.logger))
	}

	event := DeviceEvent{
		DeviceInfo: dev,
		Timestamp:  time.Now(),
	}

	if existing {
		dev.Update(device.NewBLEAdvertisement(adv))
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name(),
			"address": dev.Address(),
			"rssi":    dev.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// shouldIncludeDevice applies the allow, block, and service filters.
func (s *Scanner) shouldIncludeDevice(adv blelib.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr().String()

	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range adv.Services() {
				if required.Equal(advUUID) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

// Events returns a read-only channel of device events for watch consumers.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
