// Package inspector manages the connect, inspect, disconnect lifecycle for a
// single BLE peripheral.
package inspector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evanslai/thingy/internal/device"
)

// ProgressCallback is called when the inspection phase changes.
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a BLE device profile.
type InspectOptions struct {
	ConnectTimeout time.Duration
	AdapterID      int
	MTU            int
}

// InspectCallback processes a connected device and produces output of type R.
type InspectCallback[R any] func(device.Device) (R, error)

// InspectDevice connects to a device, discovers its profile, and executes the
// callback with the connected device. The device lifecycle is managed
// automatically: the link is torn down when the callback returns.
func InspectDevice[R any](ctx context.Context, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{ConnectTimeout: 30 * time.Second, AdapterID: -1}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")

	dev := device.NewBLEDevice(address, logger)
	connectOpts := &device.ConnectOptions{
		ConnectTimeout: opts.ConnectTimeout,
		AdapterID:      opts.AdapterID,
		MTU:            opts.MTU,
	}

	if err := dev.Connect(ctx, connectOpts); err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Connected")

	defer func(dev device.Device) {
		if err := dev.Disconnect(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}(dev)

	progressCallback("Processing results")

	return callback(dev)
}
