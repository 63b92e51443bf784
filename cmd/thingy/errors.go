package main

import (
	"context"
	"errors"

	"github.com/evanslai/thingy/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost
	// during operation. This is distinct from device.ErrNotConnected, which
	// indicates an attempt to use a device that was never connected or was
	// already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError converts internal errors into messages fit for the
// terminal, without stack-trace noise.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectionLost):
		return "connection lost: the device disconnected or went out of range"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out: is the device powered on and in range?"
	case errors.Is(err, device.ErrNotConnected):
		return "device is not connected"
	case errors.Is(err, device.ErrAlreadyConnected):
		return "device is already connected"
	}

	var notFound *device.NotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error() + " on this device"
	}

	return err.Error()
}
