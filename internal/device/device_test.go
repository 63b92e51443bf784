package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evanslai/thingy/internal/device"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  *device.NotFoundError
		want string
	}{
		{
			name: "no UUIDs",
			err:  &device.NotFoundError{Resource: "service"},
			want: "service not found",
		},
		{
			name: "single UUID",
			err:  &device.NotFoundError{Resource: "service", UUIDs: []string{"180f"}},
			want: `service "180f" not found`,
		},
		{
			name: "characteristic in service",
			err:  &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}},
			want: `characteristic "2a19" not found in service "180f"`,
		},
		{
			name: "descriptor in characteristic",
			err:  &device.NotFoundError{Resource: "descriptor", UUIDs: []string{"2a19", "2902"}},
			want: `descriptor "2902" not found in characteristic "2a19"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConnectionErrorIs(t *testing.T) {
	err := fmt.Errorf("read failed: %w", device.ErrNotConnected)

	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.NotErrorIs(t, err, device.ErrAlreadyConnected)

	direct := &device.ConnectionError{State: device.NotConnected, Msg: "link dropped"}
	assert.ErrorIs(t, direct, device.ErrNotConnected)
	assert.Equal(t, "not_connected: link dropped", direct.Error())
}

func TestNormalizeError(t *testing.T) {
	assert.NoError(t, device.NormalizeError(nil))

	err := device.NormalizeError(errors.New("ATT request failed: not connected"))
	assert.ErrorIs(t, err, device.ErrNotConnected)

	err = device.NormalizeError(errors.New("device Already Connected to peer"))
	assert.ErrorIs(t, err, device.ErrAlreadyConnected)

	plain := errors.New("some other failure")
	assert.Equal(t, plain, device.NormalizeError(plain))
}

func TestIsConnectionState(t *testing.T) {
	wrapped := fmt.Errorf("subscribe: %w", device.ErrNotConnected)

	assert.True(t, device.IsConnectionState(wrapped, device.NotConnected))
	assert.False(t, device.IsConnectionState(wrapped, device.AlreadyConnected))
	assert.False(t, device.IsConnectionState(errors.New("other"), device.NotConnected))
}
