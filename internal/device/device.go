// Package device wraps the go-ble stack behind small interfaces: scanning,
// connecting, GATT lookup by UUID or value handle, and notification
// subscriptions with stream modes. The ATT/GATT machinery itself lives in the
// external library; this package only orchestrates it.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a GATT resource is not found.
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // one or more UUIDs, outermost first
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		parent := "service"
		if e.Resource == "descriptor" {
			parent = "characteristic"
		}
		return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[0])
	}
}

// ConnectionState represents the specific kind of connection state failure.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states.
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// NormalizeError maps known go-ble error strings to structured ConnectionError
// types so callers can use errors.Is regardless of upstream wording changes.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

// IsConnectionState reports whether err is a ConnectionError with the given state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the advertisement data a scanner hands to its consumers.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []struct {
		UUID string
		Data []byte
	}
	Services() []string
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() string
}

// DeviceInfo is the read-only view of a discovered device.
type DeviceInfo interface {
	ID() string
	Name() string
	Address() string
	RSSI() int
	TxPower() *int
	IsConnectable() bool
	AdvertisedServices() []string
	ManufacturerData() []byte
	ServiceData() map[string][]byte
}

// Device is a peripheral that can be connected to.
type Device interface {
	DeviceInfo

	Connect(ctx context.Context, opts *ConnectOptions) error
	Disconnect() error
	IsConnected() bool
	Update(adv Advertisement)
	GetConnection() Connection
}

// Connection represents a live GATT connection.
type Connection interface {
	Services() []Service
	GetService(uuid string) (Service, error)
	GetCharacteristic(service, uuid string) (Characteristic, error)
	FindByValueHandle(handle uint16) (Characteristic, error)
	Subscribe(opts []*SubscribeOptions, mode StreamMode, maxRate time.Duration, callback func(*Record)) error
	ConnectionContext() context.Context
}

// Service represents a GATT service.
type Service interface {
	UUID() string
	KnownName() string
	Handle() uint16
	EndHandle() uint16
	GetCharacteristics() []Characteristic
}

// Characteristic represents a GATT characteristic with its metadata and a
// read operation. Writes are deliberately not exposed.
type Characteristic interface {
	UUID() string
	ServiceUUID() string
	KnownName() string
	Handle() uint16
	ValueHandle() uint16
	GetProperties() Properties
	GetDescriptors() []Descriptor
	Read(timeout time.Duration) ([]byte, error)
}

// Descriptor represents a GATT descriptor.
type Descriptor interface {
	UUID() string
	KnownName() string
	Handle() uint16
}

// Property represents a single BLE characteristic property.
type Property interface {
	Value() int
	KnownName() string
}

// Properties represent a collection of BLE characteristic properties.
type Properties interface {
	Broadcast() Property
	Read() Property
	Write() Property
	WriteWithoutResponse() Property
	Notify() Property
	Indicate() Property
	AuthenticatedSignedWrites() Property
	ExtendedProperties() Property
	Mask() uint8
}

// SubscribeOptions names the characteristics of one service to subscribe to.
// An empty Characteristics slice means every notifiable characteristic in the
// service.
type SubscribeOptions struct {
	Service         string
	Characteristics []string
}

// ConnectOptions defines BLE connection options.
type ConnectOptions struct {
	ConnectTimeout time.Duration
	AdapterID      int // HCI adapter index; negative means the default adapter
	MTU            int // requested ATT MTU; 0 leaves the stack default
}

// StreamMode defines how subscription data is delivered.
type StreamMode int

const (
	// StreamEveryUpdate delivers each notification as its own record.
	StreamEveryUpdate StreamMode = iota
	// StreamBatched collects notifications and delivers them per rate tick.
	StreamBatched
	// StreamAggregated keeps only the latest value per characteristic per tick.
	StreamAggregated
)

// Record is one subscription delivery.
type Record struct {
	TsUs        int64
	Seq         uint64
	Values      map[string][]byte   // per characteristic UUID (EveryUpdate/Aggregated)
	BatchValues map[string][][]byte // per characteristic UUID (Batched)
	Flags       uint32
}
