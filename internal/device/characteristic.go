package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"

	"github.com/evanslai/thingy/internal/bledb"
)

// Record flags.
const (
	// FlagDropped marks a record whose characteristic overflowed its buffer.
	FlagDropped uint32 = 1 << iota
	// FlagMissing marks an aggregated record where a characteristic had no value.
	FlagMissing
)

const (
	// DefaultValueCapacity is the default buffer capacity for pooled values.
	DefaultValueCapacity = 64

	// MaxPooledBufferSize is the largest buffer kept in the pool. Larger
	// buffers are replaced to keep the pool from hoarding memory.
	MaxPooledBufferSize = 512

	// DefaultReadTimeout bounds characteristic reads so an unresponsive
	// peripheral cannot block forever.
	DefaultReadTimeout = 5 * time.Second
)

// Value is one received notification.
//
// Values are pooled and reused. The Data slice is only valid until the value
// is released back to the pool; consumers that retain data must copy it.
type Value struct {
	TsUs  int64
	Data  []byte
	Seq   uint64
	Flags uint32
}

var valuePool = sync.Pool{
	New: func() interface{} { return &Value{Data: make([]byte, 0, DefaultValueCapacity)} },
}

var valueSeq uint64

func newValue(data []byte) *Value {
	v := valuePool.Get().(*Value)
	v.TsUs = time.Now().UnixMicro()
	v.Seq = atomic.AddUint64(&valueSeq, 1)
	v.Flags = 0
	if cap(v.Data) < len(data) {
		v.Data = make([]byte, len(data))
	}
	v.Data = v.Data[:len(data)]
	copy(v.Data, data)
	return v
}

func releaseValue(v *Value) {
	v.TsUs = 0
	v.Seq = 0
	v.Flags = 0

	if cap(v.Data) > MaxPooledBufferSize {
		v.Data = make([]byte, 0, DefaultValueCapacity)
	} else {
		v.Data = v.Data[:0]
	}

	valuePool.Put(v)
}

// drainAndReleaseChannel returns all pending values on a channel to the pool.
func drainAndReleaseChannel(ch chan *Value) {
	for {
		select {
		case v := <-ch:
			if v == nil {
				return
			}
			releaseValue(v)
		default:
			return
		}
	}
}

// BLECharacteristic is a discovered characteristic with a buffered stream of
// incoming notification values.
type BLECharacteristic struct {
	uuid        string
	serviceUUID string
	knownName   string
	properties  Properties
	descriptors []Descriptor
	handle      uint16
	valueHandle uint16

	BLEChar    *ble.Characteristic
	connection *BLEConnection

	updates chan *Value
	closed  atomic.Bool
	mu      sync.RWMutex
}

// NewCharacteristic wraps a discovered ble.Characteristic.
func NewCharacteristic(c *ble.Characteristic, serviceUUID string, buffer int, conn *BLEConnection) *BLECharacteristic {
	rawUUID := c.UUID.String()

	descriptors := make([]Descriptor, 0, len(c.Descriptors))
	for _, d := range c.Descriptors {
		descriptors = append(descriptors, newDescriptor(d))
	}

	return &BLECharacteristic{
		uuid:        bledb.NormalizeUUID(rawUUID),
		serviceUUID: serviceUUID,
		knownName:   bledb.LookupCharacteristic(rawUUID),
		properties:  NewProperties(c.Property),
		descriptors: descriptors,
		handle:      c.Handle,
		valueHandle: c.ValueHandle,
		BLEChar:     c,
		connection:  conn,
		updates:     make(chan *Value, buffer),
	}
}

func (c *BLECharacteristic) UUID() string        { return c.uuid }
func (c *BLECharacteristic) ServiceUUID() string { return c.serviceUUID }
func (c *BLECharacteristic) KnownName() string   { return c.knownName }
func (c *BLECharacteristic) Handle() uint16      { return c.handle }

// ValueHandle returns the handle of the characteristic's value attribute,
// the handle that notifications are addressed by.
func (c *BLECharacteristic) ValueHandle() uint16 { return c.valueHandle }

func (c *BLECharacteristic) GetProperties() Properties    { return c.properties }
func (c *BLECharacteristic) GetDescriptors() []Descriptor { return c.descriptors }

// EnqueueValue adds a notification value to the stream, dropping the oldest
// pending value when the buffer is full.
func (c *BLECharacteristic) EnqueueValue(v *Value) {
	if c.closed.Load() {
		releaseValue(v)
		return
	}

	select {
	case c.updates <- v:
	default:
		old := <-c.updates
		old.Flags |= FlagDropped
		releaseValue(old)
		if !c.closed.Load() {
			c.updates <- v
		} else {
			releaseValue(v)
		}
	}
}

// Read reads the characteristic value from the device, bounded by timeout.
// A zero timeout uses DefaultReadTimeout.
func (c *BLECharacteristic) Read(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	if c.connection == nil || c.BLEChar == nil {
		return nil, fmt.Errorf("characteristic %s not initialized", c.uuid)
	}

	c.connection.connMutex.RLock()
	client := c.connection.client
	c.connection.connMutex.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("read %s: %w", c.uuid, ErrNotConnected)
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := client.ReadCharacteristic(c.BLEChar)
		resultCh <- readResult{data: data, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", c.uuid, result.err)
		}
		return result.data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout reading characteristic %s after %v", c.uuid, timeout)
	}
}

// CloseUpdates closes the update stream. Safe to call more than once.
func (c *BLECharacteristic) CloseUpdates() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.updates)
	}
}

// ResetUpdates recreates the update stream after a reconnect. The stream must
// have been closed first.
func (c *BLECharacteristic) ResetUpdates(buffer int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.Load() {
		return fmt.Errorf("cannot reset updates channel: channel is still open")
	}

	c.updates = make(chan *Value, buffer)
	c.closed.Store(false)
	return nil
}
