package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evanslai/thingy/internal/groutine"
)

func newRecord(mode StreamMode) *Record {
	r := &Record{
		TsUs: time.Now().UnixMicro(),
	}
	if mode == StreamBatched {
		r.BatchValues = make(map[string][][]byte)
	} else {
		r.Values = make(map[string][]byte)
	}
	return r
}

// Subscription is one active notification stream over a set of characteristics.
type Subscription struct {
	Chars    []*BLECharacteristic
	Mode     StreamMode
	MaxRate  time.Duration
	Callback func(*Record)

	ctx    context.Context
	cancel context.CancelFunc
}

// SubscriptionManager tracks the lifecycle of subscription goroutines.
type SubscriptionManager struct {
	subscriptions []*Subscription
	wg            sync.WaitGroup
	mu            sync.Mutex
	logger        *logrus.Logger
}

// NewSubscriptionManager creates a new subscription manager.
func NewSubscriptionManager(logger *logrus.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		subscriptions: make([]*Subscription, 0),
		logger:        logger,
	}
}

// Add registers a subscription and starts its goroutine.
func (m *SubscriptionManager) Add(sub *Subscription, runner func(*Subscription)) {
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.mu.Unlock()

	m.wg.Add(1)
	groutine.Go(sub.ctx, "subscription-stream", func(context.Context) {
		runner(sub)
	})
}

// CancelAll cancels all active subscriptions and clears the list.
func (m *SubscriptionManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	m.subscriptions = nil
}

// Wait blocks until all subscription goroutines have exited.
func (m *SubscriptionManager) Wait() {
	if m.logger != nil {
		m.logger.Debug("Waiting for subscription goroutines to complete...")
	}
	m.wg.Wait()
	if m.logger != nil {
		m.logger.Debug("All subscription goroutines completed")
	}
}

// Done decrements the wait group counter (called by subscription goroutines).
func (m *SubscriptionManager) Done() {
	m.wg.Done()
}

// Subscribe arms notifications for characteristics across one or more services
// and streams them to the callback according to mode.
//
// The Record handed to the callback is only valid during the call; its byte
// slices are returned to a pool afterwards, so consumers that retain data must
// copy it.
func (c *BLEConnection) Subscribe(opts []*SubscribeOptions, mode StreamMode, maxRate time.Duration, callback func(*Record)) error {
	if callback == nil {
		return fmt.Errorf("no callback specified in subscription")
	}

	if len(opts) == 0 {
		return fmt.Errorf("no services specified in subscription")
	}

	c.logger.WithFields(logrus.Fields{
		"services": len(opts),
		"mode":     mode,
	}).Debug("Subscribe called")

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.isConnectedInternal() {
		return fmt.Errorf("subscribe: %w", ErrNotConnected)
	}

	allCharacteristics := make(map[string]*BLECharacteristic)
	for _, opt := range opts {
		characteristicsToSubscribe, err := c.validateSubscribeOptions(opt, true)
		if err != nil {
			return fmt.Errorf("subscription %w", err)
		}
		for charUUID, bleChar := range characteristicsToSubscribe {
			allCharacteristics[charUUID] = bleChar
		}
	}

	if len(allCharacteristics) == 0 {
		return fmt.Errorf("no characteristics available for subscription across all specified services")
	}

	if err := c.registerNotifications(c.client, allCharacteristics); err != nil {
		return err
	}

	chars := make([]*BLECharacteristic, 0, len(allCharacteristics))
	for _, char := range allCharacteristics {
		chars = append(chars, char)
	}

	sub := &Subscription{
		Chars:    chars,
		Mode:     mode,
		MaxRate:  maxRate,
		Callback: callback,
	}
	sub.ctx, sub.cancel = context.WithCancel(c.ctx)

	c.subMgr.Add(sub, c.runSubscription)

	return nil
}

func (c *BLEConnection) runSubscription(sub *Subscription) {
	defer c.subMgr.Done()

	// A panicking callback must not take down the whole process.
	defer func() {
		if r := recover(); r != nil {
			if c.logger != nil {
				c.logger.WithField("panic", r).Error("Subscription callback panicked")
			}
		}
	}()

	if c.logger != nil {
		c.logger.Debug("Subscription goroutine started")
		defer c.logger.Debug("Subscription goroutine exiting")
	}

	var ticker *time.Ticker
	if sub.Mode == StreamBatched || sub.Mode == StreamAggregated {
		if sub.MaxRate <= 0 {
			sub.MaxRate = DefaultBatchedInterval
		}
		ticker = time.NewTicker(sub.MaxRate)
	} else {
		ticker = time.NewTicker(DefaultUpdateInterval)
	}
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
			switch sub.Mode {
			case StreamBatched:
				record := newRecord(StreamBatched)
				var taken []*Value
				for _, char := range sub.Chars {
					// Drain everything pending for this characteristic.
					for draining := true; draining; {
						select {
						case val := <-char.updates:
							record.BatchValues[char.UUID()] = append(record.BatchValues[char.UUID()], val.Data)
							if val.Flags != 0 {
								record.Flags |= val.Flags
							}
							record.TsUs = val.TsUs
							taken = append(taken, val)
						default:
							draining = false
						}
					}
				}
				if len(record.BatchValues) > 0 {
					sub.Callback(record)
				}
				for _, val := range taken {
					releaseValue(val)
				}

			case StreamAggregated:
				record := newRecord(StreamAggregated)
				var taken []*Value
				for _, char := range sub.Chars {
					select {
					case val := <-char.updates:
						record.Values[char.UUID()] = val.Data
						if val.Flags != 0 {
							record.Flags |= val.Flags
						}
						record.TsUs = val.TsUs
						taken = append(taken, val)
					default:
						record.Flags |= FlagMissing
					}
				}
				if len(record.Values) > 0 {
					sub.Callback(record)
				}
				for _, val := range taken {
					releaseValue(val)
				}

			case StreamEveryUpdate:
				for _, char := range sub.Chars {
					select {
					case <-sub.ctx.Done():
						return
					case val := <-char.updates:
						record := newRecord(StreamEveryUpdate)
						record.Values[char.UUID()] = val.Data
						record.TsUs = val.TsUs
						if val.Flags != 0 {
							record.Flags |= val.Flags
						}
						sub.Callback(record)
						releaseValue(val)
					default:
					}
				}
			}
		}
	}
}
