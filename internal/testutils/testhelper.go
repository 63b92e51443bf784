package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles a test handle with a logger configured for test runs.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper. Log output is discarded by default;
// raise the level and redirect output locally when debugging a test.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// ThingyAddress is the peripheral address used across tests.
const ThingyAddress = "AA:BB:CC:DD:EE:FF"

// NewThingyPeripheralBuilder returns a builder preloaded with a Thingy:52
// environment service laid out at its real attribute handles.
func NewThingyPeripheralBuilder() *PeripheralBuilder {
	b := NewPeripheralBuilder()
	b.WithService("ef680200-9b35-4933-9b10-52ffa9740042")
	b.profile.Services[0].Handle = 0x001d
	b.WithCharacteristicAt("ef680201-9b35-4933-9b10-52ffa9740042", "notify", nil, 0x001e, 0x001f)
	b.WithCharacteristicAt("ef680202-9b35-4933-9b10-52ffa9740042", "notify", nil, 0x0021, 0x0022)
	b.WithCharacteristicAt("ef680203-9b35-4933-9b10-52ffa9740042", "notify", nil, 0x0024, 0x0025)
	b.WithCharacteristicAt("ef680204-9b35-4933-9b10-52ffa9740042", "notify", nil, 0x0027, 0x0028)
	return b
}
