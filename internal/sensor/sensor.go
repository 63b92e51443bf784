// Package sensor models the four Thingy:52 environment sensors this tool can
// subscribe to: their names, their fixed GATT value handles, their vendor
// UUIDs, and the decoding of their notification payloads.
package sensor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evanslai/thingy/internal/bledb"
)

// Kind identifies one of the Thingy environment sensors.
type Kind int

const (
	Temperature Kind = iota
	Pressure
	Humidity
	Gas
)

// EnvironmentServiceUUID is the Thingy:52 environment service, normalized.
const EnvironmentServiceUUID = "ef6802009b3549339b1052ffa9740042"

// Value handles of the sensor characteristics in the stock Thingy:52
// attribute table. The firmware has shipped with this layout since 1.0;
// resolution falls back to UUIDs if a device disagrees.
const (
	TemperatureValueHandle uint16 = 0x001f
	PressureValueHandle    uint16 = 0x0022
	HumidityValueHandle    uint16 = 0x0025
	GasValueHandle         uint16 = 0x0028
)

var kindNames = map[Kind]string{
	Temperature: "temperature",
	Pressure:    "pressure",
	Humidity:    "humidity",
	Gas:         "gas",
}

var kindHandles = map[Kind]uint16{
	Temperature: TemperatureValueHandle,
	Pressure:    PressureValueHandle,
	Humidity:    HumidityValueHandle,
	Gas:         GasValueHandle,
}

var kindUUIDs = map[Kind]string{
	Temperature: "ef6802019b3549339b1052ffa9740042",
	Pressure:    "ef6802029b3549339b1052ffa9740042",
	Humidity:    "ef6802039b3549339b1052ffa9740042",
	Gas:         "ef6802049b3549339b1052ffa9740042",
}

// Kinds returns all sensor kinds in a stable order.
func Kinds() []Kind {
	return []Kind{Temperature, Pressure, Humidity, Gas}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("sensor(%d)", int(k))
}

// ValueHandle returns the sensor's fixed characteristic value handle.
func (k Kind) ValueHandle() uint16 {
	return kindHandles[k]
}

// CharacteristicUUID returns the sensor's vendor characteristic UUID in
// normalized (lowercase, dashless) form.
func (k Kind) CharacteristicUUID() string {
	return kindUUIDs[k]
}

// Parse converts a sensor name into a Kind. Accepted names are temperature,
// pressure, humidity, and gas, plus the short aliases temp and hum.
func Parse(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temperature", "temp":
		return Temperature, nil
	case "pressure":
		return Pressure, nil
	case "humidity", "hum":
		return Humidity, nil
	case "gas":
		return Gas, nil
	default:
		names := make([]string, 0, len(kindNames))
		for _, k := range Kinds() {
			names = append(names, k.String())
		}
		sort.Strings(names)
		return 0, fmt.Errorf("invalid sensor type %q: use one of %s", s, strings.Join(names, ", "))
	}
}

// KindByHandle resolves a characteristic value handle to a sensor kind.
func KindByHandle(handle uint16) (Kind, bool) {
	for k, h := range kindHandles {
		if h == handle {
			return k, true
		}
	}
	return 0, false
}

// KindByUUID resolves a characteristic UUID (any accepted form) to a sensor kind.
func KindByUUID(uuid string) (Kind, bool) {
	normalized := bledb.NormalizeUUID(uuid)
	for k, u := range kindUUIDs {
		if u == normalized {
			return k, true
		}
	}
	return 0, false
}
