package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknownHandle is returned by DecodeHandle for value handles that do not
// belong to any environment sensor characteristic.
var ErrUnknownHandle = errors.New("unknown value handle")

// ShortPayloadError reports a notification payload too small for its sensor's
// wire format.
type ShortPayloadError struct {
	Kind Kind
	Need int
	Got  int
}

func (e *ShortPayloadError) Error() string {
	return fmt.Sprintf("%s payload too short: need %d bytes, got %d", e.Kind, e.Need, e.Got)
}

// Reading is a decoded sensor notification value.
type Reading interface {
	Kind() Kind
	String() string
}

// TemperatureReading is degrees Celsius as an integer part and a decimal part,
// as sent by the firmware (one byte each).
type TemperatureReading struct {
	Integer  int8
	Fraction uint8
}

func (TemperatureReading) Kind() Kind { return Temperature }

func (r TemperatureReading) String() string {
	return fmt.Sprintf("%d.%d °C", r.Integer, r.Fraction)
}

// PressureReading is hectopascals as a 32-bit integer part and a one-byte
// decimal part.
type PressureReading struct {
	Integer  int32
	Fraction uint8
}

func (PressureReading) Kind() Kind { return Pressure }

func (r PressureReading) String() string {
	return fmt.Sprintf("%d.%d hPa", r.Integer, r.Fraction)
}

// HumidityReading is relative humidity in percent.
type HumidityReading struct {
	Percent uint8
}

func (HumidityReading) Kind() Kind { return Humidity }

func (r HumidityReading) String() string {
	return fmt.Sprintf("%d %%", r.Percent)
}

// GasReading is the air-quality pair: equivalent CO2 in ppm and total
// volatile organic compounds in ppb.
type GasReading struct {
	ECO2 uint16
	TVOC uint16
}

func (GasReading) Kind() Kind { return Gas }

func (r GasReading) String() string {
	return fmt.Sprintf("eCO2 %d ppm, TVOC %d ppb", r.ECO2, r.TVOC)
}

// Decode parses a notification payload according to the sensor's wire format.
//
// Wire formats (all multi-byte fields little-endian):
//
//	temperature: [int8 integer][uint8 fraction]
//	pressure:    [int32 integer][uint8 fraction]
//	humidity:    [uint8 percent]
//	gas:         [uint16 eCO2 ppm][uint16 TVOC ppb]
func Decode(k Kind, payload []byte) (Reading, error) {
	switch k {
	case Temperature:
		if len(payload) < 2 {
			return nil, &ShortPayloadError{Kind: k, Need: 2, Got: len(payload)}
		}
		return TemperatureReading{Integer: int8(payload[0]), Fraction: payload[1]}, nil
	case Pressure:
		if len(payload) < 5 {
			return nil, &ShortPayloadError{Kind: k, Need: 5, Got: len(payload)}
		}
		return PressureReading{
			Integer:  int32(binary.LittleEndian.Uint32(payload[0:4])),
			Fraction: payload[4],
		}, nil
	case Humidity:
		if len(payload) < 1 {
			return nil, &ShortPayloadError{Kind: k, Need: 1, Got: len(payload)}
		}
		return HumidityReading{Percent: payload[0]}, nil
	case Gas:
		if len(payload) < 4 {
			return nil, &ShortPayloadError{Kind: k, Need: 4, Got: len(payload)}
		}
		return GasReading{
			ECO2: binary.LittleEndian.Uint16(payload[0:2]),
			TVOC: binary.LittleEndian.Uint16(payload[2:4]),
		}, nil
	default:
		return nil, fmt.Errorf("no decoder for %s", k)
	}
}

// DecodeHandle decodes a notification payload by its characteristic value
// handle. Returns ErrUnknownHandle for handles outside the sensor table;
// callers typically hex-dump those.
func DecodeHandle(handle uint16, payload []byte) (Reading, error) {
	k, ok := KindByHandle(handle)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownHandle, handle)
	}
	return Decode(k, payload)
}
