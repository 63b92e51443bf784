package device

import "sort"

// BLEService represents a discovered GATT service and its characteristics.
type BLEService struct {
	uuid            string
	knownName       string
	handle          uint16
	endHandle       uint16
	Characteristics map[string]*BLECharacteristic
}

func (s *BLEService) UUID() string      { return s.uuid }
func (s *BLEService) KnownName() string { return s.knownName }
func (s *BLEService) Handle() uint16    { return s.handle }
func (s *BLEService) EndHandle() uint16 { return s.endHandle }

// GetCharacteristics returns the service's characteristics ordered by their
// declaration handle, matching the attribute table layout.
func (s *BLEService) GetCharacteristics() []Characteristic {
	result := make([]Characteristic, 0, len(s.Characteristics))
	for _, char := range s.Characteristics {
		result = append(result, char)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Handle() < result[j].Handle()
	})
	return result
}
