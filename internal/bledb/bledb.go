// Package bledb provides UUID normalization and a curated name table for the
// services, characteristics, and descriptors this tool encounters: the
// standard GATT set plus the Nordic Thingy:52 vendor UUIDs.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb in normalized (dashless) form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes). A 0x prefix is stripped. Full 128-bit UUIDs on the
// SIG base are collapsed to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// Known-name tables, keyed by normalized UUID.
var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180f":                             "Battery Service",
	"ef6801009b3549339b1052ffa9740042": "Thingy Configuration Service",
	"ef6802009b3549339b1052ffa9740042": "Thingy Environment Service",
	"ef6803009b3549339b1052ffa9740042": "Thingy UI Service",
	"ef6804009b3549339b1052ffa9740042": "Thingy Motion Service",
	"ef6805009b3549339b1052ffa9740042": "Thingy Sound Service",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a05":                             "Service Changed",
	"2a19":                             "Battery Level",
	"2a29":                             "Manufacturer Name String",
	"ef6802019b3549339b1052ffa9740042": "Thingy Temperature",
	"ef6802029b3549339b1052ffa9740042": "Thingy Pressure",
	"ef6802039b3549339b1052ffa9740042": "Thingy Humidity",
	"ef6802049b3549339b1052ffa9740042": "Thingy Air Quality",
	"ef6802059b3549339b1052ffa9740042": "Thingy Color",
	"ef6802069b3549339b1052ffa9740042": "Thingy Environment Configuration",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// LookupService returns the known name for a service UUID, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name for a characteristic UUID,
// or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the known name for a descriptor UUID, or "" if unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}
