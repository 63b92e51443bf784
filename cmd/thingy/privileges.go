package main

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = "Device address format: 48-bit MAC address, e.g. AA:BB:CC:DD:EE:FF\n  Use 'thingy scan' to discover devices"
)

// warnIfUnprivileged prints a hint when the process likely lacks the rights
// to open a raw HCI socket. Root, or CAP_NET_RAW plus CAP_NET_ADMIN, is
// required on Linux.
func warnIfUnprivileged() {
	if runtime.GOOS != "linux" {
		return
	}
	if unix.Geteuid() == 0 {
		return
	}

	var hdr unix.CapUserHeader
	hdr.Version = unix.LINUX_CAPABILITY_VERSION_3
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err == nil {
		required := uint32(1<<unix.CAP_NET_RAW | 1<<unix.CAP_NET_ADMIN)
		if data[0].Effective&required == required {
			return
		}
	}

	fmt.Fprintln(os.Stderr, "WARNING: raw HCI access usually requires root or CAP_NET_RAW+CAP_NET_ADMIN; if the scan or connection fails, retry with sudo")
}
