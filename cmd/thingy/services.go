package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/evanslai/thingy/inspector"
	"github.com/evanslai/thingy/internal/device"
)

// servicesCmd represents the services command
var servicesCmd = &cobra.Command{
	Use:   "services <device-address>",
	Short: "Discover services, characteristics, and descriptors of a device",
	Long: fmt.Sprintf(`Connects to a BLE device by address, discovers its full GATT database,
and prints it as a tree ordered by attribute handle. Readable characteristic
values are read and shown inline.

Examples:
  # Show the GATT tree
  thingy services %s

  # Machine-readable output
  thingy services %s --json

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runServices,
}

var (
	servicesTimeout   time.Duration
	servicesAdapter   int
	servicesJSON      bool
	servicesReadLimit int
	servicesVerbose   bool
)

func init() {
	servicesCmd.Flags().DurationVar(&servicesTimeout, "timeout", 30*time.Second, "Connection timeout")
	servicesCmd.Flags().IntVarP(&servicesAdapter, "adapter", "i", -1, "HCI adapter index (-1 for default)")
	servicesCmd.Flags().BoolVar(&servicesJSON, "json", false, "Output as JSON")
	servicesCmd.Flags().IntVar(&servicesReadLimit, "read-limit", 64, "Max bytes to read from readable characteristics (0 to disable reads)")
	servicesCmd.Flags().BoolVarP(&servicesVerbose, "verbose", "v", false, "Verbose output")
}

const characteristicReadTimeout = 2 * time.Second

func runServices(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	applyServicesConfig(cmd, cfg)

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	warnIfUnprivileged()

	opts := &inspector.InspectOptions{
		ConnectTimeout: servicesTimeout,
		AdapterID:      servicesAdapter,
	}

	progress := NewProgressPrinter(fmt.Sprintf("Inspecting device %s", address), "Connecting", "Processing results")
	progress.Start()
	defer progress.Stop()

	processDevice := func(dev device.Device) (any, error) {
		conn := dev.GetConnection()
		if conn == nil {
			return nil, fmt.Errorf("device not connected")
		}

		progress.Stop()

		if servicesJSON {
			return nil, outputServicesJSON(os.Stdout, dev, conn)
		}
		return nil, outputServicesTree(os.Stdout, dev, conn)
	}

	_, err = inspector.InspectDevice(context.Background(), address, opts, logger, progress.Callback(), processDevice)
	return err
}

// propertyNames renders the set properties of a characteristic, ordered as
// they appear in the Characteristic Properties bit field.
func propertyNames(props device.Properties) []string {
	var names []string
	for _, p := range []device.Property{
		props.Broadcast(),
		props.Read(),
		props.WriteWithoutResponse(),
		props.Write(),
		props.Notify(),
		props.Indicate(),
		props.AuthenticatedSignedWrites(),
		props.ExtendedProperties(),
	} {
		if p != nil {
			names = append(names, p.KnownName())
		}
	}
	return names
}

// readValuePreview reads a readable characteristic value, truncated to the
// --read-limit. Read failures are reported inline rather than aborting the
// whole tree.
func readValuePreview(char device.Characteristic) (string, bool) {
	if servicesReadLimit <= 0 {
		return "", false
	}
	if char.GetProperties().Read() == nil {
		return "", false
	}

	value, err := char.Read(characteristicReadTimeout)
	if err != nil {
		return fmt.Sprintf("<read failed: %v>", err), true
	}
	if len(value) > servicesReadLimit {
		value = value[:servicesReadLimit]
	}
	if isPrintableASCII(value) {
		return fmt.Sprintf("%q", value), true
	}
	return hex.EncodeToString(value), true
}

func isPrintableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func outputServicesTree(w *os.File, dev device.DeviceInfo, conn device.Connection) error {
	serviceColor := color.New(color.FgYellow, color.Bold)
	charColor := color.New(color.FgCyan)
	descColor := color.New(color.FgWhite, color.Faint)

	name := dev.Name()
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(w, "Device %s (%s)\n", name, dev.Address())

	for _, svc := range conn.Services() {
		label := svc.UUID()
		if known := svc.KnownName(); known != "" {
			label = fmt.Sprintf("%s (%s)", known, svc.UUID())
		}
		fmt.Fprintf(w, "%s [0x%04x-0x%04x]\n", serviceColor.Sprint(label), svc.Handle(), svc.EndHandle())

		for _, char := range svc.GetCharacteristics() {
			charLabel := char.UUID()
			if known := char.KnownName(); known != "" {
				charLabel = fmt.Sprintf("%s (%s)", known, char.UUID())
			}
			fmt.Fprintf(w, "  %s [handle 0x%04x, value 0x%04x] %s\n",
				charColor.Sprint(charLabel),
				char.Handle(),
				char.ValueHandle(),
				strings.Join(propertyNames(char.GetProperties()), "|"),
			)

			if preview, ok := readValuePreview(char); ok {
				fmt.Fprintf(w, "    value: %s\n", preview)
			}

			for _, desc := range char.GetDescriptors() {
				descLabel := desc.UUID()
				if known := desc.KnownName(); known != "" {
					descLabel = fmt.Sprintf("%s (%s)", known, desc.UUID())
				}
				fmt.Fprintf(w, "    %s [0x%04x]\n", descColor.Sprint(descLabel), desc.Handle())
			}
		}
	}
	return nil
}

// outputServicesJSON emits the GATT database as JSON preserving discovery
// order, keyed by normalized UUID at each level.
func outputServicesJSON(w *os.File, dev device.DeviceInfo, conn device.Connection) error {
	root := orderedmap.New[string, any]()
	root.Set("name", dev.Name())
	root.Set("address", dev.Address())

	services := orderedmap.New[string, any]()
	for _, svc := range conn.Services() {
		svcEntry := orderedmap.New[string, any]()
		svcEntry.Set("known_name", svc.KnownName())
		svcEntry.Set("handle", svc.Handle())
		svcEntry.Set("end_handle", svc.EndHandle())

		chars := orderedmap.New[string, any]()
		for _, char := range svc.GetCharacteristics() {
			charEntry := orderedmap.New[string, any]()
			charEntry.Set("known_name", char.KnownName())
			charEntry.Set("handle", char.Handle())
			charEntry.Set("value_handle", char.ValueHandle())
			charEntry.Set("properties", propertyNames(char.GetProperties()))

			if preview, ok := readValuePreview(char); ok {
				charEntry.Set("value", preview)
			}

			descs := orderedmap.New[string, any]()
			for _, desc := range char.GetDescriptors() {
				descEntry := orderedmap.New[string, any]()
				descEntry.Set("known_name", desc.KnownName())
				descEntry.Set("handle", desc.Handle())
				descs.Set(desc.UUID(), descEntry)
			}
			if descs.Len() > 0 {
				charEntry.Set("descriptors", descs)
			}

			chars.Set(char.UUID(), charEntry)
		}
		svcEntry.Set("characteristics", chars)
		services.Set(svc.UUID(), svcEntry)
	}
	root.Set("services", services)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(root)
}
