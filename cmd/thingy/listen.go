package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/evanslai/thingy/inspector"
	"github.com/evanslai/thingy/internal/device"
	"github.com/evanslai/thingy/internal/sensor"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <device-address>",
	Short: "Stream environment sensor readings from a Thingy:52",
	Long: fmt.Sprintf(`Connects to a Thingy:52, subscribes to its environment sensor
notifications, and prints decoded readings to stdout until interrupted.

Sensors:
  temperature  - degrees Celsius (integer and fraction parts)
  pressure     - hectopascal (integer and fraction parts)
  humidity     - relative humidity percent
  gas          - air quality, eCO2 ppm and TVOC ppb

Stream modes:
  live     - Output every notification immediately (default)
  batched  - Collect notifications, output at rate interval
  latest   - Keep only latest value per sensor, output at rate interval

Examples:
  # Stream temperature (the default sensor)
  thingy listen %s

  # Stream all four sensors
  thingy listen %s --sensor all

  # Stream temperature and humidity, raw payloads as hex
  thingy listen %s -s temp,hum --hex

  # Latest value per sensor once a second
  thingy listen %s --mode latest --rate 1s

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

var (
	listenSensors []string
	listenAdapter int
	listenTimeout time.Duration
	listenMTU     int
	listenMode    string
	listenRate    time.Duration
	listenHex     bool
	listenVerbose bool
)

func init() {
	listenCmd.Flags().StringSliceVarP(&listenSensors, "sensor", "s", []string{"temperature"}, "Sensors to stream: temperature, pressure, humidity, gas, or all")
	listenCmd.Flags().IntVarP(&listenAdapter, "adapter", "i", -1, "HCI adapter index (-1 for default)")
	listenCmd.Flags().DurationVar(&listenTimeout, "timeout", 30*time.Second, "Connection timeout")
	listenCmd.Flags().IntVar(&listenMTU, "mtu", 0, "Requested ATT MTU (0 keeps the stack default)")
	listenCmd.Flags().StringVar(&listenMode, "mode", "live", "Stream mode: live, batched, or latest")
	listenCmd.Flags().DurationVar(&listenRate, "rate", 1*time.Second, "Rate limit interval for batched/latest modes")
	listenCmd.Flags().BoolVar(&listenHex, "hex", false, "Output raw payloads as hex instead of decoded readings")
	listenCmd.Flags().BoolVarP(&listenVerbose, "verbose", "v", false, "Verbose output")
}

// parseStreamMode converts a CLI mode string to device.StreamMode.
func parseStreamMode(mode string) (device.StreamMode, error) {
	switch strings.ToLower(mode) {
	case "live", "instant", "every":
		return device.StreamEveryUpdate, nil
	case "batched", "batch":
		return device.StreamBatched, nil
	case "latest", "aggregated":
		return device.StreamAggregated, nil
	default:
		return 0, fmt.Errorf("invalid mode %q: use live, batched, or latest", mode)
	}
}

// parseSensorSelection expands the --sensor flag into a set of sensor kinds.
func parseSensorSelection(names []string) ([]sensor.Kind, error) {
	seen := make(map[sensor.Kind]bool)
	var kinds []sensor.Kind

	add := func(k sensor.Kind) {
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}

	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			for _, k := range sensor.Kinds() {
				add(k)
			}
			continue
		}
		k, err := sensor.Parse(name)
		if err != nil {
			return nil, err
		}
		add(k)
	}

	if len(kinds) == 0 {
		return nil, fmt.Errorf("no sensors selected")
	}
	return kinds, nil
}

// resolveSensorCharacteristics maps each selected sensor to its discovered
// characteristic. Resolution is by the stock Thingy:52 value handle first,
// with the vendor UUID as fallback for devices with a shifted attribute
// table.
func resolveSensorCharacteristics(conn device.Connection, kinds []sensor.Kind) (map[string]sensor.Kind, []*device.SubscribeOptions, error) {
	byUUID := make(map[string]sensor.Kind, len(kinds))
	byService := make(map[string][]string)

	for _, k := range kinds {
		char, err := conn.FindByValueHandle(k.ValueHandle())
		if err != nil {
			char, err = conn.GetCharacteristic(sensor.EnvironmentServiceUUID, k.CharacteristicUUID())
		}
		if err != nil {
			return nil, nil, fmt.Errorf("sensor %s not found on this device: %w", k, err)
		}

		byUUID[char.UUID()] = k
		byService[char.ServiceUUID()] = append(byService[char.ServiceUUID()], char.UUID())
	}

	var opts []*device.SubscribeOptions
	for svcUUID, chars := range byService {
		opts = append(opts, &device.SubscribeOptions{
			Service:         svcUUID,
			Characteristics: chars,
		})
	}
	return byUUID, opts, nil
}

func runListen(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	applyListenConfig(cmd, cfg)

	streamMode, err := parseStreamMode(listenMode)
	if err != nil {
		return err
	}

	kinds, err := parseSensorSelection(listenSensors)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	warnIfUnprivileged()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Listening to %s", address), "Connecting", "Subscribed")
	progress.Start()
	defer progress.Stop()

	opts := &inspector.InspectOptions{
		ConnectTimeout: listenTimeout,
		AdapterID:      listenAdapter,
		MTU:            listenMTU,
	}

	listenOperation := func(dev device.Device) (any, error) {
		conn := dev.GetConnection()
		if conn == nil {
			return nil, fmt.Errorf("device not connected")
		}

		byUUID, subscribeOpts, err := resolveSensorCharacteristics(conn, kinds)
		if err != nil {
			return nil, err
		}

		progress.Stop()

		names := make([]string, 0, len(kinds))
		for _, k := range kinds {
			names = append(names, k.String())
		}
		fmt.Fprintf(os.Stderr, "Subscribed to %s. Press Ctrl+C to stop...\n", strings.Join(names, ", "))

		rate := listenRate
		if streamMode == device.StreamEveryUpdate {
			rate = 0 // No rate limiting for live mode
		}

		err = conn.Subscribe(
			subscribeOpts,
			streamMode,
			rate,
			func(record *device.Record) {
				outputListenRecord(record, byUUID)
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}

		connCtx := conn.ConnectionContext()
		select {
		case <-ctx.Done():
			// User cancelled
			return nil, nil
		case <-connCtx.Done():
			return nil, ErrConnectionLost
		}
	}

	_, err = inspector.InspectDevice(ctx, address, opts, logger, progress.Callback(), listenOperation)
	return err
}

var sensorLabelColors = map[sensor.Kind]*color.Color{
	sensor.Temperature: color.New(color.FgRed),
	sensor.Pressure:    color.New(color.FgBlue),
	sensor.Humidity:    color.New(color.FgCyan),
	sensor.Gas:         color.New(color.FgGreen),
}

// printReading outputs one notification payload, decoded or as hex.
// Malformed and unrecognized payloads are hex-dumped with a marker instead of
// terminating the stream.
func printReading(charUUID string, data []byte, byUUID map[string]sensor.Kind) {
	kind, known := byUUID[charUUID]
	if !known {
		fmt.Printf("%s: %s\n", device.ShortenUUID(charUUID), hex.EncodeToString(data))
		return
	}

	label := sensorLabelColors[kind].Sprintf("%-11s", kind.String())

	if listenHex {
		fmt.Printf("%s %s\n", label, hex.EncodeToString(data))
		return
	}

	reading, err := sensor.Decode(kind, data)
	if err != nil {
		fmt.Printf("%s <malformed payload %s: %v>\n", label, hex.EncodeToString(data), err)
		return
	}
	fmt.Printf("%s %s\n", label, reading)
}

// outputListenRecord formats and outputs a subscription record.
// Keys are sorted for deterministic output order.
func outputListenRecord(record *device.Record, byUUID map[string]sensor.Kind) {
	if record.BatchValues != nil {
		charUUIDs := make([]string, 0, len(record.BatchValues))
		for k := range record.BatchValues {
			charUUIDs = append(charUUIDs, k)
		}
		sort.Strings(charUUIDs)

		for _, charUUID := range charUUIDs {
			for _, data := range record.BatchValues[charUUID] {
				printReading(charUUID, data, byUUID)
			}
		}
		return
	}

	charUUIDs := make([]string, 0, len(record.Values))
	for k := range record.Values {
		charUUIDs = append(charUUIDs, k)
	}
	sort.Strings(charUUIDs)

	for _, charUUID := range charUUIDs {
		printReading(charUUID, record.Values[charUUID], byUUID)
	}
}
