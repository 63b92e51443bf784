package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/spf13/cobra"

	"github.com/evanslai/thingy/internal/device"
	"github.com/evanslai/thingy/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby BLE devices",
	Long: `Scans for BLE advertisements and lists discovered devices.

Examples:
  # Scan for 10 seconds (default)
  thingy scan

  # Scan for 30 seconds, JSON output
  thingy scan -d 30s -f json

  # Only devices advertising the Thingy environment service
  thingy scan -s ef680200-9b35-4933-9b10-52ffa9740042

  # Live-updating view until interrupted
  thingy scan --watch`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration     time.Duration
	scanFormat       string
	scanServices     []string
	scanAllowList    []string
	scanBlockList    []string
	scanNoDuplicates bool
	scanWatch        bool
	scanAdapter      int
	scanVerbose      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for unlimited)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format: table or json")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only show devices advertising these service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicates, "no-duplicates", false, "Report each device once instead of on every advertisement")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously update the device list until interrupted")
	scanCmd.Flags().IntVarP(&scanAdapter, "adapter", "i", -1, "HCI adapter index (-1 for default)")
	scanCmd.Flags().BoolVarP(&scanVerbose, "verbose", "v", false, "Verbose output")
}

func buildScanOptions() (*scanner.ScanOptions, error) {
	opts := scanner.DefaultScanOptions()
	opts.Duration = scanDuration
	opts.DuplicateFilter = !scanNoDuplicates
	opts.AdapterID = scanAdapter
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList

	for _, s := range scanServices {
		uuid, err := blelib.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, uuid)
	}
	return opts, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	applyScanConfig(cmd, cfg)

	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: use table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	opts, err := buildScanOptions()
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

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return err
	}

	if scanWatch {
		return runWatchMode(ctx, s, opts)
	}
	return runSingleScan(ctx, s, opts)
}

func runSingleScan(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions) error {
	var progress *ProgressPrinter
	if opts.Duration > 0 {
		progress = NewCountdownProgressPrinter("Scanning for devices", "Scanning", opts.Duration, "Processing results")
	} else {
		progress = NewProgressPrinter("Scanning for devices", "Scanning", "Processing results")
	}
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil {
		return err
	}
	progress.Stop()

	if scanFormat == "json" {
		return outputScanJSON(os.Stdout, devices)
	}
	outputScanTable(os.Stdout, devices, nil)
	return nil
}

// runWatchMode redraws the device table as advertisements arrive, until the
// context is cancelled.
func runWatchMode(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions) error {
	// Watch runs until interrupted; duplicates drive the last-seen column.
	opts.Duration = 0
	opts.DuplicateFilter = false

	scanErr := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil)
		scanErr <- err
	}()

	devices := make(map[string]device.DeviceInfo)
	lastSeen := make(map[string]time.Time)
	dirty := true

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case ev := <-s.Events():
			devices[ev.DeviceInfo.Address()] = ev.DeviceInfo
			lastSeen[ev.DeviceInfo.Address()] = ev.Timestamp
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			fmt.Print("\033[2J\033[H")
			fmt.Printf("Scanning... %d device(s), Ctrl+C to stop\n\n", len(devices))
			outputScanTable(os.Stdout, devices, lastSeen)
		}
	}
}

// sortedAddresses orders devices by RSSI descending, strongest signal first.
func sortedAddresses(devices map[string]device.DeviceInfo) []string {
	addrs := make([]string, 0, len(devices))
	for addr := range devices {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		ri, rj := devices[addrs[i]].RSSI(), devices[addrs[j]].RSSI()
		if ri != rj {
			return ri > rj
		}
		return addrs[i] < addrs[j]
	})
	return addrs
}

func outputScanTable(w *os.File, devices map[string]device.DeviceInfo, lastSeen map[string]time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if lastSeen != nil {
		fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	} else {
		fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	}

	for _, addr := range sortedAddresses(devices) {
		dev := devices[addr]

		name := dev.Name()
		if name == "" {
			name = "(unknown)"
		}

		services := make([]string, 0, len(dev.AdvertisedServices()))
		for _, svc := range dev.AdvertisedServices() {
			services = append(services, device.ShortenUUID(svc))
		}

		if lastSeen != nil {
			age := time.Since(lastSeen[addr]).Round(time.Second)
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s ago\n", name, dev.Address(), dev.RSSI(), strings.Join(services, ","), age)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", name, dev.Address(), dev.RSSI(), strings.Join(services, ","))
		}
	}
	tw.Flush()
}

type scanResult struct {
	Name             string   `json:"name,omitempty"`
	Address          string   `json:"address"`
	RSSI             int      `json:"rssi"`
	TxPower          *int     `json:"tx_power,omitempty"`
	Connectable      bool     `json:"connectable"`
	Services         []string `json:"services,omitempty"`
	ManufacturerData string   `json:"manufacturer_data,omitempty"`
}

func outputScanJSON(w *os.File, devices map[string]device.DeviceInfo) error {
	results := make([]scanResult, 0, len(devices))
	for _, addr := range sortedAddresses(devices) {
		dev := devices[addr]
		results = append(results, scanResult{
			Name:             dev.Name(),
			Address:          dev.Address(),
			RSSI:             dev.RSSI(),
			TxPower:          dev.TxPower(),
			Connectable:      dev.IsConnectable(),
			Services:         dev.AdvertisedServices(),
			ManufacturerData: hex.EncodeToString(dev.ManufacturerData()),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
