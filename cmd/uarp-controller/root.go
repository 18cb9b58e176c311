package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/version"
)

var (
	// TCP connection flags
	address   string
	serialNum string
	tlsCert   string
	tlsKey    string
	tlsCA     string
	tlsPin    string
	insecure  bool

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL string

	timeout     time.Duration
	protocolLog string
	stateFile   string
	verbose     bool

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
)

var rootCmd = &cobra.Command{
	Use:   "uarp-controller",
	Short: "UARP firmware update controller",
	Long: `uarp-controller - builds SuperBinaries and updates UARP accessories.

Offline commands (compose, inspect, log) work on files. Online commands
(info, offer, apply, rescind) connect to one accessory.

Connection modes:
  TCP:       --addr host:port [--tls-cert c --tls-key k --tls-ca ca | --tls-fingerprint fp]
  mDNS:      --serial SN-0001 (resolved via _uarp._tcp)
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host:port/uarp`,
	Version:       version.Release,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&address, "addr", "a", "", "Accessory address (host:port)")
	pf.StringVarP(&serialNum, "serial", "s", "", "Find the accessory with this serial number via mDNS")
	pf.StringVar(&tlsCert, "tls-cert", "", "Client certificate file")
	pf.StringVar(&tlsKey, "tls-key", "", "Client key file")
	pf.StringVar(&tlsCA, "tls-ca", "", "CA file verifying the accessory")
	pf.StringVar(&tlsPin, "tls-fingerprint", "", "Accept only the accessory certificate with this SHA-256 fingerprint")
	pf.BoolVar(&insecure, "insecure", false, "Skip TLS verification of the accessory")

	pf.StringVarP(&portName, "port", "p", "", "Serial port device")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")

	pf.DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Timeout for connecting and each request")
	pf.StringVar(&protocolLog, "protocol-log", "", "Capture protocol events to this .ulog file")
	pf.StringVar(&stateFile, "state", defaultStateFile(), "Accessory inventory file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "uarp-controller.json"
	}
	return filepath.Join(dir, "uarp", "controller.json")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
