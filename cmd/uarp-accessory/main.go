// Command uarp-accessory is a reference UARP accessory.
//
// It stages firmware offered by controllers into a data directory and
// applies it on request. The accessory supports:
//   - TCP (optionally TLS), WebSocket and serial controller links
//   - mDNS advertising as _uarp._tcp
//   - a YAML configuration file
//   - protocol capture to a .ulog file
//   - an interactive console
//
// Usage:
//
//	uarp-accessory [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-serial string      Accessory serial number (required)
//	-data-dir string    Directory for state and staged payloads (default "./uarp-data")
//	-firmware string    Firmware version used before anything is applied (default "1.0.0")
//	-listen string      TCP listen address (default ":7411")
//	-ws string          WebSocket listen address (disabled if empty)
//	-tls-self-signed    Serve TLS with a certificate generated on first start
//	-policy string      Offer policy: auto, manual (default "auto")
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-interactive        Start the interactive console
//
// Examples:
//
//	# Accessory on the default port, advertised via mDNS
//	uarp-accessory -serial SN-0001 -model Widget
//
//	# Accessory behind a UART, offers confirmed on the console
//	uarp-accessory -serial SN-0002 -listen "" -serial-port /dev/ttyUSB0 -policy manual -interactive
//
//	# Everything from a file
//	uarp-accessory -config /etc/uarp/accessory.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uarp-protocol/uarp-go/cmd/uarp-accessory/interactive"
	"github.com/uarp-protocol/uarp-go/pkg/cert"
	"github.com/uarp-protocol/uarp-go/pkg/connection"
	"github.com/uarp-protocol/uarp-go/pkg/discovery"
	uarplog "github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/service"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Policy names an offer policy.
type Policy string

const (
	PolicyAuto   Policy = "auto"
	PolicyManual Policy = "manual"
)

// Config holds the accessory configuration.
type Config struct {
	ConfigFile string `yaml:"-"`

	// Identity
	Serial       string `yaml:"serial"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Hardware     string `yaml:"hardware"`
	Firmware     string `yaml:"firmware"`

	DataDir string `yaml:"data_dir"`

	// Transports
	Listen      string                   `yaml:"listen"`
	WebSocket   string                   `yaml:"websocket"`
	TLS         transport.TLSFiles       `yaml:"tls"`
	SerialPorts []transport.SerialConfig `yaml:"serial_ports"`

	// SerialBackoff paces reopening a serial port that went away.
	SerialBackoff connection.BackoffConfig `yaml:"serial_backoff"`

	IdleTimeout time.Duration `yaml:"idle_timeout"`
	AsyncSend   bool          `yaml:"async_send"`

	// SelfSignedTLS serves TLS with a certificate generated on first
	// start when no certificate files are configured.
	SelfSignedTLS bool `yaml:"tls_self_signed"`

	// Discovery
	MDNS          bool   `yaml:"mdns"`
	MDNSInterface string `yaml:"mdns_interface"`

	// Staging
	Policy            Policy        `yaml:"policy"`
	DynamicTags       []string      `yaml:"dynamic_tags"`
	MaxControllers    int           `yaml:"max_controllers"`
	DataTimeout       time.Duration `yaml:"data_timeout"`
	InstallDir        string        `yaml:"install_dir"`
	ApplyNeedsRestart bool          `yaml:"apply_needs_restart"`

	// Logging
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ProtocolLog string `yaml:"protocol_log"`

	Interactive bool `yaml:"interactive"`
}

var (
	config Config

	// Single-port and comma-separated shorthands for the list settings.
	serialPort  string
	baudRate    int
	dynamicTags string
)

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")

	flag.StringVar(&config.Serial, "serial", "", "Accessory serial number (required)")
	flag.StringVar(&config.Manufacturer, "manufacturer", "UARP Reference", "Manufacturer name")
	flag.StringVar(&config.Model, "model", "Reference Accessory", "Model name")
	flag.StringVar(&config.Hardware, "hardware", "", "Hardware revision")
	flag.StringVar(&config.Firmware, "firmware", "1.0.0", "Firmware version used before anything is applied")
	flag.StringVar(&config.DataDir, "data-dir", "./uarp-data", "Directory for state and staged payloads")

	flag.StringVar(&config.Listen, "listen", fmt.Sprintf(":%d", discovery.DefaultPort), "TCP listen address (empty disables TCP)")
	flag.StringVar(&config.WebSocket, "ws", "", "WebSocket listen address (disabled if empty)")
	flag.StringVar(&config.TLS.CertFile, "tls-cert", "", "TLS certificate file")
	flag.StringVar(&config.TLS.KeyFile, "tls-key", "", "TLS key file")
	flag.StringVar(&config.TLS.CAFile, "tls-ca", "", "CA file; when set, controllers must present a certificate")
	flag.BoolVar(&config.SelfSignedTLS, "tls-self-signed", false, "Serve TLS with a generated certificate kept in the data directory")
	flag.StringVar(&serialPort, "serial-port", "", "Serial port for a UART controller link")
	flag.IntVar(&baudRate, "baud", transport.DefaultBaudRate, "Serial baud rate")
	flag.DurationVar(&config.IdleTimeout, "idle-timeout", 0, "Close controller links idle for this long (0 disables)")
	flag.BoolVar(&config.AsyncSend, "async-send", false, "Send through a per-link writer queue")

	flag.BoolVar(&config.MDNS, "mdns", true, "Advertise via mDNS")
	flag.StringVar(&config.MDNSInterface, "mdns-interface", "", "Network interface for mDNS (all if empty)")

	flag.StringVar((*string)(&config.Policy), "policy", string(PolicyAuto), "Offer policy: auto, manual")
	flag.StringVar(&dynamicTags, "dynamic-tags", "", "Comma-separated dynamic asset tags to accept")
	flag.IntVar(&config.MaxControllers, "max-controllers", 0, "Maximum concurrent controllers (engine default if 0)")
	flag.DurationVar(&config.DataTimeout, "data-timeout", 0, "Data response timeout (engine default if 0)")
	flag.StringVar(&config.InstallDir, "install-dir", "", "Copy applied payloads into this directory")
	flag.BoolVar(&config.ApplyNeedsRestart, "apply-needs-restart", false, "Report NeedsRestart after a successful apply")

	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.LogFormat, "log-format", "text", "Log format: text, json")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Capture protocol events to this .ulog file")

	flag.BoolVar(&config.Interactive, "interactive", false, "Start the interactive console")
}

func main() {
	flag.Parse()

	if err := loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyDefaults()

	if err := validateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// The console owns the terminal; route logs through it.
	var console *interactive.Console
	var logOut io.Writer = os.Stderr
	if config.Interactive {
		var err error
		console, err = interactive.New(interactive.Config{Prompt: "uarp> "})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start console: %v\n", err)
			os.Exit(1)
		}
		logOut = console.Stderr()
	}
	logger := setupLogging(logOut, config.LogLevel, config.LogFormat)

	logger.Info("UARP reference accessory",
		"serial", config.Serial,
		"model", config.Model,
		"firmware", config.Firmware,
		"data_dir", config.DataDir)

	svcConfig, closers, err := buildServiceConfig(logger)
	if err != nil {
		logger.Error("Failed to configure service", "error", err)
		os.Exit(1)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	svc, err := service.New(svcConfig)
	if err != nil {
		logger.Error("Failed to create accessory service", "error", err)
		os.Exit(1)
	}
	svc.OnEvent(eventLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.Error("Failed to start service", "error", err)
		os.Exit(1)
	}
	logger.Info("Service started", "state", svc.State().String(), "addr", addrString(svc))
	if url := svc.WebSocketURL(); url != "" {
		logger.Info("WebSocket transport", "url", url)
	}

	if console != nil {
		console.Attach(svc)
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	if err := svc.Stop(); err != nil {
		logger.Error("Error stopping service", "error", err)
	}
	if console != nil {
		console.Close()
	}
}

// loadConfigFile merges the YAML file into config. Flags given on the
// command line win over the file.
func loadConfigFile() error {
	explicit := make(map[string]string)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	if config.ConfigFile != "" {
		data, err := os.ReadFile(config.ConfigFile)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parse %s: %w", config.ConfigFile, err)
		}
		for name, value := range explicit {
			if err := flag.Set(name, value); err != nil {
				return err
			}
		}
	}

	if serialPort != "" {
		config.SerialPorts = append(config.SerialPorts, transport.SerialConfig{Port: serialPort, BaudRate: baudRate})
	}
	if dynamicTags != "" {
		config.DynamicTags = append(config.DynamicTags, strings.Split(dynamicTags, ",")...)
	}
	return nil
}

func applyDefaults() {
	if config.Policy == "" {
		config.Policy = PolicyAuto
	}
	if config.Firmware == "" {
		config.Firmware = "1.0.0"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	for i := range config.SerialPorts {
		if config.SerialPorts[i].BaudRate == 0 {
			config.SerialPorts[i].BaudRate = transport.DefaultBaudRate
		}
	}
	if config.SerialBackoff == (connection.BackoffConfig{}) {
		config.SerialBackoff = connection.DefaultBackoffConfig()
	}
}

func validateConfig() error {
	if config.Serial == "" {
		return errors.New("serial number is required")
	}
	if config.DataDir == "" {
		return errors.New("data directory is required")
	}
	if _, err := wire.ParseVersion(config.Firmware); err != nil {
		return fmt.Errorf("firmware version: %w", err)
	}
	switch config.Policy {
	case PolicyAuto, PolicyManual:
	default:
		return fmt.Errorf("unknown offer policy: %s", config.Policy)
	}
	switch config.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", config.LogFormat)
	}
	for _, t := range config.DynamicTags {
		if _, err := wire.NewTag(strings.TrimSpace(t)); err != nil {
			return fmt.Errorf("dynamic tag %q: %w", t, err)
		}
	}
	if config.Listen == "" && config.WebSocket == "" && len(config.SerialPorts) == 0 && !config.Interactive {
		return errors.New("no transport configured")
	}
	return nil
}

func setupLogging(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildServiceConfig maps the daemon config onto the service. The returned
// closers must run after the service stopped.
func buildServiceConfig(logger *slog.Logger) (service.Config, []io.Closer, error) {
	var closers []io.Closer

	cfg := service.DefaultConfig()
	cfg.Identity = service.Identity{
		Manufacturer: config.Manufacturer,
		Model:        config.Model,
		Serial:       config.Serial,
		Hardware:     config.Hardware,
	}
	cfg.InitialFirmware, _ = wire.ParseVersion(config.Firmware)
	cfg.DataDir = config.DataDir
	cfg.ListenAddress = config.Listen
	cfg.WebSocketAddress = config.WebSocket
	cfg.SerialPorts = config.SerialPorts
	cfg.SerialBackoff = config.SerialBackoff
	cfg.IdleTimeout = config.IdleTimeout
	cfg.AsyncSend = config.AsyncSend
	cfg.ApplyNeedsRestart = config.ApplyNeedsRestart
	cfg.Logger = logger

	if config.MaxControllers > 0 {
		cfg.Engine.MaxControllers = config.MaxControllers
	}
	if config.DataTimeout > 0 {
		cfg.Engine.DataResponseTimeout = config.DataTimeout
	}

	if config.Policy == PolicyManual {
		cfg.OfferPolicy = service.ManualPolicy
	}
	for _, t := range config.DynamicTags {
		cfg.DynamicTags = append(cfg.DynamicTags, wire.MustTag(strings.TrimSpace(t)))
	}
	if config.InstallDir != "" {
		cfg.Installer = &dirInstaller{dir: config.InstallDir, logger: logger}
	}

	if config.TLS.Enabled() {
		tlsConfig, err := config.TLS.Load(true)
		if err != nil {
			return cfg, closers, err
		}
		cfg.TLSConfig = tlsConfig
	}
	if config.SelfSignedTLS && (cfg.TLSConfig == nil || len(cfg.TLSConfig.Certificate.Certificate) == 0) {
		id, created, err := cert.LoadOrCreate(filepath.Join(config.DataDir, "tls"), config.Serial, identityHosts(config.Listen))
		if err != nil {
			return cfg, closers, fmt.Errorf("TLS identity: %w", err)
		}
		if cfg.TLSConfig == nil {
			cfg.TLSConfig = &transport.TLSConfig{}
		}
		cfg.TLSConfig.Certificate = id.Certificate
		logger.Info("Self-signed TLS identity", "fingerprint", id.Fingerprint(), "created", created, "expires", id.Leaf.NotAfter.Format(time.DateOnly))
	}

	if config.ProtocolLog != "" {
		fl, err := uarplog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			return cfg, closers, fmt.Errorf("protocol log: %w", err)
		}
		closers = append(closers, fl)
		cfg.ProtocolLogger = fl
		for i := range cfg.SerialPorts {
			cfg.SerialPorts[i].Logger = fl
		}
		logger.Info("Protocol capture enabled", "path", fl.Path())
	}

	if config.MDNS {
		adCfg := discovery.DefaultAdvertiserConfig()
		adCfg.Interface = config.MDNSInterface
		adv, err := discovery.NewMDNSAdvertiser(adCfg)
		if err != nil {
			logger.Warn("mDNS advertising disabled", "error", err)
		} else {
			cfg.Advertiser = adv
		}
	}

	return cfg, closers, nil
}

// identityHosts lists the names a generated certificate is issued for.
func identityHosts(listen string) []string {
	hosts := []string{"localhost"}
	if host, _, err := net.SplitHostPort(listen); err == nil && host != "" {
		hosts = append(hosts, host)
	}
	if name, err := os.Hostname(); err == nil {
		hosts = append(hosts, name, strings.TrimSuffix(name, ".local")+".local")
	}
	return hosts
}

func addrString(svc *service.AccessoryService) string {
	if addr := svc.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func eventLogger(logger *slog.Logger) service.EventHandler {
	return func(event service.Event) {
		switch event.Type {
		case service.EventConnected:
			logger.Info("Controller connected", "conn", event.ConnectionID, "controller", event.Controller)
		case service.EventDisconnected:
			logger.Info("Controller disconnected", "conn", event.ConnectionID, "controller", event.Controller)
		case service.EventAssetOffered:
			logger.Info("Asset offered", "asset", event.Core.String(), "slot", event.Asset.Slot())
		case service.EventAssetAccepted:
			logger.Info("Asset accepted", "asset", event.Core.String())
		case service.EventAssetDenied:
			logger.Info("Asset denied", "asset", event.Core.String())
		case service.EventAssetStateChanged:
			logger.Debug("Asset state changed", "asset", event.Core.String(), "change", event.Change.String())
		case service.EventPayloadStaged:
			logger.Info("Payload staged", "tag", event.Payload.Tag.String(), "length", event.Payload.Length, "digest", event.Payload.Digest.String())
		case service.EventFullyStaged:
			logger.Info("Firmware staged", "version", event.Core.Version.String())
		case service.EventDynamicAsset:
			logger.Info("Dynamic asset received", "tag", event.Core.Tag.String(), "length", len(event.Data))
		case service.EventApplied:
			if event.Error != nil {
				logger.Warn("Apply failed", "result", event.Apply.String(), "error", event.Error)
			} else {
				logger.Info("Staged firmware applied", "result", event.Apply.String())
			}
		case service.EventVendorMessage:
			logger.Info("Vendor message", "controller", event.Controller, "type", event.Vendor.Type, "length", len(event.Vendor.Data))
		case service.EventError:
			logger.Warn("Service error", "conn", event.ConnectionID, "error", event.Error)
		}
	}
}
