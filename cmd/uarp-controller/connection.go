package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/uarp-protocol/uarp-go/pkg/discovery"
	uarplog "github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/peer"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

var errNoTarget = errors.New("one of --addr, --serial, --port or --url must be specified")

type connMode int

const (
	modeTCP connMode = iota
	modeMDNS
	modeSerial
	modeWebSocket
)

// connectionMode picks the link to open from the connection flags.
func connectionMode() (connMode, error) {
	n := 0
	for _, set := range []bool{address != "", portName != "", wsURL != ""} {
		if set {
			n++
		}
	}
	switch {
	case n > 1:
		return 0, errors.New("--addr, --port and --url are mutually exclusive")
	case wsURL != "":
		return modeWebSocket, nil
	case portName != "":
		return modeSerial, nil
	case address != "":
		return modeTCP, nil
	case serialNum != "":
		return modeMDNS, nil
	default:
		return 0, errNoTarget
	}
}

// link is a running controller session with one accessory.
type link struct {
	sess *peer.Session
	desc string

	// serial is the accessory serial number, when known before asking it.
	serial  string
	address string

	plog   *uarplog.FileLogger
	cancel context.CancelFunc
	done   chan error
}

// openLink connects to the accessory named by the connection flags and
// starts the session's read loop. opts adjust the session configuration.
func openLink(ctx context.Context, opts ...func(*peer.Config)) (*link, error) {
	mode, err := connectionMode()
	if err != nil {
		return nil, err
	}

	l := &link{serial: serialNum, address: address}

	var plog uarplog.Logger
	if protocolLog != "" {
		if l.plog, err = uarplog.NewFileLogger(protocolLog); err != nil {
			return nil, fmt.Errorf("protocol log: %w", err)
		}
		plog = l.plog
	}

	conn, err := l.dial(ctx, mode, plog)
	if err != nil {
		l.closeLog()
		return nil, err
	}

	cfg := peer.Config{
		Timeout:        timeout,
		AccessoryID:    l.serial,
		Logger:         logger,
		ProtocolLogger: plog,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l.sess = peer.NewSession(conn, cfg)

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan error, 1)
	go func() { l.done <- l.sess.Run(runCtx) }()

	if _, err := l.sess.DiscoverVersion(ctx); err != nil {
		l.Close()
		return nil, fmt.Errorf("version discovery: %w", err)
	}
	logger.Debug("Connected", "link", l.desc, "protocol", l.sess.ProtocolVersion())
	return l, nil
}

func (l *link) dial(ctx context.Context, mode connMode, plog uarplog.Logger) (transport.Conn, error) {
	switch mode {
	case modeWebSocket:
		conn, err := transport.DialWebSocket(ctx, wsURL, transport.WebSocketDialConfig{
			InsecureSkipVerify: insecure,
			Logger:             plog,
		})
		if err != nil {
			return nil, err
		}
		l.desc = "WebSocket: " + wsURL
		return conn, nil

	case modeSerial:
		conn, err := transport.OpenSerial(transport.SerialConfig{Port: portName, BaudRate: baudRate, Logger: plog})
		if err != nil {
			return nil, err
		}
		l.desc = fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
		return conn, nil
	}

	useTLS := tlsCert != "" || tlsCA != "" || tlsPin != "" || insecure
	if mode == modeMDNS {
		browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
		if err != nil {
			return nil, err
		}
		svc, err := browser.FindBySerial(ctx, serialNum)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", serialNum, err)
		}
		l.address = svc.Addr()
		useTLS = useTLS || svc.TLS
	}

	cfg := transport.ClientConfig{ConnectTimeout: timeout, Logger: plog}
	if useTLS {
		files := transport.TLSFiles{CertFile: tlsCert, KeyFile: tlsKey, CAFile: tlsCA}
		tlsConfig, err := files.Load(false)
		if err != nil {
			return nil, err
		}
		tlsConfig.InsecureSkipVerify = insecure
		tlsConfig.Fingerprint = tlsPin
		cfg.TLSConfig = tlsConfig
	}

	conn, err := transport.Dial(ctx, l.address, cfg)
	if err != nil {
		return nil, err
	}
	l.desc = "TCP: " + l.address
	if useTLS {
		l.desc = "TLS: " + l.address
	}
	return conn, nil
}

// Serial returns the accessory serial number, asking the accessory when
// the link was not opened by serial.
func (l *link) Serial(ctx context.Context) string {
	if l.serial != "" {
		return l.serial
	}
	v, err := l.sess.Info(ctx, wire.InfoSerialNumber)
	if err != nil {
		logger.Debug("Serial number unavailable", "error", err)
		return ""
	}
	l.serial = string(v)
	return l.serial
}

// Close ends the session and waits for its read loop.
func (l *link) Close() {
	l.cancel()
	_ = l.sess.Close()
	if err := <-l.done; err != nil {
		logger.Debug("Session ended", "error", err)
	}
	l.closeLog()
}

func (l *link) closeLog() {
	if l.plog == nil {
		return
	}
	if err := l.plog.Close(); err != nil {
		logger.Warn("Protocol log", "error", err)
	}
}

// requestContext bounds one online command.
func requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
