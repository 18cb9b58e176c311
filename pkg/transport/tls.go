package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/uarp-protocol/uarp-go/pkg/cert"
)

// TLS constants.
const (
	// ALPNProtocol is negotiated on every TLS link.
	ALPNProtocol = "uarp/1"

	// DefaultPort is the default accessory port.
	DefaultPort = 7411
)

// ErrTLSConfig indicates unusable TLS settings.
var ErrTLSConfig = errors.New("invalid TLS configuration")

// TLSConfig holds the TLS settings of one endpoint.
type TLSConfig struct {
	// Certificate is this endpoint's certificate. Required for servers.
	Certificate tls.Certificate

	// RootCAs verifies the server, on clients.
	RootCAs *x509.CertPool

	// ClientCAs verifies clients, on servers. When set, clients must
	// present a certificate it signed.
	ClientCAs *x509.CertPool

	// ServerName is the expected server name on clients.
	ServerName string

	// InsecureSkipVerify disables server verification. Only for tests
	// and bench setups with self-signed accessories.
	InsecureSkipVerify bool

	// Fingerprint pins the server certificate by SHA-256 fingerprint, on
	// clients. It replaces chain verification.
	Fingerprint string
}

// TLSFiles names PEM files to load a TLSConfig from.
type TLSFiles struct {
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
	CAFile   string `yaml:"ca"`
}

// Enabled reports whether any file is set.
func (f TLSFiles) Enabled() bool {
	return f.CertFile != "" || f.KeyFile != "" || f.CAFile != ""
}

// Load reads the files. The CA file, if any, verifies peers: clients on a
// server, the server on a client.
func (f TLSFiles) Load(server bool) (*TLSConfig, error) {
	cfg := &TLSConfig{}
	if f.CertFile != "" || f.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTLSConfig, err)
		}
		cfg.Certificate = cert
	}
	if f.CAFile != "" {
		pem, err := os.ReadFile(f.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, f.CAFile)
		}
		if server {
			cfg.ClientCAs = pool
		} else {
			cfg.RootCAs = pool
		}
	}
	return cfg, nil
}

func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:             tls.VersionTLS13,
		NextProtos:             []string{ALPNProtocol},
		CurvePreferences:       []tls.CurveID{tls.X25519, tls.CurveP256},
		SessionTicketsDisabled: true,
	}
}

// NewServerTLSConfig creates the TLS configuration of an accessory.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: TLSConfig is required", ErrTLSConfig)
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("%w: server certificate is required", ErrTLSConfig)
	}

	c := baseTLSConfig()
	c.Certificates = []tls.Certificate{cfg.Certificate}
	if cfg.ClientCAs != nil {
		c.ClientCAs = cfg.ClientCAs
		c.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return c, nil
}

// NewClientTLSConfig creates the TLS configuration of a controller.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: TLSConfig is required", ErrTLSConfig)
	}

	c := baseTLSConfig()
	if len(cfg.Certificate.Certificate) > 0 {
		c.Certificates = []tls.Certificate{cfg.Certificate}
	}
	c.RootCAs = cfg.RootCAs
	c.ServerName = cfg.ServerName
	c.InsecureSkipVerify = cfg.InsecureSkipVerify
	if cfg.Fingerprint != "" {
		c.InsecureSkipVerify = true
		c.VerifyPeerCertificate = cert.VerifyFingerprint(cfg.Fingerprint)
	}
	return c, nil
}

// VerifyConnection checks the negotiated TLS version and ALPN protocol.
func VerifyConnection(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3", state.Version)
	}
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}
