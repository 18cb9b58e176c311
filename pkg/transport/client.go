package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/uarp-protocol/uarp-go/pkg/log"
)

// ClientConfig configures Dial.
type ClientConfig struct {
	// TLSConfig enables TLS. Nil dials plain TCP.
	TLSConfig *TLSConfig

	// MaxMessageSize is the maximum message size (default: DefaultMaxMessageSize).
	MaxMessageSize uint32

	// ConnectTimeout applies when ctx has no deadline (default: 30s).
	ConnectTimeout time.Duration

	// Logger receives frame events (optional).
	Logger log.Logger
}

// Dial connects a controller to the accessory at address.
func Dial(ctx context.Context, address string, config ClientConfig) (*StreamConn, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	var tlsConf *tls.Config
	if config.TLSConfig != nil {
		var err error
		if tlsConf, err = NewClientTLSConfig(config.TLSConfig); err != nil {
			return nil, err
		}
		if tlsConf.ServerName == "" {
			if host, _, err := net.SplitHostPort(address); err == nil {
				tlsConf.ServerName = host
			}
		}
	}

	dialer := &net.Dialer{KeepAlive: 15 * time.Second}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	var rwc io.ReadWriteCloser = nc
	if tlsConf != nil {
		tlsConn := tls.Client(nc, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connection verification failed: %w", err)
		}
		rwc = tlsConn
	}

	id := uuid.New().String()
	framer := NewFramerWithMaxSize(rwc, config.MaxMessageSize)
	if config.Logger != nil {
		framer.SetLogger(config.Logger, id)
	}
	return NewStreamConn(id, nc.RemoteAddr().String(), rwc, framer), nil
}
