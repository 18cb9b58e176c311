package uarp_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/peer"
	"github.com/uarp-protocol/uarp-go/pkg/service"
	"github.com/uarp-protocol/uarp-go/pkg/superbinary"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

var fwup = wire.MustTag("FWUP")

func selfSignedCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "SN-E2E"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(parsed)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, pool
}

func startAccessory(t *testing.T, mutate func(*service.Config)) *service.AccessoryService {
	t.Helper()

	cfg := service.DefaultConfig()
	cfg.Identity = service.Identity{Manufacturer: "Acme", Model: "Widget", Serial: "SN-E2E", Hardware: "rev C"}
	cfg.InitialFirmware = wire.Version{Major: 1}
	cfg.DataDir = t.TempDir()
	cfg.ListenAddress = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := service.New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func runSession(t *testing.T, conn transport.Conn, cfg peer.Config) *peer.Session {
	t.Helper()

	sess := peer.NewSession(conn, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = sess.Close()
		<-done
	})
	return sess
}

func firmware(t *testing.T, v wire.Version) []byte {
	t.Helper()
	b := superbinary.NewBuilder(v)
	b.AddPayload(superbinary.Payload{Tag: wire.MustTag("MAIN"), Version: v, Data: bytes.Repeat([]byte{0x3C}, 20000)})
	b.AddPayload(superbinary.Payload{Tag: wire.MustTag("BOOT"), Data: []byte("second stage")})
	image, err := b.Build()
	require.NoError(t, err)
	return image
}

// TestE2E_UpdateOverTLS runs a full update over TLS: version discovery,
// offer, transfer, apply, and a fresh information read.
func TestE2E_UpdateOverTLS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cert, pool := selfSignedCert(t)
	svc := startAccessory(t, func(cfg *service.Config) {
		cfg.TLSConfig = &transport.TLSConfig{Certificate: cert}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	capture := filepath.Join(t.TempDir(), "controller.ulog")
	plog, err := log.NewFileLogger(capture)
	require.NoError(t, err)

	conn, err := transport.Dial(ctx, svc.Addr().String(), transport.ClientConfig{
		TLSConfig: &transport.TLSConfig{RootCAs: pool},
		Logger:    plog,
	})
	require.NoError(t, err)

	var progressCalls atomic.Int32
	sess := runSession(t, conn, peer.Config{
		Timeout:        5 * time.Second,
		AccessoryID:    "SN-E2E",
		ProtocolLogger: plog,
		OnProgress:     func(*peer.Transfer) { progressCalls.Add(1) },
	})

	pv, err := sess.DiscoverVersion(ctx)
	require.NoError(t, err)
	assert.NotZero(t, pv)

	before, err := sess.AccessoryInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SN-E2E", before.Serial)
	assert.Equal(t, wire.Version{Major: 1}, before.ActiveFirmware)
	assert.True(t, before.StagedFirmware.IsZero())

	v2 := wire.Version{Major: 2, Minor: 0, Release: 1}
	image := firmware(t, v2)
	tr, err := sess.OfferSuperBinary(ctx, fwup, image)
	require.NoError(t, err)

	result, err := tr.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.ProcessingUploadComplete, result)

	served, length := tr.Progress()
	assert.Equal(t, length, served)
	assert.Equal(t, uint32(len(image)), length)
	assert.NotZero(t, progressCalls.Load())

	staged, err := sess.AccessoryInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, staged.StagedFirmware)

	flags, err := sess.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ApplySuccess, flags)

	after, err := sess.AccessoryInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, after.ActiveFirmware)
	assert.True(t, after.StagedFirmware.IsZero())

	st, err := svc.Status()
	require.NoError(t, err)
	assert.Equal(t, v2, st.ActiveFirmware)

	require.NoError(t, sess.Close())
	require.NoError(t, plog.Close())

	events, err := log.ReadAll(capture, log.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var wireOut, wireIn int
	for _, e := range events {
		if e.Layer != log.LayerWire {
			continue
		}
		if e.Direction == log.DirectionOut {
			wireOut++
		} else {
			wireIn++
		}
	}
	assert.NotZero(t, wireOut, "outbound wire events")
	assert.NotZero(t, wireIn, "inbound wire events")
}

// TestE2E_WebSocket reads accessory information over the WebSocket
// transport and checks that older firmware is denied.
func TestE2E_WebSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	svc := startAccessory(t, func(cfg *service.Config) {
		cfg.ListenAddress = ""
		cfg.WebSocketAddress = "127.0.0.1:0"
		cfg.InitialFirmware = wire.Version{Major: 3}
	})
	require.NotEmpty(t, svc.WebSocketURL())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conn, err := transport.DialWebSocket(ctx, svc.WebSocketURL(), transport.WebSocketDialConfig{})
	require.NoError(t, err)
	sess := runSession(t, conn, peer.Config{Timeout: 5 * time.Second})

	_, err = sess.DiscoverVersion(ctx)
	require.NoError(t, err)

	info, err := sess.AccessoryInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Widget", info.Model)
	assert.Equal(t, wire.Version{Major: 3}, info.ActiveFirmware)

	tr, err := sess.OfferSuperBinary(ctx, fwup, firmware(t, wire.Version{Major: 2}))
	require.NoError(t, err)
	result, err := tr.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ProcessingDenied, result)

	flags, err := sess.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ApplyNothingStaged, flags)
}
