package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/uarp-protocol/uarp-go/pkg/peer"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/store"
	"github.com/uarp-protocol/uarp-go/pkg/superbinary"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// pipeConn is one end of an in-memory message link.
type pipeConn struct {
	id     string
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

var pipeSeq atomic.Int32

func newPipe() (*pipeConn, *pipeConn) {
	n := pipeSeq.Add(1)
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &pipeConn{id: fmt.Sprintf("pipe-%d-accessory", n), in: ba, out: ab, closed: closed, once: once}
	b := &pipeConn{id: fmt.Sprintf("pipe-%d-controller", n), in: ab, out: ba, closed: closed, once: once}
	return a, b
}

func (c *pipeConn) ID() string         { return c.id }
func (c *pipeConn) RemoteAddr() string { return "pipe:" + c.id }

func (c *pipeConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return transport.ErrConnectionClosed
	case c.out <- bytes.Clone(msg):
		return nil
	}
}

func (c *pipeConn) Receive() ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, transport.ErrConnectionClosed
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

var (
	v1   = wire.Version{Major: 1}
	v21  = wire.Version{Major: 2, Minor: 1}
	fwup = wire.MustTag("FWUP")
)

// mockInstaller is a testify mock of Installer.
type mockInstaller struct {
	mock.Mock
}

func (m *mockInstaller) Install(ctx context.Context, staged *persistence.StagedAsset, payloads []store.Entry) error {
	args := m.Called(ctx, staged, payloads)
	return args.Error(0)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Identity = Identity{Manufacturer: "Acme", Model: "Widget", Serial: "SN-0001", Hardware: "rev B"}
	cfg.InitialFirmware = v1
	cfg.DataDir = t.TempDir()
	cfg.ListenAddress = ""
	cfg.Engine.DataResponseTimeout = 0
	return cfg
}

// startService starts svc and stops it when the test ends.
func startService(t *testing.T, cfg Config) *AccessoryService {
	t.Helper()
	svc, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

// connectPeer links a controller session to svc over a pipe.
func connectPeer(t *testing.T, svc *AccessoryService) *peer.Session {
	t.Helper()
	accEnd, ctrlEnd := newPipe()
	sess := peer.NewSession(ctrlEnd, peer.Config{Timeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	require.NoError(t, svc.Attach(accEnd))

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sess
}

// watch collects service events.
func watch(svc *AccessoryService) chan Event {
	ch := make(chan Event, 256)
	svc.OnEvent(func(e Event) { ch <- e })
	return ch
}

func waitEvent(t *testing.T, ch chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return Event{}
		}
	}
}

func buildImage(t *testing.T, version wire.Version, payloads ...superbinary.Payload) []byte {
	t.Helper()
	b := superbinary.NewBuilder(version)
	for _, p := range payloads {
		b.AddPayload(p)
	}
	image, err := b.Build()
	require.NoError(t, err)
	return image
}

func firmwareImage(t *testing.T, version wire.Version) []byte {
	return buildImage(t, version,
		superbinary.Payload{Tag: wire.MustTag("MAIN"), Data: bytes.Repeat([]byte{0xA5}, 3000)},
		superbinary.Payload{Tag: wire.MustTag("BOOT"), Data: []byte("boot loader")},
	)
}

func offerAndWait(t *testing.T, sess *peer.Session, image []byte) wire.ProcessingFlags {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := sess.OfferSuperBinary(ctx, fwup, image)
	require.NoError(t, err)
	flags, err := tr.Wait(ctx)
	require.NoError(t, err)
	return flags
}
