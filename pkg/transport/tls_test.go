package transport

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePEM(t *testing.T, dir, name, typ string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestTLSFilesLoad(t *testing.T) {
	dir := t.TempDir()
	certDER, keyDER := generateTestCert(t)
	files := TLSFiles{
		CertFile: writePEM(t, dir, "cert.pem", "CERTIFICATE", certDER),
		KeyFile:  writePEM(t, dir, "key.pem", "EC PRIVATE KEY", keyDER),
		CAFile:   writePEM(t, dir, "ca.pem", "CERTIFICATE", certDER),
	}
	if !files.Enabled() {
		t.Fatal("Enabled() = false")
	}

	server, err := files.Load(true)
	if err != nil {
		t.Fatalf("Load(server) failed: %v", err)
	}
	if server.ClientCAs == nil || server.RootCAs != nil {
		t.Error("server CA file should populate ClientCAs only")
	}
	conf, err := NewServerTLSConfig(server)
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}
	if conf.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", conf.ClientAuth)
	}
	if conf.MinVersion != tls.VersionTLS13 || conf.NextProtos[0] != ALPNProtocol {
		t.Errorf("MinVersion = %x, NextProtos = %v", conf.MinVersion, conf.NextProtos)
	}

	client, err := files.Load(false)
	if err != nil {
		t.Fatalf("Load(client) failed: %v", err)
	}
	if client.RootCAs == nil || client.ClientCAs != nil {
		t.Error("client CA file should populate RootCAs only")
	}
}

func TestTLSFilesLoadErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	_ = os.WriteFile(garbage, []byte("not pem"), 0o600)

	tests := []struct {
		name  string
		files TLSFiles
	}{
		{"missing cert", TLSFiles{CertFile: filepath.Join(dir, "nope"), KeyFile: filepath.Join(dir, "nope")}},
		{"missing ca", TLSFiles{CAFile: filepath.Join(dir, "nope")}},
		{"empty ca", TLSFiles{CAFile: garbage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.files.Load(false); !errors.Is(err, ErrTLSConfig) {
				t.Errorf("Load() error = %v, want ErrTLSConfig", err)
			}
		})
	}

	if (TLSFiles{}).Enabled() {
		t.Error("zero TLSFiles reports Enabled")
	}
}

func TestVerifyConnection(t *testing.T) {
	tests := []struct {
		name    string
		state   tls.ConnectionState
		wantErr bool
	}{
		{"valid", tls.ConnectionState{Version: tls.VersionTLS13, NegotiatedProtocol: ALPNProtocol}, false},
		{"tls12", tls.ConnectionState{Version: tls.VersionTLS12, NegotiatedProtocol: ALPNProtocol}, true},
		{"no alpn", tls.ConnectionState{Version: tls.VersionTLS13}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyConnection(tt.state); (err != nil) != tt.wantErr {
				t.Errorf("VerifyConnection() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
