package version

import (
	"errors"
	"testing"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		local   uint16
		peer    uint16
		want    uint16
		wantErr bool
	}{
		{"PeerOlder", 3, 2, 2, false},
		{"PeerNewer", 3, 7, 3, false},
		{"Same", 2, 2, 2, false},
		{"PeerZero", 3, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.local, tt.peer)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Negotiate(%d, %d) error = %v, wantErr %v", tt.local, tt.peer, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Negotiate(%d, %d) = %d, want %d", tt.local, tt.peer, got, tt.want)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	if Supported(0) {
		t.Error("Supported(0) = true, want false")
	}
	if !Supported(ProtocolMin) || !Supported(ProtocolMax) {
		t.Error("range bounds should be supported")
	}
	if Supported(ProtocolMax + 1) {
		t.Error("Supported(max+1) = true, want false")
	}
}

func TestParseTXTValue(t *testing.T) {
	v, err := ParseTXTValue(TXTValue(3))
	if err != nil || v != 3 {
		t.Errorf("ParseTXTValue(TXTValue(3)) = %d, %v", v, err)
	}
	if _, err := ParseTXTValue("0"); !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("ParseTXTValue(0) error = %v, want ErrInvalidProtocol", err)
	}
	for _, in := range []string{"", "abc", "70000"} {
		if _, err := ParseTXTValue(in); err == nil {
			t.Errorf("ParseTXTValue(%q) should fail", in)
		}
	}
}
