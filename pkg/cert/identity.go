// Package cert manages the TLS identity of an accessory.
//
// An accessory without provisioned certificates generates a self-signed
// one on first start and keeps it in its data directory. Controllers pin
// it by fingerprint instead of verifying a chain.
package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Files below the identity directory.
const (
	CertFileName = "accessory.pem"
	KeyFileName  = "accessory.key"
)

// DefaultValidity is the lifetime of a generated certificate.
const DefaultValidity = 10 * 365 * 24 * time.Hour

// renewBefore is how long before expiry a stored certificate is replaced.
const renewBefore = 30 * 24 * time.Hour

// ErrFingerprintMismatch is returned when a peer certificate does not
// match the pinned fingerprint.
var ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")

// Identity is an accessory certificate with its key.
type Identity struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
}

// Fingerprint returns the SHA-256 fingerprint of the certificate.
func (i *Identity) Fingerprint() string {
	return Fingerprint(i.Leaf)
}

// Fingerprint returns the hex SHA-256 digest of the DER encoding of cert.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// NormalizeFingerprint lowercases fp and drops ':' separators, so that
// fingerprints copied from openssl output compare equal.
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fp), ":", ""))
}

// VerifyFingerprint returns a tls.Config VerifyPeerCertificate function
// that accepts exactly the leaf certificate with fingerprint fp.
func VerifyFingerprint(fp string) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	want := NormalizeFingerprint(fp)
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrFingerprintMismatch
		}
		sum := sha256.Sum256(rawCerts[0])
		if got := hex.EncodeToString(sum[:]); got != want {
			return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, got)
		}
		return nil
	}
}

// Generate creates a self-signed P-256 certificate for the accessory
// with serial number serial. hosts become DNS or IP subject alternative
// names.
func Generate(serial string, hosts []string, validity time.Duration) (*Identity, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	sn, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			CommonName:   serial,
			Organization: []string{"UARP Accessory"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Certificate: tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf},
		Leaf:        leaf,
	}, nil
}

// Save writes the identity to dir.
func (i *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	key, ok := i.Certificate.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return ErrInvalidKey
	}
	if err := WriteKeyFile(filepath.Join(dir, KeyFileName), key); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, CertFileName), EncodeCertPEM(i.Leaf), 0644)
}

// Load reads an identity written by Save.
func Load(dir string) (*Identity, error) {
	leaf, err := ReadCertFile(filepath.Join(dir, CertFileName))
	if err != nil {
		return nil, err
	}
	key, err := ReadKeyFile(filepath.Join(dir, KeyFileName))
	if err != nil {
		return nil, err
	}
	return &Identity{
		Certificate: tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key, Leaf: leaf},
		Leaf:        leaf,
	}, nil
}

// LoadOrCreate loads the identity in dir, or generates and saves a new
// one when there is none or the stored one is about to expire. created
// reports whether a new identity was generated.
func LoadOrCreate(dir, serial string, hosts []string) (id *Identity, created bool, err error) {
	id, err = Load(dir)
	switch {
	case err == nil && time.Until(id.Leaf.NotAfter) > renewBefore:
		return id, false, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("load identity: %w", err)
	}

	if id, err = Generate(serial, hosts, DefaultValidity); err != nil {
		return nil, false, err
	}
	if err := id.Save(dir); err != nil {
		return nil, false, fmt.Errorf("save identity: %w", err)
	}
	return id, true, nil
}
