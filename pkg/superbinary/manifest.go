package superbinary

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// ErrInvalidManifest is returned for manifests that cannot be built.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes a SuperBinary in YAML:
//
//	tag: FWUP
//	version: 2.1.0.0
//	metadata:
//	  - {type: 1, string: "release 2.1"}
//	payloads:
//	  - tag: MAIN
//	    file: main.bin
//	    metadata:
//	      - {type: 0x10, u32: 7}
//	  - tag: BOOT
//	    version: 1.0.0.3
//	    hex: "deadbeef"
type Manifest struct {
	// Tag is the asset tag used when offering the SuperBinary.
	Tag      string            `yaml:"tag"`
	Version  string            `yaml:"version"`
	Metadata []ManifestTLV     `yaml:"metadata,omitempty"`
	Payloads []ManifestPayload `yaml:"payloads"`

	// dir resolves relative payload files.
	dir string
}

// ManifestPayload describes one payload. Exactly one of File and Hex
// supplies its bytes.
type ManifestPayload struct {
	Tag      string        `yaml:"tag"`
	Version  string        `yaml:"version,omitempty"`
	File     string        `yaml:"file,omitempty"`
	Hex      string        `yaml:"hex,omitempty"`
	Metadata []ManifestTLV `yaml:"metadata,omitempty"`
}

// ManifestTLV is a metadata record. Exactly one value field is set.
type ManifestTLV struct {
	Type   uint32  `yaml:"type"`
	String *string `yaml:"string,omitempty"`
	Hex    *string `yaml:"hex,omitempty"`
	U32    *uint32 `yaml:"u32,omitempty"`
}

// LoadManifest reads a manifest file. Payload files are resolved relative
// to its directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes a manifest. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return &m, nil
}

// AssetTag returns the parsed asset tag.
func (m *Manifest) AssetTag() (wire.Tag, error) {
	return wire.NewTag(m.Tag)
}

// Build assembles the SuperBinary.
func (m *Manifest) Build() ([]byte, error) {
	if _, err := m.AssetTag(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	version, err := wire.ParseVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	b := NewBuilder(version)
	for i, r := range m.Metadata {
		value, err := r.value()
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %d: %w", ErrInvalidManifest, i, err)
		}
		b.AddMetadata(r.Type, value)
	}

	for i, mp := range m.Payloads {
		p, err := m.payload(mp)
		if err != nil {
			return nil, fmt.Errorf("%w: payload %d (%s): %w", ErrInvalidManifest, i, mp.Tag, err)
		}
		b.AddPayload(p)
	}
	return b.Build()
}

func (m *Manifest) payload(mp ManifestPayload) (Payload, error) {
	var p Payload
	var err error

	if p.Tag, err = wire.NewTag(mp.Tag); err != nil {
		return p, err
	}
	if mp.Version != "" {
		if p.Version, err = wire.ParseVersion(mp.Version); err != nil {
			return p, err
		}
	}

	switch {
	case mp.File != "" && mp.Hex != "":
		return p, errors.New("both file and hex set")
	case mp.File != "":
		path := mp.File
		if !filepath.IsAbs(path) && m.dir != "" {
			path = filepath.Join(m.dir, path)
		}
		if p.Data, err = os.ReadFile(path); err != nil {
			return p, err
		}
	case mp.Hex != "":
		if p.Data, err = hex.DecodeString(mp.Hex); err != nil {
			return p, err
		}
	default:
		return p, errors.New("no file or hex data")
	}

	for i, r := range mp.Metadata {
		value, err := r.value()
		if err != nil {
			return p, fmt.Errorf("metadata %d: %w", i, err)
		}
		p.Metadata = append(p.Metadata, TLV{Type: r.Type, Value: value})
	}
	return p, nil
}

func (r ManifestTLV) value() ([]byte, error) {
	set := 0
	var out []byte
	if r.String != nil {
		set++
		out = []byte(*r.String)
	}
	if r.Hex != nil {
		set++
		b, err := hex.DecodeString(*r.Hex)
		if err != nil {
			return nil, err
		}
		out = b
	}
	if r.U32 != nil {
		set++
		out = binary.BigEndian.AppendUint32(nil, *r.U32)
	}
	if set != 1 {
		return nil, fmt.Errorf("type %d: exactly one of string, hex or u32 required", r.Type)
	}
	return out, nil
}
