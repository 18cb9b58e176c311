// Package superbinary builds and parses SuperBinary assets.
//
// A SuperBinary is laid out as
//
//	header | metadata | payload headers | payload metadata... | payload data...
//
// with every region addressed by offset and length from the headers, so
// parsers must not assume this order. Metadata regions hold TLV records.
package superbinary

import (
	"errors"
	"fmt"
	"math"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Errors.
var (
	ErrNoPayloads   = errors.New("superbinary has no payloads")
	ErrTooLarge     = errors.New("superbinary exceeds 4 GiB")
	ErrTooManyItems = errors.New("too many payloads")
)

// TLV is one metadata record.
type TLV struct {
	Type  uint32
	Value []byte
}

// Payload is one payload of a SuperBinary.
type Payload struct {
	Tag      wire.Tag
	Version  wire.Version
	Metadata []TLV
	Data     []byte
}

// Image is a parsed SuperBinary. Data and metadata values alias the
// parsed buffer.
type Image struct {
	Header   wire.SuperBinaryHeader
	Metadata []TLV
	Payloads []Payload
	Headers  []wire.PayloadHeader
}

// Core returns the offer describing the image under asset id and tag.
func (img *Image) Core(id uint16, tag wire.Tag) wire.AssetCore {
	return wire.AssetCore{
		ID:          id,
		Tag:         tag,
		Flags:       wire.AssetFlagSuperBinary,
		Version:     img.Header.Version,
		Length:      img.Header.TotalLength,
		NumPayloads: uint16(len(img.Payloads)),
	}
}

// Builder assembles a SuperBinary.
type Builder struct {
	version  wire.Version
	metadata []TLV
	payloads []Payload
}

// NewBuilder creates a builder for a SuperBinary of the given version.
func NewBuilder(version wire.Version) *Builder {
	return &Builder{version: version}
}

// AddMetadata appends a SuperBinary metadata record.
func (b *Builder) AddMetadata(typ uint32, value []byte) *Builder {
	b.metadata = append(b.metadata, TLV{Type: typ, Value: value})
	return b
}

// AddPayload appends a payload. A zero payload version inherits the
// SuperBinary version.
func (b *Builder) AddPayload(p Payload) *Builder {
	if p.Version.IsZero() {
		p.Version = b.version
	}
	b.payloads = append(b.payloads, p)
	return b
}

// Build lays out the SuperBinary.
func (b *Builder) Build() ([]byte, error) {
	if len(b.payloads) == 0 {
		return nil, ErrNoPayloads
	}
	if len(b.payloads) > math.MaxUint16 {
		return nil, ErrTooManyItems
	}

	meta := encodeTLVs(b.metadata)
	hdr := wire.SuperBinaryHeader{
		FormatVersion: wire.SuperBinaryFormatVersion,
		HeaderLength:  wire.SuperBinaryHeaderSize,
		Version:       b.version,
	}

	off := uint64(wire.SuperBinaryHeaderSize)
	if len(meta) > 0 {
		hdr.MetadataOffset, hdr.MetadataLength = uint32(off), uint32(len(meta))
		off += uint64(len(meta))
	}
	hdr.PayloadHeadersOffset = uint32(off)
	hdr.PayloadHeadersLength = uint32(len(b.payloads)) * wire.PayloadHeaderSize
	off += uint64(hdr.PayloadHeadersLength)

	phs := make([]wire.PayloadHeader, len(b.payloads))
	metas := make([][]byte, len(b.payloads))
	for i, p := range b.payloads {
		phs[i] = wire.PayloadHeader{HeaderLength: wire.PayloadHeaderSize, Tag: p.Tag, Version: p.Version}
		metas[i] = encodeTLVs(p.Metadata)
		if len(metas[i]) > 0 {
			phs[i].MetadataOffset, phs[i].MetadataLength = uint32(off), uint32(len(metas[i]))
			off += uint64(len(metas[i]))
		}
	}
	for i, p := range b.payloads {
		phs[i].PayloadOffset, phs[i].PayloadLength = uint32(off), uint32(len(p.Data))
		off += uint64(len(p.Data))
	}
	if off > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	hdr.TotalLength = uint32(off)

	out := make([]byte, off)
	hdr.Put(out)
	copy(out[hdr.MetadataOffset:], meta)
	for i, p := range b.payloads {
		phs[i].Put(out[hdr.PayloadHeaderOffset(uint16(i)):])
		copy(out[phs[i].MetadataOffset:], metas[i])
		copy(out[phs[i].PayloadOffset:], p.Data)
	}
	return out, nil
}

func encodeTLVs(records []TLV) []byte {
	var out []byte
	for _, r := range records {
		out = wire.AppendTLV(out, r.Type, r.Value)
	}
	return out
}

func decodeTLVs(b []byte) ([]TLV, error) {
	var records []TLV
	err := wire.WalkTLVs(b, func(typ uint32, value []byte) error {
		records = append(records, TLV{Type: typ, Value: value})
		return nil
	})
	return records, err
}

// Parse validates data as a SuperBinary and splits it into its parts.
// Errors are wire statuses, the same an accessory would report.
func Parse(data []byte) (*Image, error) {
	hdr, err := wire.DecodeSuperBinaryHeader(data)
	if err != nil {
		return nil, wire.StatusCorruptSuperBinary
	}
	if uint64(len(data)) != uint64(hdr.TotalLength) {
		return nil, fmt.Errorf("%w: header length %d, file length %d", wire.StatusCorruptSuperBinary, hdr.TotalLength, len(data))
	}
	if hdr.PayloadHeadersLength%wire.PayloadHeaderSize != 0 {
		return nil, wire.StatusCorruptSuperBinary
	}
	n := hdr.PayloadHeadersLength / wire.PayloadHeaderSize
	if n > math.MaxUint16 {
		return nil, wire.StatusCorruptSuperBinary
	}

	img := &Image{Header: hdr}
	core := img.Core(1, wire.Tag{})
	core.NumPayloads = uint16(n)
	if err := hdr.Validate(core); err != nil {
		return nil, err
	}

	if hdr.MetadataLength > 0 {
		region := data[hdr.MetadataOffset : hdr.MetadataOffset+hdr.MetadataLength]
		if img.Metadata, err = decodeTLVs(region); err != nil {
			return nil, err
		}
	}

	for i := range uint16(n) {
		off := hdr.PayloadHeaderOffset(i)
		ph, err := wire.DecodePayloadHeader(data[off:])
		if err != nil {
			return nil, wire.StatusCorruptPayloadHeader
		}
		if err := ph.Validate(hdr.TotalLength); err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		p := Payload{
			Tag:     ph.Tag,
			Version: ph.Version,
			Data:    data[ph.PayloadOffset : ph.PayloadOffset+ph.PayloadLength],
		}
		if ph.MetadataLength > 0 {
			region := data[ph.MetadataOffset : ph.MetadataOffset+ph.MetadataLength]
			if p.Metadata, err = decodeTLVs(region); err != nil {
				return nil, fmt.Errorf("payload %d: %w", i, err)
			}
		}
		img.Headers = append(img.Headers, ph)
		img.Payloads = append(img.Payloads, p)
	}
	return img, nil
}
