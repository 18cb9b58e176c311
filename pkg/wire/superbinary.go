package wire

// SuperBinary layout constants.
const (
	// SuperBinaryFormatVersion is the only header format this package accepts.
	SuperBinaryFormatVersion = 2

	// SuperBinaryHeaderSize is the encoded size of SuperBinaryHeader.
	SuperBinaryHeaderSize = 44

	// PayloadHeaderSize is the encoded size of PayloadHeader.
	PayloadHeaderSize = 40
)

// SuperBinaryHeader is the fixed header at offset 0 of a SuperBinary asset.
type SuperBinaryHeader struct {
	FormatVersion        uint32
	HeaderLength         uint32
	TotalLength          uint32
	Version              Version
	MetadataOffset       uint32
	MetadataLength       uint32
	PayloadHeadersOffset uint32
	PayloadHeadersLength uint32
}

// DecodeSuperBinaryHeader parses a SuperBinary header.
func DecodeSuperBinaryHeader(b []byte) (SuperBinaryHeader, error) {
	if err := need(b, SuperBinaryHeaderSize); err != nil {
		return SuperBinaryHeader{}, err
	}
	return SuperBinaryHeader{
		FormatVersion:        be.Uint32(b[0:]),
		HeaderLength:         be.Uint32(b[4:]),
		TotalLength:          be.Uint32(b[8:]),
		Version:              decodeVersion(b[12:]),
		MetadataOffset:       be.Uint32(b[28:]),
		MetadataLength:       be.Uint32(b[32:]),
		PayloadHeadersOffset: be.Uint32(b[36:]),
		PayloadHeadersLength: be.Uint32(b[40:]),
	}, nil
}

// Put encodes h into b.
func (h SuperBinaryHeader) Put(b []byte) {
	be.PutUint32(b[0:], h.FormatVersion)
	be.PutUint32(b[4:], h.HeaderLength)
	be.PutUint32(b[8:], h.TotalLength)
	h.Version.Put(b[12:])
	be.PutUint32(b[28:], h.MetadataOffset)
	be.PutUint32(b[32:], h.MetadataLength)
	be.PutUint32(b[36:], h.PayloadHeadersOffset)
	be.PutUint32(b[40:], h.PayloadHeadersLength)
}

// Validate checks h against the offered asset. Every region must lie
// within the asset and the payload table must hold exactly the offered
// number of payload headers.
func (h SuperBinaryHeader) Validate(core AssetCore) error {
	if h.FormatVersion != SuperBinaryFormatVersion {
		return StatusInvalidSuperBinaryFormat
	}
	if h.HeaderLength != SuperBinaryHeaderSize || h.TotalLength != core.Length {
		return StatusCorruptSuperBinary
	}
	if h.MetadataLength > 0 {
		if h.MetadataOffset < h.HeaderLength || !Within(h.MetadataOffset, h.MetadataLength, h.TotalLength) {
			return StatusCorruptSuperBinary
		}
	}
	if uint64(h.PayloadHeadersLength) != uint64(core.NumPayloads)*PayloadHeaderSize {
		return StatusCorruptSuperBinary
	}
	if h.PayloadHeadersLength > 0 {
		if h.PayloadHeadersOffset < h.HeaderLength || !Within(h.PayloadHeadersOffset, h.PayloadHeadersLength, h.TotalLength) {
			return StatusCorruptSuperBinary
		}
	}
	return nil
}

// PayloadHeaderOffset returns the asset offset of payload header index.
func (h SuperBinaryHeader) PayloadHeaderOffset(index uint16) uint32 {
	return h.PayloadHeadersOffset + uint32(index)*PayloadHeaderSize
}

// PayloadHeader describes one payload of a SuperBinary.
type PayloadHeader struct {
	HeaderLength   uint32
	Tag            Tag
	Version        Version
	MetadataOffset uint32
	MetadataLength uint32
	PayloadOffset  uint32
	PayloadLength  uint32
}

// DecodePayloadHeader parses a payload header. The tag is copied as raw bytes.
func DecodePayloadHeader(b []byte) (PayloadHeader, error) {
	if err := need(b, PayloadHeaderSize); err != nil {
		return PayloadHeader{}, err
	}
	var h PayloadHeader
	h.HeaderLength = be.Uint32(b[0:])
	copy(h.Tag[:], b[4:8])
	h.Version = decodeVersion(b[8:])
	h.MetadataOffset = be.Uint32(b[24:])
	h.MetadataLength = be.Uint32(b[28:])
	h.PayloadOffset = be.Uint32(b[32:])
	h.PayloadLength = be.Uint32(b[36:])
	return h, nil
}

// Put encodes h into b.
func (h PayloadHeader) Put(b []byte) {
	be.PutUint32(b[0:], h.HeaderLength)
	copy(b[4:8], h.Tag[:])
	h.Version.Put(b[8:])
	be.PutUint32(b[24:], h.MetadataOffset)
	be.PutUint32(b[28:], h.MetadataLength)
	be.PutUint32(b[32:], h.PayloadOffset)
	be.PutUint32(b[36:], h.PayloadLength)
}

// Validate checks that the payload's metadata and data lie within an asset
// of totalLength bytes.
func (h PayloadHeader) Validate(totalLength uint32) error {
	if h.HeaderLength != PayloadHeaderSize {
		return StatusCorruptPayloadHeader
	}
	if h.MetadataLength > 0 && !Within(h.MetadataOffset, h.MetadataLength, totalLength) {
		return StatusCorruptPayloadHeader
	}
	if !Within(h.PayloadOffset, h.PayloadLength, totalLength) {
		return StatusCorruptPayloadHeader
	}
	return nil
}

// Within reports whether [offset, offset+length) lies inside [0, total).
func Within(offset, length, total uint32) bool {
	return uint64(offset)+uint64(length) <= uint64(total)
}
