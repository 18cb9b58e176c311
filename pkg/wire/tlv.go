package wire

// TLVHeaderSize is the encoded size of a TLV record header.
const TLVHeaderSize = 8

// NextTLV parses the record at the start of b and returns its type, its
// value and the remaining bytes. A record whose declared length runs past
// the end of b yields StatusMetaDataCorrupt. Value aliases b.
func NextTLV(b []byte) (typ uint32, value, rest []byte, err error) {
	if len(b) < TLVHeaderSize {
		return 0, nil, nil, StatusMetaDataCorrupt
	}
	typ = be.Uint32(b[0:])
	n := be.Uint32(b[4:])
	if uint64(n) > uint64(len(b)-TLVHeaderSize) {
		return 0, nil, nil, StatusMetaDataCorrupt
	}
	end := TLVHeaderSize + int(n)
	return typ, b[TLVHeaderSize:end], b[end:], nil
}

// WalkTLVs calls fn for every record in b, in order. It stops at the
// first error returned by fn or at the first malformed record.
func WalkTLVs(b []byte, fn func(typ uint32, value []byte) error) error {
	for len(b) > 0 {
		typ, value, rest, err := NextTLV(b)
		if err != nil {
			return err
		}
		if err := fn(typ, value); err != nil {
			return err
		}
		b = rest
	}
	return nil
}

// PutTLV writes a record into b and returns the number of bytes written.
// b must hold TLVHeaderSize+len(value) bytes.
func PutTLV(b []byte, typ uint32, value []byte) int {
	be.PutUint32(b[0:], typ)
	be.PutUint32(b[4:], uint32(len(value)))
	return TLVHeaderSize + copy(b[TLVHeaderSize:], value)
}

// AppendTLV appends a record to b.
func AppendTLV(b []byte, typ uint32, value []byte) []byte {
	var h [TLVHeaderSize]byte
	be.PutUint32(h[0:], typ)
	be.PutUint32(h[4:], uint32(len(value)))
	b = append(b, h[:]...)
	return append(b, value...)
}
