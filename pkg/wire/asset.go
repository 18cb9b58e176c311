package wire

import (
	"fmt"
	"strings"
)

// Reserved asset IDs.
const (
	// AssetIDInvalid is never assigned to an asset.
	AssetIDInvalid uint16 = 0x0000

	// AssetIDAll addresses every asset of a controller (rescind only).
	AssetIDAll uint16 = 0xFFFF
)

// Tag is a four character asset or payload tag. Tags travel on the wire as
// raw bytes and are never byte-swapped.
type Tag [4]byte

// NewTag builds a Tag from a string of at most four characters.
// Shorter strings are padded with spaces.
func NewTag(s string) (Tag, error) {
	if len(s) == 0 || len(s) > 4 {
		return Tag{}, fmt.Errorf("invalid tag %q: must be 1 to 4 bytes", s)
	}
	t := Tag{' ', ' ', ' ', ' '}
	copy(t[:], s)
	return t, nil
}

// MustTag is like NewTag but panics on error. Intended for constants.
func MustTag(s string) Tag {
	t, err := NewTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the tag as text, with non-printable bytes escaped.
func (t Tag) String() string {
	for _, c := range t {
		if c < 0x20 || c > 0x7E {
			return fmt.Sprintf("0x%02X%02X%02X%02X", t[0], t[1], t[2], t[3])
		}
	}
	return strings.TrimRight(string(t[:]), " ")
}

// IsZero reports whether the tag is unset.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

// AssetFlags describes the kind of an offered asset.
type AssetFlags uint16

const (
	// AssetFlagSuperBinary marks a multi-payload SuperBinary asset.
	AssetFlagSuperBinary AssetFlags = 0x0001

	// AssetFlagDynamic marks a dynamic asset requested by the accessory.
	AssetFlagDynamic AssetFlags = 0x0002
)

// String returns the flag name.
func (f AssetFlags) String() string {
	switch f {
	case AssetFlagSuperBinary:
		return "SUPERBINARY"
	case AssetFlagDynamic:
		return "DYNAMIC"
	default:
		return fmt.Sprintf("AssetFlags(0x%04X)", uint16(f))
	}
}

// Valid reports whether exactly one asset kind is set.
func (f AssetFlags) Valid() bool {
	return f == AssetFlagSuperBinary || f == AssetFlagDynamic
}

// AssetCore is the identity of an asset as offered by a controller.
type AssetCore struct {
	ID          uint16
	Tag         Tag
	Flags       AssetFlags
	Version     Version
	Length      uint32
	NumPayloads uint16
}

// Equal reports whether a and o describe the same asset content, making
// them candidates for a merge. IDs are peer scoped and versions are
// compared separately, so neither takes part.
func (a AssetCore) Equal(o AssetCore) bool {
	return a.Flags == o.Flags &&
		a.Tag == o.Tag &&
		a.Length == o.Length &&
		a.NumPayloads == o.NumPayloads
}

// Compare orders a against o by version.
func (a AssetCore) Compare(o AssetCore) int {
	return a.Version.Compare(o.Version)
}

// Validate checks the fields a controller must get right in an offer.
func (a AssetCore) Validate() error {
	if a.ID == AssetIDInvalid || a.ID == AssetIDAll {
		return StatusInvalidAssetID
	}
	if !a.Flags.Valid() {
		return StatusInvalidAssetFlags
	}
	if a.Length == 0 {
		return StatusInvalidAssetLength
	}
	if a.Flags == AssetFlagSuperBinary && a.Length < SuperBinaryHeaderSize {
		return StatusInvalidAssetLength
	}
	return nil
}

// String returns a short description used in logs.
func (a AssetCore) String() string {
	return fmt.Sprintf("%s#%d v%s len=%d payloads=%d", a.Tag, a.ID, a.Version, a.Length, a.NumPayloads)
}
