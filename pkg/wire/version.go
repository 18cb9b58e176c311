package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// VersionSize is the encoded size of Version.
const VersionSize = 16

// Version is a four component firmware version.
// The zero value means "no version".
type Version struct {
	Major   uint32 `json:"major" yaml:"major"`
	Minor   uint32 `json:"minor" yaml:"minor"`
	Release uint32 `json:"release" yaml:"release"`
	Build   uint32 `json:"build" yaml:"build"`
}

// ParseVersion parses "major.minor.release.build". Trailing components may
// be omitted and default to zero.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 4 || parts[0] == "" {
		return Version{}, fmt.Errorf("invalid version %q: expected major[.minor[.release[.build]]]", s)
	}

	var fields [4]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: component %d: %w", s, i, err)
		}
		fields[i] = uint32(n)
	}
	return Version{Major: fields[0], Minor: fields[1], Release: fields[2], Build: fields[3]}, nil
}

// String returns the version as "major.minor.release.build".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Release, v.Build)
}

// IsZero reports whether v is the "no version" sentinel.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare orders v against o lexicographically by major, minor, release and
// build. It returns -1, 0 or +1.
func (v Version) Compare(o Version) int {
	a := [4]uint32{v.Major, v.Minor, v.Release, v.Build}
	b := [4]uint32{o.Major, o.Minor, o.Release, o.Build}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Newer reports whether v is strictly newer than o.
func (v Version) Newer(o Version) bool {
	return v.Compare(o) > 0
}

// Put writes v into b, which must hold at least VersionSize bytes.
func (v Version) Put(b []byte) {
	binary.BigEndian.PutUint32(b[0:], v.Major)
	binary.BigEndian.PutUint32(b[4:], v.Minor)
	binary.BigEndian.PutUint32(b[8:], v.Release)
	binary.BigEndian.PutUint32(b[12:], v.Build)
}

func decodeVersion(b []byte) Version {
	return Version{
		Major:   binary.BigEndian.Uint32(b[0:]),
		Minor:   binary.BigEndian.Uint32(b[4:]),
		Release: binary.BigEndian.Uint32(b[8:]),
		Build:   binary.BigEndian.Uint32(b[12:]),
	}
}

// DecodeVersion parses a version, e.g. the value of a firmware version
// information response.
func DecodeVersion(b []byte) (Version, error) {
	if err := need(b, VersionSize); err != nil {
		return Version{}, err
	}
	return decodeVersion(b), nil
}
