package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeAccessoryTXT creates the TXT records of an accessory.
func EncodeAccessoryTXT(info *AccessoryInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeySerial: info.Serial}

	if info.Manufacturer != "" {
		txt[TXTKeyManufacturer] = info.Manufacturer
	}
	if info.Model != "" {
		txt[TXTKeyModel] = info.Model
	}
	if info.Hardware != "" {
		txt[TXTKeyHardware] = info.Hardware
	}
	if !info.Firmware.IsZero() {
		txt[TXTKeyFirmware] = info.Firmware.String()
	}
	if info.ProtocolVersion != 0 {
		txt[TXTKeyProtocolVersion] = strconv.FormatUint(uint64(info.ProtocolVersion), 10)
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	return txt
}

// DecodeAccessoryTXT parses the TXT records of an accessory. Unknown keys
// are ignored.
func DecodeAccessoryTXT(txt TXTRecordMap) (*AccessoryInfo, error) {
	info := &AccessoryInfo{}

	var ok bool
	if info.Serial, ok = txt[TXTKeySerial]; !ok || info.Serial == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeySerial)
	}
	info.Manufacturer = txt[TXTKeyManufacturer]
	info.Model = txt[TXTKeyModel]
	info.Hardware = txt[TXTKeyHardware]

	if s, ok := txt[TXTKeyFirmware]; ok {
		v, err := wire.ParseVersion(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTXTRecord, TXTKeyFirmware, err)
		}
		info.Firmware = v
	}
	if s, ok := txt[TXTKeyProtocolVersion]; ok {
		pv, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTXTRecord, TXTKeyProtocolVersion)
		}
		info.ProtocolVersion = uint16(pv)
	}
	info.TLS = txt[TXTKeyTLS] == "1"

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// txtSize is the wire size of the records: one length byte per string.
func txtSize(txt TXTRecordMap) int {
	n := 0
	for k, v := range txt {
		n += 1 + len(k) + 1 + len(v)
	}
	return n
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
