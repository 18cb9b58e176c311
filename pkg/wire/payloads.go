package wire

import "encoding/binary"

var be = binary.BigEndian

// Encoded payload sizes. Variable length payloads list their fixed part.
const (
	VersionDiscoveryRequestSize          = 2
	VersionDiscoveryResponseSize         = 4
	AccessoryInformationRequestSize      = 4
	AccessoryInformationResponseSize     = 2 + TLVHeaderSize
	AssetAvailableNotificationSize       = 4 + 2 + 2 + VersionSize + 4 + 2
	AssetAvailableNotificationAckSize    = 2
	AssetDataRequestSize                 = 8
	AssetDataResponseSize                = 12
	AssetDataTransferNotificationSize    = 2
	AssetDataTransferNotificationAckSize = 0
	AssetProcessingNotificationSize      = 4
	AssetProcessingNotificationAckSize   = 2
	ApplyStagedAssetsRequestSize         = 0
	ApplyStagedAssetsResponseSize        = 2
	AssetRescindedNotificationSize       = 2
	AssetRescindedNotificationAckSize    = 2
	DynamicAssetSolicitationSize         = 4
	DynamicAssetSolicitationAckSize      = 6
	VendorSpecificSize                   = 5
)

func need(b []byte, n int) error {
	if len(b) < n {
		return StatusInvalidLength
	}
	return nil
}

// VersionDiscoveryRequest asks the accessory for its protocol version.
type VersionDiscoveryRequest struct {
	ProtocolVersion uint16
}

// Put encodes r into b.
func (r VersionDiscoveryRequest) Put(b []byte) {
	be.PutUint16(b[0:], r.ProtocolVersion)
}

// DecodeVersionDiscoveryRequest parses a VersionDiscoveryRequest payload.
func DecodeVersionDiscoveryRequest(b []byte) (VersionDiscoveryRequest, error) {
	if err := need(b, VersionDiscoveryRequestSize); err != nil {
		return VersionDiscoveryRequest{}, err
	}
	return VersionDiscoveryRequest{ProtocolVersion: be.Uint16(b)}, nil
}

// VersionDiscoveryResponse carries the selected protocol version.
type VersionDiscoveryResponse struct {
	Status          Status
	ProtocolVersion uint16
}

// Put encodes r into b.
func (r VersionDiscoveryResponse) Put(b []byte) {
	be.PutUint16(b[0:], uint16(r.Status))
	be.PutUint16(b[2:], r.ProtocolVersion)
}

// DecodeVersionDiscoveryResponse parses a VersionDiscoveryResponse payload.
func DecodeVersionDiscoveryResponse(b []byte) (VersionDiscoveryResponse, error) {
	if err := need(b, VersionDiscoveryResponseSize); err != nil {
		return VersionDiscoveryResponse{}, err
	}
	return VersionDiscoveryResponse{
		Status:          Status(be.Uint16(b[0:])),
		ProtocolVersion: be.Uint16(b[2:]),
	}, nil
}

// InfoOption selects the accessory property returned by an
// AccessoryInformationRequest.
type InfoOption uint32

// Accessory information options.
const (
	InfoManufacturerName      InfoOption = 1
	InfoModelName             InfoOption = 2
	InfoSerialNumber          InfoOption = 3
	InfoHardwareVersion       InfoOption = 4
	InfoActiveFirmwareVersion InfoOption = 5
	InfoStagedFirmwareVersion InfoOption = 6
	InfoStatistics            InfoOption = 7
	InfoLastError             InfoOption = 8
)

// String returns the option name.
func (o InfoOption) String() string {
	switch o {
	case InfoManufacturerName:
		return "manufacturer"
	case InfoModelName:
		return "model"
	case InfoSerialNumber:
		return "serial"
	case InfoHardwareVersion:
		return "hardware-version"
	case InfoActiveFirmwareVersion:
		return "active-firmware"
	case InfoStagedFirmwareVersion:
		return "staged-firmware"
	case InfoStatistics:
		return "statistics"
	case InfoLastError:
		return "last-error"
	default:
		return "unknown"
	}
}

// AccessoryInformationRequest asks for one accessory property.
type AccessoryInformationRequest struct {
	Option InfoOption
}

// Put encodes r into b.
func (r AccessoryInformationRequest) Put(b []byte) {
	be.PutUint32(b, uint32(r.Option))
}

// DecodeAccessoryInformationRequest parses an AccessoryInformationRequest payload.
func DecodeAccessoryInformationRequest(b []byte) (AccessoryInformationRequest, error) {
	if err := need(b, AccessoryInformationRequestSize); err != nil {
		return AccessoryInformationRequest{}, err
	}
	return AccessoryInformationRequest{Option: InfoOption(be.Uint32(b))}, nil
}

// AccessoryInformationResponse returns one property as a TLV record whose
// type is the requested option.
type AccessoryInformationResponse struct {
	Status Status
	Option InfoOption
	Value  []byte
}

// Put encodes r into b, which must hold AccessoryInformationResponseSize+len(r.Value) bytes.
func (r AccessoryInformationResponse) Put(b []byte) {
	be.PutUint16(b[0:], uint16(r.Status))
	PutTLV(b[2:], uint32(r.Option), r.Value)
}

// DecodeAccessoryInformationResponse parses an AccessoryInformationResponse payload.
// Value aliases b.
func DecodeAccessoryInformationResponse(b []byte) (AccessoryInformationResponse, error) {
	if err := need(b, AccessoryInformationResponseSize); err != nil {
		return AccessoryInformationResponse{}, err
	}
	t, v, _, err := NextTLV(b[2:])
	if err != nil {
		return AccessoryInformationResponse{}, err
	}
	return AccessoryInformationResponse{
		Status: Status(be.Uint16(b[0:])),
		Option: InfoOption(t),
		Value:  v,
	}, nil
}

// AssetAvailableNotification offers an asset to the accessory.
type AssetAvailableNotification struct {
	Core AssetCore
}

// Put encodes n into b.
func (n AssetAvailableNotification) Put(b []byte) {
	copy(b[0:4], n.Core.Tag[:])
	be.PutUint16(b[4:], uint16(n.Core.Flags))
	be.PutUint16(b[6:], n.Core.ID)
	n.Core.Version.Put(b[8:])
	be.PutUint32(b[24:], n.Core.Length)
	be.PutUint16(b[28:], n.Core.NumPayloads)
}

// DecodeAssetAvailableNotification parses an AssetAvailableNotification payload.
func DecodeAssetAvailableNotification(b []byte) (AssetAvailableNotification, error) {
	if err := need(b, AssetAvailableNotificationSize); err != nil {
		return AssetAvailableNotification{}, err
	}
	var c AssetCore
	copy(c.Tag[:], b[0:4])
	c.Flags = AssetFlags(be.Uint16(b[4:]))
	c.ID = be.Uint16(b[6:])
	c.Version = decodeVersion(b[8:])
	c.Length = be.Uint32(b[24:])
	c.NumPayloads = be.Uint16(b[28:])
	return AssetAvailableNotification{Core: c}, nil
}

// AssetIDPayload is the body shared by the acknowledgements and
// notifications that carry nothing but an asset ID.
type AssetIDPayload struct {
	AssetID uint16
}

// Put encodes p into b.
func (p AssetIDPayload) Put(b []byte) {
	be.PutUint16(b, p.AssetID)
}

// DecodeAssetIDPayload parses a payload holding a single asset ID.
func DecodeAssetIDPayload(b []byte) (AssetIDPayload, error) {
	if err := need(b, 2); err != nil {
		return AssetIDPayload{}, err
	}
	return AssetIDPayload{AssetID: be.Uint16(b)}, nil
}

// AssetDataRequest asks the controller for a byte range of an asset.
type AssetDataRequest struct {
	AssetID  uint16
	Offset   uint32
	NumBytes uint16
}

// Put encodes r into b.
func (r AssetDataRequest) Put(b []byte) {
	be.PutUint16(b[0:], r.AssetID)
	be.PutUint32(b[2:], r.Offset)
	be.PutUint16(b[6:], r.NumBytes)
}

// DecodeAssetDataRequest parses an AssetDataRequest payload.
func DecodeAssetDataRequest(b []byte) (AssetDataRequest, error) {
	if err := need(b, AssetDataRequestSize); err != nil {
		return AssetDataRequest{}, err
	}
	return AssetDataRequest{
		AssetID:  be.Uint16(b[0:]),
		Offset:   be.Uint32(b[2:]),
		NumBytes: be.Uint16(b[6:]),
	}, nil
}

// AssetDataResponse returns the bytes of an AssetDataRequest.
// NumBytesResponded may be smaller than NumBytesRequested.
type AssetDataResponse struct {
	Status            Status
	AssetID           uint16
	Offset            uint32
	NumBytesRequested uint16
	NumBytesResponded uint16
	Data              []byte
}

// Put encodes r into b, which must hold AssetDataResponseSize+len(r.Data) bytes.
func (r AssetDataResponse) Put(b []byte) {
	be.PutUint16(b[0:], uint16(r.Status))
	be.PutUint16(b[2:], r.AssetID)
	be.PutUint32(b[4:], r.Offset)
	be.PutUint16(b[8:], r.NumBytesRequested)
	be.PutUint16(b[10:], r.NumBytesResponded)
	copy(b[AssetDataResponseSize:], r.Data)
}

// DecodeAssetDataResponse parses an AssetDataResponse payload.
// Data aliases b and holds whatever follows the fixed fields.
func DecodeAssetDataResponse(b []byte) (AssetDataResponse, error) {
	if err := need(b, AssetDataResponseSize); err != nil {
		return AssetDataResponse{}, err
	}
	return AssetDataResponse{
		Status:            Status(be.Uint16(b[0:])),
		AssetID:           be.Uint16(b[2:]),
		Offset:            be.Uint32(b[4:]),
		NumBytesRequested: be.Uint16(b[8:]),
		NumBytesResponded: be.Uint16(b[10:]),
		Data:              b[AssetDataResponseSize:],
	}, nil
}

// TransferFlags carries a controller's pause or resume request.
type TransferFlags uint16

const (
	TransferPause  TransferFlags = 0x0001
	TransferResume TransferFlags = 0x0002
)

// String returns the flag name.
func (f TransferFlags) String() string {
	switch f {
	case TransferPause:
		return "PAUSE"
	case TransferResume:
		return "RESUME"
	default:
		return "INVALID"
	}
}

// AssetDataTransferNotification pauses or resumes data requests.
type AssetDataTransferNotification struct {
	Flags TransferFlags
}

// Put encodes n into b.
func (n AssetDataTransferNotification) Put(b []byte) {
	be.PutUint16(b, uint16(n.Flags))
}

// DecodeAssetDataTransferNotification parses an AssetDataTransferNotification payload.
func DecodeAssetDataTransferNotification(b []byte) (AssetDataTransferNotification, error) {
	if err := need(b, AssetDataTransferNotificationSize); err != nil {
		return AssetDataTransferNotification{}, err
	}
	return AssetDataTransferNotification{Flags: TransferFlags(be.Uint16(b))}, nil
}

// ProcessingFlags reports the outcome of an asset to the controller.
type ProcessingFlags uint16

const (
	ProcessingUploadComplete ProcessingFlags = 0x0001
	ProcessingDenied         ProcessingFlags = 0x0002
	ProcessingAbandoned      ProcessingFlags = 0x0003
	ProcessingCorrupt        ProcessingFlags = 0x0004
)

// String returns the flag name.
func (f ProcessingFlags) String() string {
	switch f {
	case ProcessingUploadComplete:
		return "UPLOAD_COMPLETE"
	case ProcessingDenied:
		return "DENIED"
	case ProcessingAbandoned:
		return "ABANDONED"
	case ProcessingCorrupt:
		return "CORRUPT"
	default:
		return "UNKNOWN"
	}
}

// AssetProcessingNotification reports an asset outcome to the controller.
type AssetProcessingNotification struct {
	AssetID uint16
	Flags   ProcessingFlags
}

// Put encodes n into b.
func (n AssetProcessingNotification) Put(b []byte) {
	be.PutUint16(b[0:], n.AssetID)
	be.PutUint16(b[2:], uint16(n.Flags))
}

// DecodeAssetProcessingNotification parses an AssetProcessingNotification payload.
func DecodeAssetProcessingNotification(b []byte) (AssetProcessingNotification, error) {
	if err := need(b, AssetProcessingNotificationSize); err != nil {
		return AssetProcessingNotification{}, err
	}
	return AssetProcessingNotification{
		AssetID: be.Uint16(b[0:]),
		Flags:   ProcessingFlags(be.Uint16(b[2:])),
	}, nil
}

// ApplyFlags is the accessory's answer to an ApplyStagedAssetsRequest.
type ApplyFlags uint16

const (
	ApplySuccess       ApplyFlags = 0x0001
	ApplyFailure       ApplyFlags = 0x0002
	ApplyNeedsRestart  ApplyFlags = 0x0003
	ApplyNothingStaged ApplyFlags = 0x0004
	ApplyMidUpload     ApplyFlags = 0x0005
	ApplyInUse         ApplyFlags = 0x0006
)

// String returns the flag name.
func (f ApplyFlags) String() string {
	switch f {
	case ApplySuccess:
		return "SUCCESS"
	case ApplyFailure:
		return "FAILURE"
	case ApplyNeedsRestart:
		return "NEEDS_RESTART"
	case ApplyNothingStaged:
		return "NOTHING_STAGED"
	case ApplyMidUpload:
		return "MID_UPLOAD"
	case ApplyInUse:
		return "IN_USE"
	default:
		return "UNKNOWN"
	}
}

// ApplyStagedAssetsResponse answers an ApplyStagedAssetsRequest.
type ApplyStagedAssetsResponse struct {
	Flags ApplyFlags
}

// Put encodes r into b.
func (r ApplyStagedAssetsResponse) Put(b []byte) {
	be.PutUint16(b, uint16(r.Flags))
}

// DecodeApplyStagedAssetsResponse parses an ApplyStagedAssetsResponse payload.
func DecodeApplyStagedAssetsResponse(b []byte) (ApplyStagedAssetsResponse, error) {
	if err := need(b, ApplyStagedAssetsResponseSize); err != nil {
		return ApplyStagedAssetsResponse{}, err
	}
	return ApplyStagedAssetsResponse{Flags: ApplyFlags(be.Uint16(b))}, nil
}

// DynamicAssetSolicitation asks the accessory to offer a dynamic asset.
type DynamicAssetSolicitation struct {
	Tag Tag
}

// Put encodes s into b.
func (s DynamicAssetSolicitation) Put(b []byte) {
	copy(b[0:4], s.Tag[:])
}

// DecodeDynamicAssetSolicitation parses a DynamicAssetSolicitation payload.
func DecodeDynamicAssetSolicitation(b []byte) (DynamicAssetSolicitation, error) {
	if err := need(b, DynamicAssetSolicitationSize); err != nil {
		return DynamicAssetSolicitation{}, err
	}
	var s DynamicAssetSolicitation
	copy(s.Tag[:], b[0:4])
	return s, nil
}

// DynamicAssetSolicitationAck answers a DynamicAssetSolicitation.
type DynamicAssetSolicitationAck struct {
	Tag    Tag
	Status Status
}

// Put encodes a into b.
func (a DynamicAssetSolicitationAck) Put(b []byte) {
	copy(b[0:4], a.Tag[:])
	be.PutUint16(b[4:], uint16(a.Status))
}

// DecodeDynamicAssetSolicitationAck parses a DynamicAssetSolicitationAck payload.
func DecodeDynamicAssetSolicitationAck(b []byte) (DynamicAssetSolicitationAck, error) {
	if err := need(b, DynamicAssetSolicitationAckSize); err != nil {
		return DynamicAssetSolicitationAck{}, err
	}
	var a DynamicAssetSolicitationAck
	copy(a.Tag[:], b[0:4])
	a.Status = Status(be.Uint16(b[4:]))
	return a, nil
}

// OUI is an IEEE organizationally unique identifier.
type OUI [3]byte

// VendorSpecific carries an opaque vendor message.
type VendorSpecific struct {
	OUI  OUI
	Type uint16
	Data []byte
}

// Put encodes v into b, which must hold VendorSpecificSize+len(v.Data) bytes.
func (v VendorSpecific) Put(b []byte) {
	copy(b[0:3], v.OUI[:])
	be.PutUint16(b[3:], v.Type)
	copy(b[VendorSpecificSize:], v.Data)
}

// DecodeVendorSpecific parses a VendorSpecific payload. Data aliases b.
func DecodeVendorSpecific(b []byte) (VendorSpecific, error) {
	if err := need(b, VendorSpecificSize); err != nil {
		return VendorSpecific{}, err
	}
	var v VendorSpecific
	copy(v.OUI[:], b[0:3])
	v.Type = be.Uint16(b[3:])
	v.Data = b[VendorSpecificSize:]
	return v, nil
}
