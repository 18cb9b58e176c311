package wire

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies the payload layout following a Header.
type MessageType uint16

// Message types.
const (
	MsgSync                             MessageType = 0x0000
	MsgVersionDiscoveryRequest          MessageType = 0x0001
	MsgVersionDiscoveryResponse         MessageType = 0x0002
	MsgAccessoryInformationRequest      MessageType = 0x0003
	MsgAccessoryInformationResponse     MessageType = 0x0004
	MsgAssetAvailableNotification       MessageType = 0x0005
	MsgAssetDataRequest                 MessageType = 0x0006
	MsgAssetDataResponse                MessageType = 0x0007
	MsgAssetDataTransferNotification    MessageType = 0x0008
	MsgAssetProcessingNotification      MessageType = 0x0009
	MsgApplyStagedAssetsRequest         MessageType = 0x000A
	MsgApplyStagedAssetsResponse        MessageType = 0x000B
	MsgAssetRescindedNotification       MessageType = 0x000C
	MsgAssetAvailableNotificationAck    MessageType = 0x000D
	MsgAssetDataTransferNotificationAck MessageType = 0x000E
	MsgAssetProcessingNotificationAck   MessageType = 0x000F
	MsgAssetRescindedNotificationAck    MessageType = 0x0010
	MsgDynamicAssetSolicitation         MessageType = 0x0011
	MsgDynamicAssetSolicitationAck      MessageType = 0x0012
	MsgVendorSpecific                   MessageType = 0xFFFF
)

var messageTypeNames = map[MessageType]string{
	MsgSync:                             "Sync",
	MsgVersionDiscoveryRequest:          "VersionDiscoveryRequest",
	MsgVersionDiscoveryResponse:         "VersionDiscoveryResponse",
	MsgAccessoryInformationRequest:      "AccessoryInformationRequest",
	MsgAccessoryInformationResponse:     "AccessoryInformationResponse",
	MsgAssetAvailableNotification:       "AssetAvailableNotification",
	MsgAssetDataRequest:                 "AssetDataRequest",
	MsgAssetDataResponse:                "AssetDataResponse",
	MsgAssetDataTransferNotification:    "AssetDataTransferNotification",
	MsgAssetProcessingNotification:      "AssetProcessingNotification",
	MsgApplyStagedAssetsRequest:         "ApplyStagedAssetsRequest",
	MsgApplyStagedAssetsResponse:        "ApplyStagedAssetsResponse",
	MsgAssetRescindedNotification:       "AssetRescindedNotification",
	MsgAssetAvailableNotificationAck:    "AssetAvailableNotificationAck",
	MsgAssetDataTransferNotificationAck: "AssetDataTransferNotificationAck",
	MsgAssetProcessingNotificationAck:   "AssetProcessingNotificationAck",
	MsgAssetRescindedNotificationAck:    "AssetRescindedNotificationAck",
	MsgDynamicAssetSolicitation:         "DynamicAssetSolicitation",
	MsgDynamicAssetSolicitationAck:      "DynamicAssetSolicitationAck",
	MsgVendorSpecific:                   "VendorSpecific",
}

// String returns the message type name.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%04X)", uint16(t))
}

// HeaderSize is the encoded size of Header.
const HeaderSize = 6

// Header is the fixed prefix of every message.
type Header struct {
	Type          MessageType
	PayloadLength uint16
	MessageID     uint16
}

// DecodeHeader parses the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, StatusInvalidLength
	}
	return Header{
		Type:          MessageType(binary.BigEndian.Uint16(b[0:])),
		PayloadLength: binary.BigEndian.Uint16(b[2:]),
		MessageID:     binary.BigEndian.Uint16(b[4:]),
	}, nil
}

// Put writes h into b, which must hold at least HeaderSize bytes.
func (h Header) Put(b []byte) {
	binary.BigEndian.PutUint16(b[0:], uint16(h.Type))
	binary.BigEndian.PutUint16(b[2:], h.PayloadLength)
	binary.BigEndian.PutUint16(b[4:], h.MessageID)
}

// PutMessageID overwrites the message ID of an encoded header.
func PutMessageID(b []byte, id uint16) {
	binary.BigEndian.PutUint16(b[4:], id)
}

// Payload returns the payload bytes of a complete message.
func Payload(msg []byte) []byte {
	if len(msg) < HeaderSize {
		return nil
	}
	return msg[HeaderSize:]
}

// NewMessage allocates a message of type typ with a zeroed payload of n bytes.
// Callers encode the payload into msg[HeaderSize:].
func NewMessage(typ MessageType, id uint16, n int) []byte {
	msg := make([]byte, HeaderSize+n)
	Header{Type: typ, PayloadLength: uint16(n), MessageID: id}.Put(msg)
	return msg
}
