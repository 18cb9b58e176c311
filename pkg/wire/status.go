package wire

import (
	"errors"
	"fmt"
)

// Status represents a protocol status code.
//
// Status values are returned internally by the engine and echoed to the
// peer in responses that carry a status field. A non-zero Status is usable
// as an error.
type Status uint16

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0x0000

	// Message layer.
	StatusInvalidLength              Status = 0x0001
	StatusUnknownMessageType         Status = 0x0002
	StatusDuplicateMessageID         Status = 0x0003
	StatusOutOfOrderMessageID        Status = 0x0004
	StatusInvalidArguments           Status = 0x0005
	StatusInvalidProtocolVersion     Status = 0x0006
	StatusUnsupportedProtocolVersion Status = 0x0007
	StatusInvalidMessage             Status = 0x0008

	// Resources.
	StatusNoResources      Status = 0x0010
	StatusBufferTooLarge   Status = 0x0011
	StatusTransmitFailed   Status = 0x0012
	StatusTimerUnavailable Status = 0x0013
	StatusMetaDataTooLarge Status = 0x0014

	// Controllers.
	StatusUnknownController   Status = 0x0020
	StatusDuplicateController Status = 0x0021
	StatusControllerPaused    Status = 0x0022

	// Assets.
	StatusUnknownAsset           Status = 0x0030
	StatusInvalidAssetID         Status = 0x0031
	StatusInvalidAssetFlags      Status = 0x0032
	StatusInvalidAssetLength     Status = 0x0033
	StatusAssetInFlight          Status = 0x0034
	StatusNoActiveAsset          Status = 0x0035
	StatusAssetNotAccepted       Status = 0x0036
	StatusAssetAlreadyAccepted   Status = 0x0037
	StatusAssetPendingRelease    Status = 0x0038
	StatusAssetOrphaned          Status = 0x0039
	StatusAssetAlreadyPaused     Status = 0x003A
	StatusAssetNotPaused         Status = 0x003B
	StatusAssetNotReady          Status = 0x003C
	StatusAssetStagingIncomplete Status = 0x003D
	StatusAssetDenied            Status = 0x003E

	// SuperBinary and payload structure.
	StatusCorruptSuperBinary       Status = 0x0040
	StatusInvalidSuperBinaryFormat Status = 0x0041
	StatusCorruptPayloadHeader     Status = 0x0042
	StatusMetaDataCorrupt          Status = 0x0043
	StatusInvalidPayloadIndex      Status = 0x0044
	StatusInvalidPayloadOffset     Status = 0x0045
	StatusPayloadNotSelected       Status = 0x0046
	StatusPayloadWindowFull        Status = 0x0047

	// Data transfer.
	StatusRequestInFlight                 Status = 0x0050
	StatusNoRequestInFlight               Status = 0x0051
	StatusInvalidDataRequestOffset        Status = 0x0052
	StatusInvalidDataRequestLength        Status = 0x0053
	StatusInvalidDataResponse             Status = 0x0054
	StatusMismatchedDataResponse          Status = 0x0055
	StatusDataResponseFailed              Status = 0x0056
	StatusInvalidDataTransferNotification Status = 0x0057
	StatusDataTransferPaused              Status = 0x0058

	// Accessory level.
	StatusInvalidInformationOption Status = 0x0060
	StatusUnsupportedDynamicAsset  Status = 0x0061
	StatusUnsupportedVendorMessage Status = 0x0062
	StatusApplyRefused             Status = 0x0063
)

var statusNames = map[Status]string{
	StatusSuccess:                         "SUCCESS",
	StatusInvalidLength:                   "INVALID_LENGTH",
	StatusUnknownMessageType:              "UNKNOWN_MESSAGE_TYPE",
	StatusDuplicateMessageID:              "DUPLICATE_MESSAGE_ID",
	StatusOutOfOrderMessageID:             "OUT_OF_ORDER_MESSAGE_ID",
	StatusInvalidArguments:                "INVALID_ARGUMENTS",
	StatusInvalidProtocolVersion:          "INVALID_PROTOCOL_VERSION",
	StatusUnsupportedProtocolVersion:      "UNSUPPORTED_PROTOCOL_VERSION",
	StatusInvalidMessage:                  "INVALID_MESSAGE",
	StatusNoResources:                     "NO_RESOURCES",
	StatusBufferTooLarge:                  "BUFFER_TOO_LARGE",
	StatusTransmitFailed:                  "TRANSMIT_FAILED",
	StatusTimerUnavailable:                "TIMER_UNAVAILABLE",
	StatusMetaDataTooLarge:                "METADATA_TOO_LARGE",
	StatusUnknownController:               "UNKNOWN_CONTROLLER",
	StatusDuplicateController:             "DUPLICATE_CONTROLLER",
	StatusControllerPaused:                "CONTROLLER_PAUSED",
	StatusUnknownAsset:                    "UNKNOWN_ASSET",
	StatusInvalidAssetID:                  "INVALID_ASSET_ID",
	StatusInvalidAssetFlags:               "INVALID_ASSET_FLAGS",
	StatusInvalidAssetLength:              "INVALID_ASSET_LENGTH",
	StatusAssetInFlight:                   "ASSET_IN_FLIGHT",
	StatusNoActiveAsset:                   "NO_ACTIVE_ASSET",
	StatusAssetNotAccepted:                "ASSET_NOT_ACCEPTED",
	StatusAssetAlreadyAccepted:            "ASSET_ALREADY_ACCEPTED",
	StatusAssetPendingRelease:             "ASSET_PENDING_RELEASE",
	StatusAssetOrphaned:                   "ASSET_ORPHANED",
	StatusAssetAlreadyPaused:              "ASSET_ALREADY_PAUSED",
	StatusAssetNotPaused:                  "ASSET_NOT_PAUSED",
	StatusAssetNotReady:                   "ASSET_NOT_READY",
	StatusAssetStagingIncomplete:          "ASSET_STAGING_INCOMPLETE",
	StatusAssetDenied:                     "ASSET_DENIED",
	StatusCorruptSuperBinary:              "CORRUPT_SUPERBINARY",
	StatusInvalidSuperBinaryFormat:        "INVALID_SUPERBINARY_FORMAT",
	StatusCorruptPayloadHeader:            "CORRUPT_PAYLOAD_HEADER",
	StatusMetaDataCorrupt:                 "METADATA_CORRUPT",
	StatusInvalidPayloadIndex:             "INVALID_PAYLOAD_INDEX",
	StatusInvalidPayloadOffset:            "INVALID_PAYLOAD_OFFSET",
	StatusPayloadNotSelected:              "PAYLOAD_NOT_SELECTED",
	StatusPayloadWindowFull:               "PAYLOAD_WINDOW_FULL",
	StatusRequestInFlight:                 "REQUEST_IN_FLIGHT",
	StatusNoRequestInFlight:               "NO_REQUEST_IN_FLIGHT",
	StatusInvalidDataRequestOffset:        "INVALID_DATA_REQUEST_OFFSET",
	StatusInvalidDataRequestLength:        "INVALID_DATA_REQUEST_LENGTH",
	StatusInvalidDataResponse:             "INVALID_DATA_RESPONSE",
	StatusMismatchedDataResponse:          "MISMATCHED_DATA_RESPONSE",
	StatusDataResponseFailed:              "DATA_RESPONSE_FAILED",
	StatusInvalidDataTransferNotification: "INVALID_DATA_TRANSFER_NOTIFICATION",
	StatusDataTransferPaused:              "DATA_TRANSFER_PAUSED",
	StatusInvalidInformationOption:        "INVALID_INFORMATION_OPTION",
	StatusUnsupportedDynamicAsset:         "UNSUPPORTED_DYNAMIC_ASSET",
	StatusUnsupportedVendorMessage:        "UNSUPPORTED_VENDOR_MESSAGE",
	StatusApplyRefused:                    "APPLY_REFUSED",
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(s))
}

// Error implements error so a failing Status can be returned directly.
func (s Status) Error() string {
	return "uarp: " + s.String()
}

// Err returns nil for StatusSuccess and s otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

// StatusOf extracts the Status carried by err.
// A nil error maps to StatusSuccess and a foreign error to StatusInvalidArguments.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusInvalidArguments
}
