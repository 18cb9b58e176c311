package peer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// DiscoverVersion announces the configured protocol version and returns
// the one the accessory selected.
func (s *Session) DiscoverVersion(ctx context.Context) (uint16, error) {
	req := wire.VersionDiscoveryRequest{ProtocolVersion: s.cfg.ProtocolVersion}
	p, err := s.request(ctx, pendingKey{typ: wire.MsgVersionDiscoveryResponse},
		wire.MsgVersionDiscoveryRequest, wire.VersionDiscoveryRequestSize, req.Put)
	if err != nil {
		return 0, err
	}
	resp, err := wire.DecodeVersionDiscoveryResponse(p)
	if err != nil {
		return 0, err
	}
	if resp.Status != wire.StatusSuccess {
		return 0, resp.Status
	}

	s.mu.Lock()
	s.protocolVersion = resp.ProtocolVersion
	s.mu.Unlock()
	s.debugLog("protocol version selected", "version", resp.ProtocolVersion)
	return resp.ProtocolVersion, nil
}

// Info requests one accessory property and returns its raw value.
func (s *Session) Info(ctx context.Context, opt wire.InfoOption) ([]byte, error) {
	req := wire.AccessoryInformationRequest{Option: opt}
	p, err := s.request(ctx, pendingKey{typ: wire.MsgAccessoryInformationResponse, id: uint32(opt)},
		wire.MsgAccessoryInformationRequest, wire.AccessoryInformationRequestSize, req.Put)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeAccessoryInformationResponse(p)
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusSuccess {
		return nil, fmt.Errorf("%s: %w", opt, resp.Status)
	}
	return resp.Value, nil
}

// AccessoryInfo is everything an accessory reports about itself.
type AccessoryInfo struct {
	Manufacturer   string
	Model          string
	Serial         string
	Hardware       string
	ActiveFirmware wire.Version
	StagedFirmware wire.Version
	LastError      accessory.LastError

	// Stats is the accessory's view of this controller's link.
	Stats accessory.ControllerStats
}

// AccessoryInfo reads every information option in turn.
func (s *Session) AccessoryInfo(ctx context.Context) (*AccessoryInfo, error) {
	info := &AccessoryInfo{}

	text := []struct {
		opt wire.InfoOption
		dst *string
	}{
		{wire.InfoManufacturerName, &info.Manufacturer},
		{wire.InfoModelName, &info.Model},
		{wire.InfoSerialNumber, &info.Serial},
		{wire.InfoHardwareVersion, &info.Hardware},
	}
	for _, f := range text {
		v, err := s.Info(ctx, f.opt)
		if err != nil {
			return nil, err
		}
		*f.dst = string(v)
	}

	versions := []struct {
		opt wire.InfoOption
		dst *wire.Version
	}{
		{wire.InfoActiveFirmwareVersion, &info.ActiveFirmware},
		{wire.InfoStagedFirmwareVersion, &info.StagedFirmware},
	}
	for _, f := range versions {
		v, err := s.Info(ctx, f.opt)
		if err != nil {
			return nil, err
		}
		if *f.dst, err = wire.DecodeVersion(v); err != nil {
			return nil, fmt.Errorf("%s: %w", f.opt, err)
		}
	}

	v, err := s.Info(ctx, wire.InfoLastError)
	if err != nil {
		return nil, err
	}
	if len(v) < 8 {
		return nil, fmt.Errorf("%s: %w", wire.InfoLastError, wire.StatusInvalidLength)
	}
	info.LastError = accessory.LastError{
		Action: binary.BigEndian.Uint32(v[0:]),
		Status: binary.BigEndian.Uint32(v[4:]),
	}

	if v, err = s.Info(ctx, wire.InfoStatistics); err != nil {
		return nil, err
	}
	if info.Stats, err = accessory.DecodeControllerStats(v); err != nil {
		return nil, fmt.Errorf("%s: %w", wire.InfoStatistics, err)
	}
	return info, nil
}

// Apply asks the accessory to apply its staged assets.
func (s *Session) Apply(ctx context.Context) (wire.ApplyFlags, error) {
	p, err := s.request(ctx, pendingKey{typ: wire.MsgApplyStagedAssetsResponse},
		wire.MsgApplyStagedAssetsRequest, wire.ApplyStagedAssetsRequestSize, nil)
	if err != nil {
		return 0, err
	}
	resp, err := wire.DecodeApplyStagedAssetsResponse(p)
	if err != nil {
		return 0, err
	}
	return resp.Flags, nil
}

// PauseTransfers stops the accessory from requesting data.
func (s *Session) PauseTransfers(ctx context.Context) error {
	return s.transferNotification(ctx, wire.TransferPause)
}

// ResumeTransfers lets the accessory request data again.
func (s *Session) ResumeTransfers(ctx context.Context) error {
	return s.transferNotification(ctx, wire.TransferResume)
}

func (s *Session) transferNotification(ctx context.Context, flags wire.TransferFlags) error {
	n := wire.AssetDataTransferNotification{Flags: flags}
	_, err := s.request(ctx, pendingKey{typ: wire.MsgAssetDataTransferNotificationAck},
		wire.MsgAssetDataTransferNotification, wire.AssetDataTransferNotificationSize, n.Put)
	return err
}

// Rescind withdraws an offered asset. wire.AssetIDAll withdraws every
// asset of this session.
func (s *Session) Rescind(ctx context.Context, assetID uint16) error {
	n := wire.AssetIDPayload{AssetID: assetID}
	_, err := s.request(ctx, pendingKey{typ: wire.MsgAssetRescindedNotificationAck, id: uint32(assetID)},
		wire.MsgAssetRescindedNotification, wire.AssetRescindedNotificationSize, n.Put)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var rescinded []*Transfer
	for id, t := range s.transfers {
		if assetID == wire.AssetIDAll || id == assetID {
			rescinded = append(rescinded, t)
			delete(s.transfers, id)
		}
	}
	s.mu.Unlock()

	for _, t := range rescinded {
		t.fail(ErrTransferRescinded)
	}
	return nil
}

// Solicit asks the accessory to accept a dynamic asset and returns the
// status it answered with.
func (s *Session) Solicit(ctx context.Context, tag wire.Tag) (wire.Status, error) {
	req := wire.DynamicAssetSolicitation{Tag: tag}
	p, err := s.request(ctx, pendingKey{typ: wire.MsgDynamicAssetSolicitationAck, id: tagKey(tag)},
		wire.MsgDynamicAssetSolicitation, wire.DynamicAssetSolicitationSize, req.Put)
	if err != nil {
		return 0, err
	}
	ack, err := wire.DecodeDynamicAssetSolicitationAck(p)
	if err != nil {
		return 0, err
	}
	return ack.Status, nil
}

// SendVendorSpecific sends a vendor message. Vendor messages are not
// acknowledged.
func (s *Session) SendVendorSpecific(v wire.VendorSpecific) error {
	return s.send(wire.MsgVendorSpecific, wire.VendorSpecificSize+len(v.Data), v.Put)
}
