package service

import (
	"slices"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Status is a snapshot of the accessory.
type Status struct {
	State          ServiceState
	ActiveFirmware wire.Version
	Staged         *persistence.StagedAsset
	LastError      persistence.LastError
	Controllers    []accessory.ControllerInfo
	Assets         []accessory.AssetInfo
	Pending        []Offer
	Links          int
	Pools          []pool.Stats
}

// Status returns a snapshot taken on the event loop.
func (s *AccessoryService) Status() (Status, error) {
	var st Status
	err := s.Do(func(a *accessory.Accessory) {
		st.ActiveFirmware = s.firmware.state.ActiveFirmware
		if staged := s.firmware.state.Staged; staged != nil {
			c := *staged
			c.Payloads = slices.Clone(staged.Payloads)
			st.Staged = &c
		}
		st.LastError = s.firmware.state.LastError
		st.Controllers = a.Controllers()
		st.Assets = a.Assets()
		st.Pending = s.firmware.pendingOffers()
		st.Links = len(s.links)
		st.Pools = a.Stats()
	})
	st.State = s.State()
	return st, err
}

func (f *firmware) pendingOffers() []Offer {
	offers := make([]Offer, 0, len(f.pending))
	for _, o := range f.pending {
		offers = append(offers, o)
	}
	slices.SortFunc(offers, func(a, b Offer) int { return a.Handle.Slot() - b.Handle.Slot() })
	return offers
}

// PendingOffers lists the offers deferred by the offer policy.
func (s *AccessoryService) PendingOffers() ([]Offer, error) {
	var offers []Offer
	err := s.Do(func(*accessory.Accessory) { offers = s.firmware.pendingOffers() })
	return offers, err
}

// AcceptOffer starts staging a deferred offer.
func (s *AccessoryService) AcceptOffer(h accessory.AssetHandle) error {
	var opErr error
	err := s.Do(func(*accessory.Accessory) {
		o, ok := s.firmware.pending[h]
		if !ok {
			opErr = ErrNoPendingOffer
			return
		}
		opErr = s.firmware.accept(h, o.Controller, o.Core)
	})
	if err != nil {
		return err
	}
	return opErr
}

// DenyOffer refuses a deferred offer.
func (s *AccessoryService) DenyOffer(h accessory.AssetHandle) error {
	var opErr error
	err := s.Do(func(*accessory.Accessory) {
		o, ok := s.firmware.pending[h]
		if !ok {
			opErr = ErrNoPendingOffer
			return
		}
		s.firmware.deny(h, o.Controller, o.Core)
	})
	if err != nil {
		return err
	}
	return opErr
}

func (s *AccessoryService) engineOp(op func(*accessory.Accessory) error) error {
	var opErr error
	if err := s.Do(func(a *accessory.Accessory) { opErr = op(a) }); err != nil {
		return err
	}
	return opErr
}

// Pause stops pulling data for h.
func (s *AccessoryService) Pause(h accessory.AssetHandle) error {
	return s.engineOp(func(a *accessory.Accessory) error { return a.Pause(h) })
}

// Resume continues pulling data for h, also after a data response timeout.
func (s *AccessoryService) Resume(h accessory.AssetHandle) error {
	return s.engineOp(func(a *accessory.Accessory) error { return a.Resume(h) })
}

// Abandon gives up on h and tells its controller.
func (s *AccessoryService) Abandon(h accessory.AssetHandle) error {
	return s.engineOp(func(a *accessory.Accessory) error { return a.Abandon(h) })
}

// SendVendorSpecific sends a vendor message to controller id.
func (s *AccessoryService) SendVendorSpecific(id accessory.ControllerID, oui wire.OUI, typ uint16, data []byte) error {
	return s.engineOp(func(a *accessory.Accessory) error { return a.SendVendorSpecific(id, oui, typ, data) })
}

// ApplyLocal applies the staged firmware without a controller asking,
// e.g. from the console.
func (s *AccessoryService) ApplyLocal() (wire.ApplyFlags, error) {
	var flags wire.ApplyFlags
	var opErr error
	err := s.Do(func(*accessory.Accessory) {
		for _, st := range s.firmware.staging {
			if !st.dynamic {
				flags = wire.ApplyMidUpload
				return
			}
		}
		flags, opErr = s.firmware.apply()
		s.emit(Event{Type: EventApplied, Apply: flags, Error: opErr})
	})
	if err != nil {
		return 0, err
	}
	return flags, opErr
}
