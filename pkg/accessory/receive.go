package accessory

import (
	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Receive processes one complete inbound message of controller id.
//
// A non-nil error is a wire.Status describing why the message was rejected.
// Rejections leave the engine unchanged apart from sequencing counters.
func (a *Accessory) Receive(id ControllerID, msg []byte) error {
	a.enter()
	defer a.exit()

	if len(msg) < wire.HeaderSize {
		return wire.StatusInvalidLength
	}
	h, _ := wire.DecodeHeader(msg)

	c := a.controller(id)
	if c == nil {
		a.logMessage(id, log.DirectionIn, h, wire.StatusUnknownController)
		return wire.StatusUnknownController
	}
	c.stats.RxMessages++

	if err := a.receive(c, h, msg[wire.HeaderSize:]); err != nil {
		// The handler may have removed the controller.
		if c = a.controller(id); c != nil {
			c.stats.RxRejected++
		}
		s := wire.StatusOf(err)
		a.logMessage(id, log.DirectionIn, h, s)
		a.debugLog("message rejected", "controller", id, "type", h.Type, "id", h.MessageID, "status", s)
		return err
	}
	a.logMessage(id, log.DirectionIn, h, wire.StatusSuccess)
	return nil
}

func (a *Accessory) receive(c *controller, h wire.Header, payload []byte) error {
	if h.Type == wire.MsgSync {
		c.lastRx = h.MessageID
		return nil
	}

	if err := a.sequence(c, h.MessageID); err != nil {
		return err
	}
	if int(h.PayloadLength) != len(payload) || len(payload) > a.cfg.MaxRxPayloadLength {
		return wire.StatusInvalidLength
	}
	return a.dispatch(c, h, payload)
}

// sequence checks id against the last received message ID. A gap is
// counted and accepted: nothing asks the controller to retransmit.
func (a *Accessory) sequence(c *controller, id uint16) error {
	last := c.lastRx
	c.lastRx = id

	switch {
	case id == last+1:
		return nil
	case id == last:
		c.stats.Duplicate++
		return wire.StatusDuplicateMessageID
	case id < last:
		c.stats.OutOfOrder++
		return wire.StatusOutOfOrderMessageID
	default:
		// A gap is counted and the message is processed. Nothing asks
		// the controller to resend.
		c.stats.Missed++
		a.debugLog("missed message IDs", "controller", c.id, "last", last, "id", id)
		return nil
	}
}

func (a *Accessory) dispatch(c *controller, h wire.Header, p []byte) error {
	switch h.Type {
	case wire.MsgVersionDiscoveryRequest:
		return a.handleVersionDiscovery(c, p)
	case wire.MsgAccessoryInformationRequest:
		return a.handleInformationRequest(c, p)
	case wire.MsgAssetAvailableNotification:
		return a.handleAssetAvailable(c, p)
	case wire.MsgAssetRescindedNotification:
		return a.handleRescinded(c, p)
	case wire.MsgAssetDataResponse:
		return a.handleDataResponse(c, p)
	case wire.MsgAssetDataTransferNotification:
		return a.handleTransferNotification(c, p)
	case wire.MsgAssetProcessingNotificationAck:
		return a.handleProcessingAck(c, p)
	case wire.MsgApplyStagedAssetsRequest:
		return a.handleApply(c)
	case wire.MsgDynamicAssetSolicitation:
		return a.handleSolicitation(c, p)
	case wire.MsgVendorSpecific:
		return a.handleVendorSpecific(c, p)
	default:
		return wire.StatusUnknownMessageType
	}
}
