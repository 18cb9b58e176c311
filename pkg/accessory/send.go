package accessory

import (
	"fmt"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// allocateAndPrepare takes a transmit buffer for a message of n payload
// bytes and stamps type and length. The message ID is stamped by transmit.
func (a *Accessory) allocateAndPrepare(c *controller, typ wire.MessageType, n int) (pool.Buffer, error) {
	if n > a.cfg.MaxTxPayloadLength {
		return pool.Buffer{}, wire.StatusBufferTooLarge
	}
	buf, err := a.tx.Request(wire.HeaderSize+n, a.ownsActive(c.id))
	if err != nil {
		c.stats.TxFailures++
		a.debugLog("no transmit buffer", "controller", c.id, "type", typ, "error", err)
		return pool.Buffer{}, wire.StatusNoResources
	}
	wire.Header{Type: typ, PayloadLength: uint16(n)}.Put(buf.Bytes)
	return buf, nil
}

// transmit stamps the next message ID and hands buf to the controller's
// transport. The ID only advances when the transport took the message.
func (a *Accessory) transmit(c *controller, buf pool.Buffer) error {
	id := c.id
	wire.PutMessageID(buf.Bytes, c.nextTx)
	h, _ := wire.DecodeHeader(buf.Bytes)

	var err error
	if c.async != nil {
		released := false
		err = c.async.SendMessageAsync(buf.Bytes, func() {
			if released {
				return
			}
			released = true
			a.enter()
			a.tx.Release(buf)
			a.exit()
		})
		if err != nil {
			released = true
			a.tx.Release(buf)
		}
	} else {
		err = c.delegate.SendMessage(buf.Bytes)
		a.tx.Release(buf)
	}

	// The transport may have dropped the controller from inside the call.
	if c = a.controller(id); c == nil {
		return wire.StatusUnknownController
	}
	if err != nil {
		c.stats.TxFailures++
		a.logMessage(id, log.DirectionOut, h, wire.StatusTransmitFailed)
		a.debugLog("transmit failed", "controller", id, "type", h.Type, "error", err)
		return fmt.Errorf("%w: %w", wire.StatusTransmitFailed, err)
	}
	c.nextTx++
	c.stats.TxMessages++
	a.logMessage(id, log.DirectionOut, h, wire.StatusSuccess)
	return nil
}

// send builds and transmits one message. fill encodes the payload.
func (a *Accessory) send(c *controller, typ wire.MessageType, n int, fill func(p []byte)) error {
	buf, err := a.allocateAndPrepare(c, typ, n)
	if err != nil {
		return err
	}
	if fill != nil {
		fill(buf.Bytes[wire.HeaderSize:])
	}
	return a.transmit(c, buf)
}

func (a *Accessory) sendAssetID(c *controller, typ wire.MessageType, assetID uint16) error {
	return a.send(c, typ, 2, func(p []byte) {
		wire.AssetIDPayload{AssetID: assetID}.Put(p)
	})
}

func (a *Accessory) sendProcessing(c *controller, assetID uint16, flags wire.ProcessingFlags) error {
	return a.send(c, wire.MsgAssetProcessingNotification, wire.AssetProcessingNotificationSize, func(p []byte) {
		wire.AssetProcessingNotification{AssetID: assetID, Flags: flags}.Put(p)
	})
}

// notifyPeer sends a processing notification for as when it is still
// linked. Failures are logged: the local transition happens regardless.
func (a *Accessory) notifyPeer(as *asset, flags wire.ProcessingFlags) {
	c := a.controller(as.controller)
	if c == nil {
		return
	}
	if err := a.sendProcessing(c, as.core.ID, flags); err != nil {
		a.logError(c.id, err, "processing notification "+flags.String())
	}
}

// SendVendorSpecific sends a vendor message to a controller.
func (a *Accessory) SendVendorSpecific(id ControllerID, oui wire.OUI, typ uint16, data []byte) error {
	a.enter()
	defer a.exit()

	c := a.controller(id)
	if c == nil {
		return wire.StatusUnknownController
	}
	return a.send(c, wire.MsgVendorSpecific, wire.VendorSpecificSize+len(data), func(p []byte) {
		wire.VendorSpecific{OUI: oui, Type: typ, Data: data}.Put(p)
	})
}
