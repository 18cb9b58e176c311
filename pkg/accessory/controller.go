package accessory

import (
	"encoding/binary"
	"reflect"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// ControllerID is the accessory-local number of a controller. IDs start at
// 1 and are never reused by an Accessory.
type ControllerID uint32

// ControllerStats counts sequencing faults and traffic of one controller.
type ControllerStats struct {
	Missed     uint32
	Duplicate  uint32
	OutOfOrder uint32
	RxMessages uint32
	RxRejected uint32
	TxMessages uint32
	TxFailures uint32
}

// statsSize is the encoded size of ControllerStats in an information response.
const statsSize = 7 * 4

func (s ControllerStats) put(b []byte) {
	for i, v := range [...]uint32{s.Missed, s.Duplicate, s.OutOfOrder, s.RxMessages, s.RxRejected, s.TxMessages, s.TxFailures} {
		binary.BigEndian.PutUint32(b[i*4:], v)
	}
}

// DecodeControllerStats parses the value of a statistics information response.
func DecodeControllerStats(b []byte) (ControllerStats, error) {
	if len(b) < statsSize {
		return ControllerStats{}, wire.StatusInvalidLength
	}
	u := func(i int) uint32 { return binary.BigEndian.Uint32(b[i*4:]) }
	return ControllerStats{
		Missed:     u(0),
		Duplicate:  u(1),
		OutOfOrder: u(2),
		RxMessages: u(3),
		RxRejected: u(4),
		TxMessages: u(5),
		TxFailures: u(6),
	}, nil
}

// ControllerInfo is a snapshot of a registered controller.
type ControllerInfo struct {
	ID              ControllerID
	ProtocolVersion uint16
	WindowLength    int
	TransferPaused  bool
	Stats           ControllerStats
}

type controller struct {
	id       ControllerID
	delegate ControllerDelegate
	async    AsyncSender

	lastRx uint16
	nextTx uint16

	protocolVersion uint16
	window          int
	transferPaused  bool

	stats ControllerStats
}

// AddController registers the transport of a newly connected controller.
func (a *Accessory) AddController(d ControllerDelegate) (ControllerID, error) {
	a.enter()
	defer a.exit()

	if d == nil {
		return 0, wire.StatusInvalidArguments
	}
	if _, c := a.findController(d); c != nil {
		return 0, wire.StatusDuplicateController
	}
	_, c, err := a.controllers.Alloc()
	if err != nil {
		return 0, wire.StatusNoResources
	}

	a.nextControllerID++
	c.id = a.nextControllerID
	c.delegate = d
	c.async, _ = d.(AsyncSender)
	c.nextTx = 1
	c.protocolVersion = a.cfg.MaxProtocolVersion
	c.window = a.cfg.windowLength()

	a.debugLog("controller added", "controller", c.id)
	a.logState(c.id, log.StateEntityController, "", "CONNECTED", "")
	return c.id, nil
}

// RemoveController unregisters a controller. Its staging assets become
// orphans that a later equal offer can resume.
func (a *Accessory) RemoveController(id ControllerID) error {
	a.enter()
	defer a.exit()

	h, c := a.controllerByID(id)
	if c == nil {
		return wire.StatusUnknownController
	}
	a.controllerLost(id)
	a.controllers.Free(h)

	a.debugLog("controller removed", "controller", id)
	a.logState(id, log.StateEntityController, "CONNECTED", "DISCONNECTED", "")
	return nil
}

// FindController returns the ID under which d is registered.
func (a *Accessory) FindController(d ControllerDelegate) (ControllerID, bool) {
	_, c := a.findController(d)
	if c == nil {
		return 0, false
	}
	return c.id, true
}

// Controllers returns a snapshot of every registered controller.
func (a *Accessory) Controllers() []ControllerInfo {
	var out []ControllerInfo
	a.controllers.Each(func(_ pool.Handle, c *controller) bool {
		out = append(out, ControllerInfo{
			ID:              c.id,
			ProtocolVersion: c.protocolVersion,
			WindowLength:    c.window,
			TransferPaused:  c.transferPaused,
			Stats:           c.stats,
		})
		return true
	})
	return out
}

func (a *Accessory) findController(d ControllerDelegate) (pool.Handle, *controller) {
	var (
		found  pool.Handle
		result *controller
	)
	a.controllers.Each(func(h pool.Handle, c *controller) bool {
		if sameDelegate(c.delegate, d) {
			found, result = h, c
			return false
		}
		return true
	})
	return found, result
}

// sameDelegate reports whether x and y are the same delegate. Delegates of
// a type that cannot be compared, such as function adapters, are never
// the same.
func sameDelegate(x, y ControllerDelegate) bool {
	if x == nil || y == nil {
		return false
	}
	vx := reflect.ValueOf(x)
	if vx.Type() != reflect.TypeOf(y) || !vx.Comparable() {
		return false
	}
	return x == y
}

func (a *Accessory) controllerByID(id ControllerID) (pool.Handle, *controller) {
	var (
		found  pool.Handle
		result *controller
	)
	if id == 0 {
		return found, nil
	}
	a.controllers.Each(func(h pool.Handle, c *controller) bool {
		if c.id == id {
			found, result = h, c
			return false
		}
		return true
	})
	return found, result
}

func (a *Accessory) controller(id ControllerID) *controller {
	_, c := a.controllerByID(id)
	return c
}
