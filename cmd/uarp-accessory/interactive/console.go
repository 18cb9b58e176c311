// Package interactive provides the interactive command-line interface
// for the UARP accessory.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/service"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Service is the part of service.AccessoryService the console drives.
type Service interface {
	Status() (service.Status, error)
	AcceptOffer(h accessory.AssetHandle) error
	DenyOffer(h accessory.AssetHandle) error
	Pause(h accessory.AssetHandle) error
	Resume(h accessory.AssetHandle) error
	Abandon(h accessory.AssetHandle) error
	ApplyLocal() (wire.ApplyFlags, error)
	SendVendorSpecific(id accessory.ControllerID, oui wire.OUI, typ uint16, data []byte) error
	OnEvent(handler service.EventHandler)
}

var errNoSuchSlot = errors.New("no asset in that slot")

// Config configures the console.
type Config struct {
	Prompt string
}

// Console handles interactive mode for uarp-accessory.
type Console struct {
	rl  *readline.Instance
	out io.Writer
	svc Service
}

// New creates a console on the terminal. Attach a service before Run.
func New(cfg Config) (*Console, error) {
	if cfg.Prompt == "" {
		cfg.Prompt = "uarp> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Attach connects the console to svc and announces offers awaiting a
// decision.
func (c *Console) Attach(svc Service) {
	c.svc = svc
	svc.OnEvent(c.handleEvent)
}

// Close releases the terminal.
func (c *Console) Close() {
	_ = c.rl.Close()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.execute(line) {
			cancel()
			return
		}
	}
}

// execute runs one command line. It returns false when the console
// should exit.
func (c *Console) execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "status", "s":
		c.cmdStatus()

	case "controllers", "c":
		c.cmdControllers()

	case "assets", "a":
		c.cmdAssets()

	case "offers", "o":
		c.cmdOffers()

	case "accept":
		c.withPending(args, "accept", c.svc.AcceptOffer)

	case "deny":
		c.withPending(args, "deny", c.svc.DenyOffer)

	case "pause":
		c.withAsset(args, "pause", c.svc.Pause)

	case "resume":
		c.withAsset(args, "resume", c.svc.Resume)

	case "abandon":
		c.withAsset(args, "abandon", c.svc.Abandon)

	case "apply":
		c.cmdApply()

	case "vendor":
		c.cmdVendor(args)

	case "pools":
		c.cmdPools()

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
UARP Accessory Commands:
  Inspection:
    status             - Show firmware and link status
    controllers        - List registered controllers
    assets             - List assets being staged
    pools              - Show buffer pool occupancy

  Offers:
    offers             - List offers awaiting a decision
    accept <slot>      - Accept a pending offer
    deny <slot>        - Deny a pending offer

  Staging:
    pause <slot>       - Stop pulling data for an asset
    resume <slot>      - Continue pulling data (also after a timeout)
    abandon <slot>     - Give up on an asset
    apply              - Apply the staged firmware

  Vendor:
    vendor <controller> <oui-hex> <type> [data-hex]
                       - Send a vendor specific message

  General:
    help               - Show this help
    quit               - Exit accessory`)
}

func (c *Console) handleEvent(event service.Event) {
	switch event.Type {
	case service.EventAssetOffered:
		fmt.Fprintf(c.out, "\n[OFFER] slot %d: %s (accept %d / deny %d)\n",
			event.Asset.Slot(), event.Core, event.Asset.Slot(), event.Asset.Slot())
	case service.EventFullyStaged:
		fmt.Fprintf(c.out, "\n[STAGED] firmware %s ready to apply\n", event.Core.Version)
	}
}

func (c *Console) cmdStatus() {
	st, err := c.svc.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	fmt.Fprintln(c.out, "\nAccessory Status:")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  Service:      %s\n", st.State)
	fmt.Fprintf(c.out, "  Active:       %s\n", st.ActiveFirmware)
	if st.Staged != nil {
		fmt.Fprintf(c.out, "  Staged:       %s (%s, %d payloads, %d bytes)\n",
			st.Staged.Version, st.Staged.Tag, len(st.Staged.Payloads), st.Staged.Length)
	} else {
		fmt.Fprintln(c.out, "  Staged:       none")
	}
	if st.LastError.Status != 0 {
		fmt.Fprintf(c.out, "  Last error:   action %d, %s (%s)\n",
			st.LastError.Action, wire.Status(st.LastError.Status), st.LastError.At.Format("15:04:05"))
	}
	fmt.Fprintf(c.out, "  Links:        %d\n", st.Links)
	fmt.Fprintf(c.out, "  Controllers:  %d\n", len(st.Controllers))
	fmt.Fprintf(c.out, "  Assets:       %d\n", len(st.Assets))
	fmt.Fprintf(c.out, "  Pending:      %d\n", len(st.Pending))
}

func (c *Console) cmdControllers() {
	st, err := c.svc.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(st.Controllers) == 0 {
		fmt.Fprintln(c.out, "No controllers")
		return
	}

	fmt.Fprintf(c.out, "\nControllers (%d):\n", len(st.Controllers))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, ctrl := range st.Controllers {
		paused := ""
		if ctrl.TransferPaused {
			paused = " (transfers paused)"
		}
		fmt.Fprintf(c.out, "  ID: %d%s\n", ctrl.ID, paused)
		fmt.Fprintf(c.out, "      Protocol: v%d, window %d bytes\n", ctrl.ProtocolVersion, ctrl.WindowLength)
		fmt.Fprintf(c.out, "      Rx %d (rejected %d, missed %d, duplicate %d, out of order %d)\n",
			ctrl.Stats.RxMessages, ctrl.Stats.RxRejected, ctrl.Stats.Missed, ctrl.Stats.Duplicate, ctrl.Stats.OutOfOrder)
		fmt.Fprintf(c.out, "      Tx %d (failed %d)\n", ctrl.Stats.TxMessages, ctrl.Stats.TxFailures)
	}
}

func (c *Console) cmdAssets() {
	st, err := c.svc.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(st.Assets) == 0 {
		fmt.Fprintln(c.out, "No assets")
		return
	}

	fmt.Fprintf(c.out, "%-5s %-6s %-10s %-24s %-12s %s\n", "Slot", "Ctrl", "Tag", "State", "Version", "Progress")
	for _, as := range st.Assets {
		state := as.State.String()
		if as.Paused {
			state += " (paused)"
		}
		if as.TimedOut {
			state += " (timeout)"
		}
		progress := "-"
		if as.PayloadHeader.PayloadLength > 0 {
			progress = fmt.Sprintf("payload %d: %d/%d", as.PayloadIndex, as.BytesReceived, as.PayloadHeader.PayloadLength)
		}
		fmt.Fprintf(c.out, "%-5d %-6d %-10s %-24s %-12s %s\n",
			as.Handle.Slot(), as.Controller, as.Core.Tag, state, as.Core.Version, progress)
	}
}

func (c *Console) cmdOffers() {
	st, err := c.svc.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(st.Pending) == 0 {
		fmt.Fprintln(c.out, "No pending offers")
		return
	}
	for _, o := range st.Pending {
		fmt.Fprintf(c.out, "  slot %d: %s from controller %d\n", o.Handle.Slot(), o.Core, o.Controller)
	}
}

func (c *Console) cmdPools() {
	st, err := c.svc.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%-12s %6s %8s %8s %6s %6s %8s\n", "Pool", "Slots", "Size", "Reserved", "InUse", "Peak", "Failures")
	for _, p := range st.Pools {
		fmt.Fprintf(c.out, "%-12s %6d %8d %8d %6d %6d %8d\n", p.Name, p.Slots, p.SlotSize, p.Reserved, p.InUse, p.Peak, p.Failures)
	}
}

// withPending runs op on the pending offer in the slot named by args.
func (c *Console) withPending(args []string, name string, op func(accessory.AssetHandle) error) {
	slot, ok := c.parseSlot(args, name)
	if !ok {
		return
	}
	st, err := c.svc.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	for _, o := range st.Pending {
		if o.Handle.Slot() == slot {
			c.report(op(o.Handle))
			return
		}
	}
	fmt.Fprintf(c.out, "Error: no pending offer in slot %d\n", slot)
}

// withAsset runs op on the asset in the slot named by args.
func (c *Console) withAsset(args []string, name string, op func(accessory.AssetHandle) error) {
	slot, ok := c.parseSlot(args, name)
	if !ok {
		return
	}
	h, err := c.findAsset(slot)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.report(op(h))
}

func (c *Console) findAsset(slot int) (accessory.AssetHandle, error) {
	st, err := c.svc.Status()
	if err != nil {
		return accessory.AssetHandle{}, err
	}
	for _, as := range st.Assets {
		if as.Handle.Slot() == slot {
			return as.Handle, nil
		}
	}
	return accessory.AssetHandle{}, errNoSuchSlot
}

func (c *Console) parseSlot(args []string, name string) (int, bool) {
	if len(args) != 1 {
		fmt.Fprintf(c.out, "Usage: %s <slot>\n", name)
		return 0, false
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		fmt.Fprintf(c.out, "Invalid slot: %s\n", args[0])
		return 0, false
	}
	return slot, true
}

func (c *Console) report(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdApply() {
	flags, err := c.svc.ApplyLocal()
	if err != nil {
		fmt.Fprintf(c.out, "Apply: %s (%v)\n", flags, err)
		return
	}
	fmt.Fprintf(c.out, "Apply: %s\n", flags)
}

func (c *Console) cmdVendor(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "Usage: vendor <controller> <oui-hex> <type> [data-hex]")
		fmt.Fprintln(c.out, "  Example: vendor 1 0017f2 7 cafe")
		return
	}

	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid controller: %s\n", args[0])
		return
	}
	ouiBytes, err := hex.DecodeString(args[1])
	if err != nil || len(ouiBytes) != len(wire.OUI{}) {
		fmt.Fprintf(c.out, "Invalid OUI: %s (want 6 hex digits)\n", args[1])
		return
	}
	typ, err := strconv.ParseUint(args[2], 0, 16)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid type: %s\n", args[2])
		return
	}
	var data []byte
	if len(args) > 3 {
		if data, err = hex.DecodeString(args[3]); err != nil {
			fmt.Fprintf(c.out, "Invalid data: %v\n", err)
			return
		}
	}

	var oui wire.OUI
	copy(oui[:], ouiBytes)
	c.report(c.svc.SendVendorSpecific(accessory.ControllerID(id), oui, uint16(typ), data))
}
