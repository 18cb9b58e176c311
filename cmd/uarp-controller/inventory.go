package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/persistence"
)

// updateInventory applies fn to the inventory entry of serial and saves
// the inventory. Failures are logged; the inventory is a convenience.
func updateInventory(serial string, fn func(a *persistence.KnownAccessory)) {
	if stateFile == "" || serial == "" {
		return
	}
	st := persistence.NewControllerStateStore(stateFile)
	state, err := st.Load()
	if err != nil {
		logger.Warn("Inventory not loaded", "path", stateFile, "error", err)
		return
	}
	a := state.Accessory(serial)
	fn(a)
	a.LastSeenAt = time.Now()
	if err := st.Save(state); err != nil {
		logger.Warn("Inventory not saved", "path", stateFile, "error", err)
	}
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "List accessories seen by earlier commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := persistence.NewControllerStateStore(stateFile).Load()
		if err != nil {
			return err
		}
		printInventory(cmd.OutOrStdout(), state)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inventoryCmd)
}

func printInventory(w io.Writer, state *persistence.ControllerState) {
	if len(state.Accessories) == 0 {
		fmt.Fprintln(w, "No known accessories")
		return
	}

	serials := make([]string, 0, len(state.Accessories))
	for s := range state.Accessories {
		serials = append(serials, s)
	}
	sort.Strings(serials)

	fmt.Fprintf(w, "%-16s %-20s %-12s %-12s %-22s %s\n", "Serial", "Model", "Firmware", "Offered", "Last result", "Address")
	for _, s := range serials {
		a := state.Accessories[s]
		offered := "-"
		if !a.LastOffered.IsZero() {
			offered = a.LastOffered.String()
		}
		result := a.LastResult
		if result == "" {
			result = "-"
		}
		fmt.Fprintf(w, "%-16s %-20s %-12s %-12s %-22s %s\n", a.Serial, a.Model, a.Firmware, offered, result, a.Address)
	}
}
