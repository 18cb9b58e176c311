package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/peer"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what an accessory reports about itself",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLink(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()

		info, err := l.sess.AccessoryInfo(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s\n", l.desc)
		fmt.Fprintf(w, "  Protocol:  %d\n", l.sess.ProtocolVersion())
		printAccessoryInfo(w, info)

		updateInventory(info.Serial, func(a *persistence.KnownAccessory) {
			a.Model = info.Model
			a.Firmware = info.ActiveFirmware
			if l.address != "" {
				a.Address = l.address
			}
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printAccessoryInfo(w io.Writer, info *peer.AccessoryInfo) {
	fmt.Fprintf(w, "  Accessory: %s %s\n", info.Manufacturer, info.Model)
	fmt.Fprintf(w, "  Serial:    %s\n", info.Serial)
	fmt.Fprintf(w, "  Hardware:  %s\n", info.Hardware)
	fmt.Fprintf(w, "  Active:    %s\n", info.ActiveFirmware)
	if info.StagedFirmware.IsZero() {
		fmt.Fprintln(w, "  Staged:    -")
	} else {
		fmt.Fprintf(w, "  Staged:    %s\n", info.StagedFirmware)
	}
	if info.LastError.Status != 0 {
		fmt.Fprintf(w, "  Last error: action %d, %s\n", info.LastError.Action, wire.Status(info.LastError.Status))
	}

	s := info.Stats
	fmt.Fprintf(w, "  Link:      rx %d (%d rejected), tx %d (%d failed)\n",
		s.RxMessages, s.RxRejected, s.TxMessages, s.TxFailures)
	if s.Missed+s.Duplicate+s.OutOfOrder > 0 {
		fmt.Fprintf(w, "  Sequence:  %d missed, %d duplicate, %d out of order\n", s.Missed, s.Duplicate, s.OutOfOrder)
	}
}
