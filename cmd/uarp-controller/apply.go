package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the accessory's staged assets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLink(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()

		flags, err := l.sess.Apply(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Apply: %s\n", flags)

		updateInventory(l.Serial(ctx), func(a *persistence.KnownAccessory) {
			a.LastResult = "APPLY_" + flags.String()
		})
		return applyError(flags)
	},
}

var rescindCmd = &cobra.Command{
	Use:   "rescind [asset-id]",
	Short: "Withdraw offered assets",
	Long: `Withdraw an asset this controller offered, or every asset when no ID is
given. Rescinding only affects assets of the current connection; an
accessory forgets a controller's assets when its link closes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args)
		if err != nil {
			return err
		}

		l, err := openLink(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()

		if err := l.sess.Rescind(ctx, id); err != nil {
			return err
		}
		if id == wire.AssetIDAll {
			fmt.Fprintln(cmd.OutOrStdout(), "Rescinded all assets")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Rescinded asset %d\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rescindCmd)
}

func parseAssetID(args []string) (uint16, error) {
	if len(args) == 0 || args[0] == "all" {
		return wire.AssetIDAll, nil
	}
	n, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid asset ID %q", args[0])
	}
	if uint16(n) == wire.AssetIDInvalid {
		return 0, fmt.Errorf("invalid asset ID %q", args[0])
	}
	return uint16(n), nil
}
