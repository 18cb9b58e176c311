package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/discovery"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

var (
	browseDuration  time.Duration
	browseModel     string
	browseOlderThan string
	browseInterface string
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Find accessories on the local network",
	Long: `Browse _uarp._tcp via mDNS and list the accessories that answer.

With --older-than only accessories advertising older firmware are listed,
which is the usual way to find the ones that still need an update.`,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)
	browseCmd.Flags().DurationVarP(&browseDuration, "duration", "d", discovery.BrowseTimeout, "How long to browse")
	browseCmd.Flags().StringVar(&browseModel, "model", "", "Only list this model")
	browseCmd.Flags().StringVar(&browseOlderThan, "older-than", "", "Only list accessories with firmware older than this version")
	browseCmd.Flags().StringVar(&browseInterface, "interface", "", "Network interface to browse on")
}

func browseFilter() (discovery.FilterFunc, error) {
	var filters []discovery.FilterFunc
	if browseModel != "" {
		filters = append(filters, discovery.FilterByModel(browseModel))
	}
	if browseOlderThan != "" {
		v, err := wire.ParseVersion(browseOlderThan)
		if err != nil {
			return nil, fmt.Errorf("--older-than: %w", err)
		}
		filters = append(filters, discovery.FilterOlderThan(v))
	}
	if len(filters) == 0 {
		return nil, nil
	}
	return func(svc *discovery.AccessoryService) bool {
		for _, f := range filters {
			if !f(svc) {
				return false
			}
		}
		return true
	}, nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	filter, err := browseFilter()
	if err != nil {
		return err
	}

	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: browseDuration,
		Interface:     browseInterface,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), browseDuration)
	defer cancel()

	results, err := browser.Browse(ctx)
	if err != nil {
		return err
	}
	if filter != nil {
		results = discovery.FilterBrowseResults(results, filter)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Browsing %s for %s...\n", discovery.ServiceType, browseDuration)

	found := 0
	for svc := range results {
		found++
		printService(w, svc)
		updateInventory(svc.Serial, func(a *persistence.KnownAccessory) {
			a.Model = svc.Model
			a.Address = svc.Addr()
			a.Firmware = svc.Firmware
		})
	}
	fmt.Fprintf(w, "%d accessories found\n", found)
	return nil
}

func printService(w io.Writer, svc *discovery.AccessoryService) {
	security := ""
	if svc.TLS {
		security = " (TLS)"
	}
	fmt.Fprintf(w, "\n%s\n", svc.InstanceName)
	fmt.Fprintf(w, "  Address:  %s%s\n", svc.Addr(), security)
	fmt.Fprintf(w, "  Serial:   %s\n", svc.Serial)
	if svc.Manufacturer != "" || svc.Model != "" {
		fmt.Fprintf(w, "  Model:    %s %s\n", svc.Manufacturer, svc.Model)
	}
	if svc.Hardware != "" {
		fmt.Fprintf(w, "  Hardware: %s\n", svc.Hardware)
	}
	fmt.Fprintf(w, "  Firmware: %s\n", svc.Firmware)
	fmt.Fprintf(w, "  Protocol: %d\n", svc.ProtocolVersion)
}
