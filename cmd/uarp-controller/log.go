package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/cmd/uarp-controller/logview"
)

var (
	logLayer     string
	logDirection string
	logCategory  string
	logFormat    string
	logFilter    = logview.FilterOptions{MessageType: -1}
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Read protocol captures (.ulog)",
	Long: `Read protocol captures written with --protocol-log or by the accessory
daemon's protocol_log setting.`,
}

var logViewCmd = &cobra.Command{
	Use:   "view <file.ulog>",
	Short: "Print events in human-readable form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := logview.NewViewFilter(logLayer, logDirection, logCategory)
		if err != nil {
			return err
		}
		return logview.RunView(args[0], filter, cmd.OutOrStdout())
	},
}

var logStatsCmd = &cobra.Command{
	Use:   "stats <file.ulog>",
	Short: "Summarize a capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return logview.RunStats(args[0], cmd.OutOrStdout())
	},
}

var logExportCmd = &cobra.Command{
	Use:   "export <file.ulog>",
	Short: "Convert a capture to JSON lines or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return logview.RunExport(args[0], logFormat, cmd.OutOrStdout())
	},
}

var logFilterCmd = &cobra.Command{
	Use:   "filter <file.ulog>",
	Short: "Copy matching events into a new capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if logFilter.Output == "" {
			return errors.New("--output is required")
		}
		logFilter.Layer, logFilter.Direction, logFilter.Category = logLayer, logDirection, logCategory
		n, err := logview.RunFilter(args[0], logFilter)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d events to %s\n", n, logFilter.Output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logViewCmd, logStatsCmd, logExportCmd, logFilterCmd)

	for _, c := range []*cobra.Command{logViewCmd, logFilterCmd} {
		c.Flags().StringVar(&logLayer, "layer", "", "Layer: transport, wire or engine")
		c.Flags().StringVar(&logDirection, "dir", "", "Direction: in or out")
		c.Flags().StringVar(&logCategory, "category", "", "Category: message, transfer, state or error")
	}

	logExportCmd.Flags().StringVarP(&logFormat, "format", "f", "jsonl", "Output format: jsonl or csv")

	f := logFilterCmd.Flags()
	f.StringVarP(&logFilter.Output, "output", "o", "", "Output file")
	f.StringVar(&logFilter.ConnID, "conn", "", "Connection ID")
	f.StringVar(&logFilter.AccessoryID, "accessory", "", "Accessory serial number")
	f.Uint32Var(&logFilter.Controller, "controller", 0, "Controller ID as seen by the accessory")
	f.StringVar(&logFilter.TimeStart, "from", "", "Start time (RFC 3339)")
	f.StringVar(&logFilter.TimeEnd, "to", "", "End time (RFC 3339)")
	f.IntVar(&logFilter.MessageType, "type", -1, "Message type number")
}
