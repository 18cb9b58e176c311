package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/store"
	"github.com/uarp-protocol/uarp-go/pkg/superbinary"
)

var composeOutput string

var composeCmd = &cobra.Command{
	Use:   "compose <manifest.yaml>",
	Short: "Build a SuperBinary from a YAML manifest",
	Long: `Build a SuperBinary from a YAML manifest.

Payload files are resolved relative to the manifest. The output defaults to
the manifest name with a .uarp extension.

Example manifest:
  tag: FWUP
  version: 2.1.0
  metadata:
    - {type: 0x01, string: "Widget"}
  payloads:
    - tag: MAIN
      version: 2.1.0.17
      file: main.bin
    - tag: BOOT
      hex: "deadbeef"`,
	Args: cobra.ExactArgs(1),
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "", "Output file")
}

func runCompose(cmd *cobra.Command, args []string) error {
	m, err := superbinary.LoadManifest(args[0])
	if err != nil {
		return err
	}
	image, err := m.Build()
	if err != nil {
		return err
	}

	out := composeOutput
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".uarp"
	}
	if err := os.WriteFile(out, image, 0o644); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Wrote %s (%d bytes)\n", out, len(image))
	return describeImage(w, image)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.uarp>",
	Short: "Show the structure of a SuperBinary",
	Long: `Show the header, metadata and payloads of a SuperBinary, with the
BLAKE2b-256 digest of every payload as the accessory will record it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return describeImage(cmd.OutOrStdout(), image)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// describeImage parses image and prints it.
func describeImage(w io.Writer, image []byte) error {
	img, err := superbinary.Parse(image)
	if err != nil {
		return err
	}

	h := img.Header
	fmt.Fprintln(w, "SuperBinary:")
	fmt.Fprintf(w, "  Format:     %d\n", h.FormatVersion)
	fmt.Fprintf(w, "  Version:    %s\n", h.Version)
	fmt.Fprintf(w, "  Length:     %d bytes\n", h.TotalLength)
	fmt.Fprintf(w, "  Digest:     %s\n", store.Sum(image))
	fmt.Fprintf(w, "  Metadata:   %d bytes at %d\n", h.MetadataLength, h.MetadataOffset)
	printTLVs(w, "    ", img.Metadata)

	fmt.Fprintf(w, "\nPayloads (%d):\n", len(img.Payloads))
	for i, p := range img.Payloads {
		ph := img.Headers[i]
		fmt.Fprintf(w, "  [%d] %s  version %s\n", i, p.Tag, p.Version)
		fmt.Fprintf(w, "      Data:     %d bytes at %d\n", ph.PayloadLength, ph.PayloadOffset)
		fmt.Fprintf(w, "      Digest:   %s\n", store.Sum(p.Data))
		if ph.MetadataLength > 0 {
			fmt.Fprintf(w, "      Metadata: %d bytes at %d\n", ph.MetadataLength, ph.MetadataOffset)
			printTLVs(w, "        ", p.Metadata)
		}
	}
	return nil
}

func printTLVs(w io.Writer, indent string, records []superbinary.TLV) {
	for _, r := range records {
		value := hex.EncodeToString(r.Value)
		if printable(r.Value) {
			value = fmt.Sprintf("%q", r.Value)
		}
		fmt.Fprintf(w, "%s0x%08x (%d bytes): %s\n", indent, r.Type, len(r.Value), value)
	}
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
