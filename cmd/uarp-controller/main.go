// Command uarp-controller composes SuperBinaries, discovers accessories and
// drives firmware updates.
//
// Usage:
//
//	uarp-controller <command> [flags]
//
// Examples:
//
//	# Build a SuperBinary from a manifest
//	uarp-controller compose -o widget-2.1.uarp manifest.yaml
//
//	# Find accessories on the local network
//	uarp-controller browse --model Widget
//
//	# Offer the SuperBinary, wait for staging and apply it
//	uarp-controller offer --serial SN-0001 --apply widget-2.1.uarp
//
//	# Look at what happened on the wire
//	uarp-controller log view --layer wire session.ulog
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
