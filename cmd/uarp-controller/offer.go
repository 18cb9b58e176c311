package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/uarp-protocol/uarp-go/pkg/peer"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/superbinary"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

var (
	offerTag     string
	offerDynamic bool
	offerApply   bool
	offerWait    time.Duration
	offerQuiet   bool
)

var offerCmd = &cobra.Command{
	Use:   "offer <file.uarp | manifest.yaml>",
	Short: "Offer a SuperBinary and serve it until the accessory is done",
	Long: `Offer a SuperBinary to an accessory and serve its data requests.

A .yaml argument is composed in memory first, and its tag is used unless
--tag is given. The command waits for the accessory's processing
notification, which reports whether the asset was staged, denied or found
corrupt. With --apply a staged asset is applied immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runOffer,
}

func init() {
	rootCmd.AddCommand(offerCmd)
	offerCmd.Flags().StringVar(&offerTag, "tag", "", "Four-character asset tag (default FWUP)")
	offerCmd.Flags().BoolVar(&offerDynamic, "dynamic", false, "Offer as a dynamic asset")
	offerCmd.Flags().BoolVar(&offerApply, "apply", false, "Apply the asset once it is staged")
	offerCmd.Flags().DurationVar(&offerWait, "wait", 30*time.Minute, "How long to wait for the transfer")
	offerCmd.Flags().BoolVarP(&offerQuiet, "quiet", "q", false, "No progress output")
}

// loadOffer returns the image to offer and its tag.
func loadOffer(path, tagFlag string) ([]byte, wire.Tag, error) {
	tagName := tagFlag

	var image []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err := superbinary.LoadManifest(path)
		if err != nil {
			return nil, wire.Tag{}, err
		}
		if image, err = m.Build(); err != nil {
			return nil, wire.Tag{}, err
		}
		if tagName == "" {
			tagName = m.Tag
		}
	default:
		var err error
		if image, err = os.ReadFile(path); err != nil {
			return nil, wire.Tag{}, err
		}
	}

	if tagName == "" {
		tagName = "FWUP"
	}
	tag, err := wire.NewTag(tagName)
	if err != nil {
		return nil, wire.Tag{}, err
	}
	return image, tag, nil
}

// progressPrinter redraws one progress line per transfer.
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	last time.Time
}

func (p *progressPrinter) update(t *peer.Transfer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	served, length := t.Progress()
	if served < length && time.Since(p.last) < 200*time.Millisecond {
		return
	}
	p.last = time.Now()

	pct := 100.0
	if length > 0 {
		pct = float64(served) * 100 / float64(length)
	}
	requests, _ := t.Requests()
	fmt.Fprintf(p.w, "\r  %5.1f%%  %d/%d bytes  %d requests  %s",
		pct, served, length, requests, t.Elapsed().Truncate(time.Millisecond))
}

func runOffer(cmd *cobra.Command, args []string) error {
	image, tag, err := loadOffer(args[0], offerTag)
	if err != nil {
		return err
	}
	img, err := superbinary.Parse(image)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	progress := &progressPrinter{w: w}

	var opts []func(*peer.Config)
	if !offerQuiet {
		opts = append(opts, func(c *peer.Config) { c.OnProgress = progress.update })
	}
	l, err := openLink(cmd.Context(), opts...)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	serial := l.Serial(ctx)

	var t *peer.Transfer
	if offerDynamic {
		t, err = l.sess.OfferDynamic(ctx, tag, image)
	} else {
		t, err = l.sess.OfferSuperBinary(ctx, tag, image)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Offered %s %s as asset %d (%d bytes) over %s\n",
		tag, img.Header.Version, t.Core().ID, len(image), l.desc)

	waitCtx, waitCancel := context.WithTimeout(cmd.Context(), offerWait)
	defer waitCancel()
	result, err := t.Wait(waitCtx)
	if !offerQuiet {
		fmt.Fprintln(w)
	}

	record := func(outcome string) {
		updateInventory(serial, func(a *persistence.KnownAccessory) {
			a.LastOffered = img.Header.Version
			a.LastResult = outcome
			if l.address != "" {
				a.Address = l.address
			}
		})
	}

	if err != nil {
		if errors.Is(err, peer.ErrTransferRescinded) {
			record("RESCINDED")
		}
		return err
	}

	requests, bytes := t.Requests()
	fmt.Fprintf(w, "Accessory reported %s after %d requests (%d bytes) in %s\n",
		result, requests, bytes, t.Elapsed().Truncate(time.Millisecond))

	if result != wire.ProcessingUploadComplete {
		record(result.String())
		return fmt.Errorf("asset not staged: %s", result)
	}
	if !offerApply {
		record(result.String())
		return nil
	}

	applyCtx, applyCancel := requestContext(cmd.Context())
	defer applyCancel()
	flags, err := l.sess.Apply(applyCtx)
	if err != nil {
		return err
	}
	record("APPLY_" + flags.String())
	fmt.Fprintf(w, "Apply: %s\n", flags)
	return applyError(flags)
}

// applyError maps the apply outcomes that leave the update unfinished to
// an error.
func applyError(flags wire.ApplyFlags) error {
	switch flags {
	case wire.ApplySuccess, wire.ApplyNeedsRestart:
		return nil
	default:
		return fmt.Errorf("apply: %s", flags)
	}
}
