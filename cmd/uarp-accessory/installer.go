package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/store"
)

// dirInstaller "installs" firmware by copying the staged payloads into a
// directory, one file per payload tag. It stands in for flashing on a
// bench accessory.
type dirInstaller struct {
	dir    string
	logger *slog.Logger
}

func (d *dirInstaller) Install(ctx context.Context, staged *persistence.StagedAsset, payloads []store.Entry) error {
	target := filepath.Join(d.dir, staged.Version.String())
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("%02d-%s.bin", p.Index, p.Tag)
		if err := copyFile(p.Path, filepath.Join(target, name)); err != nil {
			return fmt.Errorf("install %s: %w", p.Tag, err)
		}
		d.logger.Info("Installed payload", "tag", p.Tag.String(), "length", p.Length, "path", filepath.Join(target, name))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
