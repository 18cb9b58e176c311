package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func TestAccessoryStateStore(t *testing.T) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		dir := t.TempDir()
		store := NewAccessoryStateStore(filepath.Join(dir, "nested", "state.json"))

		state := &AccessoryState{
			ActiveFirmware: wire.Version{Major: 1, Minor: 2},
			Staged: &StagedAsset{
				Tag:     "FWUP",
				Version: wire.Version{Major: 2},
				Length:  4096,
				Payloads: []StagedPayload{
					{Tag: "MAIN", Version: wire.Version{Major: 2}, Length: 3000, Digest: "ab12"},
					{Tag: "BOOT", Version: wire.Version{Major: 1, Build: 9}, Length: 500, Digest: "cd34"},
				},
				StagedAt:   time.Now().Add(-time.Minute),
				Controller: "192.168.1.2:50000",
			},
			LastError: LastError{Action: 3, Status: 0x0B},
		}

		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not set")
		}
		if got.ActiveFirmware != state.ActiveFirmware {
			t.Errorf("ActiveFirmware = %v, want %v", got.ActiveFirmware, state.ActiveFirmware)
		}
		if got.Staged == nil || len(got.Staged.Payloads) != 2 {
			t.Fatalf("Staged = %+v", got.Staged)
		}
		if got.Staged.Payloads[1].Version.Build != 9 || got.Staged.Payloads[1].Digest != "cd34" {
			t.Errorf("Payloads[1] = %+v", got.Staged.Payloads[1])
		}
		if got.LastError.Status != 0x0B {
			t.Errorf("LastError.Status = %d, want 11", got.LastError.Status)
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewAccessoryStateStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("LoadCorrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		_ = os.WriteFile(path, []byte("{not json"), 0644)

		if _, err := NewAccessoryStateStore(path).Load(); err == nil {
			t.Error("Load() of a corrupt file succeeded")
		}
	})

	t.Run("LoadFutureVersion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		_ = os.WriteFile(path, []byte(`{"version": 99}`), 0644)

		if _, err := NewAccessoryStateStore(path).Load(); err == nil {
			t.Error("Load() of a newer format succeeded")
		}
	})

	t.Run("SaveLeavesNoTempFiles", func(t *testing.T) {
		dir := t.TempDir()
		store := NewAccessoryStateStore(filepath.Join(dir, "state.json"))
		for range 3 {
			if err := store.Save(&AccessoryState{}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want 1", len(entries))
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewAccessoryStateStore(filepath.Join(t.TempDir(), "state.json"))
		_ = store.Save(&AccessoryState{ActiveFirmware: wire.Version{Major: 1}})

		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("second Clear() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() after Clear() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() after Clear() = %v, want nil", got)
		}
	})
}

func TestControllerStateStore(t *testing.T) {
	t.Run("InventoryRoundTrip", func(t *testing.T) {
		store := NewControllerStateStore(filepath.Join(t.TempDir(), "controller.json"))

		state, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(state.Accessories) != 0 {
			t.Fatalf("fresh state has %d accessories", len(state.Accessories))
		}

		a := state.Accessory("SN-1")
		a.Model = "Widget"
		a.Address = "10.0.0.7:7411"
		a.Firmware = wire.Version{Major: 1}
		a.LastOffered = wire.Version{Major: 2}
		a.LastResult = "UPLOAD_COMPLETE"
		a.LastSeenAt = time.Now()

		if state.Accessory("SN-1") != a {
			t.Error("Accessory() created a second entry for the same serial")
		}

		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		k := got.Accessories["SN-1"]
		if k == nil {
			t.Fatal("Accessories[SN-1] not found")
		}
		if k.LastOffered.Major != 2 || k.LastResult != "UPLOAD_COMPLETE" || k.Address != "10.0.0.7:7411" {
			t.Errorf("KnownAccessory = %+v", k)
		}
	})
}
