package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// AccessoryState contains the firmware state of an accessory.
type AccessoryState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// ActiveFirmware is the running firmware version.
	ActiveFirmware wire.Version `json:"active_firmware"`

	// Staged is the fully staged asset awaiting apply, if any.
	Staged *StagedAsset `json:"staged,omitempty"`

	// LastError records the most recent failure.
	LastError LastError `json:"last_error"`

	// AppliedAt is when firmware was last applied.
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

// StagedAsset describes a staged SuperBinary.
type StagedAsset struct {
	Tag     string       `json:"tag"`
	Version wire.Version `json:"version"`
	Length  uint32       `json:"length"`

	// Payloads lists the staged payloads in SuperBinary order.
	Payloads []StagedPayload `json:"payloads"`

	// StagedAt is when staging completed.
	StagedAt time.Time `json:"staged_at"`

	// Controller is the remote address of the controller that supplied it.
	Controller string `json:"controller,omitempty"`
}

// StagedPayload describes one staged payload.
type StagedPayload struct {
	Tag     string       `json:"tag"`
	Version wire.Version `json:"version"`
	Length  uint32       `json:"length"`

	// Digest is the hex BLAKE2b-256 digest of the payload bytes.
	Digest string `json:"digest"`
}

// LastError mirrors the accessory's last-error record.
type LastError struct {
	Action uint32    `json:"action"`
	Status uint32    `json:"status"`
	At     time.Time `json:"at,omitzero"`
}

// AccessoryStateStore manages persistence of accessory state to a JSON file.
type AccessoryStateStore struct {
	mu   sync.Mutex
	path string
}

// NewAccessoryStateStore creates a new accessory state store.
func NewAccessoryStateStore(path string) *AccessoryStateStore {
	return &AccessoryStateStore{path: path}
}

// Path returns the state file path.
func (s *AccessoryStateStore) Path() string { return s.path }

// Save persists the accessory state to disk.
func (s *AccessoryStateStore) Save(state *AccessoryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	state.SavedAt = time.Now()
	return writeJSON(s.path, state)
}

// Load reads the accessory state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *AccessoryStateStore) Load() (*AccessoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &AccessoryState{}
	if ok, err := readJSON(s.path, state); !ok {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%s: unsupported state version %d", s.path, state.Version)
	}
	return state, nil
}

// Clear removes the state file.
func (s *AccessoryStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// ControllerState contains the controller tool's accessory inventory.
type ControllerState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Accessories is keyed by serial number.
	Accessories map[string]*KnownAccessory `json:"accessories,omitempty"`
}

// KnownAccessory contains what the controller last learned about an accessory.
type KnownAccessory struct {
	Serial   string       `json:"serial"`
	Model    string       `json:"model,omitempty"`
	Address  string       `json:"address,omitempty"`
	Firmware wire.Version `json:"firmware"`

	// LastOffered is the version of the last asset offered to it.
	LastOffered wire.Version `json:"last_offered,omitzero"`

	// LastResult is the last processing or apply outcome, e.g. "UPLOAD_COMPLETE".
	LastResult string `json:"last_result,omitempty"`

	LastSeenAt time.Time `json:"last_seen_at"`
}

// Accessory returns the entry for serial, creating it when missing.
func (c *ControllerState) Accessory(serial string) *KnownAccessory {
	if c.Accessories == nil {
		c.Accessories = make(map[string]*KnownAccessory)
	}
	a, ok := c.Accessories[serial]
	if !ok {
		a = &KnownAccessory{Serial: serial}
		c.Accessories[serial] = a
	}
	return a
}

// ControllerStateStore manages persistence of controller state to a JSON file.
type ControllerStateStore struct {
	mu   sync.Mutex
	path string
}

// NewControllerStateStore creates a new controller state store.
func NewControllerStateStore(path string) *ControllerStateStore {
	return &ControllerStateStore{path: path}
}

// Save persists the controller state to disk.
func (s *ControllerStateStore) Save(state *ControllerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	state.SavedAt = time.Now()
	return writeJSON(s.path, state)
}

// Load reads the controller state from disk. A missing file yields an
// empty state.
func (s *ControllerStateStore) Load() (*ControllerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &ControllerState{}
	if ok, err := readJSON(s.path, state); !ok && err != nil {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (s *ControllerStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readJSON reports false when the file does not exist or cannot be decoded.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
