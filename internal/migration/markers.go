package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	_ Markers = (*MemoryMarkers)(nil)
	_ Markers = (*FileMarkers)(nil)
)

// MemoryMarkers keeps markers for the life of the process.
type MemoryMarkers struct {
	mu      sync.Mutex
	guestID string
	status  Status
}

func (m *MemoryMarkers) GuestID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guestID, nil
}

func (m *MemoryMarkers) SetGuestID(_ context.Context, guestUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guestID = guestUserID
	return nil
}

func (m *MemoryMarkers) ClearGuestID(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guestID = ""
	return nil
}

func (m *MemoryMarkers) Status(context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *MemoryMarkers) SaveStatus(_ context.Context, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	return nil
}

type markerFile struct {
	GuestUserID string `yaml:"guest_user_id,omitempty"`
	Migration   Status `yaml:"migration"`
}

// FileMarkers stores markers in a YAML file, one file per device profile.
type FileMarkers struct {
	path string
	mu   sync.Mutex
}

func NewFileMarkers(path string) *FileMarkers {
	return &FileMarkers{path: path}
}

func (f *FileMarkers) read() (markerFile, error) {
	var state markerFile
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read markers: %w", err)
	}
	if err := yaml.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("decode markers %s: %w", f.path, err)
	}
	return state, nil
}

func (f *FileMarkers) write(state markerFile) error {
	raw, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode markers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create markers dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write markers: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileMarkers) update(fn func(*markerFile)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, err := f.read()
	if err != nil {
		return err
	}
	fn(&state)
	return f.write(state)
}

func (f *FileMarkers) GuestID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, err := f.read()
	return state.GuestUserID, err
}

func (f *FileMarkers) SetGuestID(_ context.Context, guestUserID string) error {
	return f.update(func(s *markerFile) { s.GuestUserID = guestUserID })
}

func (f *FileMarkers) ClearGuestID(context.Context) error {
	return f.update(func(s *markerFile) { s.GuestUserID = "" })
}

func (f *FileMarkers) Status(context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, err := f.read()
	return state.Migration, err
}

func (f *FileMarkers) SaveStatus(_ context.Context, status Status) error {
	return f.update(func(s *markerFile) { s.Migration = status })
}
