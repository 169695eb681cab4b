package nonce

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion is the current version of the snapshot file format.
const SnapshotVersion = 1

// Snapshot is the persisted form of the cache.
type Snapshot struct {
	// Version is the snapshot file format version.
	Version int `json:"version"`

	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`

	// Entries are the cached nonce accounts.
	Entries []Entry `json:"entries,omitempty"`
}

// FileStore persists cache snapshots to a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the cache contents to disk. In-flight reservations are
// demoted to available so a restart never resurrects a stale hold.
func (s *FileStore) Save(c *Cache) error {
	entries := c.Entries()
	for i := range entries {
		if entries[i].State == StateReserved {
			entries[i].State = StateAvailable
			entries[i].ReservedUntil = time.Time{}
		}
	}

	snap := Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now(),
		Entries: entries,
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads a snapshot from disk and replays it into the cache.
// Returns nil if the file does not exist (empty cache).
func (s *FileStore) Load(c *Cache) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode nonce snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("unsupported nonce snapshot version %d", snap.Version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range snap.Entries {
		e := snap.Entries[i]
		if e.Account == "" {
			continue
		}
		c.entries[e.Account] = &e
	}
	return nil
}

// Clear removes the snapshot file.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
