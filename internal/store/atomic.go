// Package store persists the agent's named state files and audit ledger.
//
// Named state files (remediation-memory.json, pending-actions.json,
// tickets.json, ignore-list.json, exclusions.json, server-runbooks.json,
// baseline.json) are each a single JSON document replaced atomically on
// every write: marshal, write to a sibling .tmp file, fsync, rename over
// the target. Readers never observe a partial write.
//
// The audit ledger is append-only and backed by bbolt, since it is
// write-heavy, ordered, and pruned by age rather than replaced wholesale.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Named state file filenames, relative to Config.Storage.DataDir.
const (
	FileRemediationMemory = "remediation-memory.json"
	FilePendingActions    = "pending-actions.json"
	FileTickets           = "tickets.json"
	FileIgnoreList        = "ignore-list.json"
	FileExclusions        = "exclusions.json"
	FileServerRunbooks    = "server-runbooks.json"
	FileBaseline          = "baseline.json"
	FileMaintenanceWindows = "maintenance-windows.json"
)

// FileStore manages atomic whole-file JSON persistence under one data
// directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. dir is created if
// missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// SaveJSON marshals v and atomically replaces the named file: write to
// <name>.tmp, fsync, rename over <name>. Readers never see a partial
// write, matching the teacher's hint-file write pattern.
func (s *FileStore) SaveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// LoadJSON unmarshals the named file into v. If the file does not exist
// it leaves v untouched and returns nil, so callers can seed defaults.
func (s *FileStore) LoadJSON(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// Path returns the absolute path of a named state file, for logging.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}
