// Package storage implements spec §4.D: atomic on-disk persistence of the
// CRDT document and its root-id sidecar, with corruption backup-and-
// recover semantics. It knows nothing about CRDT parsing — callers pass
// and receive raw bytes and interpret them.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/evcraddock/rott/internal/docid"
)

const (
	documentFileName = "document.automerge"
	sidecarFileName  = "root_doc_id"
)

// Store is the atomic file-persistence layer rooted at a data directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a Store rooted at dir. The directory is not created until
// ValidateStorage or a write happens.
func New(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

func (s *Store) documentPath() string { return filepath.Join(s.dir, documentFileName) }
func (s *Store) sidecarPath() string  { return filepath.Join(s.dir, sidecarFileName) }

// atomicWrite creates the parent directory if needed, writes data to a
// temp file in the same directory, fsyncs it, and renames it over path.
// A killed process can never observe a torn file: rename is atomic and
// only happens after the new content is durable.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classify(dir, "mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return classify(path, "write", err)
	}
	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classify(path, "write", err)
	}

	// fsync before close: without it, a power loss after rename could
	// leave the target truncated, since rename alone only updates
	// directory metadata on POSIX filesystems.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classify(path, "write", err)
	}

	if err := tmp.Close(); err != nil {
		return classify(path, "write", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return classify(path, "rename", err)
	}

	succeeded = true
	return nil
}

// Save writes the CRDT document then the sidecar, in that order, so a
// sidecar surviving without a document means "joined but unsynced".
func (s *Store) Save(docBytes []byte, rootID docid.ID) error {
	s.logger.Debug("persisting document", "dir", s.dir, "size", len(docBytes))

	if err := atomicWrite(s.documentPath(), docBytes); err != nil {
		return err
	}

	if err := atomicWrite(s.sidecarPath(), []byte(rootID.ToBs58Check())); err != nil {
		return err
	}

	s.logger.Info("document persisted", "dir", s.dir)
	return nil
}

// SaveSidecarOnly writes just the root-id sidecar, used when joining a
// remote document before any sync has produced CRDT bytes to persist.
func (s *Store) SaveSidecarOnly(rootID docid.ID) error {
	return atomicWrite(s.sidecarPath(), []byte(rootID.ToBs58Check()))
}

// Load returns the raw CRDT bytes, or found=false if the file is absent.
func (s *Store) Load() (data []byte, found bool, err error) {
	data, err = os.ReadFile(s.documentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, classify(s.documentPath(), "read", err)
	}
	return data, true, nil
}

// LoadRootID reads and parses the sidecar file.
func (s *Store) LoadRootID() (id docid.ID, found bool, err error) {
	raw, err := os.ReadFile(s.sidecarPath())
	if err != nil {
		if os.IsNotExist(err) {
			return docid.ID{}, false, nil
		}
		return docid.ID{}, false, classify(s.sidecarPath(), "read", err)
	}

	text := string(raw)
	for len(text) > 0 && (text[len(text)-1] == '\n' || text[len(text)-1] == '\r') {
		text = text[:len(text)-1]
	}

	id, parseErr := docid.FromBs58Check(text)
	if parseErr != nil {
		return docid.ID{}, false, fmt.Errorf("storage: parse sidecar: %w", parseErr)
	}
	return id, true, nil
}

// BackupCorrupt copies the current (unparseable) document file aside as
// <name>.corrupt.<timestamp>.backup and removes the original, so the
// caller can start fresh without silently discarding the bad data.
func (s *Store) BackupCorrupt() (backupPath string, err error) {
	data, err := os.ReadFile(s.documentPath())
	if err != nil {
		return "", classify(s.documentPath(), "read", err)
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	backupPath = filepath.Join(s.dir, fmt.Sprintf("%s.corrupt.%s.backup", documentFileName, stamp))

	if err := atomicWrite(backupPath, data); err != nil {
		return "", err
	}

	if err := os.Remove(s.documentPath()); err != nil && !os.IsNotExist(err) {
		return "", classify(s.documentPath(), "remove", err)
	}

	s.logger.Warn("backed up corrupt document", "backup", backupPath, "size", len(data))

	return backupPath, nil
}

// ValidateStorage ensures the data directory exists and is writable by
// opening and removing a probe file.
func (s *Store) ValidateStorage() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return classify(s.dir, "mkdir", err)
	}

	probe := filepath.Join(s.dir, ".write-probe")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return classify(s.dir, "write", err)
	}

	if err := os.Remove(probe); err != nil {
		return classify(probe, "remove", err)
	}

	return nil
}

// IsPendingSync reports whether the sidecar exists but the CRDT file does
// not — the state right after joining a remote document, before the
// first successful sync.
func (s *Store) IsPendingSync() (bool, error) {
	_, docFound, err := s.Load()
	if err != nil {
		return false, err
	}
	_, sidecarFound, err := s.LoadRootID()
	if err != nil {
		return false, err
	}
	return sidecarFound && !docFound, nil
}

// StorageStats returns the CRDT file's byte size, 0 if absent.
func (s *Store) StorageStats() (int64, error) {
	info, err := os.Stat(s.documentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, classify(s.documentPath(), "stat", err)
	}
	return info.Size(), nil
}
