package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Status is persisted between sync runs.
type Status struct {
	LastSync         *time.Time `json:"last_sync"`
	LastFullSync     *time.Time `json:"last_full_sync"`
	IndexedDocuments []string   `json:"indexed_documents"`
}

// LoadStatus reads the status file. A missing file yields an empty status.
func LoadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Status{IndexedDocuments: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse sync status %s: %w", path, err)
	}
	if st.IndexedDocuments == nil {
		st.IndexedDocuments = []string{}
	}
	return &st, nil
}

// SaveStatus writes st to path through a temporary file and rename.
func SaveStatus(path string, st *Status) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sync_status-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write sync status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write sync status: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace sync status: %w", err)
	}
	return nil
}
