package perms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeUsers replaces the user document with users, indented, and returns
// the bytes written. The new document is renamed over the old one so that
// readers never see it half written.
func writeUsers(path string, users map[string]string) ([]byte, error) {
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return nil, err
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".users-*.json")
	if err != nil {
		return nil, fmt.Errorf("save users: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("save users: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("save users: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("save users: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("save users: %w", err)
	}
	return b, nil
}
