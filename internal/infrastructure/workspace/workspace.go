package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const scopePrefix = "dbvault-"

// Workspace owns a directory under which each target gets its own scope.
type Workspace struct {
	basePath string
}

func New(basePath string) (*Workspace, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return &Workspace{basePath: basePath}, nil
}

// Scope allocates a fresh private directory. Close removes it and
// everything written into it.
func (w *Workspace) Scope(label string) (*Scope, error) {
	dir, err := os.MkdirTemp(w.basePath, scopePrefix+label+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scope: %w", err)
	}
	return &Scope{dir: dir}, nil
}

// Sweep removes scopes older than cutoff left behind by a crashed process.
func (w *Workspace) Sweep(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scopePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return removed, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.basePath, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed = append(removed, entry.Name())
	}

	return removed, nil
}

type Scope struct {
	dir string
}

func (s *Scope) Dir() string {
	return s.dir
}

func (s *Scope) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

func (s *Scope) Close() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove scope %s: %w", s.dir, err)
	}
	return nil
}
