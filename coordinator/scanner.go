package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStat holds the stat information submitted with a metadata add.
type LocalStat struct {
	Name     string
	Path     string
	Size     int64
	Created  float64
	Modified float64
}

// StatFile stats a single file for tracking. Directories are rejected; the
// catalog is flat and file-granular.
func StatFile(path string) (*LocalStat, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return nil, newAPIError("stat", fmt.Sprintf("%s is not a file", abs))
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	return &LocalStat{
		Name: info.Name(),
		Path: abs,
		Size: info.Size(),
		// Creation time is not portable; birth time falls back to mtime.
		Created:  mtime,
		Modified: mtime,
	}, nil
}

// ScanDirectory walks one directory level and returns stats for every
// regular file, for bulk tracking. Hidden files are skipped.
func ScanDirectory(root string) ([]LocalStat, error) {
	l := sub("scanner")
	l.Debug("scan start", "root", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}

	var result []LocalStat
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		stat, err := StatFile(filepath.Join(root, entry.Name()))
		if err != nil {
			l.Warn("scan stat error", "name", entry.Name(), "err", err)
			continue
		}
		result = append(result, *stat)
	}

	l.Debug("scan complete", "root", root, "files", len(result))
	return result, nil
}
