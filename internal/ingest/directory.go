package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

type Stats struct {
	Scanned    uint32 `json:"scanned"`
	Matched    uint32 `json:"matched"`
	Duplicates uint32 `json:"duplicates"`
	Failed     uint32 `json:"failed"`
}

// Discover walks root, filters by includeExts (or defaults), skips hidden
// entries if requested and returns the matching files sorted by path. Files
// whose content duplicates an earlier match are left out. A root that is a
// file is returned as-is when its extension matches.
func Discover(root string, includeExts []string, skipHidden bool) ([]string, Stats, error) {
	var stats Stats
	if strings.TrimSpace(root) == "" {
		return nil, stats, fmt.Errorf("input root is required: %w", common.ErrInvalidInput)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, common.LocalIO("stat input", err)
	}
	exts := extSet(includeExts)

	if !info.IsDir() {
		stats.Scanned = 1
		if !allowed(root, exts) {
			return nil, stats, fmt.Errorf("%s: unsupported extension: %w", root, common.ErrInvalidInput)
		}
		stats.Matched = 1
		return []string{root}, stats, nil
	}

	var matched []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			slog.Warn("ingest.walk.error", "path", path, "error", walkErr)
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !allowed(path, exts) {
			return nil
		}
		matched = append(matched, path)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk: %w", err)
	}
	sort.Strings(matched)

	seen := map[string]string{}
	out := make([]string, 0, len(matched))
	for _, path := range matched {
		sum, err := FileHash(path)
		if err != nil {
			slog.Warn("ingest.hash.failed", "path", path, "error", err)
			stats.Failed++
			continue
		}
		if first, dup := seen[sum]; dup {
			slog.Info("ingest.duplicate.skipped", "path", path, "same_as", first)
			stats.Duplicates++
			continue
		}
		seen[sum] = path
		out = append(out, path)
	}
	stats.Matched = uint32(len(out))
	if len(out) == 0 && stats.Failed > 0 {
		return nil, stats, common.LocalIO("discover", errors.New("no readable documents found"))
	}
	return out, stats, nil
}
