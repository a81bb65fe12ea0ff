// Package scan inventories an installation folder, producing the local
// file entries the diff fallback path compares against.
package scan

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/patch"
)

// knownEntries are the non-archive top-level names that belong to an
// installation and are worth comparing against the server manifest.
var knownEntries = map[string]bool{
	"system":             true,
	"bgc1":               true,
	"documentosintitulo": true,
}

// Scanner lists the recognized contents of an installation folder.
type Scanner struct {
	fs  afero.Fs
	log *zap.Logger
}

// NewScanner returns a Scanner over fs.
func NewScanner(fs afero.Fs, log *zap.Logger) *Scanner {
	return &Scanner{fs: fs, log: log}
}

// recognized reports whether a top-level entry participates in the scan.
// Archives always do; everything else must be on the known-entry list.
func recognized(name string) bool {
	if strings.HasSuffix(strings.ToLower(name), ".zip") {
		return true
	}
	return knownEntries[strings.ToLower(name)]
}

// Scan returns the recognized entries directly under folderPath.
// Directories report their recursive total byte size. A missing folder
// yields an empty result, matching a fresh install.
func (s *Scanner) Scan(folderPath string) []patch.LocalFile {
	entries, err := afero.ReadDir(s.fs, folderPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("cannot scan installation folder",
				zap.String("folder", folderPath), zap.Error(err))
		}
		return nil
	}

	var out []patch.LocalFile
	for _, entry := range entries {
		if !recognized(entry.Name()) {
			continue
		}
		lf := patch.LocalFile{
			Name:        entry.Name(),
			Size:        entry.Size(),
			Modified:    entry.ModTime().Unix(),
			IsDirectory: entry.IsDir(),
		}
		if entry.IsDir() {
			lf.Size = s.dirSize(filepath.Join(folderPath, entry.Name()))
		}
		out = append(out, lf)
	}
	return out
}

// dirSize totals the bytes of every regular file under root. Errors on
// individual entries are skipped so one unreadable file does not zero
// out the whole directory.
func (s *Scanner) dirSize(root string) int64 {
	var total int64
	_ = afero.Walk(s.fs, root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// CleanupArchives removes leftover top-level zip archives from an
// installation folder and prunes directories the removals left empty.
// Used after batches so stray staging artifacts do not pollute later
// scans. Best effort throughout.
func (s *Scanner) CleanupArchives(folderPath string) int {
	entries, err := afero.ReadDir(s.fs, folderPath)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".zip") {
			continue
		}
		path := filepath.Join(folderPath, entry.Name())
		if err := s.fs.Remove(path); err != nil {
			s.log.Debug("cannot remove leftover archive", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(folderPath, entry.Name())
		if children, err := afero.ReadDir(s.fs, dir); err == nil && len(children) == 0 {
			_ = s.fs.Remove(dir)
		}
	}

	if removed > 0 {
		s.log.Info("removed leftover archives", zap.Int("count", removed))
	}
	return removed
}
