// Package state persists the last confirmed server manifest per
// installation folder, so later diffs can trust "what we already
// installed" instead of re-deriving it from a directory scan.
package state

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf16"

	"github.com/spf13/afero"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/patch"
)

// Error wraps snapshot read/write failures.
var Error = errs.Class("state")

const snapshotPrefix = "update_state_"

// FolderHash reduces an absolute folder path to a short hex key for the
// snapshot filename. It is a polynomial rolling hash over UTF-16 code
// units, not collision-free; the snapshot embeds the literal folder path
// and Load rejects a snapshot whose path does not match, so a collision
// costs at most a redundant full diff.
func FolderHash(folderPath string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(folderPath)) {
		h = (h << 5) - h + int32(u)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 16)
}

// Store reads and writes UpdateState snapshots under a data directory.
type Store struct {
	fs  afero.Fs
	dir string
	log *zap.Logger
	now func() time.Time
}

// NewStore returns a Store rooted at dataDir. The directory is created
// lazily on first save.
func NewStore(fs afero.Fs, dataDir string, log *zap.Logger) *Store {
	return &Store{fs: fs, dir: dataDir, log: log, now: time.Now}
}

func (s *Store) path(folderPath string) string {
	return filepath.Join(s.dir, snapshotPrefix+FolderHash(folderPath)+".json")
}

// Load returns the persisted snapshot for folderPath, or nil when no
// snapshot exists, the file is empty, it cannot be parsed, or it was
// written for a different folder (hash collision). Parse failures are
// logged, never raised.
func (s *Store) Load(folderPath string) *patch.UpdateState {
	path := s.path(folderPath)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil || len(data) == 0 {
		return nil
	}

	var st patch.UpdateState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("discarding unreadable update state",
			zap.String("path", path), zap.Error(err))
		return nil
	}
	if st.FolderPath != folderPath {
		s.log.Warn("update state belongs to a different folder, ignoring",
			zap.String("stored", st.FolderPath), zap.String("requested", folderPath))
		return nil
	}
	return &st
}

// Save builds a fresh snapshot for folderPath from serverFiles and
// current timestamps, replacing any prior snapshot.
func (s *Store) Save(folderPath string, serverFiles []patch.ServerFile, stats patch.DownloadStats) error {
	now := s.now().UnixMilli()
	return s.SaveSnapshot(&patch.UpdateState{
		FolderPath:       folderPath,
		LastUpdate:       now,
		LastVerification: now,
		ServerFiles:      serverFiles,
		DownloadStats:    stats,
	})
}

// SaveSnapshot writes st wholesale, creating the data directory if
// needed. The write goes through a temp file and rename so a crash never
// leaves a truncated snapshot behind.
func (s *Store) SaveSnapshot(st *patch.UpdateState) error {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return Error.Wrap(err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return Error.Wrap(err)
	}

	path := s.path(st.FolderPath)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, append(data, '\n'), 0644); err != nil {
		return Error.Wrap(err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return Error.Wrap(err)
	}
	return nil
}

// Clear removes the snapshot for folderPath. Best effort: a missing file
// or a failed removal is not an error, since the caller is switching
// folders and only wants to avoid stale cross-folder comparisons.
func (s *Store) Clear(folderPath string) {
	if err := s.fs.Remove(s.path(folderPath)); err != nil {
		s.log.Debug("clear update state", zap.String("folder", folderPath), zap.Error(err))
	}
}
