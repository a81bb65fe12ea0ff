// Package diff decides which manifest files need transferring, preferring
// the persisted snapshot over a live directory scan when both exist.
package diff

import (
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/patch"
)

// Engine computes the minimal transfer set for an installation folder.
type Engine struct {
	log *zap.Logger
}

// NewEngine returns a diff engine.
func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log}
}

// FilesToUpdate returns the subset of serverFiles that needs transferring,
// in server order.
//
// When a snapshot exists for the same folder it is trusted as the record
// of what was already installed and the live scan is ignored: a file is
// selected when the snapshot lacks it or records a different size or
// modification time. Without a usable snapshot the live scan decides,
// with IsFileUpToDate as the per-file heuristic. A scan cannot tell
// "never downloaded" apart from "server metadata drifted slightly", so
// the snapshot path avoids redundant re-downloads after cosmetic changes.
func (e *Engine) FilesToUpdate(serverFiles []patch.ServerFile, localFiles []patch.LocalFile, snapshot *patch.UpdateState, folderPath string) []patch.ServerFile {
	if snapshot != nil && snapshot.FolderPath == folderPath {
		return e.diffAgainstSnapshot(serverFiles, snapshot)
	}
	return e.diffAgainstScan(serverFiles, localFiles)
}

func (e *Engine) diffAgainstSnapshot(serverFiles []patch.ServerFile, snapshot *patch.UpdateState) []patch.ServerFile {
	var out []patch.ServerFile
	for _, sf := range serverFiles {
		prev, ok := snapshot.FileByName(sf.Name)
		if !ok || prev.Size != sf.Size || prev.Modified != sf.Modified {
			out = append(out, sf)
		}
	}
	e.log.Debug("diff against snapshot",
		zap.Int("server_files", len(serverFiles)), zap.Int("to_update", len(out)))
	return out
}

func (e *Engine) diffAgainstScan(serverFiles []patch.ServerFile, localFiles []patch.LocalFile) []patch.ServerFile {
	byName := make(map[string]patch.LocalFile, len(localFiles))
	for _, lf := range localFiles {
		byName[lf.Name] = lf
	}

	var out []patch.ServerFile
	for _, sf := range serverFiles {
		lf, ok := byName[sf.Name]
		if !ok || !IsFileUpToDate(lf, sf) {
			out = append(out, sf)
		}
	}
	e.log.Debug("diff against local scan",
		zap.Int("server_files", len(serverFiles)), zap.Int("to_update", len(out)))
	return out
}

// IsFileUpToDate reports whether a local entry can stand in for the
// server's version. Sizes must match, and a local modification time
// strictly older than the server's means stale. Equal or newer local
// times with matching size count as up to date. This is a heuristic,
// not a cryptographic guarantee; checksums are enforced only by the
// repair verification pass.
func IsFileUpToDate(local patch.LocalFile, server patch.ServerFile) bool {
	if local.Size != server.Size {
		return false
	}
	if local.Modified != 0 && server.Modified != 0 && local.Modified < server.Modified {
		return false
	}
	return true
}
