// Package repair re-fetches the server-curated repair file set and
// verifies the result. Unlike an update batch, repair is all-or-nothing:
// the first failure aborts so the installation is never left silently
// half-remediated.
package repair

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/extract"
	"github.com/terraonline/launcher/internal/patch"
	"github.com/terraonline/launcher/internal/server"
	"github.com/terraonline/launcher/internal/state"
	"github.com/terraonline/launcher/internal/transfer"
)

// Error wraps repair batch failures.
var Error = errs.Class("repair")

// scratchDir is the repair staging subfolder, separate from the update
// pipeline's so the two flows never contend over staged archives.
const scratchDir = "temp_repair"

// mtimeTolerance is how far a local modification time may trail the
// server's before verification flags it. Extraction rewrites mtimes, so
// exact matches are not expected.
const mtimeTolerance = 24 * time.Hour

// Phase weights mirror the update pipeline's composition.
const (
	downloadWeight = 0.6
	extractWeight  = 0.4
)

// Detail names one file that failed post-repair verification and why.
type Detail struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// IntegrityReport is the outcome of the post-repair verification pass.
// Report only: mismatches never roll back applied repairs.
type IntegrityReport struct {
	Checked    int      `json:"checked"`
	Mismatched []Detail `json:"mismatched,omitempty"`
}

// Result is the terminal outcome of one repair run.
type Result struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	RepairedCount int              `json:"repairedCount"`
	Report        *IntegrityReport `json:"report,omitempty"`
}

// ProgressFunc receives aggregate repair progress.
type ProgressFunc func(overallPercent float64, file string)

// Controller orchestrates repair runs.
type Controller struct {
	fs         afero.Fs
	client     *server.Client
	store      *state.Store
	extractor  extract.Extractor
	downloader transfer.Downloader
	log        *zap.Logger
	now        func() time.Time
}

// NewController wires a repair controller. A nil downloader gets the
// grab implementation.
func NewController(fs afero.Fs, client *server.Client, store *state.Store, extractor extract.Extractor, downloader transfer.Downloader, log *zap.Logger) *Controller {
	if downloader == nil {
		downloader = transfer.NewGrabDownloader()
	}
	return &Controller{
		fs:         fs,
		client:     client,
		store:      store,
		extractor:  extractor,
		downloader: downloader,
		log:        log,
		now:        time.Now,
	}
}

// Run asks the server which files need repair and re-fetches each one.
// An empty candidate list is a valid terminal state, not a failure, and
// triggers no downloads. The general diff never runs here; the server
// curates the set.
func (c *Controller) Run(ctx context.Context, targetFolder string, onProgress ProgressFunc) (*Result, error) {
	candidates := c.client.GetRepairCandidates(ctx)
	if len(candidates) == 0 {
		c.log.Info("no files need repair", zap.String("folder", targetFolder))
		return &Result{Success: true, Message: "no files need repair"}, nil
	}

	if _, err := c.client.EnsureFreshToken(ctx); err != nil {
		return nil, err
	}

	scratch := filepath.Join(targetFolder, scratchDir)
	if err := c.fs.MkdirAll(scratch, 0755); err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = c.fs.RemoveAll(scratch) }()

	total := len(candidates)
	for i, f := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, Error.Wrap(err)
		}
		if err := c.repairOne(ctx, f, targetFolder, scratch, i, total, onProgress); err != nil {
			return nil, Error.New("repair of %s failed: %v", f.Name, err)
		}
	}

	// Server checksums strengthen verification when available; their
	// absence is fine, size and date still apply.
	c.fillChecksums(ctx, candidates)
	report := c.verify(targetFolder, candidates)
	c.touchVerification(targetFolder)

	c.log.Info("repair finished", zap.Int("repaired", total),
		zap.Int("verification_mismatches", len(report.Mismatched)))
	return &Result{
		Success:       true,
		Message:       fmt.Sprintf("repaired %d files", total),
		RepairedCount: total,
		Report:        report,
	}, nil
}

// repairOne downloads and extracts one repair file, deleting the staged
// archive right after extraction so repair never accumulates a backlog.
func (c *Controller) repairOne(ctx context.Context, f patch.ServerFile, targetFolder, scratch string, processed, total int, onProgress ProgressFunc) error {
	url, err := c.client.DownloadURL(f.Name)
	if err != nil {
		return err
	}

	archivePath := filepath.Join(scratch, f.Name)
	share := 100.0 / float64(total)
	base := float64(processed) * share

	err = c.downloader.Download(ctx, url, archivePath, func(_, _ int64, percent int) {
		if onProgress != nil {
			onProgress(base+downloadWeight*float64(percent)*share/100.0, f.Name)
		}
	})
	if err != nil {
		return err
	}

	err = c.extractor.Extract(ctx, archivePath, targetFolder, func(percent int) {
		if onProgress != nil {
			onProgress(base+(downloadWeight*100+extractWeight*float64(percent))*share/100.0, f.Name)
		}
	})
	if err != nil {
		return err
	}

	if err := c.fs.Remove(archivePath); err != nil {
		c.log.Debug("cannot remove repair archive", zap.String("path", archivePath), zap.Error(err))
	}
	return nil
}

// fillChecksums backfills candidate checksums from the checksum
// endpoint for entries the repair list left blank.
func (c *Controller) fillChecksums(ctx context.Context, candidates []patch.ServerFile) {
	sums := c.client.GetChecksums(ctx)
	if len(sums) == 0 {
		return
	}
	byName := make(map[string]string, len(sums))
	for _, s := range sums {
		byName[s.Name] = s.Checksum
	}
	for i := range candidates {
		if candidates[i].Checksum == "" {
			candidates[i].Checksum = byName[candidates[i].Name]
		}
	}
}

// verify compares the repaired files against the server's metadata.
// Size must match, checksums are compared when the server provides one,
// and modification times get a one-day tolerance.
func (c *Controller) verify(targetFolder string, candidates []patch.ServerFile) *IntegrityReport {
	report := &IntegrityReport{}
	for _, f := range candidates {
		report.Checked++

		path := filepath.Join(targetFolder, f.Name)
		info, err := c.fs.Stat(path)
		if err != nil {
			report.Mismatched = append(report.Mismatched, Detail{Name: f.Name, Reason: "missing after repair"})
			continue
		}
		if info.IsDir() {
			continue
		}

		if info.Size() != f.Size {
			report.Mismatched = append(report.Mismatched, Detail{
				Name:   f.Name,
				Reason: fmt.Sprintf("size %d, server reports %d", info.Size(), f.Size),
			})
			continue
		}

		if f.Checksum != "" {
			sum, err := c.fileMD5(path)
			if err == nil && sum != f.Checksum {
				report.Mismatched = append(report.Mismatched, Detail{Name: f.Name, Reason: "checksum mismatch"})
				continue
			}
		}

		if f.Modified != 0 {
			serverTime := time.Unix(f.Modified, 0)
			if info.ModTime().Add(mtimeTolerance).Before(serverTime) {
				report.Mismatched = append(report.Mismatched, Detail{Name: f.Name, Reason: "modification time too old"})
			}
		}
	}
	return report
}

func (c *Controller) fileMD5(path string) (string, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// touchVerification records the verification time on the existing
// snapshot. No snapshot means nothing to touch; repair does not invent
// a baseline.
func (c *Controller) touchVerification(targetFolder string) {
	st := c.store.Load(targetFolder)
	if st == nil {
		return
	}
	st.LastVerification = c.now().UnixMilli()
	if err := c.store.SaveSnapshot(st); err != nil {
		c.log.Warn("cannot record verification time", zap.Error(err))
	}
}
