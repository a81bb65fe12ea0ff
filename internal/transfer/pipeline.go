// Package transfer runs update batches: each manifest file is downloaded
// into a scratch folder, extracted into the installation tree, and
// reported on a typed progress event stream.
package transfer

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/extract"
	"github.com/terraonline/launcher/internal/patch"
	"github.com/terraonline/launcher/internal/server"
	"github.com/terraonline/launcher/internal/state"
)

// Error wraps per-file transfer failures.
var Error = errs.Class("transfer")

// scratchDir is the staging subfolder for in-flight update archives,
// created under the installation folder and removed at batch end.
const scratchDir = "temp_download"

// Downloader streams one remote file to a local path, reporting progress.
type Downloader interface {
	Download(ctx context.Context, url, targetPath string, onProgress func(bytesComplete, totalBytes int64, percent int)) error
}

// grabDownloader is the production Downloader. Resume is disabled so a
// retried file always starts clean instead of appending to a stale
// partial from an earlier token.
type grabDownloader struct {
	client *grab.Client
}

// NewGrabDownloader returns the HTTP downloader used outside tests.
func NewGrabDownloader() Downloader {
	return &grabDownloader{client: grab.NewClient()}
}

func (d *grabDownloader) Download(ctx context.Context, url, targetPath string, onProgress func(bytesComplete, totalBytes int64, percent int)) error {
	req, err := grab.NewRequest(targetPath, url)
	if err != nil {
		return Error.Wrap(err)
	}
	req.NoResume = true
	req = req.WithContext(ctx)

	resp := d.client.Do(req)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastPercent := -1
	for {
		select {
		case <-ticker.C:
			if onProgress == nil {
				continue
			}
			var percent int
			if resp.Size() > 0 {
				percent = int(resp.Progress() * 100)
			}
			if percent != lastPercent {
				onProgress(resp.BytesComplete(), resp.Size(), percent)
				lastPercent = percent
			}
		case <-resp.Done:
			if err := resp.Err(); err != nil {
				return Error.New("download failed: %v", err)
			}
			if onProgress != nil && resp.Size() > 0 {
				onProgress(resp.BytesComplete(), resp.Size(), 100)
			}
			return nil
		}
	}
}

// Job is one transient batch operation. Cancellation is cooperative and
// file-grained: the flag is checked before each file starts, never
// mid-file, so an in-flight transfer always runs to completion or hard
// failure.
type Job struct {
	ID    string
	Files []patch.ServerFile

	cancelled atomic.Bool
}

// NewJob creates a batch job over the diffed file set.
func NewJob(files []patch.ServerFile) *Job {
	return &Job{ID: uuid.NewString(), Files: files}
}

// Cancel stops the job before its next file. Safe from any goroutine.
func (j *Job) Cancel() { j.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Pipeline executes update batches against one installation folder at a
// time. Serialization across batches is the guard's job, not ours.
type Pipeline struct {
	fs         afero.Fs
	client     *server.Client
	store      *state.Store
	extractor  extract.Extractor
	downloader Downloader
	log        *zap.Logger
	now        func() time.Time
}

// NewPipeline wires a transfer pipeline. A nil downloader gets the grab
// implementation.
func NewPipeline(fs afero.Fs, client *server.Client, store *state.Store, extractor extract.Extractor, downloader Downloader, log *zap.Logger) *Pipeline {
	if downloader == nil {
		downloader = NewGrabDownloader()
	}
	return &Pipeline{
		fs:         fs,
		client:     client,
		store:      store,
		extractor:  extractor,
		downloader: downloader,
		log:        log,
		now:        time.Now,
	}
}

// RunBatch processes the job's files in order, emitting progress on
// events and closing it when done. manifest is the full server file
// list used for the new baseline snapshot.
//
// Failure semantics are file-grained: one file's download or extraction
// error records it in the failed set and the batch continues. Only an
// up-front token failure aborts the whole batch.
//
// The snapshot written afterward is a merge: files confirmed downloaded
// take the server's metadata, everything else keeps its prior snapshot
// entry. Failed files therefore stay stale in the baseline and are
// retried by the next diff. A cancelled batch persists nothing, since
// its partial progress is not a verified baseline.
func (p *Pipeline) RunBatch(ctx context.Context, job *Job, targetFolder string, manifest []patch.ServerFile, events chan<- Event) (*patch.BatchSummary, error) {
	if events != nil {
		defer close(events)
	}

	if _, err := p.client.EnsureFreshToken(ctx); err != nil {
		return nil, err
	}

	scratch := filepath.Join(targetFolder, scratchDir)
	if err := p.fs.MkdirAll(scratch, 0755); err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		if err := p.fs.RemoveAll(scratch); err != nil {
			p.log.Debug("cannot remove scratch folder", zap.String("path", scratch), zap.Error(err))
		}
	}()

	summary := &patch.BatchSummary{Total: len(job.Files)}
	var speeds []float64
	var lastSpeed float64

	total := len(job.Files)
	for i, f := range job.Files {
		if ctx.Err() != nil || job.Cancelled() {
			p.log.Info("batch cancelled", zap.String("job", job.ID),
				zap.Int("processed", i), zap.Int("total", total))
			break
		}

		speed, err := p.transferOne(ctx, f, targetFolder, scratch, i, total, events)
		if err != nil {
			p.log.Warn("file transfer failed", zap.String("file", f.Name), zap.Error(err))
			summary.Failed++
			summary.FailedNames = append(summary.FailedNames, f.Name)
			p.emit(events, Event{
				Kind:           EventFileDone,
				File:           f.Name,
				OverallPercent: overallPercent(i+1, total, 0, 0, 0),
				Err:            err,
			})
			continue
		}

		summary.Downloaded++
		summary.DownloadedNames = append(summary.DownloadedNames, f.Name)
		if speed > 0 {
			speeds = append(speeds, speed)
			lastSpeed = speed
		}
		p.emit(events, Event{
			Kind:           EventFileDone,
			File:           f.Name,
			OverallPercent: overallPercent(i+1, total, 0, 0, 0),
		})
	}

	if summary.Downloaded > 0 && !job.Cancelled() && ctx.Err() == nil {
		p.persistBaseline(targetFolder, manifest, summary, speeds, lastSpeed)
	}

	p.emit(events, Event{Kind: EventBatchDone, OverallPercent: 100, Summary: summary})
	p.log.Info("batch finished", zap.String("job", job.ID),
		zap.Int("downloaded", summary.Downloaded), zap.Int("failed", summary.Failed))
	return summary, nil
}

// transferOne runs the download-then-extract pipeline for one file and
// returns the file's mean observed download speed. The archive stays in
// the scratch folder until the batch-end cleanup removes it.
func (p *Pipeline) transferOne(ctx context.Context, f patch.ServerFile, targetFolder, scratch string, processed, total int, events chan<- Event) (float64, error) {
	url, err := p.client.DownloadURL(f.Name)
	if err != nil {
		return 0, err
	}

	archivePath := filepath.Join(scratch, f.Name)

	start := p.now()
	lastTime := start
	var lastBytes int64
	var speedSum float64
	var speedSamples int

	err = p.downloader.Download(ctx, url, archivePath, func(bytesComplete, totalBytes int64, percent int) {
		now := p.now()
		elapsed := now.Sub(lastTime)
		var speed float64
		if elapsed > 0 && bytesComplete > lastBytes {
			speed = float64(bytesComplete-lastBytes) / elapsed.Seconds()
			speedSum += speed
			speedSamples++
		}
		lastBytes = bytesComplete
		lastTime = now

		p.emit(events, Event{
			Kind:           EventDownload,
			File:           f.Name,
			OverallPercent: overallPercent(processed, total, 0, downloadWeight, percent),
			PhasePercent:   percent,
			BytesComplete:  bytesComplete,
			TotalBytes:     totalBytes,
			SpeedBPS:       speed,
			ElapsedMs:      now.Sub(start).Milliseconds(),
		})
	})
	if err != nil {
		return 0, err
	}

	err = p.extractor.Extract(ctx, archivePath, targetFolder, func(percent int) {
		p.emit(events, Event{
			Kind:           EventExtract,
			File:           f.Name,
			OverallPercent: overallPercent(processed, total, downloadWeight, extractWeight, percent),
			PhasePercent:   percent,
		})
	})
	if err != nil {
		return 0, err
	}

	var avg float64
	if speedSamples > 0 {
		avg = speedSum / float64(speedSamples)
	}
	return avg, nil
}

// persistBaseline writes the merged snapshot after a batch with at least
// one success. A write failure is logged and dropped; the transfers
// already happened and must not be reported as failed over bookkeeping.
func (p *Pipeline) persistBaseline(targetFolder string, manifest []patch.ServerFile, summary *patch.BatchSummary, speeds []float64, lastSpeed float64) {
	prior := p.store.Load(targetFolder)

	downloaded := make(map[string]bool, len(summary.DownloadedNames))
	for _, name := range summary.DownloadedNames {
		downloaded[name] = true
	}

	attempted := make(map[string]bool, summary.Total)
	for _, name := range summary.DownloadedNames {
		attempted[name] = true
	}
	for _, name := range summary.FailedNames {
		attempted[name] = true
	}

	merged := make([]patch.ServerFile, 0, len(manifest))
	for _, sf := range manifest {
		switch {
		case downloaded[sf.Name] || !attempted[sf.Name]:
			// Confirmed transfers and files the diff never selected
			// both match the server now.
			merged = append(merged, sf)
		case prior != nil:
			if prev, ok := prior.FileByName(sf.Name); ok {
				merged = append(merged, prev)
			}
			// Failed with no prior entry: omit, so the next diff
			// selects it again.
		}
	}

	stats := patch.DownloadStats{}
	if prior != nil {
		stats = prior.DownloadStats
	}
	stats.TotalDownloads += summary.Total
	stats.SuccessfulDownloads += summary.Downloaded
	stats.FailedDownloads += summary.Failed
	if lastSpeed > 0 {
		stats.LastSpeed = lastSpeed
	}
	if len(speeds) > 0 {
		var sum float64
		for _, s := range speeds {
			sum += s
		}
		stats.AverageSpeed = sum / float64(len(speeds))
	}

	if err := p.store.Save(targetFolder, merged, stats); err != nil {
		p.log.Warn("cannot persist update state", zap.String("folder", targetFolder), zap.Error(err))
	}
}

func (p *Pipeline) emit(events chan<- Event, ev Event) {
	if events != nil {
		events <- ev
	}
}
