package transfer

import "github.com/terraonline/launcher/internal/patch"

// Phase weights within a single file's share of the batch. Download
// dominates because extraction of these archives is short relative to
// transfer time on typical links.
const (
	downloadWeight = 0.6
	extractWeight  = 0.4
)

// EventKind discriminates progress events on the batch stream.
type EventKind int

const (
	// EventDownload reports download progress for the current file.
	EventDownload EventKind = iota
	// EventExtract reports extraction progress for the current file.
	EventExtract
	// EventFileDone marks the end of one file's pipeline, success or not.
	EventFileDone
	// EventBatchDone is the terminal event and carries the summary.
	EventBatchDone
)

// Event is one progress notification from a running batch. Consumers
// receive these on a channel instead of registering callbacks, so the
// pipeline stays decoupled from any presentation layer.
type Event struct {
	Kind EventKind
	File string

	// OverallPercent is the batch-wide aggregate, monotonically
	// non-decreasing across the event stream.
	OverallPercent float64
	// PhasePercent is the current phase's own 0..100 progress.
	PhasePercent int

	BytesComplete int64
	TotalBytes    int64
	// SpeedBPS is instantaneous bytes per second, measured between
	// consecutive download callbacks rather than cumulatively, so it
	// tracks changing network conditions.
	SpeedBPS  float64
	ElapsedMs int64

	// Err is set on EventFileDone when that file failed.
	Err error
	// Summary is set on EventBatchDone.
	Summary *patch.BatchSummary
}

// overallPercent composes batch progress from the count of files already
// processed and the current file's in-phase progress. phaseBase is the
// fraction of the file's share consumed by earlier phases (0 during
// download, downloadWeight during extraction).
func overallPercent(processed, total int, phaseBase, phaseWeight float64, phasePercent int) float64 {
	if total == 0 {
		return 100
	}
	share := 100.0 / float64(total)
	filePart := phaseBase*100 + phaseWeight*float64(phasePercent)
	if filePart > 100 {
		// Weight rounding must never push a file past its own share.
		filePart = 100
	}
	return float64(processed)*share + filePart*share/100.0
}
