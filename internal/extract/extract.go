// Package extract shells out to an archive tool. Extraction is a host
// primitive here, not something the launcher implements itself.
package extract

import (
	"bufio"
	"context"
	"os/exec"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error wraps extraction failures.
var Error = errs.Class("extract")

// Extractor unpacks one archive into a destination directory, reporting
// coarse progress percentages through onProgress.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, onProgress func(percent int)) error
}

// CommandExtractor runs 7z when available, falling back to unzip. Both
// tools print one line per output chunk, which drives the progress
// increments; neither gives byte-accurate numbers, so progress moves in
// fixed steps and only the terminal exit decides success.
type CommandExtractor struct {
	log *zap.Logger
}

// NewCommandExtractor returns an Extractor backed by external tools.
func NewCommandExtractor(log *zap.Logger) *CommandExtractor {
	return &CommandExtractor{log: log}
}

func commandFor(archivePath, destDir string) (string, []string) {
	if _, err := exec.LookPath("7z"); err == nil {
		return "7z", argsFor("7z", archivePath, destDir)
	}
	return "unzip", argsFor("unzip", archivePath, destDir)
}

func argsFor(tool, archivePath, destDir string) []string {
	if tool == "7z" {
		return []string{"x", archivePath, "-o" + destDir, "-y"}
	}
	return []string{"-o", archivePath, "-d", destDir}
}

func (e *CommandExtractor) Extract(ctx context.Context, archivePath, destDir string, onProgress func(percent int)) error {
	name, args := commandFor(archivePath, destDir)
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Error.Wrap(err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Error.New("cannot start %s: %v", name, err)
	}

	// Advance 10 points per chunk of tool output, capped below 100 so
	// only a clean exit reports completion.
	percent := 0
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if percent < 95 {
			percent += 10
			if percent > 95 {
				percent = 95
			}
			if onProgress != nil {
				onProgress(percent)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return Error.New("%s failed for %s: %v", name, archivePath, err)
	}

	if onProgress != nil {
		onProgress(100)
	}
	e.log.Debug("archive extracted",
		zap.String("archive", archivePath), zap.String("dest", destDir), zap.String("tool", name))
	return nil
}
