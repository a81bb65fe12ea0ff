package cli

import (
	"fmt"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terraonline/launcher/internal/guard"
	"github.com/terraonline/launcher/internal/patch"
	"github.com/terraonline/launcher/internal/transfer"
)

// NewUpdateCommand creates the update command.
func NewUpdateCommand() *cobra.Command {
	var resetState bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download and apply pending game patches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.runUpdate(cmd, resetState)
		},
	}
	cmd.Flags().BoolVar(&resetState, "reset-state", false,
		"discard the saved baseline and diff against the files on disk (use after moving the installation)")
	return cmd
}

func (a *app) runUpdate(cmd *cobra.Command, resetState bool) error {
	if rej := a.guard.Request(guard.OpUpdate); rej != nil {
		if !rej.Silent {
			fmt.Println(rej.Reason)
		}
		return nil
	}
	defer a.guard.Finish()

	ctx := cmd.Context()
	folder := a.cfg.InstallDir

	if resetState {
		a.store.Clear(folder)
	}

	manifest := a.client.ListFiles(ctx)
	snapshot := a.store.Load(folder)

	// An empty manifest is unknown, not "nothing to update". With a
	// prior baseline on disk we know the server has files, so emptiness
	// means the fetch failed.
	if len(manifest) == 0 {
		if snapshot != nil && len(snapshot.ServerFiles) > 0 {
			return errs.New("server file list unavailable, try again later")
		}
		fmt.Println("Server reported no files.")
		return nil
	}

	local := a.scanner.Scan(folder)
	toUpdate := a.engine.FilesToUpdate(manifest, local, snapshot, folder)
	if len(toUpdate) == 0 {
		a.scanner.CleanupArchives(folder)
		fmt.Println("Game is up to date.")
		return nil
	}

	fmt.Printf("Updating %d files...\n", len(toUpdate))
	summary, err := a.runBatch(cmd, toUpdate, manifest)
	if err != nil {
		return err
	}

	a.scanner.CleanupArchives(folder)
	printSummary(summary)
	return nil
}

// runBatch drives the pipeline on one goroutine while this one renders
// the event stream as a progress bar.
func (a *app) runBatch(cmd *cobra.Command, toUpdate, manifest []patch.ServerFile) (*patch.BatchSummary, error) {
	job := transfer.NewJob(toUpdate)
	events := make(chan transfer.Event, 16)

	var summary *patch.BatchSummary
	group, ctx := errgroup.WithContext(cmd.Context())
	group.Go(func() error {
		s, err := a.pipeline.RunBatch(ctx, job, a.cfg.InstallDir, manifest, events)
		summary = s
		return err
	})

	bar := pb.New(100)
	bar.SetWriter(cmd.OutOrStdout())
	bar.Start()
	for ev := range events {
		bar.SetCurrent(int64(ev.OverallPercent))
		switch {
		case ev.Kind == transfer.EventDownload && ev.SpeedBPS > 0:
			bar.Set("prefix", fmt.Sprintf("%s %.1f MB/s ", ev.File, ev.SpeedBPS/1024/1024))
		case ev.Kind == transfer.EventFileDone && ev.Err != nil:
			a.log.Warn("file failed", zap.String("file", ev.File), zap.Error(ev.Err))
		}
	}
	bar.Finish()

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func printSummary(s *patch.BatchSummary) {
	switch {
	case s.Failed == 0:
		fmt.Printf("Update complete: %d files installed.\n", s.Downloaded)
	case s.Downloaded == 0:
		fmt.Printf("Update failed: none of the %d files could be installed.\n", s.Total)
	default:
		fmt.Printf("Update partially complete: %d installed, %d failed (%v). They will be retried next time.\n",
			s.Downloaded, s.Failed, s.FailedNames)
	}
}
