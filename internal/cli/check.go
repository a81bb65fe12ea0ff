package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
)

// NewCheckCommand creates the check command, a dry run of the update
// diff that downloads nothing.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show which files would be updated, without downloading",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.runCheck(cmd)
		},
	}
}

func (a *app) runCheck(cmd *cobra.Command) error {
	ctx := cmd.Context()
	folder := a.cfg.InstallDir

	manifest := a.client.ListFiles(ctx)
	snapshot := a.store.Load(folder)
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
		fmt.Println("Game is up to date.")
		return nil
	}

	var totalBytes int64
	fmt.Printf("%d files need updating:\n", len(toUpdate))
	for _, f := range toUpdate {
		fmt.Printf("  %s (%.1f MB)\n", f.Name, float64(f.Size)/1024/1024)
		totalBytes += f.Size
	}
	fmt.Printf("Total download size: %.1f MB\n", float64(totalBytes)/1024/1024)
	return nil
}
