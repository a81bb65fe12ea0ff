package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/terraonline/launcher/internal/guard"
)

// gameExecutable is the client binary checked before play, relative to
// the installation folder.
var gameExecutable = filepath.Join("system", "L2.exe")

// NewPlayCommand creates the play command. Launching the game process
// itself is the host shell's job; this verifies the installation is
// launchable and reports any in-progress operation.
func NewPlayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Verify the installation is ready to launch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.runPlay()
		},
	}
}

func (a *app) runPlay() error {
	// Play is never blocked, but a warning is shown while another
	// operation is writing to the installation folder.
	if rej := a.guard.Request(guard.OpPlay); rej != nil {
		if rej.Silent {
			return nil
		}
		fmt.Printf("Warning: %s\n", rej.Reason)
	}

	exe := filepath.Join(a.cfg.InstallDir, gameExecutable)
	if _, err := a.fs.Stat(exe); err != nil {
		return errs.New("game executable not found at %s, run update first", exe)
	}

	fmt.Printf("Installation is ready: %s\n", exe)
	return nil
}
