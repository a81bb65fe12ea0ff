package cli

import (
	"fmt"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/terraonline/launcher/internal/guard"
)

// NewRepairCommand creates the repair command.
func NewRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-download files the server has flagged for repair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.runRepair(cmd)
		},
	}
}

func (a *app) runRepair(cmd *cobra.Command) error {
	if rej := a.guard.Request(guard.OpRepair); rej != nil {
		if !rej.Silent {
			fmt.Println(rej.Reason)
		}
		return nil
	}
	defer a.guard.Finish()

	bar := pb.New(100)
	bar.SetWriter(cmd.OutOrStdout())
	bar.Start()

	result, err := a.repairer.Run(cmd.Context(), a.cfg.InstallDir, func(percent float64, file string) {
		bar.SetCurrent(int64(percent))
		bar.Set("prefix", file+" ")
	})
	bar.Finish()
	if err != nil {
		return err
	}

	if result.RepairedCount == 0 {
		fmt.Println("No files need repair.")
		return nil
	}

	fmt.Printf("Repair complete: %d files restored.\n", result.RepairedCount)
	if result.Report != nil && len(result.Report.Mismatched) > 0 {
		fmt.Printf("Warning: %d of %d files still mismatch the server:\n",
			len(result.Report.Mismatched), result.Report.Checked)
		for _, d := range result.Report.Mismatched {
			fmt.Printf("  %s: %s\n", d.Name, d.Reason)
		}
	}
	return nil
}
