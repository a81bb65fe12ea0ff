// Package cli wires the launcher's subsystems behind cobra commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/config"
	"github.com/terraonline/launcher/internal/diff"
	"github.com/terraonline/launcher/internal/extract"
	"github.com/terraonline/launcher/internal/guard"
	"github.com/terraonline/launcher/internal/logging"
	"github.com/terraonline/launcher/internal/repair"
	"github.com/terraonline/launcher/internal/scan"
	"github.com/terraonline/launcher/internal/server"
	"github.com/terraonline/launcher/internal/state"
	"github.com/terraonline/launcher/internal/transfer"
	"github.com/terraonline/launcher/internal/version"
)

type rootFlags struct {
	ConfigPath string
	InstallDir string
	ServerURL  string
	Verbose    bool
}

var flags rootFlags

// app holds the wired subsystems for one command invocation. Everything
// hangs off explicit fields instead of package globals so a future
// multi-installation mode only needs more app instances.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	fs       afero.Fs
	client   *server.Client
	store    *state.Store
	scanner  *scan.Scanner
	engine   *diff.Engine
	pipeline *transfer.Pipeline
	repairer *repair.Controller
	guard    *guard.Guard
}

func newApp() (*app, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.InstallDir != "" {
		cfg.InstallDir = flags.InstallDir
	}
	if flags.ServerURL != "" {
		cfg.ServerURL = flags.ServerURL
	}
	if flags.Verbose {
		cfg.Verbose = true
	}

	log := logging.New(cfg.Verbose)
	fs := afero.NewOsFs()
	client := server.NewClient(cfg.ServerURL, nil, log)
	store := state.NewStore(fs, cfg.DataDir, log)
	extractor := extract.NewCommandExtractor(log)

	return &app{
		cfg:      cfg,
		log:      log,
		fs:       fs,
		client:   client,
		store:    store,
		scanner:  scan.NewScanner(fs, log),
		engine:   diff.NewEngine(log),
		pipeline: transfer.NewPipeline(fs, client, store, extractor, nil, log),
		repairer: repair.NewController(fs, client, store, extractor, nil, log),
		guard:    guard.New(cfg.ClickDebounce, cfg.RepairCooldown),
	}, nil
}

// NewRootCommand builds the launcher command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "launcher",
		Short:         "Game patch synchronization and repair",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "launcher.yaml", "configuration file path")
	cmd.PersistentFlags().StringVarP(&flags.InstallDir, "install-dir", "i", "", "game installation folder (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.ServerURL, "server", "", "patch server base URL (overrides config)")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewUpdateCommand())
	cmd.AddCommand(NewRepairCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(NewPlayCommand())

	return cmd
}

// Execute runs the launcher CLI. Cancelling ctx stops a running batch
// before its next file.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
