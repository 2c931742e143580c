package cli

import (
	"fmt"
	"log/slog"
	"runtime"

	"voltex/internal/config"
	"voltex/internal/convert"
	"voltex/internal/fsutil"
	"voltex/internal/pipeline"
	"voltex/internal/storage"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, ds *config.Dataset, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, ds, log, store)
	return newRootCmd(root)
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voltex",
		Short: "voltex converts volumetric calcium imaging acquisitions",
		Long: `Voltex turns raw microscope acquisition directories (paged TIFF stacks,
detection tables, sidecar metadata) into self-describing session archives.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newConvertCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newRunsCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newConvertCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <acquisition_dir>...",
		Short: "Convert acquisition directories into session archives",
		Long: `Convert one or more acquisition directories. Each directory must be named
after its start timestamp (YYYYMMDD-HH-MM-SS) and carry the files the
dataset layout names.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dir := range args {
				job := pipeline.Job{ID: newID("cv"), Type: pipeline.JobConvert, InputPath: dir}
				if err := root.enqueueAndWait(cmd.Context(), job); err != nil {
					return fmt.Errorf("convert %s: %w", dir, err)
				}
			}
			return nil
		},
	}
}

func newBatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <data_root>",
		Short: "Convert every acquisition under a directory",
		Long: `Scan a directory for complete acquisitions and convert them all. Each
acquisition is converted in isolation: a malformed one is reported and
skipped, the rest still convert.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := fsutil.ListAcquisitions(args[0], root.layout())
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				root.log.Warn("no acquisitions found", "root", args[0])
				return nil
			}
			root.log.Info("batch conversion starting", "root", args[0], "acquisitions", len(dirs))
			return root.runBatch(cmd.Context(), cmd.OutOrStdout(), dirs)
		},
	}
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <data_root>",
		Short: "Watch a directory and convert acquisitions as they appear",
		Long: `Watch a directory tree for new acquisitions and queue each one for
conversion once its required files are in place. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := convert.NewAcquisitionWatcher(args[0], root.layout(), root.log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case dir, ok := <-w.Discovered:
					if !ok {
						return nil
					}
					job := pipeline.Job{ID: newID("cv"), Type: pipeline.JobConvert, InputPath: dir}
					if err := root.enqueue(ctx, job); err != nil {
						root.log.Error("enqueue failed", "dir", dir, "error", err)
					}
				}
			}
		},
	}
}

func newRunsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded conversion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range recs {
				fmt.Fprintf(out, "%-28s %-20s %-9s", rec.ID, rec.Acquisition, rec.Status)
				switch rec.Status {
				case "completed":
					fmt.Fprintf(out, "  %d timepoints, %d rois -> %s", rec.Timepoints, rec.ROIs, rec.OutputPath)
				case "failed":
					fmt.Fprintf(out, "  %s: %s", rec.ErrorClass, rec.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs to list")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP status server",
		Long: `Serve the run ledger and a live result stream over HTTP.

Endpoints: /healthz, /api/runs, /api/runs/{id}, /stream (SSE).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server", "addr", addr)
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "listen address (host:port)")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := root.cfg
			fmt.Fprintf(out, "Configuration:\n\n")
			fmt.Fprintf(out, "Data root:      %s\n", cfg.Paths.DataRoot)
			fmt.Fprintf(out, "Output:         %s\n", cfg.Paths.Output)
			fmt.Fprintf(out, "Database path:  %s\n", cfg.Paths.DatabasePath)
			fmt.Fprintf(out, "Dataset file:   %s\n", cfg.Paths.DatasetFile)
			fmt.Fprintf(out, "Parallel jobs:  %d\n", cfg.Processing.ParallelJobs)
			fmt.Fprintf(out, "Lookahead:      %d\n", cfg.Processing.Lookahead)
			fmt.Fprintf(out, "Compress:       %t\n", cfg.Processing.Compress)
			fmt.Fprintf(out, "Log level:      %s\n", cfg.Logging.Level)
			fmt.Fprintf(out, "Log format:     %s\n", cfg.Logging.Format)
			fmt.Fprintf(out, "Server address: %s\n", cfg.Server.Addr)
			if root.dataset != nil {
				fmt.Fprintf(out, "\nDataset: %s (%s, %s)\n",
					root.dataset.Description, root.dataset.Lab, root.dataset.Institution)
				fmt.Fprintf(out, "Strains: %d, z depth: %d, signals: %d\n",
					len(root.dataset.Strains), root.dataset.ZDepth, len(root.dataset.Signals))
			}
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("voltex v%s (%s)\n", version, runtime.Version())
		},
	}
}
