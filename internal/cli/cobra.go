package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"burstmerge/internal/config"
	"burstmerge/internal/inbox"
	"burstmerge/internal/pipeline"
	"burstmerge/internal/storage"
	"burstmerge/internal/web"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "burstmerge",
		Short: "Burstmerge merges burst raw photography into a single low-noise frame",
		Long: `Burstmerge combines a burst of aligned raw frames into one merged DNG,
with hot pixel suppression, exposure equalization, and highlight recovery.`,
	}

	rootCmd.AddCommand(newMergeCmd(root))
	rootCmd.AddCommand(newInspectCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newMergeCmd(root *Root) *cobra.Command {
	var (
		output             string
		mode               string
		highlightHalfWidth int
		noHotPixels        bool
	)

	cmd := &cobra.Command{
		Use:   "merge <burst_directory | frame frame ...>",
		Short: "Merge a burst of raw frames into one DNG",
		Long: `Merge the raw frames of one burst into a single output DNG.
Pass a directory holding the burst, or list the frame files explicitly.

Examples:
  # Merge every raw file in a folder
  burstmerge merge /photos/bursts/night01

  # Merge explicit frames with exposure weighting
  burstmerge merge --mode exposure f1.dng f2.dng f3.dng`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]

			options := map[string]any{
				"mode":        mode,
				"noHotPixels": noHotPixels,
				"source":      "cli",
			}
			if highlightHalfWidth > 0 {
				options["highlightHalfWidth"] = highlightHalfWidth
			}
			if len(args) > 1 {
				options["frames"] = args
				input = filepath.Dir(args[0])
			}

			job := pipeline.Job{
				ID:        newID("merge"),
				Type:      pipeline.JobMerge,
				InputPath: input,
				Output:    output,
				Options:   options,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output DNG path (default: <burst_dir>/<name>_merged.dng)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "merge mode (uniform|exposure), uses config default if empty")
	cmd.Flags().IntVar(&highlightHalfWidth, "highlight-half-width", 0, "half-width of highlight suppression around clipped pixels")
	cmd.Flags().BoolVar(&noHotPixels, "no-hot-pixels", false, "disable hot pixel detection and correction")

	return cmd
}

func newInspectCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <raw_file>",
		Short: "Show the calibration metadata of a raw frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("inspect"),
				Type:      pipeline.JobInspect,
				InputPath: args[0],
				Options:   map[string]any{"source": "cli"},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		settleSeconds int
		minFrames     int
	)

	cmd := &cobra.Command{
		Use:   "watch [inbox_directory]",
		Short: "Watch an inbox directory and merge bursts as they arrive",
		Long: `Watch an inbox directory for incoming burst folders. Each subdirectory
is treated as one burst; once no new frames arrive for the settle window,
the folder is merged automatically.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := root.cfg.Paths.Inbox
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no inbox directory configured or given")
			}
			if settleSeconds <= 0 {
				settleSeconds = root.cfg.Watch.SettleSeconds
			}
			if minFrames <= 0 {
				minFrames = root.cfg.Watch.MinFrames
			}

			realPipeline, ok := root.pipeline.(*pipeline.Pipeline)
			if !ok {
				return fmt.Errorf("pipeline unavailable for watch startup")
			}

			watcher, err := inbox.New(dir, time.Duration(settleSeconds)*time.Second, minFrames, realPipeline, root.log)
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			root.log.Info("watch stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&settleSeconds, "settle", 0, "seconds a burst folder must be quiet before merging (config default if 0)")
	cmd.Flags().IntVar(&minFrames, "min-frames", 0, "minimum frames a folder needs to qualify as a burst (config default if 0)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the job status HTTP server",
		Long: `Start an HTTP server exposing recent jobs, burst groups, and a live
websocket stream of completed merges.

Examples:
  burstmerge serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			realPipeline, ok := root.pipeline.(*pipeline.Pipeline)
			if !ok {
				return fmt.Errorf("pipeline unavailable for server startup")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := web.NewServer(port, root.store, realPipeline, root.log)
			root.log.Info("server ready",
				"port", port,
				"endpoints", []string{"/api/jobs", "/api/jobs/{id}", "/api/bursts", "/ws"},
			)
			return server.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "server port")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate burstmerge configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Database Path:  %s\n", root.cfg.Paths.DatabasePath)
			fmt.Printf("Default Output: %s\n", root.cfg.Paths.DefaultOutput)
			fmt.Printf("Inbox:          %s\n", root.cfg.Paths.Inbox)
			fmt.Printf("Parallel Jobs:  %d\n", root.cfg.Processing.ParallelJobs)
			fmt.Printf("Lane Width:     %d\n", root.cfg.Processing.LaneWidth)
			fmt.Printf("Merge Mode:     %s\n", root.cfg.Merge.Mode)
			fmt.Printf("Export Format:  %s (enabled: %v)\n", root.cfg.Export.Format, root.cfg.Export.Enabled)
			fmt.Printf("Log Level:      %s\n", root.cfg.Logging.Level)
			fmt.Printf("Log Directory:  %s\n", root.cfg.Logging.LogDir)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("burstmerge v1.0.0")
		},
	}
}
