package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/reframe/internal/audiosync"
	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/engine"
	"github.com/ivlev/reframe/internal/logging"
	"github.com/ivlev/reframe/internal/renderer"
	"github.com/ivlev/reframe/internal/source"
	"github.com/ivlev/reframe/internal/store"
	"github.com/ivlev/reframe/internal/system"
	"github.com/ivlev/reframe/internal/video"
)

var (
	cfgFile  string
	logLevel string
	noStore  bool

	platform   string
	category   string
	noTracking bool
	transcript string
	timeline   string
	pan        bool
	limit      int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "reframe",
	Short:         "reframe - vertical reframing for marketing clips",
	Long:          "Tracks faces, on-screen text and UI activity to reframe wide video for vertical and square platforms.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logging.Init(level)

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./reframe.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "do not record runs in the ledger")

	cropCmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform or WxH (default from config)")
	cropCmd.Flags().StringVarP(&category, "category", "c", "podcast", "podcast or product_demo")
	cropCmd.Flags().BoolVar(&noTracking, "no-tracking", false, "always centre-crop")

	trackCmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform or WxH (default from config)")
	trackCmd.Flags().StringVarP(&transcript, "transcript", "t", "", "transcript JSON")
	trackCmd.Flags().StringVarP(&timeline, "out", "o", "", "timeline file (default: timestamped file next to the input)")

	renderCmd.Flags().StringVar(&timeline, "timeline", "", "timeline file (default: newest timeline next to the input)")
	renderCmd.Flags().BoolVar(&pan, "pan", false, "fast single-pass pan render (ignores zoom)")

	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	rootCmd.AddCommand(cropCmd, trackCmd, renderCmd, batchCmd, platformsCmd, runsCmd, configCmd)
	configCmd.AddCommand(configInitCmd)
}

// newRunner wires the encoder, ledger and engine from the command's config
func newRunner(cmd *cobra.Command) (*engine.Runner, func(), error) {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	system.InitResourceLimits(log.Logger)
	enc := video.NewFFmpegEncoder(ctx, cfg.FFmpeg)
	log.Debug().Str("encoder", enc.Encoder()).Msg("video encoder selected")

	var opts []engine.Option
	var db *store.DB
	if !noStore && cfg.Store.Path != "" {
		var err error
		db, err = store.New(cfg.Store.Path, log.Logger)
		if err != nil {
			return nil, nil, err
		}
		if _, err := db.RecoverInterrupted(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to recover interrupted runs")
		}
		opts = append(opts, engine.WithStore(db.Runs()))
	}

	runner := engine.New(cfg, engine.FFmpeg(enc), log.Logger, opts...)
	cleanup := func() {
		runner.Close()
		if db != nil {
			db.Close()
		}
	}
	return runner, cleanup, nil
}

var cropCmd = &cobra.Command{
	Use:   "crop [input] [output]",
	Short: "Smart-crop a clip with one static crop window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, cleanup, err := newRunner(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		res := runner.Process(cmd.Context(), engine.Job{
			Input:      args[0],
			Output:     args[1],
			Category:   category,
			Platform:   platform,
			Mode:       engine.ModeCrop,
			NoTracking: noTracking,
		})
		if res.Err != nil {
			return res.Err
		}

		log.Info().
			Str("output", args[1]).
			Str("strategy", string(res.Plan.Strategy)).
			Str("window", res.Plan.Window(0).String()).
			Dur("elapsed", res.Elapsed).
			Msg("clip cropped")
		return nil
	},
}

var trackCmd = &cobra.Command{
	Use:   "track [input]",
	Short: "Analyse a clip and write its camera timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		target, err := cfg.PlatformTable().Lookup(platformOr(cfg))
		if err != nil {
			return err
		}

		entries, err := audiosync.LoadTranscript(transcript)
		if err != nil {
			return err
		}

		runner, cleanup, err := newRunner(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		src, err := source.Open(ctx, args[0], cfg.FFmpeg)
		if err != nil {
			return err
		}
		defer src.Close()

		tl, err := runner.Track(ctx, src, entries, target)
		if err != nil {
			return err
		}

		out := timeline
		if out == "" {
			out = renderer.TimelinePath(filepath.Dir(args[0]), args[0])
		}
		if err := renderer.WriteTimeline(out, tl); err != nil {
			return err
		}

		log.Info().
			Str("timeline", out).
			Int("targets", len(tl.Targets)).
			Int("keyframes", len(tl.Keyframes)).
			Msg("timeline written")
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render [input] [output]",
	Short: "Render a clip along a camera timeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		path := timeline
		if path == "" {
			var err error
			path, err = renderer.FindLatestTimeline(filepath.Dir(args[0]))
			if err != nil {
				return err
			}
		}
		tl, err := renderer.ReadTimeline(path)
		if err != nil {
			return err
		}

		runner, cleanup, err := newRunner(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		log.Info().Str("timeline", path).Str("input", args[0]).Bool("pan", pan).Msg("rendering")

		if pan {
			return runner.RenderPan(ctx, args[0], tl, args[1])
		}

		src, err := source.Open(ctx, args[0], cfg.FFmpeg)
		if err != nil {
			return err
		}
		defer src.Close()

		return runner.RenderDynamic(ctx, src, tl, args[1])
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [manifest]",
	Short: "Reframe every clip listed in a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := engine.LoadManifest(args[0])
		if err != nil {
			return err
		}

		runner, cleanup, err := newRunner(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		failed := 0
		for _, res := range runner.Batch(cmd.Context(), jobs) {
			if res.Err != nil {
				failed++
			}
		}

		log.Info().Int("clips", len(jobs)).Int("failed", failed).Msg("batch complete")
		if failed > 0 {
			return fmt.Errorf("%d of %d clips failed", failed, len(jobs))
		}
		return nil
	},
}

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List known target platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := config.FromContext(cmd.Context()).PlatformTable()
		for _, name := range table.Names() {
			size, _ := table.Lookup(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %dx%d\n", name, size.X, size.Y)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent runs from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		db, err := store.New(cfg.Store.Path, log.Logger)
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.Runs().ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, run := range runs {
			fmt.Fprintf(w, "%s  %-7s %-7s %s -> %s", run.CreatedAt.Local().Format("2006-01-02 15:04:05"), run.Status, run.Mode, run.Input, run.Output)
			if run.Reason != "" {
				fmt.Fprintf(w, "  (%s)", run.Reason)
			}
			if run.Error != "" {
				fmt.Fprintf(w, "  error: %s", run.Error)
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "reframe.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.FromContext(cmd.Context()).Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func platformOr(cfg *config.Config) string {
	if platform != "" {
		return platform
	}
	return cfg.Platform
}
