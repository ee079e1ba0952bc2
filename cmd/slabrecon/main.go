// Command slabrecon recombines four interleaved MRI slabs into one
// high-resolution volume.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slabrecon/pkg/alignment"
	"slabrecon/pkg/config"
	"slabrecon/pkg/logging"
	"slabrecon/pkg/reconstruction"
)

type options struct {
	configPath     string
	workers        int
	axis           string
	aligner        string
	alignerCommand string
	verbose        bool
	logFile        string
	keepTemp       bool
	previews       bool
	noCompress     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "slabrecon [flags] <rep1_a> <rep1_b> <rep2_a> <rep2_b> <lowres> <outdir>",
		Short: "Recombine interleaved MRI slabs into a high-resolution volume",
		Long: `slabrecon reconstructs one high-resolution volume from four interleaved,
gap-sampled slabs (two repetitions of two blocks) and a low-resolution reference.

Every slab is upsampled along the interleaving axis, its missing rows are
marked in a coverage phantom, and both are aligned onto the reference. The
aligned slabs are then summed and normalized by their coverage.

Inputs may be .nii or .nii.gz. The output directory must be missing or empty.`,
		Args:         cobra.ExactArgs(6),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecombine(cmd, opts, args)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "slabrecon.yaml", "YAML configuration file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this rotated file")
	flags.StringVar(&opts.aligner, "aligner", "", "Alignment engine: resample or command")
	flags.StringVar(&opts.alignerCommand, "aligner-command", "", "External coregistration command")

	root.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Slabs processed concurrently (default: config, then CPU count)")
	root.Flags().StringVar(&opts.axis, "axis", "", "Interleaving axis: x, y or z")
	root.Flags().BoolVar(&opts.keepTemp, "keep-temp", false, "Keep the aligner scratch folder")
	root.Flags().BoolVar(&opts.previews, "previews", false, "Write mid-slice JPEG previews of the result")
	root.Flags().BoolVar(&opts.noCompress, "no-compress", false, "Leave intermediates uncompressed")

	root.AddCommand(newCheckCmd(opts), newInitConfigCmd())
	return root
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the configured aligner can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			aligner, err := alignment.New(cfg.AlignmentOptions())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := alignment.Check(aligner); err != nil {
				fmt.Fprintf(out, "aligner %q is not available: %v\n", cfg.Alignment.Engine, err)
				return err
			}
			fmt.Fprintf(out, "aligner %q is available\n", cfg.Alignment.Engine)
			return nil
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a configuration file with the default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default configuration written to %s\n", args[0])
			return nil
		},
	}
}

// loadConfig reads the configuration file and applies the flags the user set
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("workers") {
		cfg.Processing.Workers = opts.workers
	}
	if changed("axis") {
		cfg.Processing.Axis = opts.axis
	}
	if changed("aligner") {
		cfg.Alignment.Engine = opts.aligner
	}
	if changed("aligner-command") {
		cfg.Alignment.Command = opts.alignerCommand
	}
	if changed("verbose") {
		cfg.Output.Verbose = opts.verbose
	}
	if changed("log-file") {
		cfg.Output.LogFile = opts.logFile
	}
	if changed("keep-temp") {
		cfg.Output.KeepTemp = opts.keepTemp
	}
	if changed("previews") {
		cfg.Output.Previews = opts.previews
	}
	if changed("no-compress") {
		cfg.Output.Compress = !opts.noCompress
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runRecombine(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Verbose: cfg.Output.Verbose,
		File:    cfg.Output.LogFile,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	params := &reconstruction.Params{
		Slabs:     [4]string{args[0], args[1], args[2], args[3]},
		Reference: args[4],
		OutputDir: args[5],
		Workers:   cfg.Processing.Workers,
		Factor:    cfg.Processing.DuplicationFactor,
		Axis:      cfg.AxisValue(),
		Alignment: cfg.AlignmentOptions(),
		Compress:  cfg.Output.Compress,
		KeepTemp:  cfg.Output.KeepTemp,
		Previews:  cfg.Output.Previews,
		Logger:    logger,
	}

	r := reconstruction.NewReconstructor(params)
	logger.Info("starting recombination",
		zap.Strings("slabs", params.Slabs[:]),
		zap.String("reference", params.Reference),
		zap.String("output", params.OutputDir))

	result, err := r.Process(cmd.Context())
	if err != nil {
		logger.Error("recombination failed", zap.Error(err))
		return err
	}

	printReport(cmd.OutOrStdout(), result)
	return nil
}

// printReport lists the outputs and reminds the user about the debug folder
func printReport(w io.Writer, result *reconstruction.Result) {
	fmt.Fprintln(w, "================================")
	fmt.Fprintf(w, "Recombination completed in %s (run %s)\n", result.Duration.Round(time.Millisecond), result.RunID)
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w, "Outputs:")
	for _, p := range result.Outputs {
		size := "?"
		if info, err := os.Stat(p); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(w, "  %-32s %s\n", filepath.Base(p), size)
	}
	for _, p := range result.Previews {
		fmt.Fprintf(w, "  %s\n", p)
	}

	m := result.Metrics
	fmt.Fprintln(w, "\nRepetition agreement:")
	fmt.Fprintf(w, "  RMSE:        %.6f\n", m.RMSE)
	fmt.Fprintf(w, "  Correlation: %.4f\n", m.Correlation)
	fmt.Fprintf(w, "  SSIM:        %.4f\n", m.SSIM)
	fmt.Fprintf(w, "  Coverage:    %.1f%% (%s voxels covered by both repetitions)\n",
		100*m.Coverage, humanize.Comma(int64(m.CoveredVoxels)))

	fmt.Fprintf(w, "\nIntermediate files are kept in %s\n", result.DebugDir)
	fmt.Fprintln(w, "You can safely remove this folder once you have checked the results.")
}
