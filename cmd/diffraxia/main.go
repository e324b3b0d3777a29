package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"diffraxia/pkg/config"
	"diffraxia/pkg/eiger"
	"diffraxia/pkg/export"
	"diffraxia/pkg/geometry"
	"diffraxia/pkg/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:           "diffraxia",
		Short:         "Diffraxia: diffraction data processing toolkit",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "diffraxia.yaml", "Path to YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable per-frame debug logging")

	cmd.AddCommand(newConvertCmd(&configPath, &verbose))
	cmd.AddCommand(newIntegrateCmd(&configPath, &verbose))
	return cmd
}

// setup loads the configuration and builds the logger shared by both
// subcommands.
func setup(configPath string, verbose bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if verbose || cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, log, nil
}

func newConvertCmd(configPath *string, verbose *bool) *cobra.Command {
	var (
		outDir  string
		nframes int
	)

	cmd := &cobra.Command{
		Use:   "convert <file.h5>",
		Short: "Extract Eiger HDF5 frames to TIFF images",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath, *verbose)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Output.TiffDir
			}
			if nframes == 0 {
				nframes = cfg.Run.MaxFrames
			}

			src, err := eiger.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			log.Info("opened container", "path", src.Path(), "layout", src.Layout().String(), "frames", src.Len())

			sink, err := export.NewTiffWriter(outDir)
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(&pipeline.Params{
				Source:    src,
				MaxFrames: nframes,
				FailFast:  cfg.Run.FailFast,
				Logger:    log,
			})
			res, err := runner.Convert(sink)
			if res != nil {
				log.Info("conversion finished", "converted", res.Processed, "failed", len(res.Failed))
			}
			if err != nil {
				return err
			}
			fmt.Printf("Converted %d frame(s) to %s\n", res.Processed, outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output-folder", "o", "", "Output folder for TIFF images (default from config)")
	cmd.Flags().IntVarP(&nframes, "nframes", "n", 0, "Limit on number of frames to convert (0 = all)")
	return cmd
}

func newIntegrateCmd(configPath *string, verbose *bool) *cobra.Command {
	var (
		instrument string
		prefix     string
		tthMin     float64
		tthMax     float64
		nbins      int
		nframes    int
	)

	cmd := &cobra.Command{
		Use:   "integrate <file.h5>",
		Short: "Radially integrate Eiger HDF5 frames to 1D I(2theta) patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath, *verbose)
			if err != nil {
				return err
			}
			if !c.Flags().Changed("tth-min") {
				tthMin = cfg.Integration.TthMin
			}
			if !c.Flags().Changed("tth-max") {
				tthMax = cfg.Integration.TthMax
			}
			if !c.Flags().Changed("nbins") {
				nbins = cfg.Integration.NBins
			}
			if prefix == "" {
				prefix = cfg.Output.PatternPrefix
			}
			if nframes == 0 {
				nframes = cfg.Run.MaxFrames
			}

			geom, err := geometry.Load(instrument)
			if err != nil {
				return err
			}

			src, err := eiger.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			log.Info("opened container", "path", src.Path(), "layout", src.Layout().String(), "frames", src.Len())

			sink, err := export.NewPatternWriter(prefix)
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(&pipeline.Params{
				Source:    src,
				Geometry:  geom,
				TthMin:    tthMin,
				TthMax:    tthMax,
				NBins:     nbins,
				MaxFrames: nframes,
				FailFast:  cfg.Run.FailFast,
				Logger:    log,
			})
			res, err := runner.Integrate(sink)
			if res != nil {
				log.Info("integration finished", "integrated", res.Processed, "failed", len(res.Failed))
				for _, fe := range res.Failed {
					log.Error("frame failed", "frame", fe.Index, "error", fe.Err)
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("Integrated %d frame(s); patterns written with prefix %s\n", res.Processed, prefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&instrument, "instrument", "", "Calibrated instrument geometry file (YAML)")
	cmd.MarkFlagRequired("instrument")
	cmd.Flags().StringVar(&prefix, "output-prefix", "", "Prefix for per-frame pattern files (default from config)")
	cmd.Flags().Float64Var(&tthMin, "tth-min", 0.0, "Lower bound of 2theta range in degrees")
	cmd.Flags().Float64Var(&tthMax, "tth-max", 20.0, "Upper bound of 2theta range in degrees")
	cmd.Flags().IntVar(&nbins, "nbins", 2000, "Number of 2theta bins")
	cmd.Flags().IntVarP(&nframes, "nframes", "n", 0, "Limit on number of frames to integrate (0 = all)")
	return cmd
}
