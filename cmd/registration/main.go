// Command registration registers a range of subject volumes onto a fixed
// image and optionally averages them into an affine template or a
// deformable atlas.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"mriatlas/internal/cli"
	"mriatlas/pkg/config"
	"mriatlas/pkg/engine"
	"mriatlas/pkg/naming"
	"mriatlas/pkg/registration"
)

func main() {
	os.Exit(cli.Execute(newRootCmd(os.Stdout, nil), os.Args[1:], os.Stdout, os.Stderr))
}

func newRootCmd(stdout io.Writer, newEngine func(*config.Config) (engine.Engine, error)) *cobra.Command {
	var (
		opts          *cli.Options
		defaultConfig string
	)
	cmd := &cobra.Command{
		Use:   "registration <fixedImage> <lower> <upper> <mode:{a,d}> <observe> <initialize> <doDivide>",
		Short: "Register subject volumes and build templates or atlases",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if defaultConfig != "" {
				if err := config.CreateDefaultConfigFile(defaultConfig); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "wrote default configuration to %s\n", defaultConfig)
				return nil
			}

			parsed, err := parseArgs(args)
			if err != nil {
				return err
			}

			rt, err := opts.Setup(stdout)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			params, err := buildParams(parsed, rt.Config)
			if err != nil {
				return err
			}
			params.Progress = rt.Progress

			ctx, span := rt.Tracing.Tracer().Start(cmd.Context(), "registration")
			span.SetAttributes(
				attribute.String("mode", string(params.Mode)),
				attribute.Int("lower", params.Lower),
				attribute.Int("upper", params.Upper),
				attribute.Int("workers", params.Workers),
			)
			defer span.End()

			pipeline := registration.NewPipeline(params, rt.Engine)
			if err := pipeline.Process(ctx); err != nil {
				span.RecordError(err)
				return fmt.Errorf("registration failed: %w", err)
			}

			report := pipeline.Report()
			fmt.Fprintf(rt.Progress, "\nloaded %d images, ran %d registrations, wrote %d files\n",
				report.Loaded, report.Registrations, len(report.Written))
			if report.AggregateStats != nil {
				fmt.Fprintf(rt.Progress, "\nAggregate statistics (%s):\n", report.Aggregate)
				fmt.Fprintf(rt.Progress, "Mean intensity: %.3f\n", report.AggregateStats.Mean)
				fmt.Fprintf(rt.Progress, "Standard deviation: %.3f\n", report.AggregateStats.StdDev)
			}
			return nil
		},
	}
	opts = cli.AddFlags(cmd)
	opts.NewEngine = newEngine
	cmd.Flags().String("source-dir", "", "directory holding the subject volumes")
	opts.Bind(cmd, "sourceDir", "source-dir")
	cmd.Flags().StringVar(&defaultConfig, "write-default-config", "", "write the default configuration to this path and exit")
	return cmd
}

// buildParams combines the command line with the resolved configuration.
func buildParams(a runArgs, cfg *config.Config) (registration.Params, error) {
	subjects, err := naming.NewParser(cfg.SubjectPattern)
	if err != nil {
		return registration.Params{}, err
	}
	checkpoints := make([]registration.Checkpoint, len(cfg.Registration.Checkpoints))
	for i, cp := range cfg.Registration.Checkpoints {
		checkpoints[i] = registration.Checkpoint{Name: cp.Name, Iterations: cp.Iterations}
	}
	return registration.Params{
		FixedImage:           a.FixedImage,
		Lower:                a.Lower,
		Upper:                a.Upper,
		Mode:                 a.Mode,
		Observe:              a.Observe,
		Initialize:           a.Initialize,
		Divide:               a.Divide,
		SourceDir:            cfg.SourceDir,
		OutputDir:            cfg.OutputDir,
		Namer:                naming.NewNamer(cfg.Extension),
		Subjects:             subjects,
		Workers:              cfg.Workers,
		DeformableIterations: cfg.Registration.DeformableIterations,
		Checkpoints:          checkpoints,
		RandomFixed:          cfg.Registration.RandomFixed,
		Seed:                 cfg.Registration.Seed,
	}, nil
}
