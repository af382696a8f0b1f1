// Command divide sums a list of registered images and divides the result
// by a constant, writing an affine template or a deformable atlas.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"mriatlas/internal/cli"
	"mriatlas/pkg/accumulate"
	"mriatlas/pkg/config"
	"mriatlas/pkg/engine"
	"mriatlas/pkg/naming"
)

func main() {
	os.Exit(cli.Execute(newRootCmd(os.Stdout, nil), os.Args[1:], os.Stdout, os.Stderr))
}

func newRootCmd(stdout io.Writer, newEngine func(*config.Config) (engine.Engine, error)) *cobra.Command {
	var opts *cli.Options
	cmd := &cobra.Command{
		Use:   "divide <templateType:{a,d}> <numImages> <constant> <file_1> ... <file_numImages>",
		Short: "Average registered images into a template",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseArgs(args)
			if err != nil {
				return err
			}

			rt, err := opts.Setup(stdout)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			ctx, span := rt.Tracing.Tracer().Start(cmd.Context(), "divide")
			span.SetAttributes(
				attribute.String("kind", string(parsed.Kind)),
				attribute.Int("images", len(parsed.Files)),
				attribute.Int("constant", parsed.Constant),
			)
			defer span.End()

			path, err := accumulate.Run(ctx, rt.Engine, accumulate.Request{
				Kind:      parsed.Kind,
				Divisor:   float64(parsed.Constant),
				Paths:     parsed.Files,
				OutputDir: rt.Config.OutputDir,
				Namer:     naming.NewNamer(rt.Config.Extension),
			}, rt.Progress)
			if errors.Is(err, accumulate.ErrInvalidKind) {
				fmt.Fprintln(stdout, "invalid option")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to build template: %w", err)
			}
			fmt.Fprintf(rt.Progress, "wrote %s\n", path)
			return nil
		},
	}
	opts = cli.AddFlags(cmd)
	opts.NewEngine = newEngine
	return cmd
}
