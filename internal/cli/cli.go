// Package cli holds the plumbing shared by the divide and registration
// tools: config resolution, engine construction and exit-code handling.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mriatlas/pkg/config"
	"mriatlas/pkg/engine"
	"mriatlas/pkg/engine/ants"
	"mriatlas/pkg/engine/memengine"
	"mriatlas/pkg/engine/traced"
	"mriatlas/pkg/tracing"
)

const (
	// DefaultConfigFile is read when neither --config nor MRIATLAS_CONFIG is set
	DefaultConfigFile = "mriatlas.yaml"

	envPrefix = "MRIATLAS"
	configEnv = envPrefix + "_CONFIG"
)

// ErrUsage marks wrong invocations. The tools print their usage text and
// exit 0 for these.
var ErrUsage = errors.New("usage")

// UsageError carries the usage text to print.
type UsageError struct {
	Text string
}

func (e *UsageError) Error() string { return "usage: " + e.Text }

func (e *UsageError) Unwrap() error { return ErrUsage }

// Options are the flags every tool accepts.
type Options struct {
	ConfigPath string
	Quiet      bool

	// NewEngine builds the engine for a resolved config. Nil selects the
	// backend named in the config.
	NewEngine func(cfg *config.Config) (engine.Engine, error)

	v *viper.Viper
}

// AddFlags registers the shared flags on cmd and returns the options they fill.
func AddFlags(cmd *cobra.Command) *Options {
	o := &Options{v: viper.New()}

	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "",
		"config file (default: $"+configEnv+" or ./"+DefaultConfigFile+")")
	cmd.Flags().BoolVarP(&o.Quiet, "quiet", "q", false, "suppress progress output")
	cmd.Flags().String("output-dir", "", "directory receiving written images")
	cmd.Flags().String("engine", "", "registration engine: ants or memory")
	cmd.Flags().Int("workers", 0, "number of subjects registered concurrently")

	o.Bind(cmd, "outputDir", "output-dir")
	o.Bind(cmd, "engine.backend", "engine")
	o.Bind(cmd, "workers", "workers")
	return o
}

// Bind makes the flag called name override the config key.
func (o *Options) Bind(cmd *cobra.Command, key, name string) {
	_ = o.v.BindPFlag(key, cmd.Flags().Lookup(name))
}

// ConfigFile returns the config path in effect.
func (o *Options) ConfigFile() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Load reads the YAML config and layers environment and flag overrides on
// top. Precedence is flag, then MRIATLAS_* variable, then file, then default.
func (o *Options) Load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.ConfigFile())
	if err != nil {
		return nil, err
	}

	v := o.v
	v.SetDefault("sourceDir", cfg.SourceDir)
	v.SetDefault("outputDir", cfg.OutputDir)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("engine.backend", cfg.Engine.Backend)
	_ = v.BindEnv("sourceDir", envPrefix+"_SOURCE_DIR")
	_ = v.BindEnv("outputDir", envPrefix+"_OUTPUT_DIR")
	_ = v.BindEnv("workers", envPrefix+"_WORKERS")
	_ = v.BindEnv("engine.backend", envPrefix+"_ENGINE")

	cfg.SourceDir = v.GetString("sourceDir")
	cfg.OutputDir = v.GetString("outputDir")
	cfg.Workers = v.GetInt("workers")
	cfg.Engine.Backend = v.GetString("engine.backend")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Runtime is everything a tool needs once its config is resolved.
type Runtime struct {
	Config   *config.Config
	Engine   engine.Engine
	Tracing  *tracing.Provider
	Progress io.Writer
}

// Setup loads the config and builds the engine and tracer it describes.
// Progress goes to stdout unless --quiet was given.
func (o *Options) Setup(stdout io.Writer) (*Runtime, error) {
	cfg, err := o.Load()
	if err != nil {
		return nil, err
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		FilePath:    cfg.Tracing.FilePath,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	build := o.NewEngine
	if build == nil {
		build = NewEngine
	}
	e, err := build(cfg)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create %s engine: %w", cfg.Engine.Backend, err)
	}
	if tp.Enabled() {
		e = traced.Wrap(e, tp.Tracer())
	}

	progress := stdout
	if o.Quiet {
		progress = io.Discard
	}
	return &Runtime{Config: cfg, Engine: e, Tracing: tp, Progress: progress}, nil
}

// Close releases the engine and flushes pending spans.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(r.Engine.Close(), r.Tracing.Shutdown(ctx))
}

// NewEngine builds the backend named by cfg.Engine.Backend. The memory
// backend reads every existing file as a unit volume and keeps outputs in
// memory, which makes it a dry run of the command.
func NewEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Backend {
	case "memory":
		e := memengine.New()
		e.SetLoader(memengine.StatLoader(1, 1, 1))
		return e, nil
	case "ants", "":
		opts := ants.DefaultOptions()
		opts.Dimension = cfg.Engine.Dimension
		opts.WorkDir = cfg.Engine.WorkDir
		opts.KeepWorkDir = cfg.Engine.KeepWorkDir
		if cfg.Engine.Interpolation != "" {
			opts.Interpolation = cfg.Engine.Interpolation
		}
		if cfg.Extension != "" {
			opts.Extension = cfg.Extension
		}
		return ants.New(opts, ants.ExecRunner{BinDir: cfg.Engine.AntsPath, Threads: cfg.Engine.Threads})
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}

// Execute runs cmd with args and returns the process exit code: 0 on
// success and for usage errors (after printing the usage text), 1 otherwise.
// SIGINT and SIGTERM cancel the command's context.
func Execute(cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(stdout, usage.Text)
		return 0
	}
	log.New(stderr, cmd.Name()+": ", 0).Printf("%v", err)
	return 1
}
