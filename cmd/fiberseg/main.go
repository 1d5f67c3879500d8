package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"

	"fiberseg/pkg/config"
	"fiberseg/pkg/segmentation"
	"fiberseg/pkg/sink"
	"fiberseg/pkg/source"
	"fiberseg/pkg/visualization"
)

const usage = `Usage: fiberseg <command> [flags]

Commands:
  run          segment fibers in every fov and write labels and the object table
  steps        render every segmentation stage of one fov as a montage
  init-config  write the default configuration file

Run "fiberseg <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:])
	case "steps":
		err = stepsCommand(ctx, os.Args[2:])
	case "init-config":
		err = initConfigCommand(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fiberseg: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are shared by run and steps and override the config file
type commonFlags struct {
	configPath *string
	inputDir   *string
	outputDir  *string
	channel    *string
	debug      *bool
	workers    *int
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", "fiberseg.yaml", "Path to the YAML configuration file"),
		inputDir:   fs.String("input", "", "Directory with one sub-directory per fov (overrides config)"),
		outputDir:  fs.String("output", "", "Existing output directory (overrides config)"),
		channel:    fs.String("channel", "", "Fiber channel name (overrides config)"),
		debug:      fs.Bool("debug", false, "Save intermediate stage images into <output>/_debug"),
		workers:    fs.Int("workers", 0, "Number of fovs processed concurrently (overrides config)"),
	}
}

// load reads the config file and applies flag overrides
func (f *commonFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(*f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if *f.inputDir != "" {
		cfg.Input.Dir = *f.inputDir
	}
	if *f.outputDir != "" {
		cfg.Output.Dir = *f.outputDir
	}
	if *f.channel != "" {
		cfg.Segmentation.FiberChannel = *f.channel
	}
	if *f.debug {
		cfg.Output.Debug = true
	}
	if *f.workers > 0 {
		cfg.Processing.Workers = *f.workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
	return cfg, logger, nil
}

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := registerCommon(fs)
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}

	opts := []segmentation.Option{segmentation.WithLogger(logger)}
	if cfg.Postgres.DSN != "" {
		pg, err := sink.NewPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.RunName)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.InitSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, segmentation.WithTableSink(pg))
		logger.Info("writing fiber objects to postgres", "run", cfg.Postgres.RunName)
	}

	src := source.NewDirectory(cfg.Input.Dir, cfg.Input.ImageSubdir)
	seg, err := segmentation.NewSegmenter(cfg.Params(), src, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := seg.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("wrote results",
		"output", cfg.Output.Dir,
		"fovs", len(results.FOVs),
		"fibers", len(results.Table.Rows),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func stepsCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("steps", flag.ExitOnError)
	common := registerCommon(fs)
	fov := fs.String("fov", "", "Fov to render")
	tile := fs.Int("tile", 512, "Panel size in pixels, 0 keeps the image size")
	fs.Parse(args)

	if *fov == "" {
		fs.Usage()
		return fmt.Errorf("-fov is required")
	}

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}

	src := source.NewDirectory(cfg.Input.Dir, cfg.Input.ImageSubdir)
	seg, err := segmentation.NewSegmenter(cfg.Params(), src, segmentation.WithLogger(logger))
	if err != nil {
		return err
	}

	steps, err := seg.Steps(ctx, *fov)
	if err != nil {
		return err
	}

	viewer := visualization.NewViewer(steps)
	path := filepath.Join(cfg.Output.Dir, *fov+"_fiber_steps.png")
	if err := viewer.SaveMontage(path, *tile); err != nil {
		return fmt.Errorf("failed to save montage: %w", err)
	}
	logger.Info("saved segmentation steps", "fov", *fov, "path", path)

	if cfg.Output.Debug {
		panelDir := filepath.Join(cfg.Output.Dir, sink.DebugDirName)
		if err := viewer.SavePanels(panelDir); err != nil {
			return fmt.Errorf("failed to save panels: %w", err)
		}
		logger.Info("saved stage panels", "dir", panelDir)
	}
	return nil
}

func initConfigCommand(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	path := "fiberseg.yaml"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists, use -force to overwrite", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", path)
	return nil
}
