package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
	"vtkkrig/pkg/estimation"
	"vtkkrig/pkg/runstore"
	"vtkkrig/pkg/tabular"
	"vtkkrig/pkg/visualization"
	"vtkkrig/pkg/vtk"
)

type options struct {
	soft        string
	hard        string
	lito        string
	variables   string
	variogram   string
	output      string
	display     bool
	plotsDir    string
	sliceAxis   string
	workers     int
	timeout     time.Duration
	ledger      string
	writeConfig string
}

func main() {
	var opts options
	flag.StringVar(&opts.soft, "soft", "", "Block model grid (.vtk)")
	flag.StringVar(&opts.hard, "hard", "", "Sample table (.csv, .tsv, .txt, .asc, .vtk)")
	flag.StringVar(&opts.lito, "lito", "", "Category field present in both grid and samples")
	flag.StringVar(&opts.variables, "variables", "", "Sample fields to estimate, separated by ';'")
	flag.StringVar(&opts.variogram, "variogram", "", "Estimation settings file (.yaml, .yml, .json)")
	flag.StringVar(&opts.output, "output", "", "Output grid (.vtk); empty skips writing")
	flag.BoolVar(&opts.display, "display", false, "Save a slice heat map and a histogram per variable")
	flag.StringVar(&opts.plotsDir, "plots-dir", "plots", "Directory for plots")
	flag.StringVar(&opts.sliceAxis, "slices", "", "Also save every layer along this axis (x, y or z)")
	flag.IntVar(&opts.workers, "workers", runtime.NumCPU(), "Number of concurrent estimations")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Time limit per estimation, 0 for none")
	flag.StringVar(&opts.ledger, "ledger", "", "SQLite run ledger; empty disables it")
	flag.StringVar(&opts.writeConfig, "write-config", "", "Write the default settings to this path and exit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "Also log to this file")
	flag.Parse()

	paths := []string{"stderr"}
	if *logFile != "" {
		paths = append(paths, *logFile)
	}
	logger := initLogger(*logLevel, paths...)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		logger.Error("vtkkrig failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

var errUsage = errors.New("missing required flags")

func run(ctx context.Context, logger *zap.Logger, opts options) error {
	if opts.writeConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.writeConfig); err != nil {
			return err
		}
		logger.Info("Default settings written", zap.String("path", opts.writeConfig))
		return nil
	}

	variables := splitVariables(opts.variables)
	if opts.soft == "" || opts.hard == "" || len(variables) == 0 {
		return fmt.Errorf("%w: -soft, -hard and -variables", errUsage)
	}

	cfg, err := config.Resolve(config.Source{Path: opts.variogram})
	if err != nil {
		// never fatal, defaults were kept
		for _, e := range unwrapAll(err) {
			logger.Warn("Ignoring settings problem", zap.Error(e))
		}
	}
	if keys := cfg.ExtraKeys(); len(keys) > 0 {
		logger.Info("Unrecognised settings kept but not used", zap.Strings("keys", keys))
	}

	logger.Info("vtkkrig started",
		zap.String("soft", opts.soft),
		zap.String("hard", opts.hard),
		zap.String("lito", opts.lito),
		zap.Strings("variables", variables),
		zap.Any("settings", cfg.Map()))

	grid, err := vtk.Read(opts.soft)
	if err != nil {
		return fmt.Errorf("reading grid: %w", err)
	}
	samples, err := tabular.Load(opts.hard)
	if err != nil {
		return fmt.Errorf("reading samples: %w", err)
	}
	logger.Info("Inputs loaded",
		zap.Int("cells", grid.NumCells()),
		zap.Int("samples", samples.Len()),
		zap.Strings("fields", samples.Fields()))

	engine := estimation.NewEngine(logger, cfg,
		estimation.WithWorkers(opts.workers),
		estimation.WithTimeout(opts.timeout),
		estimation.WithProgressCallback(func(completed, total int, message string) {
			logger.Debug("Progress", zap.Int("completed", completed), zap.Int("total", total), zap.String("pair", message))
		}),
	)

	report, runErr := engine.Run(ctx, grid, samples, estimation.Params{Category: opts.lito, Variables: variables})
	if runErr != nil && (report == nil || ctx.Err() == nil) {
		return runErr
	}
	if runErr != nil {
		logger.Warn("Run interrupted, keeping partial results", zap.Error(runErr))
	}

	if opts.output != "" {
		if err := vtk.Write(grid, opts.output); err != nil {
			return fmt.Errorf("writing grid: %w", err)
		}
		logger.Info("Grid saved", zap.String("path", opts.output))
	} else {
		logger.Warn("No -output given, estimates are not saved")
	}

	if opts.ledger != "" {
		recordRun(ctx, logger, opts, report)
	}
	if opts.display {
		savePlots(logger, opts, grid, report.Variables)
	}

	logger.Info("finished",
		zap.String("run_id", report.RunID),
		zap.Int("estimated", report.Count(estimation.StatusEstimated)),
		zap.Int("absent", report.Count(estimation.StatusAbsent)),
		zap.Int("failed", report.Count(estimation.StatusFailed)),
		zap.Duration("duration", report.Duration))
	return runErr
}

// recordRun stores the report in the ledger. Ledger problems are logged only.
func recordRun(ctx context.Context, logger *zap.Logger, opts options, report *estimation.Report) {
	store, err := runstore.Open(opts.ledger)
	if err != nil {
		logger.Warn("Cannot open run ledger", zap.String("path", opts.ledger), zap.Error(err))
		return
	}
	defer store.Close()

	// record even when the run itself was interrupted
	ctx = context.WithoutCancel(ctx)
	id, err := store.Record(ctx, report, runstore.Paths{Grid: opts.soft, Samples: opts.hard, Output: opts.output})
	if err != nil {
		logger.Warn("Cannot record run", zap.Error(err))
		return
	}
	logger.Info("Run recorded", zap.String("ledger", opts.ledger), zap.String("run_id", id))
}

// savePlots writes plots for every estimated variable. Plot problems are
// logged only.
func savePlots(logger *zap.Logger, opts options, grid *models.Grid, variables []string) {
	viewer := visualization.NewViewer(grid, logger)
	for _, v := range variables {
		files, err := viewer.SaveVariable(v, opts.plotsDir)
		if err != nil {
			logger.Warn("Cannot plot variable", zap.String("variable", v), zap.Error(err))
			continue
		}
		if opts.sliceAxis != "" {
			dir := filepath.Join(opts.plotsDir, v+"_"+strings.ToLower(opts.sliceAxis))
			layers, err := viewer.SaveSliceSequence(v, opts.sliceAxis, dir)
			if err != nil {
				logger.Warn("Cannot save slice sequence", zap.String("variable", v), zap.Error(err))
			}
			files = append(files, layers...)
		}
		logger.Info("Plots saved", zap.String("variable", v), zap.Strings("files", files))
	}
}

// unwrapAll splits a joined error into its parts.
func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func splitVariables(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ";") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// initLogger builds a production logger writing to the given paths.
func initLogger(level string, outputPaths ...string) *zap.Logger {
	zc := zap.NewProductionConfig()

	switch level {
	case "debug":
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zc.OutputPaths = outputPaths
	zc.ErrorOutputPaths = outputPaths
	zc.EncoderConfig.TimeKey = "t"
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	zc.DisableCaller = false

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
