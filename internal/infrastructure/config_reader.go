package infrastructure

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"mandelbrot-dist/internal/domain"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config.yaml"
	DefaultListen     = ":7070"
	DefaultCSVFile    = "output.csv"
	DefaultSize       = 800
	DefaultIterations = 1000
)

// ConfigFlags holds the command-line overrides. Only flags that were set on
// the command line replace values from the file.
type ConfigFlags struct {
	set *flag.FlagSet
	cfg domain.Config
}

// BindFlags registers every configuration flag on set.
func BindFlags(set *flag.FlagSet) *ConfigFlags {
	f := &ConfigFlags{set: set}
	c := &f.cfg
	set.StringVar(&c.Mode, "mode", "", "Run mode: local, coordinator or worker")
	set.StringVar(&c.Listen, "listen", "", "Coordinator listen address")
	set.StringVar(&c.Connect, "connect", "", "Coordinator address to dial in worker mode")
	set.IntVar(&c.Workers, "workers", 0, "Number of workers")
	set.IntVar(&c.Width, "width", 0, "Image width in pixels")
	set.IntVar(&c.Height, "height", 0, "Image height in pixels")
	set.IntVar(&c.Iterations, "iterations", 0, "Iteration limit per pixel")
	set.StringVar(&c.Strategy, "strategy", "", "Distribution strategy: 0|static, 1|static-rr, 2|dynamic")
	set.Float64Var(&c.Bounds.RealMin, "real-min", 0, "Lower bound of the real axis")
	set.Float64Var(&c.Bounds.RealMax, "real-max", 0, "Upper bound of the real axis")
	set.Float64Var(&c.Bounds.ImagMin, "imag-min", 0, "Lower bound of the imaginary axis")
	set.Float64Var(&c.Bounds.ImagMax, "imag-max", 0, "Upper bound of the imaginary axis")
	set.IntVar(&c.Threads, "threads", 0, "Goroutines per row inside a worker")
	set.BoolVar(&c.Compress, "compress", false, "Compress returned rows with zstd")
	set.IntVar(&c.Repeat, "repeat", 0, "Number of runs in local mode")
	set.DurationVar(&c.Timeout, "timeout", 0, "Abort the run after this long (0 waits forever)")
	set.StringVar(&c.PBMFile, "pbm", "", "Write the image as plain PBM to this file")
	set.StringVar(&c.PNGFile, "png", "", "Write the image as PNG to this file")
	set.StringVar(&c.CSVFile, "csv", "", "Append run metrics to this CSV file")
	set.StringVar(&c.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	set.StringVar(&c.LogLevel, "log-level", "", "Log level")
	set.StringVar(&c.LogFile, "log-file", "", "Log file")
	return f
}

// Apply copies the explicitly set flags into config.
func (f *ConfigFlags) Apply(config *domain.Config) {
	if f == nil {
		return
	}
	f.set.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "mode":
			config.Mode = f.cfg.Mode
		case "listen":
			config.Listen = f.cfg.Listen
		case "connect":
			config.Connect = f.cfg.Connect
		case "workers":
			config.Workers = f.cfg.Workers
		case "width":
			config.Width = f.cfg.Width
		case "height":
			config.Height = f.cfg.Height
		case "iterations":
			config.Iterations = f.cfg.Iterations
		case "strategy":
			config.Strategy = f.cfg.Strategy
		case "real-min":
			config.Bounds.RealMin = f.cfg.Bounds.RealMin
		case "real-max":
			config.Bounds.RealMax = f.cfg.Bounds.RealMax
		case "imag-min":
			config.Bounds.ImagMin = f.cfg.Bounds.ImagMin
		case "imag-max":
			config.Bounds.ImagMax = f.cfg.Bounds.ImagMax
		case "threads":
			config.Threads = f.cfg.Threads
		case "compress":
			config.Compress = f.cfg.Compress
		case "repeat":
			config.Repeat = f.cfg.Repeat
		case "timeout":
			config.Timeout = f.cfg.Timeout
		case "pbm":
			config.PBMFile = f.cfg.PBMFile
		case "png":
			config.PNGFile = f.cfg.PNGFile
		case "csv":
			config.CSVFile = f.cfg.CSVFile
		case "metrics-addr":
			config.MetricsAddr = f.cfg.MetricsAddr
		case "log-level":
			config.LogLevel = f.cfg.LogLevel
		case "log-file":
			config.LogFile = f.cfg.LogFile
		}
	})
}

var _ domain.ConfigReader = (*YAMLConfigReader)(nil)

type YAMLConfigReader struct {
	logger *zap.Logger
	flags  *ConfigFlags
}

func NewYAMLConfigReader(logger *zap.Logger, flags *ConfigFlags) *YAMLConfigReader {
	return &YAMLConfigReader{logger: logger, flags: flags}
}

// ReadConfig loads path, applies command-line overrides and fills defaults.
// A missing file is only tolerated at the default path.
func (r *YAMLConfigReader) ReadConfig(path string) (*domain.Config, error) {
	var config domain.Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultConfigPath:
		r.logger.Debug("No config file, using flags and defaults", zap.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidConfig, path, err)
		}
	}

	r.flags.Apply(&config)
	r.setDefaults(&config)

	return &config, nil
}

func (r *YAMLConfigReader) setDefaults(config *domain.Config) {
	if config.Mode == "" {
		config.Mode = domain.ModeLocal
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	if config.Workers == 0 {
		config.Workers = max(domain.MinWorkers, runtime.NumCPU()-1)
	}
	if config.Width == 0 {
		config.Width = DefaultSize
	}
	if config.Height == 0 {
		config.Height = DefaultSize
	}
	if config.Iterations == 0 {
		config.Iterations = DefaultIterations
	}
	if config.Strategy == "" {
		config.Strategy = domain.StrategyStatic.String()
	}
	if config.Bounds == (domain.Bounds{}) {
		config.Bounds = domain.DefaultBounds
	}
	if config.Threads == 0 {
		config.Threads = 1
	}
	if config.Repeat == 0 {
		config.Repeat = 1
	}
	if config.CSVFile == "" {
		config.CSVFile = DefaultCSVFile
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}
