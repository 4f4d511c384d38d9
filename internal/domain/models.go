package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Strategy selects how rows are distributed between workers
type Strategy int

const (
	StrategyStatic Strategy = iota
	StrategyStaticRoundRobin
	StrategyDynamic
)

// Strategies lists every known strategy in id order.
var Strategies = []Strategy{StrategyStatic, StrategyStaticRoundRobin, StrategyDynamic}

func (s Strategy) String() string {
	switch s {
	case StrategyStatic:
		return "MPI-Static"
	case StrategyStaticRoundRobin:
		return "MPI-Static-RoundRobin"
	case StrategyDynamic:
		return "MPI-Dynamic"
	default:
		return "Strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s Strategy) Valid() bool {
	return s >= StrategyStatic && s <= StrategyDynamic
}

// ParseStrategy accepts the numeric id (0, 1, 2), a short name or the display name.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "static", "mpi-static":
		return StrategyStatic, nil
	case "1", "static-rr", "roundrobin", "round-robin", "static-roundrobin", "mpi-static-roundrobin":
		return StrategyStaticRoundRobin, nil
	case "2", "dynamic", "mpi-dynamic":
		return StrategyDynamic, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStrategy, value)
}

// Bounds is the window of the complex plane mapped onto the pixel grid
type Bounds struct {
	RealMin float64 `yaml:"real_min"`
	RealMax float64 `yaml:"real_max"`
	ImagMin float64 `yaml:"imag_min"`
	ImagMax float64 `yaml:"imag_max"`
}

// DefaultBounds covers [-2, 2] on both axes.
var DefaultBounds = Bounds{RealMin: -2, RealMax: 2, ImagMin: -2, ImagMax: 2}

// Problem is broadcast to every participant before work begins and never changes afterwards.
type Problem struct {
	Width          int
	Height         int
	IterationLimit int
	Bounds         Bounds
	Strategy       Strategy
}

func (p Problem) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, p.Width, p.Height)
	}
	if p.IterationLimit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, p.IterationLimit)
	}
	if !(p.Bounds.RealMin < p.Bounds.RealMax) || !(p.Bounds.ImagMin < p.Bounds.ImagMax) {
		return fmt.Errorf("%w: %+v", ErrInvalidBounds, p.Bounds)
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStrategy, int(p.Strategy))
	}
	return nil
}

// Area is the number of cells in the grid.
func (p Problem) Area() int {
	return p.Width * p.Height
}

// RowAssignment is a contiguous block of rows [StartRow, StartRow+RowCount)
type RowAssignment struct {
	StartRow int
	RowCount int
}

func (a RowAssignment) End() int {
	return a.StartRow + a.RowCount
}

func (a RowAssignment) Rows() []int {
	rows := make([]int, a.RowCount)
	for i := range rows {
		rows[i] = a.StartRow + i
	}
	return rows
}

// RowResult holds the classification of one row, one entry per column.
type RowResult struct {
	Row  int
	Bits []bool
}

// RunStats describes a finished run
type RunStats struct {
	RunID         uuid.UUID
	Strategy      Strategy
	Workers       int
	GridArea      int
	Elapsed       time.Duration
	RowsPerWorker []int // index 0 is the first worker (rank 1)
}

func (s RunStats) ElapsedSeconds() float64 {
	return s.Elapsed.Seconds()
}

// Config is the application configuration: YAML file, then flags, then defaults.
type Config struct {
	Mode        string        `yaml:"mode"`
	Listen      string        `yaml:"listen"`
	Connect     string        `yaml:"connect"`
	Workers     int           `yaml:"workers"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	Iterations  int           `yaml:"iterations"`
	Strategy    string        `yaml:"strategy"`
	Bounds      Bounds        `yaml:",inline"`
	Threads     int           `yaml:"threads"`
	Compress    bool          `yaml:"compress"`
	Repeat      int           `yaml:"repeat"`
	Timeout     time.Duration `yaml:"timeout"`
	PBMFile     string        `yaml:"pbm_file"`
	PNGFile     string        `yaml:"png_file"`
	CSVFile     string        `yaml:"csv_file"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     string        `yaml:"log_file"`
}

const (
	ModeLocal       = "local"
	ModeCoordinator = "coordinator"
	ModeWorker      = "worker"
)

// MinWorkers is the smallest worker pool a configured run accepts.
const MinWorkers = 2

// Validate checks the configuration surface before any participant is engaged.
// Worker processes take everything else from the broadcast, so only the
// connection target is checked for them.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeWorker:
		if c.Connect == "" {
			return fmt.Errorf("%w: worker mode needs a coordinator address", ErrInvalidConfig)
		}
		return nil
	case ModeLocal, ModeCoordinator:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Workers < MinWorkers {
		return fmt.Errorf("%w: %d (need at least %d)", ErrInsufficientWorkers, c.Workers, MinWorkers)
	}
	if c.Repeat < 1 {
		return fmt.Errorf("%w: repeat must be positive", ErrInvalidConfig)
	}
	if c.Mode == ModeCoordinator && c.Repeat != 1 {
		return fmt.Errorf("%w: repeat is only supported in local mode", ErrInvalidConfig)
	}
	_, err := c.Problem()
	return err
}

// Problem derives the broadcast problem from the configuration.
func (c *Config) Problem() (Problem, error) {
	strategy, err := ParseStrategy(c.Strategy)
	if err != nil {
		return Problem{}, err
	}
	p := Problem{
		Width:          c.Width,
		Height:         c.Height,
		IterationLimit: c.Iterations,
		Bounds:         c.Bounds,
		Strategy:       strategy,
	}
	if err := p.Validate(); err != nil {
		return Problem{}, err
	}
	return p, nil
}
