package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"mandelbrot-dist/internal/domain"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func readConfig(t *testing.T, path string, args ...string) (*domain.Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return NewYAMLConfigReader(zap.NewNop(), flags).ReadConfig(path)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfigFileAndFlags(t *testing.T) {
	path := writeFile(t, "config.yaml", `
mode: coordinator
listen: ":9000"
workers: 6
width: 320
height: 240
iterations: 500
strategy: dynamic
real_min: -2.5
real_max: 1
imag_min: -1
imag_max: 1
compress: true
timeout: 30s
pbm_file: out.pbm
`)

	cfg, err := readConfig(t, path, "-workers", "3", "-strategy", "static-rr", "-imag-max", "1.5")
	require.NoError(t, err)

	assert.Equal(t, domain.ModeCoordinator, cfg.Mode)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 3, cfg.Workers, "flag overrides file")
	assert.Equal(t, "static-rr", cfg.Strategy, "flag overrides file")
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 240, cfg.Height)
	assert.Equal(t, 500, cfg.Iterations)
	assert.Equal(t, domain.Bounds{RealMin: -2.5, RealMax: 1, ImagMin: -1, ImagMax: 1.5}, cfg.Bounds)
	assert.True(t, cfg.Compress)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "out.pbm", cfg.PBMFile)

	// defaults fill what neither source set
	assert.Equal(t, 1, cfg.Threads)
	assert.Equal(t, 1, cfg.Repeat)
	assert.Equal(t, DefaultCSVFile, cfg.CSVFile)
	assert.Equal(t, "info", cfg.LogLevel)

	require.NoError(t, cfg.Validate())
	p, err := cfg.Problem()
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStaticRoundRobin, p.Strategy)
}

func TestReadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := readConfig(t, DefaultConfigPath)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeLocal, cfg.Mode)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, max(domain.MinWorkers, runtime.NumCPU()-1), cfg.Workers)
	assert.Equal(t, DefaultSize, cfg.Width)
	assert.Equal(t, DefaultSize, cfg.Height)
	assert.Equal(t, DefaultIterations, cfg.Iterations)
	assert.Equal(t, domain.DefaultBounds, cfg.Bounds)
	assert.Equal(t, time.Duration(0), cfg.Timeout)
	require.NoError(t, cfg.Validate())

	p, err := cfg.Problem()
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStatic, p.Strategy)
}

func TestReadConfigErrors(t *testing.T) {
	_, err := readConfig(t, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = readConfig(t, writeFile(t, "bad.yaml", "workers: [1, 2"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	cfg, err := readConfig(t, writeFile(t, "one.yaml", "workers: 1\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInsufficientWorkers)

	cfg, err = readConfig(t, writeFile(t, "strategy.yaml", "strategy: greedy\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidStrategy)
}

func checkerboard(t *testing.T, width, height int) *Bitmap {
	t.Helper()
	b := NewBitmap(width, height)
	for row := range height {
		bits := make([]bool, width)
		for col := range bits {
			bits[col] = (row+col)%2 == 0
		}
		require.NoError(t, b.Set(domain.RowResult{Row: row, Bits: bits}))
	}
	return b
}

func TestBitmap(t *testing.T) {
	b := NewBitmap(3, 2)
	assert.False(t, b.Complete())
	require.NoError(t, b.Set(domain.RowResult{Row: 1, Bits: []bool{true, false, true}}))
	assert.False(t, b.Complete())
	assert.True(t, b.At(1, 2))
	assert.False(t, b.At(0, 0), "missing rows read as outside")

	require.NoError(t, b.Set(domain.RowResult{Row: 0, Bits: []bool{false, false, false}}))
	assert.True(t, b.Complete())

	assert.ErrorIs(t, b.Set(domain.RowResult{Row: 2, Bits: make([]bool, 3)}), domain.ErrRowOutOfRange)
	assert.ErrorIs(t, b.Set(domain.RowResult{Row: 0, Bits: make([]bool, 4)}), domain.ErrProtocol)
}

func TestWritePBM(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePBM(&buf, checkerboard(t, 3, 2)))
	assert.Equal(t, "P1\n3 2\n101\n010\n", buf.String())
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, checkerboard(t, 4, 3)))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())

	in, _, _, _ := img.At(0, 0).RGBA()
	out, _, _, _ := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0), in, "points in the set are black")
	assert.Equal(t, uint32(0xffff), out)
}

func TestImageFileWriter(t *testing.T) {
	dir := t.TempDir()
	pbm := filepath.Join(dir, "out.pbm")
	sink := NewPBMFileWriter(zap.NewNop(), pbm, 2, 2)

	require.NoError(t, sink.OnRow(domain.RowResult{Row: 1, Bits: []bool{true, true}}))
	require.NoError(t, sink.OnRow(domain.RowResult{Row: 0, Bits: []bool{false, true}}))
	require.NoError(t, sink.OnComplete(domain.RunStats{RunID: uuid.New()}))

	data, err := os.ReadFile(pbm)
	require.NoError(t, err)
	assert.Equal(t, "P1\n2 2\n01\n11\n", string(data))

	pngPath := filepath.Join(dir, "out.png")
	pngSink := NewPNGFileWriter(zap.NewNop(), pngPath, 2, 2)
	require.NoError(t, pngSink.OnRow(domain.RowResult{Row: 0, Bits: []bool{true, false}}))
	require.NoError(t, pngSink.OnComplete(domain.RunStats{}))
	f, err := os.Open(pngPath)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)

	bad := NewPBMFileWriter(zap.NewNop(), filepath.Join(dir, "missing", "out.pbm"), 1, 1)
	assert.Error(t, bad.OnComplete(domain.RunStats{}))
}

func TestCSVMetricsWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.csv")
	w := NewCSVMetricsWriter(zap.NewNop(), path)

	require.NoError(t, w.OnRow(domain.RowResult{Row: 0, Bits: []bool{true}}))
	require.NoError(t, w.OnComplete(domain.RunStats{
		Strategy: domain.StrategyDynamic, Workers: 4, GridArea: 640000, Elapsed: 1250 * time.Millisecond,
	}))
	require.NoError(t, w.OnComplete(domain.RunStats{
		Strategy: domain.StrategyStatic, Workers: 2, GridArea: 100, Elapsed: 500 * time.Millisecond,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MPI-Dynamic,4,640000,1.25\nMPI-Static,2,100,0.5\n", string(data))
}

func TestPrometheusSink(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewPrometheusSink(registry)

	for row := range 3 {
		require.NoError(t, sink.OnRow(domain.RowResult{Row: row}))
	}
	require.NoError(t, sink.OnComplete(domain.RunStats{
		Strategy:      domain.StrategyStaticRoundRobin,
		Workers:       2,
		GridArea:      12,
		Elapsed:       2 * time.Second,
		RowsPerWorker: []int{2, 1},
	}))

	assert.Equal(t, 3.0, testutil.ToFloat64(sink.rowsReceived))
	assert.Equal(t, 12.0, testutil.ToFloat64(sink.gridArea))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsTotal.WithLabelValues("MPI-Static-RoundRobin", "2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.workerRows.WithLabelValues("MPI-Static-RoundRobin", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.workerRows.WithLabelValues("MPI-Static-RoundRobin", "2")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "mandelbrot_run_duration_seconds"))
}

type failingSink struct{ err error }

func (s failingSink) OnRow(domain.RowResult) error    { return s.err }
func (s failingSink) OnComplete(domain.RunStats) error { return s.err }

func TestMultiSink(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	path := filepath.Join(t.TempDir(), "runs.csv")
	sink := MultiSink{failingSink{first}, NewCSVMetricsWriter(zap.NewNop(), path), failingSink{second}}

	err := sink.OnComplete(domain.RunStats{Strategy: domain.StrategyStatic, Workers: 2})
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "healthy sinks still run")

	assert.NoError(t, MultiSink{NewLogSink(zap.NewNop())}.OnRow(domain.RowResult{}))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.OnRow(domain.RowResult{Row: 4, Bits: []bool{true, false, true}}))
	require.NoError(t, sink.OnComplete(domain.RunStats{Strategy: domain.StrategyDynamic, Workers: 3, GridArea: 9}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].ContextMap()["in_set"])
	assert.Equal(t, "MPI-Dynamic", entries[1].ContextMap()["strategy"])
}

func TestServeMetricsStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeMetrics(ctx, zap.NewNop(), "127.0.0.1:0", prometheus.NewRegistry())
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestServeMetricsReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = ServeMetrics(context.Background(), zap.NewNop(), ln.Addr().String(), prometheus.NewRegistry())
	assert.Error(t, err, "address already in use")
}
