package app

import (
	"mandelbrot-dist/internal/domain"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BalanceReport describes how evenly rows were spread across workers.
// Imbalance is Max/Mean; 1 means perfectly even.
type BalanceReport struct {
	Mean      float64
	StdDev    float64
	Min       int
	Max       int
	Imbalance float64
}

func Balance(rowsPerWorker []int) BalanceReport {
	if len(rowsPerWorker) == 0 {
		return BalanceReport{}
	}
	xs := toFloats(rowsPerWorker)
	r := BalanceReport{
		Min: int(floats.Min(xs)),
		Max: int(floats.Max(xs)),
	}
	r.Mean, r.StdDev = meanStdDev(xs)
	if r.Mean > 0 {
		r.Imbalance = float64(r.Max) / r.Mean
	}
	return r
}

// RepeatSummary aggregates elapsed times, in seconds, over repeated runs.
type RepeatSummary struct {
	Runs   int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

func Summarize(runs []domain.RunStats) RepeatSummary {
	if len(runs) == 0 {
		return RepeatSummary{}
	}
	xs := make([]float64, len(runs))
	for i, r := range runs {
		xs[i] = r.ElapsedSeconds()
	}
	s := RepeatSummary{
		Runs: len(runs),
		Min:  floats.Min(xs),
		Max:  floats.Max(xs),
	}
	s.Mean, s.StdDev = meanStdDev(xs)
	return s
}

// meanStdDev is stat.MeanStdDev with a zero deviation for a single sample
// instead of NaN.
func meanStdDev(xs []float64) (float64, float64) {
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

func toFloats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
