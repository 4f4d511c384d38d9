// Package escape classifies points of the complex plane with the escape-time test
// of the quadratic recurrence z <- z*z + c.
package escape

import (
	"mandelbrot-dist/internal/domain"

	"golang.org/x/sync/errgroup"
)

// escapeRadiusSq is |z|^2 at which a point is considered escaped.
const escapeRadiusSq = 4.0

// scale maps pixel coordinates of a problem onto the complex plane.
type scale struct {
	realMin, imagMin   float64
	realStep, imagStep float64
	height             int
}

func newScale(p domain.Problem) scale {
	return scale{
		realMin:  p.Bounds.RealMin,
		imagMin:  p.Bounds.ImagMin,
		realStep: (p.Bounds.RealMax - p.Bounds.RealMin) / float64(p.Width),
		imagStep: (p.Bounds.ImagMax - p.Bounds.ImagMin) / float64(p.Height),
		height:   p.Height,
	}
}

// point returns c for pixel (row, col). Row 0 is the top of the image, so the
// imaginary axis is flipped.
func (s scale) point(row, col int) (float64, float64) {
	return s.realMin + float64(col)*s.realStep,
		s.imagMin + float64(s.height-1-row)*s.imagStep
}

// Iterations runs the recurrence for c = (cr, ci) and returns the number of
// iterations performed, between 1 and limit. A result equal to limit means the
// orbit never escaped.
func Iterations(cr, ci float64, limit int) int {
	var zr, zi float64
	k := 0
	for {
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
		k++
		if zr*zr+zi*zi >= escapeRadiusSq || k >= limit {
			return k
		}
	}
}

// Cell reports whether pixel (row, col) of p belongs to the set.
func Cell(row, col int, p domain.Problem) bool {
	cr, ci := newScale(p).point(row, col)
	return Iterations(cr, ci, p.IterationLimit) == p.IterationLimit
}

// ComputeRow classifies every column of a row sequentially.
func ComputeRow(row int, p domain.Problem) domain.RowResult {
	bits := make([]bool, p.Width)
	fill(bits, 0, row, newScale(p), p.IterationLimit)
	return domain.RowResult{Row: row, Bits: bits}
}

func fill(bits []bool, firstCol, row int, s scale, limit int) {
	for i := range bits {
		cr, ci := s.point(row, firstCol+i)
		bits[i] = Iterations(cr, ci, limit) == limit
	}
}

// RowComputer splits a row into contiguous column chunks and classifies them on
// at most Threads goroutines. The fan-out stays inside one row, so it never
// changes which worker a row is attributed to.
type RowComputer struct {
	threads int
}

func NewRowComputer(threads int) *RowComputer {
	if threads < 1 {
		threads = 1
	}
	return &RowComputer{threads: threads}
}

func (c *RowComputer) Threads() int {
	return c.threads
}

func (c *RowComputer) ComputeRow(row int, p domain.Problem) domain.RowResult {
	if c.threads == 1 || p.Width < 2*c.threads {
		return ComputeRow(row, p)
	}

	bits := make([]bool, p.Width)
	s := newScale(p)
	chunk := (p.Width + c.threads - 1) / c.threads

	var g errgroup.Group
	g.SetLimit(c.threads)
	for start := 0; start < p.Width; start += chunk {
		end := min(start+chunk, p.Width)
		g.Go(func() error {
			fill(bits[start:end], start, row, s, p.IterationLimit)
			return nil
		})
	}
	_ = g.Wait() // chunks never fail

	return domain.RowResult{Row: row, Bits: bits}
}
