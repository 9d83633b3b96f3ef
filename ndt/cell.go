package ndt

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

const (
	// minCellSamples is the minimum number of points a cell must hold before
	// its distribution is considered informative.
	minCellSamples = 3

	// covarianceFloor is added to the covariance diagonal before inversion
	// so that nearly collinear point sets stay positive-definite.
	covarianceFloor = 1e-5
)

// Cell accumulates the 2-D points that fall inside one grid square and
// summarizes them as a Gaussian. Insertion is strictly additive; a cell
// never forgets points.
type Cell struct {
	count int

	// Raw moments: running sums of x, y and of the outer products
	// xx, xy, yy. Mean and covariance derive from these lazily.
	sumX, sumY          float64
	sumXX, sumXY, sumYY float64

	// dist is the finalized Gaussian, rebuilt by finalize after inserts.
	// It is nil while the cell is not informative.
	dist  *distmv.Normal
	dirty bool
}

// Insert adds one point to the cell's running moments. O(1), never fails.
func (c *Cell) Insert(p Point) {
	c.count++
	c.sumX += p.X
	c.sumY += p.Y
	c.sumXX += p.X * p.X
	c.sumXY += p.X * p.Y
	c.sumYY += p.Y * p.Y
	c.dirty = true
}

// Count returns the number of points inserted so far.
func (c *Cell) Count() int {
	return c.count
}

// Mean returns the mean of the inserted points. It is only meaningful when
// Count is nonzero.
func (c *Cell) Mean() Point {
	if c.count == 0 {
		return Point{}
	}
	n := float64(c.count)
	return Point{X: c.sumX / n, Y: c.sumY / n}
}

// Covariance returns the sample covariance of the inserted points, or nil
// when the cell holds fewer than the minimum sample count.
func (c *Cell) Covariance() *mat.SymDense {
	if c.count < minCellSamples {
		return nil
	}
	n := float64(c.count)
	mx, my := c.sumX/n, c.sumY/n
	return mat.NewSymDense(2, []float64{
		c.sumXX/n - mx*mx, c.sumXY/n - mx*my,
		c.sumXY/n - mx*my, c.sumYY/n - my*my,
	})
}

// finalize rebuilds the cell's Gaussian from its accumulated moments. It
// must be called (and is, by Frame) before Density is evaluated from
// multiple goroutines; Density itself never mutates the cell.
func (c *Cell) finalize() {
	c.dirty = false
	c.dist = nil

	cov := c.Covariance()
	if cov == nil {
		return
	}
	cov.SetSym(0, 0, cov.At(0, 0)+covarianceFloor)
	cov.SetSym(1, 1, cov.At(1, 1)+covarianceFloor)

	mean := c.Mean()
	dist, ok := distmv.NewNormal([]float64{mean.X, mean.Y}, cov, nil)
	if !ok {
		// Degenerate even after flooring; the cell stays uninformative.
		return
	}
	c.dist = dist
}

// Informative reports whether the cell holds enough well-conditioned data to
// contribute to a matching score.
func (c *Cell) Informative() bool {
	if c.dirty {
		c.finalize()
	}
	return c.dist != nil
}

// Density evaluates the Gaussian probability density of p under the cell's
// distribution. It returns 0 for cells that are not informative and is
// always finite and non-negative.
func (c *Cell) Density(p Point) float64 {
	if c.dirty {
		c.finalize()
	}
	if c.dist == nil {
		return 0
	}
	return c.dist.Prob([]float64{p.X, p.Y})
}
