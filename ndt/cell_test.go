package ndt

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestCellAccumulation(t *testing.T) {
	t.Run("moments match a hand-computed batch", func(t *testing.T) {
		c := &Cell{}
		pts := []Point{{1, 2}, {2, 3}, {3, 5}, {2, 2}}
		for _, p := range pts {
			c.Insert(p)
		}
		test.That(t, c.Count(), test.ShouldEqual, 4)

		mean := c.Mean()
		test.That(t, mean.X, test.ShouldAlmostEqual, 2.0, 1e-12)
		test.That(t, mean.Y, test.ShouldAlmostEqual, 3.0, 1e-12)

		cov := c.Covariance()
		test.That(t, cov, test.ShouldNotBeNil)
		// E[xx] - mx*mx = (1+4+9+4)/4 - 4 = 0.5
		test.That(t, cov.At(0, 0), test.ShouldAlmostEqual, 0.5, 1e-12)
		// E[xy] - mx*my = (2+6+15+4)/4 - 6 = 0.75
		test.That(t, cov.At(0, 1), test.ShouldAlmostEqual, 0.75, 1e-12)
		// E[yy] - my*my = (4+9+25+4)/4 - 9 = 1.5
		test.That(t, cov.At(1, 1), test.ShouldAlmostEqual, 1.5, 1e-12)
	})

	t.Run("incremental insertion equals one batch", func(t *testing.T) {
		a := &Cell{}
		b := &Cell{}
		pts := []Point{{0.1, 0.2}, {0.3, -0.1}, {-0.2, 0.4}, {0.5, 0.5}, {0.0, -0.3}}
		for _, p := range pts {
			a.Insert(p)
		}
		for _, p := range pts[:2] {
			b.Insert(p)
		}
		for _, p := range pts[2:] {
			b.Insert(p)
		}
		test.That(t, a.Count(), test.ShouldEqual, b.Count())
		test.That(t, a.Mean(), test.ShouldResemble, b.Mean())
		test.That(t, a.Covariance().At(0, 0), test.ShouldAlmostEqual, b.Covariance().At(0, 0), 1e-12)
		test.That(t, a.Covariance().At(0, 1), test.ShouldAlmostEqual, b.Covariance().At(0, 1), 1e-12)
		test.That(t, a.Covariance().At(1, 1), test.ShouldAlmostEqual, b.Covariance().At(1, 1), 1e-12)
	})
}

func TestCellBelowMinimumSamples(t *testing.T) {
	c := &Cell{}
	c.Insert(Point{1, 1})
	c.Insert(Point{1.1, 0.9})

	test.That(t, c.Covariance(), test.ShouldBeNil)
	test.That(t, c.Informative(), test.ShouldBeFalse)
	test.That(t, c.Density(Point{1, 1}), test.ShouldEqual, 0)
}

func TestCellDensity(t *testing.T) {
	c := &Cell{}
	for i := 0; i < 10; i++ {
		s := float64(i)
		c.Insert(Point{X: 1 + 0.05*math.Sin(3*s), Y: 2 + 0.05*math.Cos(5*s)})
	}
	test.That(t, c.Informative(), test.ShouldBeTrue)

	mean := c.Mean()
	atMean := c.Density(mean)
	farAway := c.Density(Point{X: mean.X + 1, Y: mean.Y + 1})
	test.That(t, atMean, test.ShouldBeGreaterThan, 0)
	test.That(t, atMean, test.ShouldBeGreaterThan, farAway)
}

func TestCellDegenerateGeometry(t *testing.T) {
	// Collinear points have a singular sample covariance; the floor keeps
	// the distribution evaluable and finite.
	c := &Cell{}
	for i := 0; i < 5; i++ {
		c.Insert(Point{X: float64(i) * 0.1, Y: 0})
	}
	d := c.Density(Point{X: 0.2, Y: 0})
	test.That(t, math.IsInf(d, 0), test.ShouldBeFalse)
	test.That(t, math.IsNaN(d), test.ShouldBeFalse)
	test.That(t, d, test.ShouldBeGreaterThanOrEqualTo, 0)
}
