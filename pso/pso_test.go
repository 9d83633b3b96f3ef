package pso

import (
	"math"
	"runtime"
	"testing"

	"go.viam.com/test"
)

func TestConfigValidate(t *testing.T) {
	err := Config{Population: 0, Iterations: 10}.Validate()
	test.That(t, err, test.ShouldNotBeNil)

	err = Config{Population: 10, Iterations: -5}.Validate()
	test.That(t, err, test.ShouldNotBeNil)

	err = Config{Population: 10, Iterations: 10}.Validate()
	test.That(t, err, test.ShouldBeNil)
}

func TestNewResolvesWorkers(t *testing.T) {
	o, err := New(Config{Population: 10, Iterations: 10})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Workers(), test.ShouldEqual, runtime.NumCPU())

	o, err = New(Config{Population: 10, Iterations: 10, Workers: 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Workers(), test.ShouldEqual, 3)

	_, err = New(Config{Population: -2, Iterations: 10})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunFindsSmoothMaximum(t *testing.T) {
	o, err := New(Config{
		Population: 50,
		Iterations: 80,
		Workers:    2,
		SpreadXY:   1.0,
		Seed:       7,
	})
	test.That(t, err, test.ShouldBeNil)

	target := [3]float64{1.0, -2.0, 0.5}
	obj := func(pose [3]float64) float64 {
		dx := pose[0] - target[0]
		dy := pose[1] - target[1]
		dt := wrapAngle(pose[2] - target[2])
		return -(dx*dx + dy*dy + dt*dt)
	}

	best, fitness := o.Run([3]float64{0, 0, 0}, obj)
	test.That(t, fitness, test.ShouldBeGreaterThan, -0.01)
	test.That(t, math.Abs(best[0]-target[0]), test.ShouldBeLessThan, 0.05)
	test.That(t, math.Abs(best[1]-target[1]), test.ShouldBeLessThan, 0.05)
	test.That(t, math.Abs(wrapAngle(best[2]-target[2])), test.ShouldBeLessThan, 0.05)
}

func TestRunFlatSurfaceReturnsSeed(t *testing.T) {
	o, err := New(Config{Population: 20, Iterations: 20, Workers: 1, Seed: 3})
	test.That(t, err, test.ShouldBeNil)

	seed := [3]float64{0.4, -0.6, 0.2}
	best, fitness := o.Run(seed, func([3]float64) float64 { return 0 })
	test.That(t, fitness, test.ShouldEqual, 0)
	test.That(t, best, test.ShouldResemble, seed)
}

func TestRunIsDeterministicForFixedSeed(t *testing.T) {
	obj := func(pose [3]float64) float64 {
		return -(pose[0]*pose[0] + pose[1]*pose[1] + pose[2]*pose[2])
	}

	run := func() [3]float64 {
		o, err := New(Config{Population: 30, Iterations: 30, Workers: 4, Seed: 11})
		test.That(t, err, test.ShouldBeNil)
		best, _ := o.Run([3]float64{1, 1, 1}, obj)
		return best
	}

	test.That(t, run(), test.ShouldResemble, run())
}

func TestRunWrapsHeading(t *testing.T) {
	o, err := New(Config{
		Population:  40,
		Iterations:  60,
		Workers:     2,
		SpreadTheta: math.Pi / 2,
		Seed:        13,
	})
	test.That(t, err, test.ShouldBeNil)

	// the optimum sits on the far side of the pi discontinuity from the seed
	target := -math.Pi + 0.1
	obj := func(pose [3]float64) float64 {
		dt := wrapAngle(pose[2] - target)
		return -dt * dt
	}

	best, _ := o.Run([3]float64{0, 0, math.Pi - 0.2}, obj)
	test.That(t, best[2], test.ShouldBeLessThanOrEqualTo, math.Pi)
	test.That(t, best[2], test.ShouldBeGreaterThan, -math.Pi)
	test.That(t, math.Abs(wrapAngle(best[2]-target)), test.ShouldBeLessThan, 0.1)
}
