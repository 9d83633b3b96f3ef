// Package pso implements a particle swarm optimizer over 2-D pose vectors
// (x, y, theta). The third dimension is angular: it is wrapped into
// (-pi, pi] and attraction terms use the shortest angular difference.
package pso

import (
	"math"
	"runtime"
	"time"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Canonical constriction-style swarm weights. They give smooth convergence
// within a 50-iteration budget on the smooth density-sum surfaces this
// optimizer is used on.
const (
	DefaultInertia   = 0.72
	DefaultCognitive = 1.49
	DefaultSocial    = 1.49

	// Default initial spread of the swarm around the seed pose.
	DefaultSpreadXY    = 0.5         // meters
	DefaultSpreadTheta = math.Pi / 6 // radians
)

// Objective scores a candidate pose vector; higher is better. It must be
// safe to call concurrently.
type Objective func(pose [3]float64) float64

// Config holds the swarm parameters. Population and Iterations are fixed
// configuration; the optimizer never derives them at runtime.
type Config struct {
	// Population is the number of particles in the swarm.
	Population int
	// Iterations is the fixed number of evaluate/move rounds per Run.
	Iterations int
	// Workers bounds the parallel fitness evaluation; a value <= 0 means
	// use all available hardware concurrency.
	Workers int

	// Inertia, Cognitive and Social are the velocity update weights. Zero
	// values fall back to the package defaults.
	Inertia   float64
	Cognitive float64
	Social    float64

	// SpreadXY and SpreadTheta bound the initial random perturbation of
	// particles around the seed pose. Zero values fall back to the package
	// defaults.
	SpreadXY    float64
	SpreadTheta float64

	// Seed seeds the random source; 0 means seed from the clock.
	Seed uint64
}

// Validate checks that the fixed swarm parameters are usable.
func (c Config) Validate() error {
	if c.Population <= 0 {
		return errors.Errorf("swarm population must be positive, got %d", c.Population)
	}
	if c.Iterations <= 0 {
		return errors.Errorf("swarm iterations must be positive, got %d", c.Iterations)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Inertia == 0 {
		c.Inertia = DefaultInertia
	}
	if c.Cognitive == 0 {
		c.Cognitive = DefaultCognitive
	}
	if c.Social == 0 {
		c.Social = DefaultSocial
	}
	if c.SpreadXY == 0 {
		c.SpreadXY = DefaultSpreadXY
	}
	if c.SpreadTheta == 0 {
		c.SpreadTheta = DefaultSpreadTheta
	}
	return c
}

// Particle is one candidate pose plus its velocity and best-seen state.
type Particle struct {
	Pos         [3]float64
	Vel         [3]float64
	Best        [3]float64
	Fitness     float64
	BestFitness float64
}

// Optimizer owns a particle population configuration and a random source.
// Run may be called repeatedly; the random source carries across calls.
// An Optimizer is not safe for concurrent use.
type Optimizer struct {
	cfg Config
	rng *exprand.Rand
}

// New validates the configuration and returns an optimizer.
func New(cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Optimizer{
		cfg: cfg,
		rng: exprand.New(exprand.NewSource(seed)),
	}, nil
}

// Workers returns the resolved evaluation worker count.
func (o *Optimizer) Workers() int {
	return o.cfg.Workers
}

// Run searches pose space around seed for the pose maximizing obj, running
// the configured fixed iteration budget to completion. It returns the best
// pose found and its fitness. Fitness evaluations run on a bounded worker
// pool; all best-tracking and movement happens sequentially in between.
func (o *Optimizer) Run(seed [3]float64, obj Objective) ([3]float64, float64) {
	swarm := o.spawn(seed)

	globalBest := seed
	globalBestFitness := math.Inf(-1)

	for it := 0; it < o.cfg.Iterations; it++ {
		o.evaluate(swarm, obj)

		for i := range swarm {
			p := &swarm[i]
			if p.Fitness > p.BestFitness {
				p.BestFitness = p.Fitness
				p.Best = p.Pos
			}
			if p.Fitness > globalBestFitness {
				globalBestFitness = p.Fitness
				globalBest = p.Pos
			}
		}

		o.move(swarm, globalBest)
	}

	if math.IsInf(globalBestFitness, -1) {
		return seed, 0
	}
	return globalBest, globalBestFitness
}

// spawn initializes the swarm around the seed pose. The first particle sits
// exactly on the seed so the returned pose can never score worse than it.
func (o *Optimizer) spawn(seed [3]float64) []Particle {
	xy := distuv.Uniform{Min: -o.cfg.SpreadXY, Max: o.cfg.SpreadXY, Src: o.rng}
	theta := distuv.Uniform{Min: -o.cfg.SpreadTheta, Max: o.cfg.SpreadTheta, Src: o.rng}

	swarm := make([]Particle, o.cfg.Population)
	for i := range swarm {
		p := &swarm[i]
		p.BestFitness = math.Inf(-1)
		if i == 0 {
			p.Pos = seed
			continue
		}
		p.Pos = [3]float64{
			seed[0] + xy.Rand(),
			seed[1] + xy.Rand(),
			wrapAngle(seed[2] + theta.Rand()),
		}
		p.Vel = [3]float64{
			xy.Rand() / 2,
			xy.Rand() / 2,
			theta.Rand() / 2,
		}
	}
	return swarm
}

// evaluate scores every particle. Evaluations are independent, so they are
// fanned out across the bounded worker pool; no particle state other than
// its own fitness is written here.
func (o *Optimizer) evaluate(swarm []Particle, obj Objective) {
	var group errgroup.Group
	group.SetLimit(o.cfg.Workers)
	for i := range swarm {
		p := &swarm[i]
		group.Go(func() error {
			p.Fitness = obj(p.Pos)
			return nil
		})
	}
	// The objectives never return errors; Wait is only a join point.
	_ = group.Wait()
}

// move applies the canonical velocity update: inertia plus cognitive and
// social attraction, each scaled by an independent random draw per
// dimension, then advances positions and wraps headings.
func (o *Optimizer) move(swarm []Particle, globalBest [3]float64) {
	for i := range swarm {
		p := &swarm[i]
		for d := 0; d < 3; d++ {
			toBest := p.Best[d] - p.Pos[d]
			toGlobal := globalBest[d] - p.Pos[d]
			if d == 2 {
				toBest = wrapAngle(toBest)
				toGlobal = wrapAngle(toGlobal)
			}
			p.Vel[d] = o.cfg.Inertia*p.Vel[d] +
				o.cfg.Cognitive*o.rng.Float64()*toBest +
				o.cfg.Social*o.rng.Float64()*toGlobal
			p.Pos[d] += p.Vel[d]
		}
		p.Pos[2] = wrapAngle(p.Pos[2])
	}
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
