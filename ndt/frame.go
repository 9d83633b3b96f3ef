package ndt

import (
	"github.com/pkg/errors"

	"github.com/amilearning/tiny-racecar-ndt/pso"
)

// maxGridCells bounds the cell array allocation so a misconfigured frame
// size fails at construction instead of exhausting memory.
const maxGridCells = 1 << 25

// FrameConfig describes a frame's immutable grid geometry.
type FrameConfig struct {
	// Origin is the transform from the sensor to the frame, applied to
	// every point produced by LoadScan. It can also be set later, before
	// the first load, via SetOrigin.
	Origin Pose
	// SideMeters is the side length of the square grid in meters. The grid
	// is centered on the frame's coordinate origin.
	SideMeters float64
	// CellSide is the cell resolution in meters per cell.
	CellSide float64
	// Reference marks the long-lived map frame; only reference frames own
	// an optimizer and can Align.
	Reference bool
	// Optimizer configures the swarm used by Align. Required when
	// Reference is set.
	Optimizer *pso.Config
	// OccupancyCellSide, when positive, enables a finer-grained occupancy
	// sub-grid fed during Update.
	OccupancyCellSide float64
}

// Frame is a square grid of Gaussian cells anchored at an origin, holding
// the most recently loaded raw point buffer. Grid dimensions and resolution
// are immutable after construction.
type Frame struct {
	origin       Pose
	side         float64
	cellSide     float64
	cellsPerSide int
	reference    bool

	cells []Cell
	// active tracks cell indices that received at least one point, so
	// prepare and Reset touch only populated cells.
	active      []int
	marked      []bool
	informative int

	points []Point

	opt *pso.Optimizer
	occ *OccupancyGrid
}

// NewFrame allocates a frame per the config. It fails on non-positive
// dimensions or resolution, on a grid too large to allocate, and on an
// invalid or missing optimizer configuration for reference frames.
func NewFrame(cfg FrameConfig) (*Frame, error) {
	if cfg.SideMeters <= 0 {
		return nil, errors.Errorf("frame side must be positive, got %f", cfg.SideMeters)
	}
	if cfg.CellSide <= 0 {
		return nil, errors.Errorf("cell side must be positive, got %f", cfg.CellSide)
	}
	cellsPerSide := int(cfg.SideMeters / cfg.CellSide)
	if cellsPerSide < 1 {
		return nil, errors.Errorf("frame side %fm holds no cells at resolution %fm", cfg.SideMeters, cfg.CellSide)
	}
	if cellsPerSide > maxGridCells/cellsPerSide {
		return nil, errors.Errorf("grid of %dx%d cells exceeds the maximum supported size", cellsPerSide, cellsPerSide)
	}

	f := &Frame{
		origin:       cfg.Origin,
		side:         cfg.SideMeters,
		cellSide:     cfg.CellSide,
		cellsPerSide: cellsPerSide,
		reference:    cfg.Reference,
		cells:        make([]Cell, cellsPerSide*cellsPerSide),
		marked:       make([]bool, cellsPerSide*cellsPerSide),
	}

	if cfg.Reference {
		if cfg.Optimizer == nil {
			return nil, errors.New("reference frame requires an optimizer configuration")
		}
		opt, err := pso.New(*cfg.Optimizer)
		if err != nil {
			return nil, errors.Wrap(err, "invalid optimizer configuration")
		}
		f.opt = opt
	}

	if cfg.OccupancyCellSide > 0 {
		occ, err := newOccupancyGrid(cfg.SideMeters, cfg.OccupancyCellSide)
		if err != nil {
			return nil, err
		}
		f.occ = occ
	}

	return f, nil
}

// SetOrigin sets the sensor-mount transform applied by LoadScan. It is a
// one-time bootstrap used before the first cycle.
func (f *Frame) SetOrigin(p Pose) {
	f.origin = p
}

// Origin returns the frame's sensor-mount transform.
func (f *Frame) Origin() Pose {
	return f.origin
}

// CellSide returns the cell resolution in meters per cell.
func (f *Frame) CellSide() float64 {
	return f.cellSide
}

// SideMeters returns the grid's side length in meters.
func (f *Frame) SideMeters() float64 {
	return f.side
}

// Occupancy returns the frame's occupancy sub-grid, or nil when disabled.
func (f *Frame) Occupancy() *OccupancyGrid {
	return f.occ
}

// Points returns the frame's current raw point buffer. The slice is owned
// by the frame and valid until the next LoadScan or Reset.
func (f *Frame) Points() []Point {
	return f.points
}

// LoadScan converts a polar scan into Cartesian points in the frame's own
// coordinate system (through the mount transform) and replaces the raw
// point buffer with them. Beams at or beyond the scan's max range and
// non-finite beams are excluded. A malformed scan empties the buffer and is
// reported, letting the cycle proceed with a degenerate cloud.
func (f *Frame) LoadScan(scan Scan) error {
	f.points = f.points[:0]
	if err := scan.Validate(); err != nil {
		return err
	}
	raw := scan.points(nil)
	for _, p := range raw {
		f.points = append(f.points, f.origin.TransformPoint(p))
	}
	return nil
}

// Update transforms every point of other's current raw buffer by pose into
// this frame's coordinate system and inserts each into its owning cell.
// Insertion is strictly additive; updating twice with the same arguments
// doubles the affected counts. Points falling outside the grid are
// discarded. It returns the number of points inserted.
func (f *Frame) Update(pose Pose, other *Frame) int {
	inserted := 0
	for _, q := range other.points {
		p := pose.TransformPoint(q)
		idx, ok := f.cellIndex(p)
		if !ok {
			continue
		}
		f.cells[idx].Insert(p)
		if !f.marked[idx] {
			f.marked[idx] = true
			f.active = append(f.active, idx)
		}
		if f.occ != nil {
			f.occ.Insert(p)
		}
		inserted++
	}
	return inserted
}

// Align searches pose-transform space for the pose that maximizes the sum
// of this frame's cell densities over other's transformed raw buffer,
// seeding the swarm around seed. When the candidate cloud is empty or this
// frame has no informative cells yet, it returns seed unchanged with
// fitness 0.
func (f *Frame) Align(seed Pose, other *Frame) (Pose, float64, error) {
	if f.opt == nil {
		return seed, 0, errors.New("align requires a reference frame")
	}

	f.prepare()
	if len(other.points) == 0 || f.informative == 0 {
		return seed, 0, nil
	}

	pts := other.points
	objective := func(v [3]float64) float64 {
		pose := PoseFromVector(v)
		sum := 0.0
		for _, q := range pts {
			p := pose.TransformPoint(q)
			idx, ok := f.cellIndex(p)
			if !ok {
				continue
			}
			sum += f.cells[idx].Density(p)
		}
		return sum
	}

	best, fitness := f.opt.Run(seed.Vector(), objective)
	return PoseFromVector(best), fitness, nil
}

// InformativeCells returns the number of cells currently holding enough
// well-conditioned data to score candidates.
func (f *Frame) InformativeCells() int {
	f.prepare()
	return f.informative
}

// CellAt returns the cell owning the given frame-coordinate point, or nil
// when the point falls outside the grid.
func (f *Frame) CellAt(p Point) *Cell {
	idx, ok := f.cellIndex(p)
	if !ok {
		return nil
	}
	return &f.cells[idx]
}

// EachPopulatedCell calls fn for every cell holding at least one point,
// with the cell's mean position in frame coordinates.
func (f *Frame) EachPopulatedCell(fn func(mean Point, c *Cell)) {
	for _, idx := range f.active {
		c := &f.cells[idx]
		fn(c.Mean(), c)
	}
}

// Reset empties the raw buffer and the populated cells, reusing the
// allocated grid. It gives a fresh frame without reallocating the cell
// array.
func (f *Frame) Reset() {
	for _, idx := range f.active {
		f.cells[idx] = Cell{}
		f.marked[idx] = false
	}
	f.active = f.active[:0]
	f.informative = 0
	f.points = f.points[:0]
	if f.occ != nil {
		f.occ.Reset()
	}
}

// prepare finalizes every populated cell's Gaussian so that density
// evaluation is read-only, and therefore safe under the optimizer's
// parallel fitness workers.
func (f *Frame) prepare() {
	informative := 0
	for _, idx := range f.active {
		if f.cells[idx].Informative() {
			informative++
		}
	}
	f.informative = informative
}

// cellIndex maps a frame-coordinate point to its owning cell by floor
// division of the grid-relative coordinates; the grid spans
// [-side/2, side/2) on both axes.
func (f *Frame) cellIndex(p Point) (int, bool) {
	half := f.side / 2
	if p.X < -half || p.Y < -half {
		return 0, false
	}
	ix := int((p.X + half) / f.cellSide)
	iy := int((p.Y + half) / f.cellSide)
	if ix < 0 || ix >= f.cellsPerSide || iy < 0 || iy >= f.cellsPerSide {
		return 0, false
	}
	return iy*f.cellsPerSide + ix, true
}
