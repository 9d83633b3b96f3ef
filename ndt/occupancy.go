package ndt

import "github.com/pkg/errors"

// OccupancyGrid is an auxiliary hit-count grid kept at a finer resolution
// than the Gaussian cells, fed alongside them during Update. It backs map
// exports with a denser rendition than one point per NDT cell.
type OccupancyGrid struct {
	side         float64
	cellSide     float64
	cellsPerSide int
	hits         []uint32
}

func newOccupancyGrid(sideMeters, cellSide float64) (*OccupancyGrid, error) {
	if cellSide <= 0 {
		return nil, errors.Errorf("occupancy cell side must be positive, got %f", cellSide)
	}
	cellsPerSide := int(sideMeters / cellSide)
	if cellsPerSide < 1 {
		return nil, errors.Errorf("occupancy grid side %fm holds no cells at resolution %fm", sideMeters, cellSide)
	}
	if cellsPerSide > maxGridCells/cellsPerSide {
		return nil, errors.Errorf("occupancy grid of %dx%d cells exceeds the maximum supported size", cellsPerSide, cellsPerSide)
	}
	return &OccupancyGrid{
		side:         sideMeters,
		cellSide:     cellSide,
		cellsPerSide: cellsPerSide,
		hits:         make([]uint32, cellsPerSide*cellsPerSide),
	}, nil
}

// CellSide returns the occupancy resolution in meters per cell.
func (g *OccupancyGrid) CellSide() float64 {
	return g.cellSide
}

// Insert counts a hit in the cell owning p; points outside the grid are
// discarded.
func (g *OccupancyGrid) Insert(p Point) {
	half := g.side / 2
	if p.X < -half || p.Y < -half {
		return
	}
	ix := int((p.X + half) / g.cellSide)
	iy := int((p.Y + half) / g.cellSide)
	if ix < 0 || ix >= g.cellsPerSide || iy < 0 || iy >= g.cellsPerSide {
		return
	}
	g.hits[iy*g.cellsPerSide+ix]++
}

// Each calls fn for every cell with at least one hit, with the cell's
// center in frame coordinates.
func (g *OccupancyGrid) Each(fn func(center Point, hits uint32)) {
	half := g.side / 2
	for iy := 0; iy < g.cellsPerSide; iy++ {
		for ix := 0; ix < g.cellsPerSide; ix++ {
			h := g.hits[iy*g.cellsPerSide+ix]
			if h == 0 {
				continue
			}
			fn(Point{
				X: float64(ix)*g.cellSide - half + g.cellSide/2,
				Y: float64(iy)*g.cellSide - half + g.cellSide/2,
			}, h)
		}
	}
}

// Reset zeroes every cell, reusing the allocation.
func (g *OccupancyGrid) Reset() {
	for i := range g.hits {
		g.hits[i] = 0
	}
}
