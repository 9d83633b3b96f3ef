package ndt

import (
	"math"

	"github.com/pkg/errors"
)

// Scan is one polar range observation: a 1-D array of range readings taken
// at evenly spaced bearings starting at AngleMin.
type Scan struct {
	// Ranges holds one range reading in meters per beam. Readings at or
	// beyond RangeMax, and non-finite readings, carry no return.
	Ranges []float64
	// AngleMin is the bearing of Ranges[0] in radians.
	AngleMin float64
	// AngleIncrement is the bearing step between consecutive beams in radians.
	AngleIncrement float64
	// RangeMax is the sensor's maximum valid range in meters.
	RangeMax float64
}

// Validate reports whether the scan's geometry parameters are usable.
func (s Scan) Validate() error {
	if s.AngleIncrement <= 0 {
		return errors.Errorf("scan angle_increment must be positive, got %f", s.AngleIncrement)
	}
	if s.RangeMax <= 0 {
		return errors.Errorf("scan range_max must be positive, got %f", s.RangeMax)
	}
	return nil
}

// points converts the scan to Cartesian points in the sensor's own frame,
// dropping beams with no usable return. The result is appended to dst.
func (s Scan) points(dst []Point) []Point {
	for i, r := range s.Ranges {
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 || r >= s.RangeMax {
			continue
		}
		angle := s.AngleMin + float64(i)*s.AngleIncrement
		sin, cos := math.Sincos(angle)
		dst = append(dst, Point{X: r * cos, Y: r * sin})
	}
	return dst
}
