// Package ndt implements a 2-D normal distributions transform (NDT) map:
// a grid of Gaussian cells summarizing observed lidar points, with scan
// registration against the grid delegated to a particle swarm optimizer.
package ndt

import "math"

// Pose is a rigid 2-D transform: a translation in meters and a heading in
// radians, all expressed in the map frame.
type Pose struct {
	X     float64
	Y     float64
	Theta float64
}

// Point is a 2-D point in the coordinate system of whichever frame holds it.
type Point struct {
	X float64
	Y float64
}

// TransformPoint applies the pose to a point, rotating then translating it
// into the pose's parent frame.
func (p Pose) TransformPoint(q Point) Point {
	sin, cos := math.Sincos(p.Theta)
	return Point{
		X: cos*q.X - sin*q.Y + p.X,
		Y: sin*q.X + cos*q.Y + p.Y,
	}
}

// Compose returns the pose equivalent to applying q first and then p.
func (p Pose) Compose(q Pose) Pose {
	sin, cos := math.Sincos(p.Theta)
	return Pose{
		X:     cos*q.X - sin*q.Y + p.X,
		Y:     sin*q.X + cos*q.Y + p.Y,
		Theta: WrapAngle(p.Theta + q.Theta),
	}
}

// Inverse returns the pose q such that p.Compose(q) is the identity.
func (p Pose) Inverse() Pose {
	sin, cos := math.Sincos(p.Theta)
	return Pose{
		X:     -(cos*p.X + sin*p.Y),
		Y:     -(-sin*p.X + cos*p.Y),
		Theta: WrapAngle(-p.Theta),
	}
}

// IsZero reports whether the pose is the identity transform.
func (p Pose) IsZero() bool {
	return p.X == 0 && p.Y == 0 && p.Theta == 0
}

// Vector returns the pose as an (x, y, theta) vector for the optimizer.
func (p Pose) Vector() [3]float64 {
	return [3]float64{p.X, p.Y, p.Theta}
}

// PoseFromVector builds a pose from an (x, y, theta) optimizer vector,
// wrapping the heading into (-pi, pi].
func PoseFromVector(v [3]float64) Pose {
	return Pose{X: v[0], Y: v[1], Theta: WrapAngle(v[2])}
}

// WrapAngle wraps an angle in radians into (-pi, pi].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
