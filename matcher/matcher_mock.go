// Package matcher is used to mock a matcher.
package matcher

import (
	"context"
	"sync"
	"time"

	"github.com/amilearning/tiny-racecar-ndt/ndt"
)

// Mock represents a fake instance of a matcher.
type Mock struct {
	Matcher
	InitializeFunc func(
		ctx context.Context,
		timeout time.Duration,
		activeBackgroundWorkers *sync.WaitGroup,
	) error
	SetSeedPoseFunc func(
		ctx context.Context,
		timeout time.Duration,
		pose ndt.Pose,
	) error
	SetSensorOriginFunc func(
		ctx context.Context,
		timeout time.Duration,
		pose ndt.Pose,
	) error
	AddScanFunc func(
		ctx context.Context,
		timeout time.Duration,
		reading TimedScan,
	) error
	PositionFunc      func() (PoseSnapshot, error)
	PointCloudMapFunc func(
		ctx context.Context,
		timeout time.Duration,
	) ([]byte, error)
	InternalStateFunc func(
		ctx context.Context,
		timeout time.Duration,
	) ([]byte, error)
	TrajectoryFunc func(
		ctx context.Context,
		timeout time.Duration,
	) ([]TimestampedPose, error)
}

// Initialize calls the injected InitializeFunc or the real version.
func (m *Mock) Initialize(
	ctx context.Context,
	timeout time.Duration,
	activeBackgroundWorkers *sync.WaitGroup,
) error {
	if m.InitializeFunc == nil {
		return m.Matcher.Initialize(ctx, timeout, activeBackgroundWorkers)
	}
	return m.InitializeFunc(ctx, timeout, activeBackgroundWorkers)
}

// SetSeedPose calls the injected SetSeedPoseFunc or the real version.
func (m *Mock) SetSeedPose(
	ctx context.Context,
	timeout time.Duration,
	pose ndt.Pose,
) error {
	if m.SetSeedPoseFunc == nil {
		return m.Matcher.SetSeedPose(ctx, timeout, pose)
	}
	return m.SetSeedPoseFunc(ctx, timeout, pose)
}

// SetSensorOrigin calls the injected SetSensorOriginFunc or the real version.
func (m *Mock) SetSensorOrigin(
	ctx context.Context,
	timeout time.Duration,
	pose ndt.Pose,
) error {
	if m.SetSensorOriginFunc == nil {
		return m.Matcher.SetSensorOrigin(ctx, timeout, pose)
	}
	return m.SetSensorOriginFunc(ctx, timeout, pose)
}

// AddScan calls the injected AddScanFunc or the real version.
func (m *Mock) AddScan(
	ctx context.Context,
	timeout time.Duration,
	reading TimedScan,
) error {
	if m.AddScanFunc == nil {
		return m.Matcher.AddScan(ctx, timeout, reading)
	}
	return m.AddScanFunc(ctx, timeout, reading)
}

// Position calls the injected PositionFunc or the real version.
func (m *Mock) Position() (PoseSnapshot, error) {
	if m.PositionFunc == nil {
		return m.Matcher.Position()
	}
	return m.PositionFunc()
}

// PointCloudMap calls the injected PointCloudMapFunc or the real version.
func (m *Mock) PointCloudMap(
	ctx context.Context,
	timeout time.Duration,
) ([]byte, error) {
	if m.PointCloudMapFunc == nil {
		return m.Matcher.PointCloudMap(ctx, timeout)
	}
	return m.PointCloudMapFunc(ctx, timeout)
}

// InternalState calls the injected InternalStateFunc or the real version.
func (m *Mock) InternalState(
	ctx context.Context,
	timeout time.Duration,
) ([]byte, error) {
	if m.InternalStateFunc == nil {
		return m.Matcher.InternalState(ctx, timeout)
	}
	return m.InternalStateFunc(ctx, timeout)
}

// Trajectory calls the injected TrajectoryFunc or the real version.
func (m *Mock) Trajectory(
	ctx context.Context,
	timeout time.Duration,
) ([]TimestampedPose, error) {
	if m.TrajectoryFunc == nil {
		return m.Matcher.Trajectory(ctx, timeout)
	}
	return m.TrajectoryFunc(ctx, timeout)
}
