// Package matcher owns the scan-matching engine state and serializes all
// access to it. A single engine goroutine drains a request channel, so at
// most one matching cycle is ever in flight; that goroutine is the only
// writer of the reference frame, the local frame and the pose estimates.
package matcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/logging"

	"github.com/amilearning/tiny-racecar-ndt/ndt"
	"github.com/amilearning/tiny-racecar-ndt/pso"
)

// ErrBusy is returned from AddScan when a cycle is already in flight and
// the request could not be queued within its timeout. The sensor loop
// drops the scan in that case; a bounded queue with drop is the intended
// backpressure policy.
var ErrBusy = errors.New("matcher busy: cycle in flight")

var emptyRequestParams = map[RequestParamType]interface{}{}

// Config holds the engine parameters resolved from the service config.
type Config struct {
	// CellSideM is the Gaussian cell resolution in meters.
	CellSideM float64
	// FrameSizeM is the side length of the square reference and local
	// frames in meters.
	FrameSizeM float64
	// OccupancyCellSideM enables the auxiliary occupancy grid when
	// positive.
	OccupancyCellSideM float64
	// Population and Iterations fix the swarm schedule.
	Population int
	Iterations int
	// NumThreads bounds the parallel fitness evaluation; <= 0 means use
	// all available hardware concurrency.
	NumThreads int
	// Seed seeds the optimizer's random source; 0 seeds from the clock.
	Seed uint64
}

// TimedScan is one scan observation handed to the engine.
type TimedScan struct {
	Scan        ndt.Scan
	ReadingTime time.Time
}

// TimestampedPose is one trajectory sample.
type TimestampedPose struct {
	Pose ndt.Pose
	Time time.Time
}

// PoseSnapshot is the most recent cycle result, published for readers that
// must not block on the matching cycle.
type PoseSnapshot struct {
	Pose ndt.Pose
	// Time is the timestamp of the scan the pose was estimated from.
	Time time.Time
	// CycleDuration is how long the last full cycle took.
	CycleDuration time.Duration
	// MatchingRateHz is the average completed-cycle rate since startup.
	MatchingRateHz float64
	// Cycles is the number of completed cycles.
	Cycles uint64
}

// RequestType defines the engine operation being requested.
type RequestType int64

const (
	initialize RequestType = iota
	setSeedPose
	setSensorOrigin
	addScan
	pointCloudMap
	internalState
	trajectory
)

// RequestParamType keys the inputs of a request.
type RequestParamType int64

const (
	scanParam RequestParamType = iota
	poseParam
)

// Response is the result of one piece of engine work.
type Response struct {
	result interface{}
	err    error
}

// Request carries one engine operation through the request channel.
type Request struct {
	responseChan  chan Response
	requestType   RequestType
	requestParams map[RequestParamType]interface{}
}

// Interface defines the matcher operations used by the service and the
// sensor process; it exists so both can be tested against a mock.
type Interface interface {
	Initialize(ctx context.Context, timeout time.Duration, activeBackgroundWorkers *sync.WaitGroup) error
	SetSeedPose(ctx context.Context, timeout time.Duration, pose ndt.Pose) error
	SetSensorOrigin(ctx context.Context, timeout time.Duration, pose ndt.Pose) error
	AddScan(ctx context.Context, timeout time.Duration, reading TimedScan) error
	Position() (PoseSnapshot, error)
	PointCloudMap(ctx context.Context, timeout time.Duration) ([]byte, error)
	InternalState(ctx context.Context, timeout time.Duration) ([]byte, error)
	Trajectory(ctx context.Context, timeout time.Duration) ([]TimestampedPose, error)
}

// Matcher sequences observation cycles over the reference map. All mutable
// engine state lives here and is touched only by the engine goroutine.
type Matcher struct {
	cfg     Config
	logger  logging.Logger
	verbose bool

	requestChan chan Request

	refFrame   *ndt.Frame
	localFrame *ndt.Frame

	previousPose ndt.Pose
	currentPose  ndt.Pose
	seedPose     ndt.Pose
	firstCycle   bool

	startTime time.Time
	cycles    uint64
	poses     []TimestampedPose

	// latest is written once per cycle and read lock-free by Position, so
	// the publication path never waits on an in-flight cycle. A stale
	// read during a cycle is expected.
	latest atomic.Pointer[PoseSnapshot]
}

// New returns a matcher for the given engine parameters. Initialize must
// be called before any other operation.
func New(cfg Config, logger logging.Logger) *Matcher {
	return &Matcher{
		cfg:    cfg,
		logger: logger,
		// checked once here so the per-cycle diagnostics cost nothing at
		// scan rate when debug logging is off
		verbose:     logger.Level() == zapcore.DebugLevel,
		requestChan: make(chan Request),
		firstCycle:  true,
	}
}

// Initialize starts the engine goroutine and allocates both frames.
// Construction failures (bad dimensions, bad swarm parameters, grids too
// large to allocate) are fatal and returned here.
func (m *Matcher) Initialize(ctx context.Context, timeout time.Duration, activeBackgroundWorkers *sync.WaitGroup) error {
	m.startEngineGoroutine(ctx, activeBackgroundWorkers)
	_, err := m.request(ctx, initialize, emptyRequestParams, timeout)
	return err
}

// SetSeedPose sets the pose adopted on the very first cycle. It is only
// meaningful before that cycle has run.
func (m *Matcher) SetSeedPose(ctx context.Context, timeout time.Duration, pose ndt.Pose) error {
	_, err := m.request(ctx, setSeedPose, map[RequestParamType]interface{}{poseParam: pose}, timeout)
	return err
}

// SetSensorOrigin sets the sensor-mount transform on the local frame, used
// only before the first cycle.
func (m *Matcher) SetSensorOrigin(ctx context.Context, timeout time.Duration, pose ndt.Pose) error {
	_, err := m.request(ctx, setSensorOrigin, map[RequestParamType]interface{}{poseParam: pose}, timeout)
	return err
}

// AddScan runs one full matching cycle for the reading. When a cycle is
// already in flight and the request cannot be queued within the timeout,
// ErrBusy is returned and the reading is dropped.
func (m *Matcher) AddScan(ctx context.Context, timeout time.Duration, reading TimedScan) error {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::matcher::AddScan")
	defer span.End()

	_, err := m.request(ctx, addScan, map[RequestParamType]interface{}{scanParam: reading}, timeout)
	return err
}

// Position returns the most recent pose snapshot without participating in
// the cycle serialization; during an in-flight cycle it returns the
// previous cycle's pose.
func (m *Matcher) Position() (PoseSnapshot, error) {
	snapshot := m.latest.Load()
	if snapshot == nil {
		return PoseSnapshot{}, errors.New("no pose estimated yet")
	}
	return *snapshot, nil
}

// PointCloudMap renders the reference map as binary PCD bytes.
func (m *Matcher) PointCloudMap(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::matcher::PointCloudMap")
	defer span.End()

	untyped, err := m.request(ctx, pointCloudMap, emptyRequestParams, timeout)
	if err != nil {
		return nil, err
	}
	pcd, ok := untyped.([]byte)
	if !ok {
		return nil, errors.New("unable to cast response from matcher to a byte slice")
	}
	return pcd, nil
}

// InternalState serializes the engine's trajectory log as CSV bytes.
func (m *Matcher) InternalState(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::matcher::InternalState")
	defer span.End()

	untyped, err := m.request(ctx, internalState, emptyRequestParams, timeout)
	if err != nil {
		return nil, err
	}
	state, ok := untyped.([]byte)
	if !ok {
		return nil, errors.New("unable to cast response from matcher to a byte slice")
	}
	return state, nil
}

// Trajectory returns a copy of the timestamped pose log.
func (m *Matcher) Trajectory(ctx context.Context, timeout time.Duration) ([]TimestampedPose, error) {
	untyped, err := m.request(ctx, trajectory, emptyRequestParams, timeout)
	if err != nil {
		return nil, err
	}
	poses, ok := untyped.([]TimestampedPose)
	if !ok {
		return nil, errors.New("unable to cast response from matcher to a trajectory")
	}
	return poses, nil
}

// request queues one engine operation and waits for its response, bounding
// both waits by the timeout.
func (m *Matcher) request(
	ctxParent context.Context,
	requestType RequestType,
	inputs map[RequestParamType]interface{},
	timeout time.Duration,
) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctxParent, timeout)
	defer cancel()

	req := Request{
		responseChan:  make(chan Response, 1),
		requestType:   requestType,
		requestParams: inputs,
	}

	select {
	case m.requestChan <- req:
		select {
		case response := <-req.responseChan:
			return response.result, response.err
		case <-ctx.Done():
			return nil, multierr.Combine(errors.New("timeout reading from matcher"), ctx.Err())
		}
	case <-ctx.Done():
		return nil, multierr.Combine(ErrBusy, ctx.Err())
	}
}

// startEngineGoroutine starts the goroutine that serializes all engine
// work; it exits when the context is done.
func (m *Matcher) startEngineGoroutine(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup) {
	activeBackgroundWorkers.Add(1)
	go func() {
		defer activeBackgroundWorkers.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case workToDo := <-m.requestChan:
				result, err := workToDo.doWork(m)
				workToDo.responseChan <- Response{result: result, err: err}
			}
		}
	}()
}

// doWork dispatches one request on the engine goroutine.
func (r *Request) doWork(m *Matcher) (interface{}, error) {
	switch r.requestType {
	case initialize:
		return nil, m.initFrames()
	case setSeedPose:
		pose, ok := r.requestParams[poseParam].(ndt.Pose)
		if !ok {
			return nil, errors.New("could not cast inputted pose to ndt.Pose")
		}
		return nil, m.setSeed(pose)
	case setSensorOrigin:
		pose, ok := r.requestParams[poseParam].(ndt.Pose)
		if !ok {
			return nil, errors.New("could not cast inputted pose to ndt.Pose")
		}
		return nil, m.setOrigin(pose)
	case addScan:
		reading, ok := r.requestParams[scanParam].(TimedScan)
		if !ok {
			return nil, errors.New("could not cast inputted reading to matcher.TimedScan")
		}
		return nil, m.runCycle(reading)
	case pointCloudMap:
		return m.renderMap()
	case internalState:
		return m.trajectoryCSV()
	case trajectory:
		poses := make([]TimestampedPose, len(m.poses))
		copy(poses, m.poses)
		return poses, nil
	}
	return nil, errors.Errorf("no work type found for: %v", r.requestType)
}

func (m *Matcher) initFrames() error {
	if m.refFrame != nil {
		return errors.New("matcher already initialized")
	}

	psoCfg := &pso.Config{
		Population:  m.cfg.Population,
		Iterations:  m.cfg.Iterations,
		Workers:     m.cfg.NumThreads,
		SpreadXY:    m.cfg.CellSideM,
		SpreadTheta: pso.DefaultSpreadTheta,
		Seed:        m.cfg.Seed,
	}

	refFrame, err := ndt.NewFrame(ndt.FrameConfig{
		SideMeters:        m.cfg.FrameSizeM,
		CellSide:          m.cfg.CellSideM,
		Reference:         true,
		Optimizer:         psoCfg,
		OccupancyCellSide: m.cfg.OccupancyCellSideM,
	})
	if err != nil {
		return errors.Wrap(err, "building reference frame")
	}

	localFrame, err := ndt.NewFrame(ndt.FrameConfig{
		SideMeters: m.cfg.FrameSizeM,
		CellSide:   m.cfg.CellSideM,
	})
	if err != nil {
		return errors.Wrap(err, "building local frame")
	}

	m.refFrame = refFrame
	m.localFrame = localFrame
	m.startTime = time.Now().UTC()
	return nil
}

func (m *Matcher) setSeed(pose ndt.Pose) error {
	if m.refFrame == nil {
		return errors.New("matcher not initialized")
	}
	if !m.firstCycle {
		return errors.New("seed pose can only be set before the first cycle")
	}
	m.seedPose = pose
	return nil
}

func (m *Matcher) setOrigin(pose ndt.Pose) error {
	if m.refFrame == nil {
		return errors.New("matcher not initialized")
	}
	if !m.firstCycle {
		return errors.New("sensor origin can only be set before the first cycle")
	}
	m.localFrame.SetOrigin(pose)
	return nil
}

// runCycle executes one full observation cycle: load the scan into the
// local frame, align it against the reference frame, absorb it into the
// map, log the pose and publish the snapshot. Per-cycle problems degrade
// to "no improvement this cycle"; they never stop the engine.
func (m *Matcher) runCycle(reading TimedScan) error {
	if m.refFrame == nil {
		return errors.New("matcher not initialized")
	}
	start := time.Now().UTC()

	if err := m.localFrame.LoadScan(reading.Scan); err != nil {
		m.logger.Warnw("malformed scan; proceeding with an empty cloud", "error", err)
	}

	if m.firstCycle {
		m.currentPose = m.seedPose
		m.previousPose = m.seedPose
		m.logger.Infof("starting from initial pose (%.5f, %.5f, %.5f)",
			m.seedPose.X, m.seedPose.Y, m.seedPose.Theta)
	} else {
		pose, fitness, err := m.refFrame.Align(m.previousPose, m.localFrame)
		if err != nil {
			return err
		}
		if fitness == 0 {
			m.logger.Debug("degenerate alignment; keeping previous pose estimate")
		}
		m.currentPose = pose
	}

	m.previousPose = m.currentPose
	m.refFrame.Update(m.currentPose, m.localFrame)
	m.poses = append(m.poses, TimestampedPose{Pose: m.currentPose, Time: reading.ReadingTime})
	m.localFrame.Reset()

	m.cycles++
	m.firstCycle = false
	elapsed := time.Since(start)
	rateHz := float64(m.cycles) / time.Since(m.startTime).Seconds()
	m.latest.Store(&PoseSnapshot{
		Pose:           m.currentPose,
		Time:           reading.ReadingTime,
		CycleDuration:  elapsed,
		MatchingRateHz: rateHz,
		Cycles:         m.cycles,
	})
	if m.verbose {
		m.logger.Debugf("cycle %d done in %v (average matching rate %.2fHz, pose %.3f %.3f %.3f)",
			m.cycles, elapsed, rateHz, m.currentPose.X, m.currentPose.Y, m.currentPose.Theta)
	}
	return nil
}
