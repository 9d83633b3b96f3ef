// Package tinyracecarndt implements simultaneous localization and mapping
// with an NDT grid map and a particle-swarm scan matcher.
package tinyracecarndt

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/slam"
	"go.viam.com/rdk/spatialmath"

	"github.com/amilearning/tiny-racecar-ndt/config"
	"github.com/amilearning/tiny-racecar-ndt/dataprocess"
	"github.com/amilearning/tiny-racecar-ndt/matcher"
	"github.com/amilearning/tiny-racecar-ndt/ndt"
	"github.com/amilearning/tiny-racecar-ndt/postprocess"
	"github.com/amilearning/tiny-racecar-ndt/sensorprocess"
	s "github.com/amilearning/tiny-racecar-ndt/sensors"
)

// Model is the model name of the NDT-PSO SLAM service.
var (
	Model = resource.NewModel("amilearning", "slam", "ndtpso")
	// ErrClosed denotes that the slam service method was called on a closed slam resource.
	ErrClosed = errors.Errorf("resource (%s) is closed", Model.String())
)

const (
	defaultLidarDataFrequencyHz          = 5
	defaultMovementSensorDataFrequencyHz = 20
	defaultMapRateSec                    = 60
	defaultMatcherTimeout                = 5 * time.Minute
	defaultAddScanTimeout                = 1 * time.Second
	sensorValidationMaxTimeoutSec        = 30
	sensorValidationIntervalSec          = 1
	chunkSizeBytes                       = 1 * 1024 * 1024
)

var defaultAlgoCfg = matcher.Config{
	CellSideM:          0.5,
	FrameSizeM:         100.0,
	OccupancyCellSideM: 0,
	Population:         50,
	Iterations:         50,
	NumThreads:         -1,
}

// SubAlgo defines the sub-algorithms that we support.
type SubAlgo string

// Dim2d runs the scan matcher with a 2D LIDAR only.
const Dim2d SubAlgo = "2d"

func init() {
	resource.RegisterService(slam.API, Model, resource.Registration[slam.Service, *config.Config]{
		Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			c resource.Config,
			logger logging.Logger,
		) (slam.Service, error) {
			return New(
				ctx,
				deps,
				c,
				logger,
				defaultMatcherTimeout,
				defaultAddScanTimeout,
				nil,
				nil,
			)
		},
	})
}

// New returns a new NDT-PSO slam service for the given robot.
func New(
	ctx context.Context,
	deps resource.Dependencies,
	c resource.Config,
	logger logging.Logger,
	matcherTimeout time.Duration,
	addScanTimeout time.Duration,
	testTimedLidarOverride s.TimedLidar,
	testTimedOdometerOverride s.TimedOdometer,
) (slam.Service, error) {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::slamService::New")
	defer span.End()

	svcConfig, err := resource.NativeConfig[*config.Config](c)
	if err != nil {
		return nil, err
	}

	subAlgo := SubAlgo(svcConfig.ConfigParams["mode"])
	if subAlgo != Dim2d {
		return nil, errors.Errorf("%v does not have a 'mode: %v'",
			c.Model.Name, svcConfig.ConfigParams["mode"])
	}

	optionalConfigParams, err := config.GetOptionalParameters(
		svcConfig,
		defaultLidarDataFrequencyHz,
		defaultMovementSensorDataFrequencyHz,
		defaultMapRateSec,
		logger,
	)
	if err != nil {
		return nil, err
	}

	lidarName := svcConfig.Camera["name"]

	timedLidar, err := s.NewLidar(ctx, deps, lidarName, optionalConfigParams.LidarDataFrequencyHz, logger)
	if err != nil {
		return nil, err
	}

	var timedOdometer s.TimedOdometer
	if optionalConfigParams.MovementSensorName == "" {
		logger.Info("no movement sensor configured, proceeding without odometer")
	} else if timedOdometer, err = s.NewOdometer(ctx, deps, optionalConfigParams.MovementSensorName,
		optionalConfigParams.MovementSensorDataFrequencyHz, logger); err != nil {
		return nil, err
	}

	// Override the sensors for testing if the override sensors are not nil
	if testTimedLidarOverride != nil {
		timedLidar = testTimedLidarOverride
	}
	if testTimedOdometerOverride != nil {
		timedOdometer = testTimedOdometerOverride
	}

	// The sensor process must be shut down before the matcher.
	cancelSensorProcessCtx, cancelSensorProcessFunc := context.WithCancel(context.Background())
	cancelMatcherCtx, cancelMatcherFunc := context.WithCancel(context.Background())

	ndtSvc := &NDTService{
		Named:                   c.ResourceName().AsNamed(),
		lidar:                   timedLidar,
		odometer:                timedOdometer,
		movementSensorName:      optionalConfigParams.MovementSensorName,
		subAlgo:                 subAlgo,
		configParams:            svcConfig.ConfigParams,
		dataDirectory:           svcConfig.DataDirectory,
		mapRateSec:              optionalConfigParams.MapRateSec,
		cancelSensorProcessFunc: cancelSensorProcessFunc,
		cancelMatcherFunc:       cancelMatcherFunc,
		logger:                  logger,
		matcherTimeout:          matcherTimeout,
		addScanTimeout:          addScanTimeout,
	}

	defer func() {
		if err != nil {
			logger.Errorw("New() hit error, closing...", "error", err)
			if closeErr := ndtSvc.Close(ctx); closeErr != nil {
				logger.Errorw("error closing out after error", "error", closeErr)
			}
		}
	}()

	if err = s.ValidateGetLidarData(
		cancelSensorProcessCtx,
		timedLidar,
		time.Duration(sensorValidationMaxTimeoutSec)*time.Second,
		time.Duration(sensorValidationIntervalSec)*time.Second,
		logger); err != nil {
		err = errors.Wrap(err, "failed to get data from lidar")
		return nil, err
	}

	if timedOdometer != nil {
		if err = s.ValidateGetOdometerData(
			cancelSensorProcessCtx,
			timedOdometer,
			time.Duration(sensorValidationMaxTimeoutSec)*time.Second,
			time.Duration(sensorValidationIntervalSec)*time.Second,
			logger); err != nil {
			err = errors.Wrap(err, "failed to get data from odometer")
			return nil, err
		}
	}

	if err = initMatcher(cancelMatcherCtx, ndtSvc); err != nil {
		return nil, err
	}

	initSensorProcess(cancelSensorProcessCtx, ndtSvc)

	if ndtSvc.mapRateSec > 0 && ndtSvc.dataDirectory != "" {
		initMapSaveProcess(cancelSensorProcessCtx, ndtSvc)
	}

	return ndtSvc, nil
}

// parseAlgoConfig resolves the engine parameters from config_params.
func parseAlgoConfig(configParams map[string]string, logger logging.Logger) (matcher.Config, error) {
	algoCfg := defaultAlgoCfg
	for k, val := range configParams {
		switch k {
		case "cell_side_m":
			fVal, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.CellSideM = fVal
		case "frame_size_m":
			fVal, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.FrameSizeM = fVal
		case "og_cell_side_m":
			fVal, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.OccupancyCellSideM = fVal
		case "population":
			iVal, err := strconv.Atoi(val)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.Population = iVal
		case "iterations":
			iVal, err := strconv.Atoi(val)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.Iterations = iVal
		case "num_threads":
			iVal, err := strconv.Atoi(val)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.NumThreads = iVal
		case "seed":
			uVal, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return algoCfg, err
			}
			algoCfg.Seed = uVal
			// ignore mode as it is a special case
		case "mode":
		default:
			logger.Warnf("unused config param: %s: %s", k, val)
		}
	}
	return algoCfg, nil
}

// initMatcher builds the matcher from config_params, starts its engine
// goroutine and, when an odometer is present, seeds the initial pose from
// its first reading.
func initMatcher(ctx context.Context, ndtSvc *NDTService) error {
	algoCfg, err := parseAlgoConfig(ndtSvc.configParams, ndtSvc.logger)
	if err != nil {
		return err
	}
	ndtSvc.logger.Infow("starting scan matching engine",
		"cell_side_m", algoCfg.CellSideM,
		"frame_size_m", algoCfg.FrameSizeM,
		"og_cell_side_m", algoCfg.OccupancyCellSideM,
		"population", algoCfg.Population,
		"iterations", algoCfg.Iterations,
		"num_threads", algoCfg.NumThreads,
	)

	m := matcher.New(algoCfg, ndtSvc.logger)
	if err := m.Initialize(ctx, ndtSvc.matcherTimeout, &ndtSvc.matcherWorkers); err != nil {
		ndtSvc.logger.Errorw("matcher initialize failed", "error", err)
		return err
	}

	if ndtSvc.odometer != nil {
		originReading, err := ndtSvc.odometer.TimedOdometerReading(ctx)
		if err != nil {
			return errors.Wrap(err, "getting odometer origin reading")
		}
		ndtSvc.odometerOrigin = originReading
		seedPose := ndt.Pose{Theta: 0}
		if originReading.Orientation != nil {
			seedPose.Theta = originReading.Orientation.EulerAngles().Yaw
		}
		if err := m.SetSeedPose(ctx, ndtSvc.matcherTimeout, seedPose); err != nil {
			return err
		}
	}

	ndtSvc.matcher = m
	return nil
}

func initSensorProcess(cancelCtx context.Context, ndtSvc *NDTService) {
	spConfig := sensorprocess.Config{
		Matcher: ndtSvc.matcher,
		Lidar:   ndtSvc.lidar,
		Timeout: ndtSvc.addScanTimeout,
		Logger:  ndtSvc.logger,
	}

	ndtSvc.sensorProcessWorkers.Add(1)
	go func() {
		defer ndtSvc.sensorProcessWorkers.Done()
		if jobDone := spConfig.Start(cancelCtx); jobDone {
			ndtSvc.jobDone.Store(true)
			ndtSvc.cancelSensorProcessFunc()
		}
	}()
}

// initMapSaveProcess periodically writes the current map to data_dir.
func initMapSaveProcess(cancelCtx context.Context, ndtSvc *NDTService) {
	ndtSvc.sensorProcessWorkers.Add(1)
	go func() {
		defer ndtSvc.sensorProcessWorkers.Done()
		ticker := time.NewTicker(time.Duration(ndtSvc.mapRateSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
				if err := ndtSvc.saveMap(cancelCtx); err != nil {
					ndtSvc.logger.Warnw("periodic map save failed", "error", err)
				}
			}
		}
	}()
}

// NDTService is the structure of the slam service.
type NDTService struct {
	resource.Named
	resource.AlwaysRebuild
	mu                 sync.Mutex
	closed             bool
	lidar              s.TimedLidar
	odometer           s.TimedOdometer
	odometerOrigin     s.TimedOdometerReadingResponse
	movementSensorName string
	subAlgo            SubAlgo

	configParams  map[string]string
	dataDirectory string
	mapRateSec    int

	matcher        matcher.Interface
	matcherTimeout time.Duration
	addScanTimeout time.Duration

	cancelSensorProcessFunc func()
	cancelMatcherFunc       func()
	logger                  logging.Logger
	sensorProcessWorkers    sync.WaitGroup
	matcherWorkers          sync.WaitGroup

	jobDone atomic.Bool

	postprocessingEnabled   atomic.Bool
	postprocessingTasks     []postprocess.Task
	postprocessedPointCloud *[]byte
}

// poseToSpatial converts an engine pose in meters into the millimeter
// convention of rdk, with theta as a rotation about the z axis.
func poseToSpatial(p ndt.Pose) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.X * 1000., Y: p.Y * 1000.},
		&spatialmath.OrientationVectorRadians{OZ: 1, Theta: p.Theta},
	)
}

// Position returns the current pose estimate. It reads the most recently
// published estimate and does not wait on an in-flight matching cycle.
func (ndtSvc *NDTService) Position(ctx context.Context) (spatialmath.Pose, error) {
	_, span := trace.StartSpan(ctx, "tinyracecarndt::NDTService::Position")
	defer span.End()
	if ndtSvc.closed {
		ndtSvc.logger.Warn("Position called after closed")
		return nil, ErrClosed
	}

	snapshot, err := ndtSvc.matcher.Position()
	if err != nil {
		return nil, err
	}

	return poseToSpatial(snapshot.Pose), nil
}

// PointCloudMap returns a callback function which returns the next chunk
// of the current map, serialized as PCD.
func (ndtSvc *NDTService) PointCloudMap(ctx context.Context, returnEditedMap bool) (func() ([]byte, error), error) {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::NDTService::PointCloudMap")
	defer span.End()

	if ndtSvc.closed {
		ndtSvc.logger.Warn("PointCloudMap called after closed")
		return nil, ErrClosed
	}

	if returnEditedMap && ndtSvc.postprocessingEnabled.Load() && ndtSvc.postprocessedPointCloud != nil {
		return toChunkedFunc(*ndtSvc.postprocessedPointCloud), nil
	}

	pc, err := ndtSvc.matcher.PointCloudMap(ctx, ndtSvc.matcherTimeout)
	if err != nil {
		return nil, err
	}
	return toChunkedFunc(pc), nil
}

// InternalState returns a callback function which returns the next chunk
// of the engine's trajectory log.
func (ndtSvc *NDTService) InternalState(ctx context.Context) (func() ([]byte, error), error) {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::NDTService::InternalState")
	defer span.End()

	if ndtSvc.closed {
		ndtSvc.logger.Warn("InternalState called after closed")
		return nil, ErrClosed
	}

	is, err := ndtSvc.matcher.InternalState(ctx, ndtSvc.matcherTimeout)
	if err != nil {
		return nil, err
	}

	return toChunkedFunc(is), nil
}

// Properties returns information regarding the current slam session.
func (ndtSvc *NDTService) Properties(ctx context.Context) (slam.Properties, error) {
	_, span := trace.StartSpan(ctx, "tinyracecarndt::NDTService::Properties")
	defer span.End()

	if ndtSvc.closed {
		ndtSvc.logger.Warn("Properties called after closed")
		return slam.Properties{}, ErrClosed
	}

	sensorInfo := []slam.SensorInfo{
		{Name: ndtSvc.lidar.Name(), Type: slam.SensorTypeCamera},
	}
	if ndtSvc.movementSensorName != "" {
		sensorInfo = append(sensorInfo,
			slam.SensorInfo{Name: ndtSvc.movementSensorName, Type: slam.SensorTypeMovementSensor})
	}

	return slam.Properties{
		MappingMode:           slam.MappingModeNewMap,
		InternalStateFileType: ".csv",
		SensorInfo:            sensorInfo,
	}, nil
}

func toChunkedFunc(b []byte) func() ([]byte, error) {
	chunk := make([]byte, chunkSizeBytes)

	reader := bytes.NewReader(b)

	f := func() ([]byte, error) {
		bytesRead, err := reader.Read(chunk)
		if err != nil {
			return nil, err
		}
		return chunk[:bytesRead], err
	}
	return f
}

// saveMap writes the current map to data_dir with a timestamped filename.
func (ndtSvc *NDTService) saveMap(ctx context.Context) error {
	pc, err := ndtSvc.matcher.PointCloudMap(ctx, ndtSvc.matcherTimeout)
	if err != nil {
		return err
	}
	filename := dataprocess.CreateTimestampFilename(
		ndtSvc.dataDirectory, ndtSvc.lidar.Name(), ".pcd", time.Now().UTC())
	return dataprocess.WriteBytesToFile(pc, filename)
}

// saveTrajectory writes the trajectory log to data_dir.
func (ndtSvc *NDTService) saveTrajectory(ctx context.Context) error {
	is, err := ndtSvc.matcher.InternalState(ctx, ndtSvc.matcherTimeout)
	if err != nil {
		return err
	}
	filename := dataprocess.CreateTimestampFilename(
		ndtSvc.dataDirectory, ndtSvc.lidar.Name(), ".csv", time.Now().UTC())
	return dataprocess.WriteBytesToFile(is, filename)
}

// DoCommand receives arbitrary commands.
func (ndtSvc *NDTService) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	if ndtSvc.closed {
		ndtSvc.logger.Warn("DoCommand called after closed")
		return nil, ErrClosed
	}

	if _, ok := req["job_done"]; ok {
		return map[string]interface{}{"job_done": ndtSvc.jobDone.Load()}, nil
	}

	if _, ok := req["stats"]; ok {
		snapshot, err := ndtSvc.matcher.Position()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"cycles":              snapshot.Cycles,
			"matching_rate_hz":    snapshot.MatchingRateHz,
			"last_cycle_duration": snapshot.CycleDuration.String(),
		}, nil
	}

	if _, ok := req["save_map"]; ok {
		if ndtSvc.dataDirectory == "" {
			return nil, errors.New("cannot save map: no data_dir configured")
		}
		if err := ndtSvc.saveMap(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"save_map": true}, nil
	}

	if val, ok := req[postprocess.ToggleCommand]; ok {
		enable, ok := val.(bool)
		if !ok {
			return nil, errors.New("could not parse postprocess_toggle as a bool")
		}
		ndtSvc.postprocessingEnabled.Store(enable)
		return map[string]interface{}{postprocess.ToggleCommand: enable}, nil
	}

	if val, ok := req[postprocess.AddCommand]; ok {
		if err := ndtSvc.applyPostprocessTask(ctx, val, postprocess.Add); err != nil {
			return nil, err
		}
		return map[string]interface{}{postprocess.AddCommand: true}, nil
	}

	if val, ok := req[postprocess.RemoveCommand]; ok {
		if err := ndtSvc.applyPostprocessTask(ctx, val, postprocess.Remove); err != nil {
			return nil, err
		}
		return map[string]interface{}{postprocess.RemoveCommand: true}, nil
	}

	if _, ok := req[postprocess.UndoCommand]; ok {
		if len(ndtSvc.postprocessingTasks) == 0 {
			return nil, errors.New("no postprocessing tasks to undo")
		}
		ndtSvc.postprocessingTasks = ndtSvc.postprocessingTasks[:len(ndtSvc.postprocessingTasks)-1]
		if err := ndtSvc.rebuildPostprocessedMap(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{postprocess.UndoCommand: true}, nil
	}

	return nil, errors.New("unknown command")
}

func (ndtSvc *NDTService) applyPostprocessTask(ctx context.Context, val interface{}, instruction postprocess.Instruction) error {
	task, err := postprocess.ParseDoCommand(val, instruction)
	if err != nil {
		return err
	}
	ndtSvc.postprocessingTasks = append(ndtSvc.postprocessingTasks, task)
	if err := ndtSvc.rebuildPostprocessedMap(ctx); err != nil {
		ndtSvc.postprocessingTasks = ndtSvc.postprocessingTasks[:len(ndtSvc.postprocessingTasks)-1]
		return err
	}
	ndtSvc.postprocessingEnabled.Store(true)
	return nil
}

func (ndtSvc *NDTService) rebuildPostprocessedMap(ctx context.Context) error {
	data, err := ndtSvc.matcher.PointCloudMap(ctx, ndtSvc.matcherTimeout)
	if err != nil {
		return err
	}
	updated, err := postprocess.Apply(data, ndtSvc.postprocessingTasks)
	if err != nil {
		return err
	}
	ndtSvc.postprocessedPointCloud = &updated
	return nil
}

// Close saves the final map and trajectory when a data directory is
// configured, then shuts down the sensor process and the matcher.
func (ndtSvc *NDTService) Close(ctx context.Context) error {
	ndtSvc.mu.Lock()
	defer ndtSvc.mu.Unlock()

	ndtSvc.logger.Info("Closing NDT-PSO module")

	if ndtSvc.closed {
		ndtSvc.logger.Warn("Close() called multiple times")
		return nil
	}

	if ndtSvc.matcher != nil && ndtSvc.dataDirectory != "" {
		if err := ndtSvc.saveMap(ctx); err != nil {
			ndtSvc.logger.Warnw("final map save failed", "error", err)
		}
		if err := ndtSvc.saveTrajectory(ctx); err != nil {
			ndtSvc.logger.Warnw("final trajectory save failed", "error", err)
		}
	}

	// stop sensor process workers
	ndtSvc.cancelSensorProcessFunc()
	ndtSvc.sensorProcessWorkers.Wait()

	// stop the matcher's engine goroutine
	ndtSvc.cancelMatcherFunc()
	ndtSvc.matcherWorkers.Wait()
	ndtSvc.closed = true

	ndtSvc.logger.Info("Closing complete")
	return nil
}
