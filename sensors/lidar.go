package sensors

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/utils/contextutils"
	goutils "go.viam.com/utils"

	"github.com/amilearning/tiny-racecar-ndt/ndt"
)

const (
	// scanAngleBins is the angular resolution scans are rebinned to when
	// converting from an unordered point cloud.
	scanAngleBins = 720
	// lidarRangeMaxMeters caps the usable range of a return.
	lidarRangeMaxMeters = 25.0
	// millisToMeters converts rdk point cloud coordinates to engine meters.
	millisToMeters = 1. / 1000.
)

// TimedLidar describes a sensor that reports the time the reading is from
// and whether or not it is from a replay sensor.
type TimedLidar interface {
	Name() string
	DataFrequencyHz() int
	TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error)
}

// TimedLidarReadingResponse represents a lidar reading with a time and
// allows the caller to know if the reading is from a replay camera.
type TimedLidarReadingResponse struct {
	Scan        ndt.Scan
	ReadingTime time.Time
	Replay      bool
}

// Lidar represents a LIDAR sensor.
type Lidar struct {
	name            string
	dataFrequencyHz int
	Lidar           camera.Camera
}

// Name returns the name of the lidar.
func (lidar Lidar) Name() string {
	return lidar.name
}

// DataFrequencyHz returns the data frequency of the lidar.
func (lidar Lidar) DataFrequencyHz() int {
	return lidar.dataFrequencyHz
}

// TimedLidarReading returns a polar scan built from the lidar's point
// cloud, the time the reading is from and whether it was a replay sensor
// or not.
func (lidar Lidar) TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error) {
	replay := false

	ctxWithMetadata, md := contextutils.ContextWithMetadata(ctx)
	readingPc, err := lidar.Lidar.NextPointCloud(ctxWithMetadata)
	if err != nil {
		return TimedLidarReadingResponse{}, errors.Wrap(err, "NextPointCloud error")
	}
	readingTime := time.Now().UTC()

	if timeRequestedMetadata, ok := md[contextutils.TimeRequestedMetadataKey]; ok {
		replay = true
		if readingTime, err = time.Parse(time.RFC3339Nano, timeRequestedMetadata[0]); err != nil {
			return TimedLidarReadingResponse{}, errors.Wrap(err, replayTimestampErrorMessage)
		}
	}

	return TimedLidarReadingResponse{
		Scan:        ScanFromPointCloud(readingPc),
		ReadingTime: readingTime,
		Replay:      replay,
	}, nil
}

// ScanFromPointCloud rebins an unordered planar point cloud into a polar
// scan. Each angular bin keeps its nearest return; bins with no return are
// NaN. Point cloud coordinates are millimeters, the scan is in meters.
func ScanFromPointCloud(pc pointcloud.PointCloud) ndt.Scan {
	const increment = 2 * math.Pi / scanAngleBins

	ranges := make([]float64, scanAngleBins)
	for i := range ranges {
		ranges[i] = math.NaN()
	}

	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		x := p.X * millisToMeters
		y := p.Y * millisToMeters
		r := math.Hypot(x, y)
		if r == 0 || r >= lidarRangeMaxMeters {
			return true
		}
		bin := int((math.Atan2(y, x) + math.Pi) / increment)
		if bin == scanAngleBins {
			bin = 0
		}
		if math.IsNaN(ranges[bin]) || r < ranges[bin] {
			ranges[bin] = r
		}
		return true
	})

	return ndt.Scan{
		Ranges:         ranges,
		AngleMin:       -math.Pi,
		AngleIncrement: increment,
		RangeMax:       lidarRangeMaxMeters,
	}
}

// NewLidar returns a new Lidar.
func NewLidar(
	ctx context.Context,
	deps resource.Dependencies,
	cameraName string,
	dataFrequencyHz int,
	logger logging.Logger,
) (TimedLidar, error) {
	_, span := trace.StartSpan(ctx, "tinyracecarndt::sensors::NewLidar")
	defer span.End()
	lidar, err := camera.FromDependencies(deps, cameraName)
	if err != nil {
		return Lidar{}, errors.Wrapf(err, "error getting lidar camera %v for slam service", cameraName)
	}

	// The camera provided in the 'camera' field must support PCD.
	properties, err := lidar.Properties(ctx)
	if err != nil {
		return Lidar{}, errors.Wrapf(err, "error getting lidar camera properties %v for slam service", cameraName)
	}

	if !properties.SupportsPCD {
		return Lidar{}, errors.New("configuring lidar camera error: " +
			"'camera' must support PCD")
	}

	return Lidar{
		name:            cameraName,
		dataFrequencyHz: dataFrequencyHz,
		Lidar:           lidar,
	}, nil
}

// ValidateGetLidarData checks every sensorValidationInterval if the
// provided lidar returned a valid timed reading until either success or
// sensorValidationMaxTimeout has elapsed. Returns an error if no valid
// reading was returned in time.
func ValidateGetLidarData(
	ctx context.Context,
	lidar TimedLidar,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::sensors::ValidateGetLidarData")
	defer span.End()

	startTime := time.Now().UTC()

	for {
		_, err := lidar.TimedLidarReading(ctx)
		if err == nil {
			break
		}

		logger.Debugw("ValidateGetLidarData hit error: ", "error", err)
		if time.Since(startTime) >= sensorValidationMaxTimeout {
			return errors.Wrap(err, "ValidateGetLidarData timeout")
		}
		if !goutils.SelectContextOrWait(ctx, sensorValidationInterval) {
			return ctx.Err()
		}
	}

	return nil
}
