package sensors

import (
	"context"
	"math"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/rdk/utils/contextutils"
	goutils "go.viam.com/utils"

	"github.com/amilearning/tiny-racecar-ndt/ndt"
)

// replayTimeToleranceMsec bounds the drift allowed between the position
// and orientation timestamps of one odometer reading.
const replayTimeToleranceMsec = 50

// TimedOdometer describes a movement sensor that reports the time the
// reading is from and whether or not it is from a replay sensor.
type TimedOdometer interface {
	Name() string
	DataFrequencyHz() int
	TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error)
}

// TimedOdometerReadingResponse represents an odometer reading with a time
// and allows the caller to know if the reading is from a replay sensor.
type TimedOdometerReadingResponse struct {
	Position    *geo.Point
	Orientation spatialmath.Orientation
	ReadingTime time.Time
	Replay      bool
}

// Odometer represents an odometer movement sensor.
type Odometer struct {
	name            string
	dataFrequencyHz int
	Odometer        movementsensor.MovementSensor
}

// Name returns the name of the odometer.
func (odom Odometer) Name() string {
	return odom.name
}

// DataFrequencyHz returns the data frequency of the odometer.
func (odom Odometer) DataFrequencyHz() int {
	return odom.dataFrequencyHz
}

// TimedOdometerReading returns data from the odometer movement sensor and
// the time the reading is from. Position and orientation are polled until
// their timestamps agree within replayTimeToleranceMsec.
func (odom Odometer) TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error) {
	replay := false

	var readingTimePosition, readingTimeOrientation time.Time
	var position *geo.Point
	var orientation spatialmath.Orientation
	var err error
	for {
		select {
		case <-ctx.Done():
			return TimedOdometerReadingResponse{}, ctx.Err()
		default:
			if readingTimePosition == defaultTime || readingTimePosition.Sub(readingTimeOrientation).Milliseconds() < 0 {
				ctxWithMetadata, md := contextutils.ContextWithMetadata(ctx)
				if position, _, err = odom.Odometer.Position(ctxWithMetadata, make(map[string]interface{})); err != nil {
					return TimedOdometerReadingResponse{}, errors.Wrap(err, "Position error")
				}

				readingTimePosition = time.Now().UTC()
				if timeRequestedMetadata, ok := md[contextutils.TimeRequestedMetadataKey]; ok {
					replay = true
					if readingTimePosition, err = time.Parse(time.RFC3339Nano, timeRequestedMetadata[0]); err != nil {
						return TimedOdometerReadingResponse{}, errors.Wrap(err, replayTimestampErrorMessage)
					}
				}
			}

			if readingTimeOrientation == defaultTime || readingTimeOrientation.Sub(readingTimePosition).Milliseconds() < 0 {
				ctxWithMetadata, md := contextutils.ContextWithMetadata(ctx)
				if orientation, err = odom.Odometer.Orientation(ctxWithMetadata, make(map[string]interface{})); err != nil {
					return TimedOdometerReadingResponse{}, errors.Wrap(err, "Orientation error")
				}

				readingTimeOrientation = time.Now().UTC()
				if timeRequestedMetadata, ok := md[contextutils.TimeRequestedMetadataKey]; ok {
					replay = true
					if readingTimeOrientation, err = time.Parse(time.RFC3339Nano, timeRequestedMetadata[0]); err != nil {
						return TimedOdometerReadingResponse{}, errors.Wrap(err, replayTimestampErrorMessage)
					}
				}
			}
			if math.Abs(float64(readingTimeOrientation.Sub(readingTimePosition).Milliseconds())) < replayTimeToleranceMsec {
				return TimedOdometerReadingResponse{
					Position:    position,
					Orientation: orientation,
					ReadingTime: readingTimePosition.Add(readingTimeOrientation.Sub(readingTimePosition) / 2),
					Replay:      replay,
				}, nil
			}
		}
	}
}

// PlanarPoseFromGeo converts an odometer reading into a planar pose
// relative to an origin reading: x points east, y points north, theta is
// the yaw offset from the origin's heading.
func PlanarPoseFromGeo(origin, reading TimedOdometerReadingResponse) ndt.Pose {
	distanceM := origin.Position.GreatCircleDistance(reading.Position) * 1000.
	bearingRad := origin.Position.BearingTo(reading.Position) * math.Pi / 180.

	originYaw := 0.
	if origin.Orientation != nil {
		originYaw = origin.Orientation.EulerAngles().Yaw
	}
	yaw := 0.
	if reading.Orientation != nil {
		yaw = reading.Orientation.EulerAngles().Yaw
	}

	return ndt.Pose{
		X:     distanceM * math.Sin(bearingRad),
		Y:     distanceM * math.Cos(bearingRad),
		Theta: ndt.WrapAngle(yaw - originYaw),
	}
}

// NewOdometer returns a new Odometer.
func NewOdometer(
	ctx context.Context,
	deps resource.Dependencies,
	movementSensorName string,
	dataFrequencyHz int,
	logger logging.Logger,
) (TimedOdometer, error) {
	_, span := trace.StartSpan(ctx, "tinyracecarndt::sensors::NewOdometer")
	defer span.End()
	movementSensor, err := movementsensor.FromDependencies(deps, movementSensorName)
	if err != nil {
		return Odometer{}, errors.Wrapf(err, "error getting movement sensor %v for slam service", movementSensorName)
	}

	// A movement_sensor used as an odometer must support Position and Orientation.
	properties, err := movementSensor.Properties(ctx, make(map[string]interface{}))
	if err != nil {
		return Odometer{}, errors.Wrapf(err, "error getting movement sensor properties from %v for slam service", movementSensorName)
	}
	if !(properties.PositionSupported && properties.OrientationSupported) {
		return Odometer{}, errors.New("configuring odometer movement sensor error: " +
			"'movement_sensor' must support both Position and Orientation")
	}

	return Odometer{
		name:            movementSensorName,
		dataFrequencyHz: dataFrequencyHz,
		Odometer:        movementSensor,
	}, nil
}

// ValidateGetOdometerData checks every sensorValidationInterval if the
// provided odometer returned a valid timed reading until either success or
// sensorValidationMaxTimeout has elapsed.
func ValidateGetOdometerData(
	ctx context.Context,
	odom TimedOdometer,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	ctx, span := trace.StartSpan(ctx, "tinyracecarndt::sensors::ValidateGetOdometerData")
	defer span.End()

	startTime := time.Now().UTC()

	for {
		_, err := odom.TimedOdometerReading(ctx)
		if err == nil {
			break
		}

		logger.Debugw("ValidateGetOdometerData hit error: ", "error", err)
		if time.Since(startTime) >= sensorValidationMaxTimeout {
			return errors.Wrap(err, "ValidateGetOdometerData timeout")
		}
		if !goutils.SelectContextOrWait(ctx, sensorValidationInterval) {
			return ctx.Err()
		}
	}

	return nil
}
