package sensors

import (
	"context"
	"math"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/rdk/utils/contextutils"
)

// BadTime can be used to represent something that should cause an error while parsing it as a time.
const BadTime = "NOT A TIME"

var (
	// TestTimestamp can be used to test specific timestamps provided by a replay sensor.
	TestTimestamp = time.Now().UTC().Format("2006-01-02T15:04:05.999999Z")
	// TestPosition is the successful mock position result used for testing.
	TestPosition = geo.NewPoint(40.770301, -73.977308)
	// TestOrientation is the successful mock orientation result used for testing.
	TestOrientation = spatialmath.NewZeroOrientation()
)

// TestSensor represents sensors used for testing.
type TestSensor string

const (
	// InvalidSensorTestErrMsg represents an error message that indicates that the sensor is invalid.
	InvalidSensorTestErrMsg = "invalid test sensor"

	// GoodLidar is a lidar that works as expected and returns a point cloud.
	GoodLidar TestSensor = "good_lidar"
	// WarmingUpLidar is a lidar whose NextPointCloud function errors on its first call.
	WarmingUpLidar TestSensor = "warming_up_lidar"
	// LidarWithErroringFunctions is a lidar whose functions return errors.
	LidarWithErroringFunctions TestSensor = "lidar_with_erroring_functions"
	// LidarWithInvalidProperties is a lidar whose properties are invalid.
	LidarWithInvalidProperties TestSensor = "lidar_with_invalid_properties"
	// GibberishLidar is a lidar that can't be found in the dependencies.
	GibberishLidar TestSensor = "gibberish_lidar"

	// ReplayLidar is a lidar that works as expected and reports a replay timestamp.
	ReplayLidar TestSensor = "replay_lidar"
	// InvalidReplayLidar is a lidar whose meta timestamp is invalid.
	InvalidReplayLidar TestSensor = "invalid_replay_lidar"

	// GoodOdometer is an odometer that works as expected and returns position and orientation values.
	GoodOdometer TestSensor = "good_odometer"
	// OdometerWithErroringFunctions is an odometer whose functions return errors.
	OdometerWithErroringFunctions TestSensor = "odometer_with_erroring_functions"
	// MovementSensorWithInvalidProperties is a movement sensor whose properties are invalid.
	MovementSensorWithInvalidProperties TestSensor = "movement_sensor_with_invalid_properties"
	// GibberishMovementSensor is a movement sensor that can't be found in the dependencies.
	GibberishMovementSensor TestSensor = "gibberish_movement_sensor"
	// NoMovementSensor represents that no movement sensor is set up.
	NoMovementSensor TestSensor = ""
)

var (
	testLidars = map[TestSensor]func() *inject.Camera{
		GoodLidar:                  getGoodLidar,
		WarmingUpLidar:             getWarmingUpLidar,
		LidarWithErroringFunctions: getLidarWithErroringFunctions,
		LidarWithInvalidProperties: getLidarWithInvalidProperties,
		ReplayLidar:                func() *inject.Camera { return getReplayLidar(TestTimestamp) },
		InvalidReplayLidar:         func() *inject.Camera { return getReplayLidar(BadTime) },
	}

	testMovementSensors = map[TestSensor]func() *inject.MovementSensor{
		GoodOdometer:                        getGoodOdometer,
		OdometerWithErroringFunctions:       getOdometerWithErroringFunctions,
		MovementSensorWithInvalidProperties: getMovementSensorWithInvalidProperties,
	}
)

// SetupDeps returns the dependencies based on the lidar and movement sensor names passed as arguments.
func SetupDeps(lidarName, movementSensorName TestSensor) resource.Dependencies {
	deps := make(resource.Dependencies)
	if getLidarFunc, ok := testLidars[lidarName]; ok {
		deps[camera.Named(string(lidarName))] = getLidarFunc()
	}

	if getMovementSensorFunc, ok := testMovementSensors[movementSensorName]; ok {
		deps[movementsensor.Named(string(movementSensorName))] = getMovementSensorFunc()
	}

	return deps
}

// testPointCloud builds a small planar cloud in millimeters, a short
// diagonal wall in front of the sensor.
func testPointCloud() pointcloud.PointCloud {
	pc := pointcloud.NewBasicEmpty()
	for i := 0; i < 20; i++ {
		x := 1000. + float64(i)*100.
		y := 500. + float64(i)*25. + 10.*math.Sin(float64(i))
		if err := pc.Set(pointcloud.NewVector(x, y, 0), nil); err != nil {
			panic(err)
		}
	}
	return pc
}

func getGoodLidar() *inject.Camera {
	cam := &inject.Camera{}
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return testPointCloud(), nil
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}

func getWarmingUpLidar() *inject.Camera {
	cam := &inject.Camera{}
	counter := 0
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		counter++
		if counter == 1 {
			return nil, errors.Errorf("warming up %d", counter)
		}
		return testPointCloud(), nil
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}

func getLidarWithErroringFunctions() *inject.Camera {
	cam := &inject.Camera{}
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return nil, errors.New(InvalidSensorTestErrMsg)
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}

func getLidarWithInvalidProperties() *inject.Camera {
	cam := &inject.Camera{}
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return testPointCloud(), nil
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: false}, nil
	}
	return cam
}

func getReplayLidar(testTime string) *inject.Camera {
	cam := &inject.Camera{}
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		md := ctx.Value(contextutils.MetadataContextKey)
		if mdMap, ok := md.(map[string][]string); ok {
			mdMap[contextutils.TimeRequestedMetadataKey] = []string{testTime}
		}
		return testPointCloud(), nil
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}

func getGoodOdometer() *inject.MovementSensor {
	odometer := &inject.MovementSensor{}
	odometer.PositionFunc = func(ctx context.Context, extra map[string]interface{}) (*geo.Point, float64, error) {
		return TestPosition, 0, nil
	}
	odometer.OrientationFunc = func(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error) {
		return TestOrientation, nil
	}
	odometer.PropertiesFunc = func(ctx context.Context, extra map[string]interface{}) (*movementsensor.Properties, error) {
		return &movementsensor.Properties{
			PositionSupported:    true,
			OrientationSupported: true,
		}, nil
	}
	return odometer
}

func getOdometerWithErroringFunctions() *inject.MovementSensor {
	odometer := &inject.MovementSensor{}
	odometer.PositionFunc = func(ctx context.Context, extra map[string]interface{}) (*geo.Point, float64, error) {
		return nil, 0, errors.New(InvalidSensorTestErrMsg)
	}
	odometer.OrientationFunc = func(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error) {
		return nil, errors.New(InvalidSensorTestErrMsg)
	}
	odometer.PropertiesFunc = func(ctx context.Context, extra map[string]interface{}) (*movementsensor.Properties, error) {
		return &movementsensor.Properties{
			PositionSupported:    true,
			OrientationSupported: true,
		}, nil
	}
	return odometer
}

func getMovementSensorWithInvalidProperties() *inject.MovementSensor {
	odometer := &inject.MovementSensor{}
	odometer.PositionFunc = func(ctx context.Context, extra map[string]interface{}) (*geo.Point, float64, error) {
		return TestPosition, 0, nil
	}
	odometer.OrientationFunc = func(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error) {
		return TestOrientation, nil
	}
	odometer.PropertiesFunc = func(ctx context.Context, extra map[string]interface{}) (*movementsensor.Properties, error) {
		return &movementsensor.Properties{
			PositionSupported:    false,
			OrientationSupported: true,
		}, nil
	}
	return odometer
}
