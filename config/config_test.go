// Package config implements functions to assist with attribute evaluation in the SLAM service.
package config

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils"
)

func intPtr(i int) *int { return &i }

func TestValidate(t *testing.T) {
	testCfgPath := "services.slam.attributes.fake"

	t.Run("fails without a camera name", func(t *testing.T) {
		cfg := &Config{
			ConfigParams: map[string]string{"mode": "2d"},
		}
		_, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testCfgPath, "camera[name]"))
	})

	t.Run("fails without a mode", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "rplidar"},
			ConfigParams: map[string]string{},
		}
		_, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testCfgPath, "config_params[mode]"))
	})

	t.Run("fails on a negative map_rate_sec", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "rplidar"},
			ConfigParams: map[string]string{"mode": "2d"},
			MapRateSec:   intPtr(-1),
		}
		_, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError,
			errors.New("cannot specify map_rate_sec less than zero"))
	})

	t.Run("lists the camera as an implicit dependency", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "rplidar"},
			ConfigParams: map[string]string{"mode": "2d"},
		}
		deps, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"rplidar"})
	})

	t.Run("lists the movement sensor when configured", func(t *testing.T) {
		cfg := &Config{
			Camera:         map[string]string{"name": "rplidar"},
			MovementSensor: map[string]string{"name": "odom"},
			ConfigParams:   map[string]string{"mode": "2d"},
		}
		deps, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"rplidar", "odom"})
	})
}

func TestGetOptionalParameters(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("fills defaults for unset parameters", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "rplidar"},
			ConfigParams: map[string]string{"mode": "2d"},
		}
		params, err := GetOptionalParameters(cfg, 5, 20, 60, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params.LidarDataFrequencyHz, test.ShouldEqual, 5)
		test.That(t, params.MovementSensorName, test.ShouldEqual, "")
		test.That(t, params.MapRateSec, test.ShouldEqual, 60)
	})

	t.Run("uses provided values when set", func(t *testing.T) {
		cfg := &Config{
			Camera:         map[string]string{"name": "rplidar", "data_frequency_hz": "10"},
			MovementSensor: map[string]string{"name": "odom", "data_frequency_hz": "40"},
			ConfigParams:   map[string]string{"mode": "2d"},
			MapRateSec:     intPtr(120),
		}
		params, err := GetOptionalParameters(cfg, 5, 20, 60, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params.LidarDataFrequencyHz, test.ShouldEqual, 10)
		test.That(t, params.MovementSensorName, test.ShouldEqual, "odom")
		test.That(t, params.MovementSensorDataFrequencyHz, test.ShouldEqual, 40)
		test.That(t, params.MapRateSec, test.ShouldEqual, 120)
	})

	t.Run("defaults the movement sensor frequency when only the name is set", func(t *testing.T) {
		cfg := &Config{
			Camera:         map[string]string{"name": "rplidar"},
			MovementSensor: map[string]string{"name": "odom"},
			ConfigParams:   map[string]string{"mode": "2d"},
		}
		params, err := GetOptionalParameters(cfg, 5, 20, 60, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params.MovementSensorDataFrequencyHz, test.ShouldEqual, 20)
	})

	t.Run("fails on an unparsable lidar frequency", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "rplidar", "data_frequency_hz": "fast"},
			ConfigParams: map[string]string{"mode": "2d"},
		}
		_, err := GetOptionalParameters(cfg, 5, 20, 60, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "data_frequency_hz] must be an int")
	})

	t.Run("fails on a negative lidar frequency", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "rplidar", "data_frequency_hz": "-5"},
			ConfigParams: map[string]string{"mode": "2d"},
		}
		_, err := GetOptionalParameters(cfg, 5, 20, 60, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("fails on an unparsable movement sensor frequency", func(t *testing.T) {
		cfg := &Config{
			Camera:         map[string]string{"name": "rplidar"},
			MovementSensor: map[string]string{"name": "odom", "data_frequency_hz": "slow"},
			ConfigParams:   map[string]string{"mode": "2d"},
		}
		_, err := GetOptionalParameters(cfg, 5, 20, 60, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})
}
