// Package config implements functions to assist with attribute evaluation in the SLAM service.
package config

import (
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// newError returns an error specific to a failure in the SLAM config.
func newError(configError string) error {
	return errors.Errorf("SLAM service configuration error: %s", configError)
}

// Config describes how to configure the SLAM service.
type Config struct {
	Camera         map[string]string `json:"camera"`
	MovementSensor map[string]string `json:"movement_sensor"`
	ConfigParams   map[string]string `json:"config_params"`
	DataDirectory  string            `json:"data_dir"`
	MapRateSec     *int              `json:"map_rate_sec"`
}

// OptionalConfigParams holds the optional config parameters of the SLAM service.
type OptionalConfigParams struct {
	LidarDataFrequencyHz          int
	MovementSensorName            string
	MovementSensorDataFrequencyHz int
	MapRateSec                    int
}

// Validate creates the list of implicit dependencies.
func (config *Config) Validate(path string) ([]string, error) {
	cameraName, ok := config.Camera["name"]
	if !ok {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "camera[name]")
	}

	if config.ConfigParams["mode"] == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "config_params[mode]")
	}

	if config.MapRateSec != nil && *config.MapRateSec < 0 {
		return nil, errors.New("cannot specify map_rate_sec less than zero")
	}

	deps := []string{cameraName}
	if movementSensorName, ok := config.MovementSensor["name"]; ok && movementSensorName != "" {
		deps = append(deps, movementSensorName)
	}
	return deps, nil
}

// GetOptionalParameters sets any unset optional config parameters to the
// values passed to this function, and returns them.
func GetOptionalParameters(config *Config,
	defaultLidarDataFrequencyHz, defaultMovementSensorDataFrequencyHz, defaultMapRateSec int,
	logger logging.Logger,
) (OptionalConfigParams, error) {
	var optionalConfigParams OptionalConfigParams

	strLidarDataFrequencyHz, exists := config.Camera["data_frequency_hz"]
	if !exists {
		optionalConfigParams.LidarDataFrequencyHz = defaultLidarDataFrequencyHz
		logger.Debugf("camera[data_frequency_hz] unset, using default value of %d", defaultLidarDataFrequencyHz)
	} else {
		lidarDataFrequencyHz, err := strconv.Atoi(strLidarDataFrequencyHz)
		if err != nil {
			return OptionalConfigParams{}, newError("camera[data_frequency_hz] must be an int")
		}
		if lidarDataFrequencyHz < 0 {
			return OptionalConfigParams{}, newError("cannot specify camera[data_frequency_hz] less than zero")
		}
		optionalConfigParams.LidarDataFrequencyHz = lidarDataFrequencyHz
	}

	if movementSensorName, exists := config.MovementSensor["name"]; exists && movementSensorName != "" {
		optionalConfigParams.MovementSensorName = movementSensorName
		strMovementSensorDataFrequencyHz, ok := config.MovementSensor["data_frequency_hz"]
		if !ok {
			optionalConfigParams.MovementSensorDataFrequencyHz = defaultMovementSensorDataFrequencyHz
			logger.Debugf("movement_sensor[data_frequency_hz] unset, using default value of %d", defaultMovementSensorDataFrequencyHz)
		} else {
			movementSensorDataFrequencyHz, err := strconv.Atoi(strMovementSensorDataFrequencyHz)
			if err != nil {
				return OptionalConfigParams{}, newError("movement_sensor[data_frequency_hz] must be an int")
			}
			if movementSensorDataFrequencyHz < 0 {
				return OptionalConfigParams{}, newError("cannot specify movement_sensor[data_frequency_hz] less than zero")
			}
			optionalConfigParams.MovementSensorDataFrequencyHz = movementSensorDataFrequencyHz
		}
	}

	if config.MapRateSec == nil {
		optionalConfigParams.MapRateSec = defaultMapRateSec
		logger.Debugf("no map_rate_sec given, setting to default value of %d", defaultMapRateSec)
	} else {
		optionalConfigParams.MapRateSec = *config.MapRateSec
	}
	if optionalConfigParams.MapRateSec == 0 {
		logger.Info("map_rate_sec is 0, periodic map saving is disabled")
	}

	return optionalConfigParams, nil
}
