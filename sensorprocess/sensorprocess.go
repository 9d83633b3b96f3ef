// Package sensorprocess contains the logic to feed lidar or replay sensor
// readings to the matcher.
package sensorprocess

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera/replaypcd"
	"go.viam.com/rdk/logging"

	"github.com/amilearning/tiny-racecar-ndt/matcher"
	s "github.com/amilearning/tiny-racecar-ndt/sensors"
)

// Config holds what is needed throughout the process of adding a lidar
// reading to the matcher.
type Config struct {
	Matcher matcher.Interface
	Lidar   s.TimedLidar

	Timeout time.Duration
	Logger  logging.Logger
}

// Start polls the lidar for the next reading and feeds it to the matcher.
// Stops when the context is done; returns true when the lidar is a replay
// sensor whose dataset has ended.
func (config *Config) Start(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
			if config.Lidar.DataFrequencyHz() == 0 {
				if jobDone := config.addLidarReadingInOffline(ctx); jobDone {
					config.Logger.Info("lidar replay dataset ended")
					return true
				}
			} else if err := config.addLidarReadingInOnline(ctx); err != nil {
				config.Logger.Warn(err)
			}
		}
	}
}

// addLidarReadingInOnline feeds the most recent lidar scan to the matcher
// and sleeps the remainder of the polling interval. Scans that arrive
// while a matching cycle is in flight are dropped.
func (config *Config) addLidarReadingInOnline(ctx context.Context) error {
	lidarReading, err := config.Lidar.TimedLidarReading(ctx)
	if err != nil {
		return err
	}

	timeToSleep := config.tryAddLidarReadingOnce(ctx, lidarReading)
	time.Sleep(time.Duration(timeToSleep) * time.Millisecond)
	config.Logger.Debugf("lidar sleep for %vms", timeToSleep)
	return nil
}

// addLidarReadingInOffline processes every reading of a replay lidar,
// retrying each until the matcher accepts it. Returns true once the
// dataset has ended.
func (config *Config) addLidarReadingInOffline(ctx context.Context) bool {
	lidarReading, err := config.Lidar.TimedLidarReading(ctx)
	if err != nil {
		if strings.Contains(err.Error(), replaypcd.ErrEndOfDataset.Error()) {
			return true
		}
		config.Logger.Warn(err)
		return false
	}

	if err := config.tryAddLidarReadingUntilSuccess(ctx, lidarReading); err != nil {
		config.Logger.Warn(err)
	}
	return false
}

// tryAddLidarReadingUntilSuccess feeds a reading to the matcher and
// retries on error. In offline mode every reading must be processed, so a
// busy matcher means try the same reading again.
func (config *Config) tryAddLidarReadingUntilSuccess(ctx context.Context, reading s.TimedLidarReadingResponse) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := config.tryAddLidarReading(ctx, reading); err != nil {
				if !errors.Is(err, matcher.ErrBusy) {
					config.Logger.Warnw("Retrying sensor reading due to error from matcher", "error", err)
				}
			} else {
				return nil
			}
		}
	}
}

// tryAddLidarReadingOnce feeds a reading to the matcher and does not
// retry. Returns the remainder of the polling interval in milliseconds.
func (config *Config) tryAddLidarReadingOnce(ctx context.Context, reading s.TimedLidarReadingResponse) int {
	startTime := time.Now().UTC()

	if err := config.tryAddLidarReading(ctx, reading); err != nil {
		if errors.Is(err, matcher.ErrBusy) {
			config.Logger.Debugw("Skipping lidar reading due to in-flight matching cycle", "error", err)
		} else {
			config.Logger.Warnw("Skipping lidar reading due to error from matcher", "error", err)
		}
	}
	timeElapsedMs := int(time.Since(startTime).Milliseconds())
	return int(math.Max(0, float64(1000/config.Lidar.DataFrequencyHz()-timeElapsedMs)))
}

// tryAddLidarReading feeds one reading to the matcher.
func (config *Config) tryAddLidarReading(ctx context.Context, reading s.TimedLidarReadingResponse) error {
	err := config.Matcher.AddScan(ctx, config.Timeout, matcher.TimedScan{
		Scan:        reading.Scan,
		ReadingTime: reading.ReadingTime,
	})
	if err != nil {
		config.Logger.Debugf("%v \t | LIDAR | Failure \t \t | %v \n", reading.ReadingTime, reading.ReadingTime.Unix())
	} else {
		config.Logger.Debugf("%v \t | LIDAR | Success \t \t | %v \n", reading.ReadingTime, reading.ReadingTime.Unix())
	}
	return err
}
