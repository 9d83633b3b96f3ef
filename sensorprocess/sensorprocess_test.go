package sensorprocess

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera/replaypcd"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/amilearning/tiny-racecar-ndt/matcher"
	"github.com/amilearning/tiny-racecar-ndt/ndt"
	s "github.com/amilearning/tiny-racecar-ndt/sensors"
)

var errUnknown = errors.New("unknown error")

// injectLidar stubs a timed lidar for driving the process loop directly.
type injectLidar struct {
	name            string
	dataFrequencyHz int
	readingFunc     func(ctx context.Context) (s.TimedLidarReadingResponse, error)
}

func (l *injectLidar) Name() string { return l.name }

func (l *injectLidar) DataFrequencyHz() int { return l.dataFrequencyHz }
func (l *injectLidar) TimedLidarReading(ctx context.Context) (s.TimedLidarReadingResponse, error) {
	return l.readingFunc(ctx)
}

func testReading() s.TimedLidarReadingResponse {
	return s.TimedLidarReadingResponse{
		Scan: ndt.Scan{
			Ranges:         []float64{1, 2, math.NaN(), 3},
			AngleMin:       -math.Pi,
			AngleIncrement: 0.01,
			RangeMax:       25,
		},
		ReadingTime: time.Now().UTC(),
	}
}

type addScanArgs struct {
	timeout time.Duration
	reading matcher.TimedScan
}

func TestTryAddLidarReadingOnce(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	reading := testReading()

	lidar := &injectLidar{
		name:            "lidar",
		dataFrequencyHz: 5,
		readingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
			return testReading(), nil
		},
	}

	var calls []addScanArgs
	m := &matcher.Mock{}
	m.AddScanFunc = func(ctx context.Context, timeout time.Duration, scan matcher.TimedScan) error {
		calls = append(calls, addScanArgs{timeout: timeout, reading: scan})
		switch len(calls) {
		case 1:
			return errUnknown
		case 2:
			return matcher.ErrBusy
		default:
			return nil
		}
	}

	config := Config{
		Matcher: m,
		Lidar:   lidar,
		Timeout: 10 * time.Second,
		Logger:  logger,
	}

	// an unknown error and a busy matcher both drop the reading without retrying
	remainder := config.tryAddLidarReadingOnce(ctx, reading)
	test.That(t, len(calls), test.ShouldEqual, 1)
	test.That(t, remainder, test.ShouldBeLessThanOrEqualTo, 1000/lidar.DataFrequencyHz())

	config.tryAddLidarReadingOnce(ctx, reading)
	test.That(t, len(calls), test.ShouldEqual, 2)

	config.tryAddLidarReadingOnce(ctx, reading)
	test.That(t, len(calls), test.ShouldEqual, 3)
	test.That(t, calls[2].timeout, test.ShouldEqual, config.Timeout)
	test.That(t, calls[2].reading.ReadingTime.Equal(reading.ReadingTime), test.ShouldBeTrue)
}

func TestTryAddLidarReadingUntilSuccess(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	reading := testReading()

	var calls []addScanArgs
	m := &matcher.Mock{}
	m.AddScanFunc = func(ctx context.Context, timeout time.Duration, scan matcher.TimedScan) error {
		calls = append(calls, addScanArgs{timeout: timeout, reading: scan})
		if len(calls) < 3 {
			return matcher.ErrBusy
		}
		return nil
	}

	config := Config{
		Matcher: m,
		Lidar:   &injectLidar{name: "lidar", dataFrequencyHz: 0},
		Timeout: 10 * time.Second,
		Logger:  logger,
	}

	// a busy matcher means try the same reading again until it is accepted
	err := config.tryAddLidarReadingUntilSuccess(ctx, reading)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(calls), test.ShouldEqual, 3)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	m.AddScanFunc = func(ctx context.Context, timeout time.Duration, scan matcher.TimedScan) error {
		return matcher.ErrBusy
	}
	err = config.tryAddLidarReadingUntilSuccess(cancelCtx, reading)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestAddLidarReadingInOffline(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	added := 0
	m := &matcher.Mock{}
	m.AddScanFunc = func(ctx context.Context, timeout time.Duration, scan matcher.TimedScan) error {
		added++
		return nil
	}

	t.Run("feeds replay readings to the matcher", func(t *testing.T) {
		config := Config{
			Matcher: m,
			Lidar: &injectLidar{
				name:            "replay",
				dataFrequencyHz: 0,
				readingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
					return testReading(), nil
				},
			},
			Timeout: 10 * time.Second,
			Logger:  logger,
		}
		jobDone := config.addLidarReadingInOffline(ctx)
		test.That(t, jobDone, test.ShouldBeFalse)
		test.That(t, added, test.ShouldEqual, 1)
	})

	t.Run("reports when the dataset has ended", func(t *testing.T) {
		config := Config{
			Matcher: m,
			Lidar: &injectLidar{
				name:            "replay",
				dataFrequencyHz: 0,
				readingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
					return s.TimedLidarReadingResponse{}, replaypcd.ErrEndOfDataset
				},
			},
			Timeout: 10 * time.Second,
			Logger:  logger,
		}
		jobDone := config.addLidarReadingInOffline(ctx)
		test.That(t, jobDone, test.ShouldBeTrue)
	})
}

func TestStart(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		m := &matcher.Mock{}
		m.AddScanFunc = func(ctx context.Context, timeout time.Duration, scan matcher.TimedScan) error {
			return nil
		}
		config := Config{
			Matcher: m,
			Lidar: &injectLidar{
				name:            "lidar",
				dataFrequencyHz: 100,
				readingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
					return testReading(), nil
				},
			},
			Timeout: 10 * time.Second,
			Logger:  logger,
		}

		cancelCtx, cancel := context.WithCancel(context.Background())
		done := make(chan bool)
		go func() {
			done <- config.Start(cancelCtx)
		}()
		cancel()
		jobDone := <-done
		test.That(t, jobDone, test.ShouldBeFalse)
	})

	t.Run("ends the job when a replay lidar runs out of data", func(t *testing.T) {
		m := &matcher.Mock{}
		config := Config{
			Matcher: m,
			Lidar: &injectLidar{
				name:            "replay",
				dataFrequencyHz: 0,
				readingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
					return s.TimedLidarReadingResponse{}, replaypcd.ErrEndOfDataset
				},
			},
			Timeout: 10 * time.Second,
			Logger:  logger,
		}

		jobDone := config.Start(context.Background())
		test.That(t, jobDone, test.ShouldBeTrue)
	})
}
