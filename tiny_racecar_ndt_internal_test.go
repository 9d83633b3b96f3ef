package tinyracecarndt

import (
	"math"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/amilearning/tiny-racecar-ndt/ndt"
)

func TestParseAlgoConfig(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("returns the defaults for an empty map", func(t *testing.T) {
		algoCfg, err := parseAlgoConfig(map[string]string{}, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, algoCfg, test.ShouldResemble, defaultAlgoCfg)
	})

	t.Run("overrides every engine parameter", func(t *testing.T) {
		algoCfg, err := parseAlgoConfig(map[string]string{
			"mode":           "2d",
			"cell_side_m":    "0.25",
			"frame_size_m":   "40",
			"og_cell_side_m": "0.1",
			"population":     "30",
			"iterations":     "35",
			"num_threads":    "2",
			"seed":           "11",
		}, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, algoCfg.CellSideM, test.ShouldEqual, 0.25)
		test.That(t, algoCfg.FrameSizeM, test.ShouldEqual, 40.)
		test.That(t, algoCfg.OccupancyCellSideM, test.ShouldEqual, 0.1)
		test.That(t, algoCfg.Population, test.ShouldEqual, 30)
		test.That(t, algoCfg.Iterations, test.ShouldEqual, 35)
		test.That(t, algoCfg.NumThreads, test.ShouldEqual, 2)
		test.That(t, algoCfg.Seed, test.ShouldEqual, uint64(11))
	})

	t.Run("ignores unknown parameters", func(t *testing.T) {
		algoCfg, err := parseAlgoConfig(map[string]string{"mystery_param": "4"}, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, algoCfg, test.ShouldResemble, defaultAlgoCfg)
	})

	t.Run("errors on malformed values", func(t *testing.T) {
		for _, params := range []map[string]string{
			{"cell_side_m": "wide"},
			{"population": "many"},
			{"seed": "-1"},
		} {
			_, err := parseAlgoConfig(params, logger)
			test.That(t, err, test.ShouldNotBeNil)
		}
	})
}

func TestPoseToSpatial(t *testing.T) {
	pose := poseToSpatial(ndt.Pose{X: 1.5, Y: -2.0, Theta: math.Pi / 2})
	pt := pose.Point()
	test.That(t, pt.X, test.ShouldAlmostEqual, 1500.)
	test.That(t, pt.Y, test.ShouldAlmostEqual, -2000.)
	test.That(t, pt.Z, test.ShouldAlmostEqual, 0.)

	ov := pose.Orientation().OrientationVectorRadians()
	test.That(t, ov.OZ, test.ShouldAlmostEqual, 1.)
	test.That(t, ov.Theta, test.ShouldAlmostEqual, math.Pi/2)
}
