// Package postprocess edits rendered maps in response to DoCommand
// requests, so operators can patch artifacts out of the exported map
// without touching the engine state.
package postprocess

import (
	"bytes"
	"errors"
	"image/color"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/pointcloud"
)

// Instruction describes the action of a postprocessing step.
type Instruction int

const (
	// Add inserts the given points into the map.
	Add Instruction = iota
	// Remove drops every map point near one of the given points.
	Remove
)

const (
	fullConfidence = 100
	removalRadius  = 100 // mm
	xKey           = "X"
	yKey           = "Y"

	// ToggleCommand can be used to turn postprocessing on and off.
	ToggleCommand = "postprocess_toggle"
	// AddCommand can be used to add points to the pointcloud map.
	AddCommand = "postprocess_add"
	// RemoveCommand can be used to remove points from the pointcloud map.
	RemoveCommand = "postprocess_remove"
	// UndoCommand can be used to undo the last postprocessing step.
	UndoCommand = "postprocess_undo"
)

var (
	// ErrPointsNotASlice denotes that the points have not been properly formatted as a slice.
	ErrPointsNotASlice = errors.New("could not parse provided points as a slice")

	// ErrPointNotAMap denotes that a point has not been properly formatted as a map.
	ErrPointNotAMap = errors.New("could not parse provided point as a map")

	// ErrXNotProvided denotes that an X value was not provided.
	ErrXNotProvided = errors.New("X not provided")

	// ErrXNotFloat64 denotes that an X value is not a float64.
	ErrXNotFloat64 = errors.New("could not parse provided X as a float64")

	// ErrYNotProvided denotes that a Y value was not provided.
	ErrYNotProvided = errors.New("Y not provided")

	// ErrYNotFloat64 denotes that a Y value is not a float64.
	ErrYNotFloat64 = errors.New("could not parse provided Y as a float64")

	// ErrRemovingPoints denotes that something unexpected happened during removal.
	ErrRemovingPoints = errors.New("unexpected number of points after removal")
)

// Task is one recorded postprocessing step. The recorded task list replays
// against every fresh render of the map.
type Task struct {
	Instruction Instruction
	Points      []r3.Vector
}

// ParseDoCommand parses a postprocessing DoCommand payload into a Task.
func ParseDoCommand(unstructuredPoints interface{}, instruction Instruction) (Task, error) {
	pointSlice, ok := unstructuredPoints.([]interface{})
	if !ok {
		return Task{}, ErrPointsNotASlice
	}

	task := Task{Instruction: instruction}
	for _, point := range pointSlice {
		pointMap, ok := point.(map[string]interface{})
		if !ok {
			return Task{}, ErrPointNotAMap
		}

		x, err := coord(pointMap, xKey, ErrXNotProvided, ErrXNotFloat64)
		if err != nil {
			return Task{}, err
		}
		y, err := coord(pointMap, yKey, ErrYNotProvided, ErrYNotFloat64)
		if err != nil {
			return Task{}, err
		}

		task.Points = append(task.Points, r3.Vector{X: x, Y: y})
	}
	return task, nil
}

func coord(pointMap map[string]interface{}, key string, errMissing, errType error) (float64, error) {
	v, ok := pointMap[key]
	if !ok {
		return 0, errMissing
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errType
	}
	return f, nil
}

// Apply decodes the serialized map, replays the tasks in order and returns
// the edited map re-serialized as binary PCD. An empty task list returns a
// copy of the input unchanged.
func Apply(data []byte, tasks []Task) ([]byte, error) {
	if len(tasks) == 0 {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	pc, err := pointcloud.ReadPCD(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		switch task.Instruction {
		case Add:
			err = addPoints(pc, task.Points)
		case Remove:
			pc, err = withoutPoints(pc, task.Points)
		}
		if err != nil {
			return nil, err
		}
	}

	buf := bytes.Buffer{}
	if err := pointcloud.ToPCD(pc, &buf, pointcloud.PCDBinary); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addPoints(pc pointcloud.PointCloud, points []r3.Vector) error {
	// Downstream consumers read the confidence of a point from the blue
	// channel of its color, on a scale from 1-100.
	for _, point := range points {
		if err := pc.Set(point, pointcloud.NewColoredData(color.NRGBA{B: fullConfidence, R: fullConfidence})); err != nil {
			return err
		}
	}
	return nil
}

// withoutPoints rebuilds the cloud without any point within removalRadius
// of a removed point.
func withoutPoints(pc pointcloud.PointCloud, points []r3.Vector) (pointcloud.PointCloud, error) {
	kept := pointcloud.NewBasicPointCloud(pc.Size() - len(points))
	pointsVisited := 0

	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		pointsVisited++

		for _, point := range points {
			if point.Distance(p) <= removalRadius {
				return true
			}
		}

		return kept.Set(p, d) == nil
	})

	// iteration ends early only when a point could not be copied
	if pc.Size() != pointsVisited {
		return nil, ErrRemovingPoints
	}
	return kept, nil
}
