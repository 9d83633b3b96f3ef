package matcher

import (
	"bytes"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"

	"github.com/amilearning/tiny-racecar-ndt/ndt"
)

// metersToMillis converts engine coordinates to the millimeter convention
// of rdk point clouds.
const metersToMillis = 1000.

// renderMap serializes the reference frame as binary PCD. Cell means are
// emitted with their sample count as probability; when the occupancy grid
// is enabled its hit cells are emitted as well.
func (m *Matcher) renderMap() ([]byte, error) {
	if m.refFrame == nil {
		return nil, errors.New("matcher not initialized")
	}

	pc := pointcloud.NewBasicEmpty()
	var insertErr error
	m.refFrame.EachPopulatedCell(func(mean ndt.Point, cell *ndt.Cell) {
		if insertErr != nil {
			return
		}
		prob := cell.Count()
		if prob > 100 {
			prob = 100
		}
		d := pointcloud.NewBasicData().SetValue(prob)
		insertErr = pc.Set(r3.Vector{X: mean.X * metersToMillis, Y: mean.Y * metersToMillis}, d)
	})
	if insertErr != nil {
		return nil, errors.Wrap(insertErr, "rendering reference map")
	}

	if occ := m.refFrame.Occupancy(); occ != nil {
		occ.Each(func(center ndt.Point, hits uint32) {
			if insertErr != nil {
				return
			}
			prob := int(hits)
			if prob > 100 {
				prob = 100
			}
			d := pointcloud.NewBasicData().SetValue(prob)
			insertErr = pc.Set(r3.Vector{X: center.X * metersToMillis, Y: center.Y * metersToMillis}, d)
		})
		if insertErr != nil {
			return nil, errors.Wrap(insertErr, "rendering occupancy grid")
		}
	}

	buf := bytes.Buffer{}
	if err := pointcloud.ToPCD(pc, &buf, pointcloud.PCDBinary); err != nil {
		return nil, errors.Wrap(err, "issue serializing point cloud")
	}
	return buf.Bytes(), nil
}

// trajectoryCSV serializes the pose log; this is the engine's portable
// internal state.
func (m *Matcher) trajectoryCSV() ([]byte, error) {
	if m.refFrame == nil {
		return nil, errors.New("matcher not initialized")
	}

	buf := bytes.Buffer{}
	buf.WriteString("time_unix_nano,x_m,y_m,theta_rad\n")
	for _, tp := range m.poses {
		fmt.Fprintf(&buf, "%d,%.6f,%.6f,%.6f\n", tp.Time.UnixNano(), tp.Pose.X, tp.Pose.Y, tp.Pose.Theta)
	}
	return buf.Bytes(), nil
}
