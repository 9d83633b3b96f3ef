// Package sensors wraps the robot components the SLAM service reads from,
// pairing every reading with the time it was taken and, for replay
// sensors, the replayed timestamp.
package sensors

import (
	"time"
)

const replayTimestampErrorMessage = "replay sensor timestamp parse error"

var defaultTime = time.Time{}
