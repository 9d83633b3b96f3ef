package dataprocess

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestCreateTimestampFilename(t *testing.T) {
	timeStamp, err := time.Parse(time.RFC3339Nano, "2024-03-01T12:30:00.0000Z")
	test.That(t, err, test.ShouldBeNil)

	t.Run("joins directory, sensor name and timestamp", func(t *testing.T) {
		filename := CreateTimestampFilename("/tmp/slam", "rplidar", ".pcd", timeStamp)
		test.That(t, filename, test.ShouldEqual, "/tmp/slam/rplidar_data_2024-03-01T12:30:00.0000Z.pcd")
	})

	t.Run("sanitizes slashes in the sensor name", func(t *testing.T) {
		filename := CreateTimestampFilename("/tmp/slam", "scan/front", ".csv", timeStamp)
		test.That(t, filename, test.ShouldEqual, "/tmp/slam/scan_front_data_2024-03-01T12:30:00.0000Z.csv")
	})
}

func TestWriteBytesToFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "map.pcd")
	contents := []byte("VERSION .7\n")

	test.That(t, WriteBytesToFile(contents, filename), test.ShouldBeNil)

	read, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, contents)
}
