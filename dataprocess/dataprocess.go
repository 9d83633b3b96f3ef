// Package dataprocess manages code related to the data-saving process.
package dataprocess

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// SlamTimeFormat is the timestamp format used in map and trajectory filenames.
	SlamTimeFormat = "2006-01-02T15:04:05.0000Z"
)

// SanitizeName makes a sensor name safe to use in a filename.
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// CreateTimestampFilename creates an absolute filename with the primary sensor
// name and a timestamp written into the filename.
func CreateTimestampFilename(dataDirectory, primarySensorName, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, SanitizeName(primarySensorName)+"_data_"+timeStamp.UTC().Format(SlamTimeFormat)+fileType)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
