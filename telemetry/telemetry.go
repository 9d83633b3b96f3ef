// Package telemetry wires up stats and trace reporting for the module
// process.
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// defaultReportingInterval is how often collected spans and stats are
// flushed to the exporter.
const defaultReportingInterval = 10 * time.Second

// Setup starts an exporter so the trace spans recorded across the service
// and the matching engine are reported. Callers must Stop the returned
// exporter on shutdown.
func Setup() (perf.Exporter, error) {
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: defaultReportingInterval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}
