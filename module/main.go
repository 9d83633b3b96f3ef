// Package main is a module with an NDT-PSO SLAM service model.
package main

import (
	"context"
	"strings"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/services/slam"
	"go.viam.com/utils"

	tinyracecarndt "github.com/amilearning/tiny-racecar-ndt"
	"github.com/amilearning/tiny-racecar-ndt/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("ndtpsoModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var versionFields []interface{}
	if Version != "" {
		versionFields = append(versionFields, "version", Version)
	}
	if GitRevision != "" {
		versionFields = append(versionFields, "git_rev", GitRevision)
	}
	if len(versionFields) != 0 {
		logger.Infow(tinyracecarndt.Model.String(), versionFields...)
	} else {
		logger.Info(tinyracecarndt.Model.String() + " built from source; version unknown")
	}

	if len(args) == 2 && strings.HasSuffix(args[1], "-version") {
		return nil
	}

	exporter, err := telemetry.Setup()
	if err != nil {
		return err
	}
	defer exporter.Stop()

	// Instantiate the module
	ndtModule, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	// Add the slam model to the module
	if err = ndtModule.AddModelFromRegistry(ctx, slam.API, tinyracecarndt.Model); err != nil {
		return err
	}

	// Start the module
	err = ndtModule.Start(ctx)
	defer ndtModule.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
