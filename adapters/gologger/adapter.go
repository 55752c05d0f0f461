package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-collab/core"
)

func loggerName(deps core.Dependencies, component string) string {
	name := deps.Config.SessionName
	if name == "" {
		name = core.DefaultSessionName
	}
	if component != "" {
		name += "." + component
	}
	return name
}

// ComponentTelemetry names a logger after component and pairs it with the
// session metrics recorder.
func ComponentTelemetry(deps core.Dependencies, component string) core.Telemetry {
	return core.NewTelemetry(deps.NamedLogger(loggerName(deps, component)), deps.MetricsRecorder)
}

// JobLoggers bridges the session logger pair to go-job workers consuming
// collab jobs. The provider wins over the bare logger; with neither set the
// bridge logs nowhere.
func JobLoggers(deps core.Dependencies) (job.LoggerProvider, job.Logger) {
	provider, logger := glog.Resolve(loggerName(deps, "jobs"), deps.LoggerProvider, deps.Logger)
	var (
		jobProvider job.LoggerProvider
		jobLogger   job.Logger
	)
	if provider != nil {
		jobProvider = job.GoLoggerProvider(provider)
	}
	if logger != nil {
		jobLogger = job.GoLogger(logger)
	}
	return jobProvider, jobLogger
}
