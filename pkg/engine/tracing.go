package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const runtimeTracerName = "simnet.runtime"

const (
	spanSimulationRun = "simulation.run"
	spanModuleRun     = "module.run"
)

func runtimeTracer() trace.Tracer {
	return otel.Tracer(runtimeTracerName)
}
