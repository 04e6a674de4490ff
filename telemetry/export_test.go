package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// globalPropagatorSwap installs p as the global propagator and returns the previous one.
func globalPropagatorSwap(p propagation.TextMapPropagator) propagation.TextMapPropagator {
	old := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(p)
	return old
}
