package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/appointment-booking-engine/internal/config"
)

func TestSetupDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{Enabled: false, ServiceName: "booking-test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(context.Background(), carrier)
	assert.Empty(t, carrier.Get("traceparent"))
}

func TestSetupEnabledReturnsShutdown(t *testing.T) {
	// The gRPC exporter connects lazily so no collector is needed here.
	shutdown, err := Setup(context.Background(), Options{
		Enabled:      true,
		ServiceName:  "booking-test",
		OTLPEndpoint: "127.0.0.1:4317",
		SampleRatio:  1,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.Config{
		Env:             "prod",
		Version:         "1.2.3",
		OTelEnabled:     true,
		OTelEndpoint:    "collector:4317",
		OTelSampleRatio: 0.25,
	}, "booking-api")

	assert.Equal(t, Options{
		Enabled:      true,
		ServiceName:  "booking-api",
		Version:      "1.2.3",
		Env:          "prod",
		OTLPEndpoint: "collector:4317",
		SampleRatio:  0.25,
	}, opts)
}
