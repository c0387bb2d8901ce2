package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/config"
)

func TestSetupLogger_DevEnablesDebug(t *testing.T) {
	cfg := config.Config{AppEnv: "dev", OTELServiceName: "evalengine"}
	lg := SetupLogger(cfg)
	require.NotNil(t, lg)
	require.True(t, lg.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupLogger_ProdDefaultsToInfo(t *testing.T) {
	cfg := config.Config{AppEnv: "prod", OTELServiceName: "evalengine"}
	lg := SetupLogger(cfg)
	require.NotNil(t, lg)
	require.False(t, lg.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, lg.Enabled(context.Background(), slog.LevelInfo))
}

func TestLoggerContextRoundTrip(t *testing.T) {
	base := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := ContextWithLogger(context.Background(), base)
	require.Same(t, base, LoggerFromContext(ctx))

	// absent logger falls back to default
	require.NotNil(t, LoggerFromContext(context.Background()))
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	require.Equal(t, "req-123", RequestIDFromContext(ctx))
	require.Equal(t, "", RequestIDFromContext(context.Background()))

	// empty id is not stored
	ctx = ContextWithRequestID(context.Background(), "")
	require.Equal(t, "", RequestIDFromContext(ctx))
}

func TestInitMetricsIdempotent(t *testing.T) {
	InitMetrics()
	require.NotPanics(t, InitMetrics)
}
