package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "2xx", StatusClass(204))
	require.Equal(t, "3xx", StatusClass(304))
	require.Equal(t, "4xx", StatusClass(404))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "unknown", StatusClass(99))
}

func TestRecordersAreSafeWithoutInit(t *testing.T) {
	ctx := context.Background()

	RecordHTTP(ctx, http.MethodGet, 200, 128, 5*time.Millisecond)
	RecordIngest(ctx, "move", "ok", 1024)
	RecordStoreOp(ctx, "remove", "ok")
	RecordClipboard(ctx, "paste")
	RecordSweep(ctx, 1, 2, 0, 0, time.Second)
}

func TestPrometheusHandlerWithoutInit(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	PrometheusHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitMetrics(t *testing.T) {
	shutdown, err := InitMetrics(context.Background(), MetricsConfig{
		ServiceName:    "tempdesk-test",
		ServiceVersion: "0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx := context.Background()
	RecordIngest(ctx, "copy", "ok", 4096)
	RecordSweep(ctx, 0, 1, 0, 0, 10*time.Millisecond)

	require.NoError(t, shutdown(ctx))
}
