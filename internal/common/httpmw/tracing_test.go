package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordedRouter(t *testing.T) (*gin.Engine, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OtelTracing(provider.Tracer("test")))
	return router, exporter
}

func TestOtelTracingRecordsRequestSpan(t *testing.T) {
	router, exporter := newRecordedRouter(t)
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /health" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	attrs := make(map[string]interface{})
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["http.route"] != "/health" {
		t.Errorf("missing route attribute: %v", attrs)
	}
	if attrs["http.response.status_code"] != int64(http.StatusOK) {
		t.Errorf("missing status attribute: %v", attrs)
	}
}

func TestOtelTracingMarksServerErrors(t *testing.T) {
	router, exporter := newRecordedRouter(t)
	router.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status)
	}
}
