package tracing

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	flush, err := Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if flush == nil {
		t.Fatal("expected a flush function")
	}
	if err := flush(context.Background()); err != nil {
		t.Errorf("no-op flush returned %v", err)
	}
}

func TestStripScheme(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://collector:4318", "collector:4318"},
		{"https://collector:4318", "collector:4318"},
		{"collector:4318", "collector:4318"},
	}
	for _, tc := range cases {
		if got := stripScheme(tc.in); got != tc.want {
			t.Errorf("stripScheme(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
