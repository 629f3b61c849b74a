package observability

import (
	"context"
	"testing"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}

func TestSetupEnabled(t *testing.T) {
	// The exporter connects lazily, so setup succeeds with no collector
	// running and shutdown flushes an empty batch.
	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:0",
		ServiceName: "warden-test",
		Environment: "test",
	}
	shutdown, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}
