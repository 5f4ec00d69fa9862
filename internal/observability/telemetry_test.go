package observability

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	cfg := NewConfig()
	tel, cleanup, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	if tel.Metrics() != nil {
		t.Error("disabled telemetry should expose nil metrics")
	}
}

func TestInitStdout(t *testing.T) {
	cfg := NewConfig()
	cfg.Exporter = "stdout"

	tel, cleanup, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	if tel.Metrics() == nil {
		t.Fatal("metrics should be initialized")
	}

	// Instruments must tolerate recording
	tel.Metrics().ConnectionOpened()
	tel.Metrics().EventPublished("UserJoined")
	tel.Metrics().ConnectionEvicted("reap")
	tel.Metrics().ConnectionClosed()
}

func TestInitUnknownExporter(t *testing.T) {
	cfg := NewConfig()
	cfg.Exporter = "carrier-pigeon"

	if _, _, err := Init(context.Background(), cfg); err == nil {
		t.Fatal("unknown exporter should fail")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.EventPublished("Typing")
	m.ConnectionEvicted("push-failure")
}
