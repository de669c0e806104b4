package limits

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/tickwatch/alertserver/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxConnections:     10,
		MaxGoroutines:      1000,
		CPURejectThreshold: 75.0,
		CPUPauseThreshold:  80.0,
	}
}

func TestShouldAcceptConnectionUnderLimit(t *testing.T) {
	g := NewGuard(testConfig(), zerolog.Nop(), func() int64 { return 0 })

	accept, reason := g.ShouldAcceptConnection()
	if !accept {
		t.Fatalf("expected acceptance, got rejection: %s", reason)
	}
}

func TestShouldAcceptConnectionAtHardCap(t *testing.T) {
	g := NewGuard(testConfig(), zerolog.Nop(), func() int64 { return 10 })

	accept, _ := g.ShouldAcceptConnection()
	if accept {
		t.Fatal("expected rejection at the hard connection cap")
	}
}

func TestShouldAcceptConnectionRejectsOnCPUOverload(t *testing.T) {
	g := NewGuard(testConfig(), zerolog.Nop(), func() int64 { return 0 })
	g.currentCPU.Store(90.0)

	accept, reason := g.ShouldAcceptConnection()
	if accept {
		t.Fatal("expected rejection under CPU overload")
	}
	if reason == "" {
		t.Fatal("expected a non-empty rejection reason")
	}
}

func TestShouldPauseUpstreamTracksPauseThreshold(t *testing.T) {
	g := NewGuard(testConfig(), zerolog.Nop(), func() int64 { return 0 })

	g.currentCPU.Store(79.0)
	if g.ShouldPauseUpstream() {
		t.Fatal("should not pause below the pause threshold")
	}

	g.currentCPU.Store(85.0)
	if !g.ShouldPauseUpstream() {
		t.Fatal("should pause above the pause threshold")
	}
}
