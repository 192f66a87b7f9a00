package adaptive

import (
	"testing"

	"shuttle/internal/machine"
)

func TestControllerStartsAtMin(t *testing.T) {
	c := NewController(1, 6, 3, 2)
	if c.Current() != 1 {
		t.Fatalf("Current() = %d, want 1", c.Current())
	}
}

func TestControllerClimbsToMaxAndHolds(t *testing.T) {
	c := NewController(1, 4, 3, 2)
	clean := PressureCheck{}
	for i := 0; i < 60; i++ {
		c.Observe(clean)
		if c.Current() > 4 {
			t.Fatalf("concurrency %d exceeded max after %d batches", c.Current(), i+1)
		}
	}
	if c.Current() != 4 {
		t.Fatalf("repeated clean batches should reach max, got %d", c.Current())
	}
}

func TestControllerIncreaseCadence(t *testing.T) {
	c := NewController(1, 8, 3, 2)
	clean := PressureCheck{}
	// Increments land on every third clean batch.
	for i := 1; i <= 9; i++ {
		c.Observe(clean)
		want := 1 + i/3
		if c.Current() != want {
			t.Fatalf("after %d clean batches Current() = %d, want %d", i, c.Current(), want)
		}
	}
}

func TestControllerHalvesOnPressure(t *testing.T) {
	c := NewController(1, 8, 1, 2)
	clean := PressureCheck{}
	for i := 0; i < 7; i++ {
		c.Observe(clean)
	}
	if c.Current() != 8 {
		t.Fatalf("setup failed: Current() = %d, want 8", c.Current())
	}
	prev, cur := c.Observe(PressureCheck{HasPressure: true, Reason: "test"})
	if prev != 8 || cur != 4 {
		t.Fatalf("pressure should halve 8 -> 4, got %d -> %d", prev, cur)
	}
}

func TestControllerNeverDropsBelowMin(t *testing.T) {
	c := NewController(2, 8, 1, 2)
	pressured := PressureCheck{HasPressure: true}
	for i := 0; i < 5; i++ {
		c.Observe(pressured)
		if c.Current() < 2 {
			t.Fatalf("concurrency %d dropped below min", c.Current())
		}
	}
	if c.Current() != 2 {
		t.Fatalf("Current() = %d, want pinned at min 2", c.Current())
	}
}

func TestCooldownSuppressesIncreasesExactly(t *testing.T) {
	c := NewController(1, 8, 1, 2)
	clean := PressureCheck{}
	for i := 0; i < 3; i++ {
		c.Observe(clean)
	}
	if c.Current() != 4 {
		t.Fatalf("setup failed: Current() = %d, want 4", c.Current())
	}
	c.Observe(PressureCheck{HasPressure: true})
	if c.Current() != 2 {
		t.Fatalf("halving failed: Current() = %d, want 2", c.Current())
	}
	// Two cooldown batches hold the value even though increaseEvery is 1.
	c.Observe(clean)
	if c.Current() != 2 {
		t.Fatalf("first cooldown batch changed concurrency to %d", c.Current())
	}
	c.Observe(clean)
	if c.Current() != 2 {
		t.Fatalf("second cooldown batch changed concurrency to %d", c.Current())
	}
	c.Observe(clean)
	if c.Current() != 3 {
		t.Fatalf("post-cooldown batch should increment to 3, got %d", c.Current())
	}
}

func TestDetectPressureFreeFloor(t *testing.T) {
	thresholds := Thresholds{FreeFloorMB: 512, RSSRatio: 0.6}
	after := machine.Snapshot{RSSMB: 100, FreeMB: 200, TotalMB: 16000}
	check := DetectPressure(machine.Snapshot{}, after, thresholds)
	if !check.HasPressure {
		t.Fatal("free memory below floor must signal pressure")
	}
	if check.Reason == "" {
		t.Fatal("pressure verdicts must carry a reason")
	}
}

func TestDetectPressureRSSRatio(t *testing.T) {
	thresholds := Thresholds{FreeFloorMB: 512, RSSRatio: 0.6}
	after := machine.Snapshot{RSSMB: 11000, FreeMB: 4000, TotalMB: 16000}
	if !DetectPressure(machine.Snapshot{}, after, thresholds).HasPressure {
		t.Fatal("rss above ratio must signal pressure")
	}
}

func TestDetectPressureHealthy(t *testing.T) {
	thresholds := Thresholds{FreeFloorMB: 512, RSSRatio: 0.6}
	after := machine.Snapshot{RSSMB: 1000, FreeMB: 8000, TotalMB: 16000}
	if DetectPressure(machine.Snapshot{}, after, thresholds).HasPressure {
		t.Fatal("healthy snapshot must not signal pressure")
	}
}

func TestDetectPressureUnknownReadings(t *testing.T) {
	thresholds := Thresholds{FreeFloorMB: 512, RSSRatio: 0.6}
	if DetectPressure(machine.Snapshot{}, machine.Snapshot{}, thresholds).HasPressure {
		t.Fatal("zero readings mean unknown, not pressure")
	}
}
