package manager

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"llmnode/internal/device"
	"llmnode/internal/engine/enginetest"
)

func TestCheckVRAMAbsoluteLimit(t *testing.T) {
	s := device.Summarize([]device.Device{{TotalBytes: 100, FreeBytes: 20, Available: true}})
	if err := checkVRAM(s, 30, 1); !IsResourceExhausted(err) {
		t.Fatalf("30 units with 80 used must be rejected, got %v", err)
	}
}

func TestCheckVRAMSharedBudget(t *testing.T) {
	s := device.Summarize([]device.Device{{TotalBytes: 100, FreeBytes: 20, Available: true}})
	if err := checkVRAM(s, 10, 2); err != nil {
		t.Fatalf("10 units within a 50 unit budget should pass: %v", err)
	}
	if err := checkVRAM(s, 60, 2); !IsResourceExhausted(err) {
		t.Fatalf("60 units over a 50 unit budget must be rejected, got %v", err)
	}
}

func TestCheckVRAMSkipsUnknowns(t *testing.T) {
	if err := checkVRAM(device.Summary{}, 1<<40, 1); err != nil {
		t.Fatalf("no devices must admit: %v", err)
	}
	s := device.Summarize([]device.Device{{TotalBytes: 100, FreeBytes: 0, Available: true}})
	if err := checkVRAM(s, 0, 1); err != nil {
		t.Fatalf("unknown requirement must admit: %v", err)
	}
}

func TestCheckVRAMProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.Uint64Range(1, 1<<20).Draw(t, "total")
		free := rapid.Uint64Range(0, total).Draw(t, "free")
		engines := rapid.IntRange(1, 8).Draw(t, "engines")
		required := rapid.Uint64Range(1, 2*total).Draw(t, "required")
		s := device.Summarize([]device.Device{{TotalBytes: total, FreeBytes: free, Available: true}})
		err := checkVRAM(s, required, engines)
		fits := required <= total/uint64(engines) && required <= free
		if fits && err != nil {
			t.Fatalf("required=%d total=%d free=%d engines=%d rejected: %v", required, total, free, engines, err)
		}
		if !fits && !IsResourceExhausted(err) {
			t.Fatalf("required=%d total=%d free=%d engines=%d admitted", required, total, free, engines)
		}
	})
}

func TestLoadRejectedByVRAMDropsInstance(t *testing.T) {
	fake := enginetest.New("llama_cpp", "x")
	fake.VRAM = 8 << 30
	m, pub := newFakeManager(t, "vram-engine", fake, func(c *ManagerConfig) {
		c.Devices = device.Static{{TotalBytes: 16 << 30, FreeBytes: 4 << 30, Available: true}}
	})
	err := m.EnsureInstance(testCtx(t), "m", "")
	if !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if len(fake.Loads()) != 0 {
		t.Fatalf("engine must not load a rejected model")
	}
	if pub.Count(EventVRAMRejected) != 1 {
		t.Fatalf("expected one vram_rejected event")
	}
	if n := len(m.Status().Instances); n != 0 {
		t.Fatalf("rejected instance left behind: %d", n)
	}
}

func TestDeviceProbeFailureAdmits(t *testing.T) {
	fake := enginetest.New("llama_cpp", "x")
	fake.VRAM = 1 << 40
	m, _ := newFakeManager(t, "probe-engine", fake, func(c *ManagerConfig) {
		c.Devices = device.Func(func(ctx context.Context) ([]device.Device, error) {
			return nil, errors.New("no driver")
		})
	})
	if err := m.EnsureInstance(testCtx(t), "m", ""); err != nil {
		t.Fatalf("probe failure should admit: %v", err)
	}
}
