package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"llmnode/internal/engine/enginetest"
	"llmnode/internal/registry"
)

func TestEnsureInstanceLoadsOnce(t *testing.T) {
	fake := enginetest.New("llama_cpp", "x")
	fake.VRAM = 3 << 20
	m, pub := newFakeManager(t, "once-engine", fake, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.EnsureInstance(testCtx(t), "m", ""); err != nil {
				t.Errorf("EnsureInstance: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := len(fake.Loads()); n != 1 {
		t.Fatalf("model loaded %d times", n)
	}
	if pub.Count(EventModelLoadStart) != 1 || pub.Count(EventModelLoadReady) != 1 {
		t.Fatalf("unexpected load events: %+v", pub.Events())
	}
	st := m.Status()
	if len(st.Instances) != 1 || st.Instances[0].EstVRAMMB != 3 || st.UsedMB != 3 {
		t.Fatalf("status %+v", st)
	}
	if st.LoadsTotal != 1 || st.State != string(StateReady) {
		t.Fatalf("status counters %+v", st)
	}
	snap := m.Snapshot()
	if snap.CurrentModel == nil || snap.CurrentModel.EngineID != "once-engine" {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestLoadFailureIsRetried(t *testing.T) {
	fake := enginetest.New("llama_cpp", "x")
	fake.LoadErr = errors.New("corrupt weights")
	m, pub := newFakeManager(t, "flaky-engine", fake, nil)
	if _, err := m.LoadModel(testCtx(t), "m", ""); !IsEngineFault(err) {
		t.Fatalf("expected engine fault, got %v", err)
	}
	if pub.Count(EventModelLoadError) != 1 || len(m.Status().Instances) != 0 {
		t.Fatalf("failed load must publish and leave no instance")
	}
	fake.LoadErr = nil
	info, err := m.LoadModel(testCtx(t), "m", "")
	if err != nil || info.EngineID != "flaky-engine" {
		t.Fatalf("retry: %+v %v", info, err)
	}
}

func TestUnloadDrainsAndRemoves(t *testing.T) {
	fake := enginetest.New("llama_cpp", "x")
	fake.VRAM = 2 << 20
	m, pub := newFakeManager(t, "unload-engine", fake, nil)
	if err := m.EnsureInstance(testCtx(t), "m", ""); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if err := m.Unload("m"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	st := m.Status()
	if len(st.Instances) != 0 || st.UsedMB != 0 {
		t.Fatalf("instance not removed: %+v", st)
	}
	if pub.Count(EventUnloadStart) != 1 || pub.Count(EventUnloadDone) != 1 {
		t.Fatalf("unload events missing")
	}
	if err := m.Unload("m"); !IsModelNotFound(err) {
		t.Fatalf("second unload: %v", err)
	}
}

func TestSwitchLoadsInBackground(t *testing.T) {
	fake := enginetest.New("llama_cpp", "x")
	m, _ := newFakeManager(t, "switch-engine", fake, nil)
	op, err := m.Switch(context.Background(), "m", "")
	if err != nil || op == "" {
		t.Fatalf("Switch: %q %v", op, err)
	}
	waitFor(t, func() bool {
		st := m.Status()
		return len(st.Instances) == 1 && st.Instances[0].State == string(StateReady)
	})
	waitFor(t, func() bool { return m.ActiveRequests() == 0 })
	op2, _ := m.Switch(context.Background(), "m", "")
	if op2 == op {
		t.Fatalf("operation ids must be unique")
	}
}

func TestEnginesAndModelsViews(t *testing.T) {
	m, _ := newFakeManager(t, "view-engine", enginetest.New("llama_cpp"), nil)
	if !m.Ready() {
		t.Fatalf("registered engine should make the node ready")
	}
	eng := m.Engines()
	if len(eng.Engines) != 1 || eng.Engines[0].EngineID != "view-engine" || eng.Engines[0].Runtime != "llama_cpp" {
		t.Fatalf("engines %+v", eng)
	}
	models := m.ListModels()
	if len(models) != 1 || models[0].ID != "m" || models[0].Format != "gguf" {
		t.Fatalf("models %+v", models)
	}
}

func TestEmptyRegistryIsNotReady(t *testing.T) {
	m := NewWithConfig(ManagerConfig{Registry: registry.New(), Models: staticModels{"m": llamaModel("m")}, DefaultModel: "m"})
	if m.Ready() {
		t.Fatalf("no engines: not ready")
	}
	if err := m.EnsureInstance(testCtx(t), "", ""); !registry.IsNoEngine(err) {
		t.Fatalf("expected no engine error, got %v", err)
	}
	rep := m.SanityCheck(testCtx(t))
	if rep.Error == "" || rep.EnginesRegistered != 0 {
		t.Fatalf("sanity %+v", rep)
	}
}

func TestCloseUnloadsEverything(t *testing.T) {
	m, _ := newFakeManager(t, "close-engine", enginetest.New("llama_cpp", "x"), nil)
	if err := m.EnsureInstance(testCtx(t), "m", ""); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(m.Status().Instances); n != 0 {
		t.Fatalf("instances after close: %d", n)
	}
}

func TestSanityCheckReportsUnservableModels(t *testing.T) {
	gemma := llamaModel("g")
	gemma.Architectures = []string{"gemma"}
	onnx := llamaModel("o")
	onnx.Runtime = "onnx"
	m, _ := newFakeManager(t, "sanity-engine", enginetest.New("llama_cpp"), func(c *ManagerConfig) {
		c.Models = staticModels{"m": llamaModel("m"), "g": gemma, "o": onnx}
	})
	rep := m.SanityCheck(testCtx(t))
	if rep.Error != "" || rep.EnginesRegistered != 1 {
		t.Fatalf("sanity %+v", rep)
	}
	if len(rep.Unservable) != 2 {
		t.Fatalf("expected two unservable models, got %v", rep.Unservable)
	}
	if _, ok := rep.Unservable["m"]; ok {
		t.Fatalf("llama model is servable: %v", rep.Unservable)
	}
	if !strings.Contains(rep.Unservable["g"], "gemma") || !strings.Contains(rep.Unservable["o"], "onnx") {
		t.Fatalf("unexpected reasons: %v", rep.Unservable)
	}
}
