package manager

import (
	"errors"
	"testing"

	"llmnode/internal/engine/enginetest"
	"llmnode/internal/host"
)

func TestCrashRestagesAndSwapsWhenIdle(t *testing.T) {
	boom := errors.New("segfault in adapter")
	env := newPluginEnv(t, "ext")
	env.configure = func(n int, f *enginetest.Fake) {
		if n == 0 {
			f.Err = boom
		}
	}
	m, pub := env.manager(nil)

	_, err := m.GenerateChat(testCtx(t), chatReq(""))
	if !errors.Is(err, boom) {
		t.Fatalf("original error must be returned, got %v", err)
	}
	if pub.Count(EventPluginCrash) != 1 || pub.Count(EventPluginsApplied) != 1 {
		t.Fatalf("crash=%d applied=%d", pub.Count(EventPluginCrash), pub.Count(EventPluginsApplied))
	}
	fakes := env.fakes()
	if len(fakes) != 2 {
		t.Fatalf("expected a restaged engine, factory ran %d times", len(fakes))
	}
	if got, _ := m.Registry().Lookup("ext"); got != fakes[1] {
		t.Fatalf("registry must serve the restaged engine")
	}
	if fakes[0].Destroyed() != 1 || env.loader.Closes(env.lib) != 1 {
		t.Fatalf("crashed engine destroyed=%d closes=%d", fakes[0].Destroyed(), env.loader.Closes(env.lib))
	}
	if m.host.RestartState().Pending {
		t.Fatalf("restart flag should clear after apply")
	}

	resp, err := m.GenerateChat(testCtx(t), chatReq(""))
	if err != nil {
		t.Fatalf("retry after restage: %v", err)
	}
	if resp.Content != "ab" || len(fakes[1].Loads()) != 1 {
		t.Fatalf("model not reloaded into the fresh engine: %+v", resp)
	}
}

func TestApplyWaitsForActiveRequests(t *testing.T) {
	env := newPluginEnv(t, "ext")
	env.configure = func(n int, f *enginetest.Fake) {
		if n == 0 {
			f.Block = make(chan struct{})
			f.Entered = make(chan struct{}, 1)
		}
	}
	m, _ := env.manager(nil)
	first := env.fakes()[0]

	errCh := make(chan error, 1)
	go func() {
		_, err := m.GenerateChat(testCtx(t), chatReq(""))
		errCh <- err
	}()
	<-first.Entered

	resp, err := m.ReloadEnginePlugins(testCtx(t))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(resp.Staged) != 1 || len(resp.Applied) != 0 {
		t.Fatalf("reload while busy: %+v", resp)
	}
	for i := 0; i < 3; i++ {
		if ids := m.ApplyPendingIfIdle(); ids != nil {
			t.Fatalf("apply while busy swapped %v", ids)
		}
		if got, _ := m.Registry().Lookup("ext"); got != first {
			t.Fatalf("active engine changed while a request was in flight")
		}
	}

	close(first.Block)
	if err := <-errCh; err != nil {
		t.Fatalf("in-flight request: %v", err)
	}
	fakes := env.fakes()
	if got, _ := m.Registry().Lookup("ext"); got != fakes[1] {
		t.Fatalf("staged engine not applied once idle")
	}
	if first.Destroyed() != 1 || env.loader.Closes(env.lib) != 1 {
		t.Fatalf("old engine destroyed=%d closes=%d", first.Destroyed(), env.loader.Closes(env.lib))
	}
	if ids := m.ApplyPendingIfIdle(); ids != nil {
		t.Fatalf("second apply swapped %v", ids)
	}
}

func TestReloadWhenIdleAppliesImmediately(t *testing.T) {
	env := newPluginEnv(t, "ext")
	m, pub := env.manager(nil)
	resp, err := m.ReloadEnginePlugins(testCtx(t))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(resp.Applied) != 1 || resp.Applied[0] != "ext" {
		t.Fatalf("applied = %v", resp.Applied)
	}
	if pub.Count(EventPluginsStaged) != 1 {
		t.Fatalf("expected plugins_staged event")
	}
	if e := m.Engines(); len(e.Engines) != 1 || len(e.Pending) != 0 {
		t.Fatalf("engines view %+v", e)
	}
}

func TestReloadWithoutPluginDir(t *testing.T) {
	m, _ := newFakeManager(t, "solo", enginetest.New("llama_cpp"), nil)
	if _, err := m.ReloadEnginePlugins(testCtx(t)); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestRestartPolicyRestagesAfterRequestLimit(t *testing.T) {
	env := newPluginEnv(t, "ext")
	m, pub := env.manager(func(c *ManagerConfig) {
		c.RestartPolicy = host.RestartPolicy{RequestLimit: 2}
	})
	for i := 0; i < 2; i++ {
		if _, err := m.GenerateChat(testCtx(t), chatReq("")); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if n := len(env.fakes()); n != 2 {
		t.Fatalf("factory ran %d times, want 2", n)
	}
	if pub.Count(EventPluginsApplied) != 1 {
		t.Fatalf("expected one policy swap")
	}
	st := m.Engines().Restart
	if st.Pending || st.RequestLimit != 2 {
		t.Fatalf("restart status %+v", st)
	}
}

func TestLoadEnginePluginsReportsFailures(t *testing.T) {
	env := newPluginEnv(t, "ext")
	env.loader.FailOpen(env.lib, errors.New("bad elf"))
	m := NewWithConfig(ManagerConfig{Host: env.host, PluginDir: env.dir, Models: staticModels{}})
	rep, err := m.LoadEnginePlugins()
	if !host.IsLoad(err) || len(rep.Failed) != 1 {
		t.Fatalf("expected a load failure, got %v %+v", err, rep)
	}
	if m.Ready() {
		t.Fatalf("no engines registered: node must not be ready")
	}
}
