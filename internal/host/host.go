// Package host owns engine plugins: it validates manifests, opens plugin
// libraries, instantiates engines and registers them, and it stages and applies
// replacements while traffic is live.
//
// Every library handle and engine instance is owned here. A handle is released
// by destroying the engine through the plugin's deleter first and closing the
// library second, exactly once.
package host

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmnode/internal/common/fsutil"
	"llmnode/internal/engine"
	"llmnode/internal/library"
	"llmnode/internal/manifest"
	"llmnode/internal/registry"
)

// Registrar is the part of the registry the host mutates.
type Registrar interface {
	Register(engine.Engine, registry.Registration) error
	Replace(engine.Engine, registry.Registration) (engine.Engine, error)
}

// Config configures a Host. Zero values select defaults.
type Config struct {
	Loader library.Loader
	// GPUTargets overrides the compiled-in backend set used to filter plugins.
	GPUTargets []string
	GOOS       string
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Info describes a loaded or pending plugin.
type Info struct {
	EngineID      string `json:"engine_id"`
	EngineVersion string `json:"engine_version"`
	Runtime       string `json:"runtime"`
	Library       string `json:"library"`
	Manifest      string `json:"manifest"`
}

// ScanReport summarizes a directory scan.
type ScanReport struct {
	Loaded  []string         `json:"loaded,omitempty"`
	Staged  []string         `json:"staged,omitempty"`
	Skipped []string         `json:"skipped,omitempty"`
	Failed  map[string]error `json:"-"`
}

func (r *ScanReport) fail(path string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[path] = err
}

// Host is safe for concurrent use.
type Host struct {
	loader library.Loader
	gpu    []string
	goos   string
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	loaded  map[string]*pluginHandle
	pending map[string]*pluginHandle
	dir     string
	hctx    *engine.HostContext
	restart restartState
}

// New constructs a Host.
func New(cfg Config) *Host {
	h := &Host{
		loader:  cfg.Loader,
		gpu:     cfg.GPUTargets,
		goos:    cfg.GOOS,
		log:     cfg.Logger,
		now:     cfg.Now,
		loaded:  make(map[string]*pluginHandle),
		pending: make(map[string]*pluginHandle),
	}
	if h.loader == nil {
		h.loader = library.NewPluginLoader()
	}
	if h.gpu == nil {
		h.gpu = CompiledGPUTargets()
	}
	if h.goos == "" {
		h.goos = runtime.GOOS
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.restart.lastStaged = h.now()
	return h
}

// pluginHandle is a LoadedPlugin or a PendingPlugin.
type pluginHandle struct {
	reg      registry.Registration
	runtime  string
	manifest string
	libPath  string
	lib      library.Library
	eng      engine.Engine
	destroy  engine.Deleter

	loader  library.Loader
	log     zerolog.Logger
	release sync.Once
}

func (p *pluginHandle) close() {
	p.release.Do(func() {
		if p.destroy != nil && p.eng != nil {
			p.destroy(p.eng)
		}
		p.eng = nil
		if err := p.loader.Close(p.lib); err != nil {
			p.log.Warn().Err(err).Str("library", p.libPath).Msg("close plugin library")
		}
	})
}

func (p *pluginHandle) info() Info {
	return Info{
		EngineID:      p.reg.EngineID,
		EngineVersion: p.reg.EngineVersion,
		Runtime:       p.runtime,
		Library:       p.libPath,
		Manifest:      p.manifest,
	}
}

// manifestPath accepts a manifest file or the directory holding it.
func manifestPath(path string) string {
	if fsutil.IsDir(path) {
		return filepath.Join(path, manifest.FileName)
	}
	return path
}

// prepare runs the full pipeline short of registration. A nil handle with a
// nil error means the plugin was skipped for GPU-target incompatibility.
func (h *Host) prepare(path string, hctx *engine.HostContext) (*pluginHandle, error) {
	mpath := manifestPath(path)
	m, err := manifest.Load(mpath, engine.ABIVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mpath, err)
	}
	if !manifest.GPUTargetsCompatible(m.GPUTargets, h.gpu) {
		h.log.Info().Str("engine_id", m.EngineID).Strs("gpu_targets", m.GPUTargets).Strs("host_targets", h.gpu).Msg("skipping plugin: no compatible gpu target")
		return nil, nil
	}
	if hctx == nil {
		hctx = &engine.HostContext{ABIVersion: engine.ABIVersion}
	}
	if hctx.ABIVersion != m.ABIVersion {
		return nil, &LoadError{EngineID: m.EngineID, Path: mpath, Stage: StageABI,
			Err: fmt.Errorf("host context abi_version %d does not match manifest %d", hctx.ABIVersion, m.ABIVersion)}
	}

	libPath := manifest.ResolveLibraryPath(filepath.Dir(mpath), m.Library, h.goos)
	lib, err := h.loader.Open(libPath)
	if err != nil {
		return nil, &LoadError{EngineID: m.EngineID, Path: libPath, Stage: StageOpen, Err: err}
	}
	fail := func(stage string, err error) (*pluginHandle, error) {
		if cerr := h.loader.Close(lib); cerr != nil {
			h.log.Warn().Err(cerr).Str("library", libPath).Msg("close plugin library")
		}
		return nil, &LoadError{EngineID: m.EngineID, Path: libPath, Stage: stage, Err: err}
	}

	factory, err := lookupFactory(lib)
	if err != nil {
		return fail(StageSymbol, err)
	}
	destroy, err := lookupDeleter(lib)
	if err != nil {
		return fail(StageSymbol, err)
	}

	pctx := *hctx
	pctx.Logger = h.log.With().Str("plugin", m.EngineID).Logger()
	eng := factory(&pctx)
	if eng == nil {
		return fail(StageFactory, errors.New("factory returned no engine"))
	}
	if rt := eng.Runtime(); !m.DeclaresRuntime(rt) {
		destroy(eng)
		return fail(StageRuntime, fmt.Errorf("engine runtime %q not declared in manifest runtimes %v", rt, m.Runtimes))
	}

	return &pluginHandle{
		reg: registry.Registration{
			EngineID:      m.EngineID,
			EngineVersion: m.EngineVersion,
			Formats:       m.Formats,
			Architectures: m.Architectures,
			Capabilities:  m.Capabilities,
		},
		runtime:  eng.Runtime(),
		manifest: mpath,
		libPath:  libPath,
		lib:      lib,
		eng:      eng,
		destroy:  destroy,
		loader:   h.loader,
		log:      h.log,
	}, nil
}

func lookupFactory(lib library.Library) (engine.Factory, error) {
	sym, err := lib.Lookup(engine.FactorySymbol)
	if err != nil {
		return nil, err
	}
	var f engine.Factory
	switch v := sym.(type) {
	case engine.Factory:
		f = v
	case func(*engine.HostContext) engine.Engine:
		f = v
	case *engine.Factory:
		if v != nil {
			f = *v
		}
	case *func(*engine.HostContext) engine.Engine:
		if v != nil {
			f = *v
		}
	}
	if f == nil {
		return nil, fmt.Errorf("%s has unexpected type %T", engine.FactorySymbol, sym)
	}
	return f, nil
}

func lookupDeleter(lib library.Library) (engine.Deleter, error) {
	sym, err := lib.Lookup(engine.DeleterSymbol)
	if err != nil {
		return nil, err
	}
	var d engine.Deleter
	switch v := sym.(type) {
	case engine.Deleter:
		d = v
	case func(engine.Engine):
		d = v
	case *engine.Deleter:
		if v != nil {
			d = *v
		}
	case *func(engine.Engine):
		if v != nil {
			d = *v
		}
	}
	if d == nil {
		return nil, fmt.Errorf("%s has unexpected type %T", engine.DeleterSymbol, sym)
	}
	return d, nil
}

// LoadPlugin loads one plugin (manifest path or plugin directory) and registers
// its engine. A GPU-incompatible plugin is skipped without error.
func (h *Host) LoadPlugin(path string, reg Registrar, hctx *engine.HostContext) error {
	_, err := h.loadOne(path, reg, hctx)
	return err
}

func (h *Host) loadOne(path string, reg Registrar, hctx *engine.HostContext) (string, error) {
	p, err := h.prepare(path, hctx)
	if err != nil || p == nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.loaded[p.reg.EngineID]; ok {
		p.close()
		return "", &LoadError{EngineID: p.reg.EngineID, Path: p.manifest, Stage: StageRegister,
			Err: fmt.Errorf("engine_id already loaded: %s", p.reg.EngineID)}
	}
	if err := reg.Register(p.eng, p.reg); err != nil {
		p.close()
		return "", &LoadError{EngineID: p.reg.EngineID, Path: p.manifest, Stage: StageRegister, Err: err}
	}
	h.loaded[p.reg.EngineID] = p
	h.log.Info().Str("engine_id", p.reg.EngineID).Str("version", p.reg.EngineVersion).Str("runtime", p.runtime).Str("library", p.libPath).Msg("engine plugin loaded")
	return p.reg.EngineID, nil
}

// scanDir lists plugin manifests under dir: dir/manifest.json and
// dir/*/manifest.json. A missing dir yields nothing.
func scanDir(dir string) ([]string, error) {
	out, err := fsutil.FindOneLevel(dir, manifest.FileName)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}
	return out, nil
}

// LoadPluginsFromDir loads every plugin under dir. Failures are recorded in the
// report and scanning continues; the first failure is also returned. The
// directory and context are remembered for restart staging.
func (h *Host) LoadPluginsFromDir(dir string, reg Registrar, hctx *engine.HostContext) (ScanReport, error) {
	h.remember(dir, hctx)
	var rep ScanReport
	paths, err := scanDir(dir)
	if err != nil {
		return rep, err
	}
	var first error
	for _, p := range paths {
		id, err := h.loadOne(p, reg, hctx)
		switch {
		case err != nil:
			h.log.Warn().Err(err).Str("manifest", p).Msg("engine plugin load failed")
			rep.fail(p, err)
			if first == nil {
				first = err
			}
		case id == "":
			rep.Skipped = append(rep.Skipped, p)
		default:
			rep.Loaded = append(rep.Loaded, id)
		}
	}
	return rep, first
}

func (h *Host) remember(dir string, hctx *engine.HostContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dir = dir
	if hctx != nil {
		cp := *hctx
		h.hctx = &cp
	}
}

// PluginDir returns the last directory passed to a directory load or stage.
func (h *Host) PluginDir() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dir
}

// Loaded lists live plugins sorted by engine id.
func (h *Host) Loaded() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return infos(h.loaded)
}

// Pending lists staged plugins sorted by engine id.
func (h *Host) Pending() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return infos(h.pending)
}

func infos(m map[string]*pluginHandle) []Info {
	out := make([]Info, 0, len(m))
	for _, p := range m {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EngineID < out[j].EngineID })
	return out
}

// Close releases pending plugins, then loaded ones. Engines must no longer be
// reachable from a registry in use.
func (h *Host) Close() {
	h.mu.Lock()
	pending, loaded := h.pending, h.loaded
	h.pending = make(map[string]*pluginHandle)
	h.loaded = make(map[string]*pluginHandle)
	h.mu.Unlock()
	for _, p := range pending {
		p.close()
	}
	for _, p := range loaded {
		p.close()
	}
}
