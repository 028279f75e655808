package builtin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"llmnode/internal/engine"
	"llmnode/internal/registry"
)

func TestChatMLPrompt(t *testing.T) {
	got := ChatMLPrompt([]engine.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Content: "hi"},
	})
	want := "<|im_start|>system\nbe brief<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n"
	if got != want {
		t.Fatalf("prompt mismatch:\n%q\n%q", got, want)
	}
}

func TestEstimateVRAMBytes(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "m.gguf")
	if err := os.WriteFile(p, make([]byte, 1000), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := EstimateVRAMBytes(p); got != 1100 {
		t.Fatalf("estimate = %d", got)
	}
	if EstimateVRAMBytes(filepath.Join(dir, "missing.gguf")) != 0 || EstimateVRAMBytes(dir) != 0 {
		t.Fatalf("unknown files must estimate 0")
	}
}

func TestRegistrationIsBuiltinLlama(t *testing.T) {
	reg := Registration()
	if reg.EngineID != EngineID || !reg.Builtin {
		t.Fatalf("registration %+v", reg)
	}
	if !strings.Contains(strings.Join(reg.Formats, ","), "gguf") {
		t.Fatalf("gguf must be served: %v", reg.Formats)
	}
}

func TestRegisterMatchesBuild(t *testing.T) {
	r := registry.New()
	ok, err := Register(r, Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ok != Available() {
		t.Fatalf("registered=%v available=%v", ok, Available())
	}
	if _, found := r.Lookup(EngineID); found != Available() {
		t.Fatalf("registry presence %v, available %v", found, Available())
	}
}
