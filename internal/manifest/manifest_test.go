package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

const testABI = 1

func validFields() map[string]any {
	return map[string]any{
		"engine_id":       "llama_cpp",
		"engine_version":  "0.1.0",
		"abi_version":     testABI,
		"runtimes":        []string{"llama_cpp"},
		"formats":         []string{"gguf"},
		"architectures":   []string{"llama", "mistral"},
		"modalities":      []string{"completion"},
		"capabilities":    []string{"text"},
		"gpu_targets":     []string{"cuda"},
		"license":         "MIT",
		"supports_vision": false,
		"library":         "llama_cpp",
	}
}

func writeManifest(t *testing.T, dir string, fields map[string]any) string {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p := filepath.Join(dir, FileName)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return p
}

func TestLoadValidManifest(t *testing.T) {
	p := writeManifest(t, t.TempDir(), validFields())
	m, err := Load(p, testABI)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.EngineID != "llama_cpp" || m.ABIVersion != testABI || len(m.Architectures) != 2 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if !m.DeclaresRuntime("llama_cpp") || m.DeclaresRuntime("onnx") {
		t.Fatalf("DeclaresRuntime mismatch for %v", m.Runtimes)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), FileName), testABI)
	if err == nil || !strings.Contains(err.Error(), "manifest not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p, testABI); err == nil || IsValidation(err) {
		t.Fatalf("expected JSON error, got %v", err)
	}
}

func TestOptionalFieldsMayBeAbsent(t *testing.T) {
	f := validFields()
	delete(f, "capabilities")
	delete(f, "gpu_targets")
	delete(f, "supports_vision")
	p := writeManifest(t, t.TempDir(), f)
	m, err := Load(p, testABI)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.GPUTargets) != 0 || len(m.Capabilities) != 0 {
		t.Fatalf("expected empty optional lists: %+v", m)
	}
}

func TestTypeMismatchNamesField(t *testing.T) {
	cases := map[string]any{
		"engine_id":       42,
		"abi_version":     "1",
		"runtimes":        "llama_cpp",
		"formats":         []any{"gguf", 3},
		"gpu_targets":     map[string]any{"a": 1},
		"supports_vision": "yes",
	}
	for field, bad := range cases {
		f := validFields()
		f[field] = bad
		p := writeManifest(t, t.TempDir(), f)
		_, err := Load(p, testABI)
		if Field(err) != field {
			t.Fatalf("%s: expected field error, got %v", field, err)
		}
	}
}

func TestFractionalABIRejected(t *testing.T) {
	f := validFields()
	f["abi_version"] = 1.5
	_, err := Load(writeManifest(t, t.TempDir(), f), testABI)
	if Field(err) != "abi_version" {
		t.Fatalf("expected abi_version error, got %v", err)
	}
}

func TestEmptyValueNamesField(t *testing.T) {
	f := validFields()
	f["runtimes"] = []string{"llama_cpp", ""}
	_, err := Load(writeManifest(t, t.TempDir(), f), testABI)
	if err == nil || err.Error() != "runtimes contains empty value" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngineVersionMustBeSemver(t *testing.T) {
	f := validFields()
	f["engine_version"] = "latest"
	_, err := Load(writeManifest(t, t.TempDir(), f), testABI)
	if Field(err) != "engine_version" {
		t.Fatalf("expected engine_version error, got %v", err)
	}
	f["engine_version"] = "v1.2.3-rc.1"
	if _, err := Load(writeManifest(t, t.TempDir(), f), testABI); err != nil {
		t.Fatalf("prefixed semver rejected: %v", err)
	}
}

var requiredFields = []string{
	"engine_id", "engine_version", "abi_version", "runtimes", "formats",
	"architectures", "modalities", "license", "library",
}

func TestPropertyMissingRequiredFieldIsNamed(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		field := rapid.SampledFrom(requiredFields).Draw(rt, "field")
		empty := rapid.Bool().Draw(rt, "empty")
		f := validFields()
		switch {
		case !empty:
			delete(f, field)
		case field == "abi_version":
			f[field] = testABI + 1
		default:
			switch f[field].(type) {
			case string:
				f[field] = ""
			default:
				f[field] = []string{}
			}
		}
		b, _ := json.Marshal(f)
		p := filepath.Join(dir, FileName)
		if err := os.WriteFile(p, b, 0o644); err != nil {
			rt.Fatalf("write: %v", err)
		}
		m, err := Load(p, testABI)
		if err == nil {
			rt.Fatalf("expected failure for %s, got %+v", field, m)
		}
		if got := Field(err); got != field {
			rt.Fatalf("expected error naming %s, got %v", field, err)
		}
		if m.EngineID != "" {
			rt.Fatalf("partial manifest returned: %+v", m)
		}
	})
}

func TestPropertyABIMismatchAlwaysFails(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		abi := rapid.IntRange(-5, 50).Filter(func(v int) bool { return v != testABI }).Draw(rt, "abi")
		m := Manifest{
			EngineID:      rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "id"),
			EngineVersion: "1.0.0",
			ABIVersion:    abi,
			Runtimes:      []string{"llama_cpp"},
			Formats:       []string{"gguf"},
			Architectures: []string{"llama"},
			Modalities:    []string{"completion"},
			License:       "MIT",
			Library:       "x",
		}
		if err := Validate(m, testABI); Field(err) != "abi_version" {
			rt.Fatalf("abi %d accepted or misreported: %v", abi, err)
		}
	})
}
