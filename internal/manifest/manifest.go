// Package manifest parses and validates engine plugin declarations
// (manifest.json). Loading is a pure function of one file: either a fully
// populated Manifest is returned or a FieldError naming the first offending
// field.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"golang.org/x/mod/semver"
)

// FileName is the manifest file expected in each plugin directory.
const FileName = "manifest.json"

// Manifest is the typed form of a plugin's manifest.json.
type Manifest struct {
	EngineID       string   `json:"engine_id"`
	EngineVersion  string   `json:"engine_version"`
	ABIVersion     int      `json:"abi_version"`
	Runtimes       []string `json:"runtimes"`
	Formats        []string `json:"formats"`
	Architectures  []string `json:"architectures"`
	Modalities     []string `json:"modalities"`
	Capabilities   []string `json:"capabilities,omitempty"`
	GPUTargets     []string `json:"gpu_targets,omitempty"`
	License        string   `json:"license"`
	SupportsVision bool     `json:"supports_vision"`
	Library        string   `json:"library"`
}

// DeclaresRuntime reports whether runtime is listed in Runtimes.
func (m Manifest) DeclaresRuntime(runtime string) bool {
	for _, r := range m.Runtimes {
		if r == runtime {
			return true
		}
	}
	return false
}

// FieldError reports a manifest that failed validation on one field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + " " + e.Reason }

func fieldErr(field, reason string) error { return &FieldError{Field: field, Reason: reason} }

// IsValidation reports whether err is a manifest validation failure.
func IsValidation(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe)
}

// Field returns the offending field of a validation error, or "".
func Field(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}

// Load reads the manifest at path, decodes it, and validates it against hostABI.
func Load(path string, hostABI int) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("manifest not found: %s", path)
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(b)
	if err != nil {
		return Manifest{}, err
	}
	if err := Validate(m, hostABI); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Parse decodes manifest JSON. Required fields that are absent or of the wrong
// type yield a FieldError; fields are checked in a fixed order.
func Parse(b []byte) (Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	var m Manifest
	var err error
	if m.EngineID, err = stringField(raw, "engine_id"); err != nil {
		return Manifest{}, err
	}
	if m.EngineVersion, err = stringField(raw, "engine_version"); err != nil {
		return Manifest{}, err
	}
	if m.License, err = stringField(raw, "license"); err != nil {
		return Manifest{}, err
	}
	if m.Library, err = stringField(raw, "library"); err != nil {
		return Manifest{}, err
	}
	if m.ABIVersion, err = intField(raw, "abi_version"); err != nil {
		return Manifest{}, err
	}
	for _, f := range []struct {
		key      string
		dst      *[]string
		required bool
	}{
		{"runtimes", &m.Runtimes, true},
		{"formats", &m.Formats, true},
		{"architectures", &m.Architectures, true},
		{"modalities", &m.Modalities, true},
		{"capabilities", &m.Capabilities, false},
		{"gpu_targets", &m.GPUTargets, false},
	} {
		if *f.dst, err = stringArray(raw, f.key, f.required); err != nil {
			return Manifest{}, err
		}
	}
	if v, ok := raw["supports_vision"]; ok {
		if err := json.Unmarshal(v, &m.SupportsVision); err != nil {
			return Manifest{}, fieldErr("supports_vision", "must be a boolean")
		}
	}
	return m, nil
}

// Validate checks required fields and the ABI version. The first failing field
// is reported.
func Validate(m Manifest, hostABI int) error {
	switch {
	case m.EngineID == "":
		return fieldErr("engine_id", "is required")
	case m.EngineVersion == "":
		return fieldErr("engine_version", "is required")
	case !isSemver(m.EngineVersion):
		return fieldErr("engine_version", "must be a semantic version")
	case m.ABIVersion != hostABI:
		return fieldErr("abi_version", fmt.Sprintf("mismatch (manifest=%d host=%d)", m.ABIVersion, hostABI))
	case len(m.Runtimes) == 0:
		return fieldErr("runtimes", "is required")
	case len(m.Formats) == 0:
		return fieldErr("formats", "is required")
	case len(m.Architectures) == 0:
		return fieldErr("architectures", "is required")
	case len(m.Modalities) == 0:
		return fieldErr("modalities", "is required")
	case m.License == "":
		return fieldErr("license", "is required")
	case m.Library == "":
		return fieldErr("library", "is required")
	}
	for _, f := range []struct {
		key  string
		vals []string
	}{
		{"runtimes", m.Runtimes},
		{"formats", m.Formats},
		{"architectures", m.Architectures},
		{"modalities", m.Modalities},
		{"capabilities", m.Capabilities},
		{"gpu_targets", m.GPUTargets},
	} {
		for _, v := range f.vals {
			if strings.TrimSpace(v) == "" {
				return fieldErr(f.key, "contains empty value")
			}
		}
	}
	return nil
}

func isSemver(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

func stringField(raw map[string]json.RawMessage, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", fieldErr(key, "is required")
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fieldErr(key, "must be a string")
	}
	return s, nil
}

func intField(raw map[string]json.RawMessage, key string) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fieldErr(key, "is required")
	}
	var n any
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, fieldErr(key, "must be an integer")
	}
	f, ok := n.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fieldErr(key, "must be an integer")
	}
	return int(f), nil
}

func stringArray(raw map[string]json.RawMessage, key string, required bool) ([]string, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return nil, fieldErr(key, "is required")
		}
		return nil, nil
	}
	var items []any
	if err := json.Unmarshal(v, &items); err != nil || items == nil {
		return nil, fieldErr(key, "must be an array")
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fieldErr(key, "must be an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
