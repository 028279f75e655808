package httpapi

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("shorthand query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestLoggingLineWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	lw := &loggingLineWriter{log: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	_, _ = lw.Write([]byte("{\"token\":\"a\"}\n{\"tok"))
	_, _ = lw.Write([]byte("en\":\"b\"}\n{\"done\":true}\n"))

	out := buf.String()
	for _, want := range []string{`"line":{"token":"a"}`, `"line":{"token":"b"}`, `"line":{"done":true}`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 3 {
		t.Fatalf("expected 3 log lines, got %d", n)
	}
}
