package httpapi

import (
	"bytes"
	"net/http"
	"os"

	"github.com/rs/zerolog"
)

// zlog is the HTTP layer's logger; silent until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs the structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// loggingLineWriter logs complete NDJSON lines at debug level.
type loggingLineWriter struct {
	log zerolog.Logger
	buf []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			lw.log.Debug().RawJSON("line", lw.buf[:idx]).Msg("ndjson")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from LLMNODE_LOG_LEVEL.
var defaultLogLevel = parseLevel(os.Getenv("LLMNODE_LOG_LEVEL"))

// SetDefaultLogLevel overrides the level used when a request sets none.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}
