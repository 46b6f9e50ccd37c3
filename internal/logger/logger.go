// ABOUTME: Structured logging for the model registry on top of zerolog
// ABOUTME: Component sub-loggers plus one summary line per served request

package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with registry-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // console output for development
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a config level name to a zerolog level; unknown names
// fall back to info
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds a logger tagged with the service name
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().
		Timestamp().
		Str("service", "model-registry")
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}
	return &Logger{zlog: ctx.Logger()}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// SetGlobal routes the zerolog global logger, used by libraries that log
// through github.com/rs/zerolog/log, to l.
func (l *Logger) SetGlobal() {
	log.Logger = l.zlog
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a sub-logger whose lines carry component=name
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// WithRequestID returns a sub-logger for one REST request
func (l *Logger) WithRequestID(id string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("request_id", id).Logger()}
}

func (l *Logger) Info(msg string) *zerolog.Event { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }

// LogGrpcRequest logs a finished gRPC call
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	ev := l.zlog.Info()
	if err != nil {
		ev = l.zlog.Error().Err(err)
	}
	ev.Str("component", "grpc").
		Str("method", method).
		Dur("duration_ms", duration).
		Msg("gRPC request completed")
}

// LogHTTPRequest logs a finished REST call; 4xx at warn, 5xx at error
func (l *Logger) LogHTTPRequest(requestID, method, route string, status int, duration time.Duration, err error) {
	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = l.zlog.Error()
	case status >= 400:
		ev = l.zlog.Warn()
	default:
		ev = l.zlog.Info()
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("component", "http").
		Str("request_id", requestID).
		Str("method", method).
		Str("route", route).
		Int("status", status).
		Dur("duration_ms", duration).
		Msg("HTTP request completed")
}

// LogServerStart logs the listener ports and database before startup
func (l *Logger) LogServerStart(grpcPort, httpPort int, dbPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("grpc_port", grpcPort).
		Int("http_port", httpPort).
		Str("database", dbPath).
		Msg("Model registry starting")
}

// LogServerReady logs when the listeners are up
func (l *Logger) LogServerReady(grpcPort, httpPort int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("grpc_port", grpcPort).
		Int("http_port", httpPort).
		Msg("Model registry ready to accept connections")
}

func (l *Logger) LogServerShutdown() {
	l.zlog.Info().Str("event", "server_shutdown").Msg("Model registry shutting down")
}
