package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProductionLogger writes structured JSON in production and
// human-readable text in development, selected by Format. Grounded on
// structured JSON or human-readable text.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer
}

// LoggingConfig controls ProductionLogger's behavior.
type LoggingConfig struct {
	Level  string // debug|info|warn|error
	Format string // "json" or "text"
	Output string // "stdout" or "stderr"
}

// NewProductionLogger builds a logger for the named service.
func NewProductionLogger(cfg LoggingConfig, serviceName string) *ProductionLogger {
	out := io.Writer(os.Stdout)
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	level := strings.ToLower(cfg.Level)
	if level == "" {
		level = "info"
	}
	return &ProductionLogger{
		level:       level,
		debug:       level == "debug",
		serviceName: serviceName,
		format:      cfg.Format,
		output:      out,
	}
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{})  { p.logEvent("INFO", msg, fields, nil) }
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{})  { p.logEvent("WARN", msg, fields, nil) }
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) { p.logEvent("ERROR", msg, fields, nil) }
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}
		if execID := executionIDFromContext(ctx); execID != "" {
			entry["execution_id"] = execID
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	for k, v := range fields {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	execInfo := ""
	if execID := executionIDFromContext(ctx); execID != "" {
		execInfo = fmt.Sprintf("[exec=%s] ", execID)
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n", timestamp, level, p.serviceName, execInfo, msg, fieldStr.String())
}

type executionIDKey struct{}

// WithExecutionID attaches an execution id to ctx for log correlation.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

func executionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(executionIDKey{}).(string); ok {
		return v
	}
	return ""
}
