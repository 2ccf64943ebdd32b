package domain

import (
	"context"
	"log/slog"
	"sync"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a message produced while compiling. Diagnostics never change
// the outcome of a compilation.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Phase    string   `json:"phase"`
	App      string   `json:"app,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Message  string   `json:"message"`
}

// Sink receives diagnostics.
type Sink interface {
	Report(Diagnostic)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Report(Diagnostic) {}

// Collector keeps every diagnostic in the order reported.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

// Diagnostics returns a copy of what was reported.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// Warnings returns only the warnings.
func (c *Collector) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range c.Diagnostics() {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// logSink forwards diagnostics to a slog logger.
type logSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &logSink{logger: logger}
}

func (s *logSink) Report(d Diagnostic) {
	level := slog.LevelInfo
	if d.Severity == SeverityWarning {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{slog.String("phase", d.Phase)}
	if d.App != "" {
		attrs = append(attrs, slog.String("app", d.App))
	}
	if d.Subject != "" {
		attrs = append(attrs, slog.String("subject", d.Subject))
	}
	s.logger.LogAttrs(context.Background(), level, d.Message, attrs...)
}

// MultiSink fans a diagnostic out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Report(d Diagnostic) {
	for _, s := range m {
		if s != nil {
			s.Report(d)
		}
	}
}
