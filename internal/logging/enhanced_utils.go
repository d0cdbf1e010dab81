package logging

import (
	"context"
	"time"
)

// LogField provides a structured way to add fields to logs
type LogField struct {
	Key   string
	Value interface{}
}

// classifiedError is satisfied by internal/errtax.Error without importing
// it directly; errtax itself depends on this package's trace ID helpers, so
// the dependency can only run one way.
type classifiedError interface {
	error
	Retryable() bool
	Category() string
}

// EnhancedLogger wraps the existing StructuredLogger with additional utilities
type EnhancedLogger struct {
	Logger
	component string
}

// NewEnhancedLogger creates an enhanced logger for a component
func NewEnhancedLogger(component string) *EnhancedLogger {
	baseLogger := NewLogger(INFO)
	return &EnhancedLogger{
		Logger:    baseLogger.WithComponent(component),
		component: component,
	}
}

// WithContext creates a logger with context information
func (l *EnhancedLogger) WithContext(ctx context.Context) *EnhancedLogger {
	traceID := GetTraceID(ctx)
	newLogger := l.Logger.WithTraceID(traceID)

	return &EnhancedLogger{
		Logger:    newLogger,
		component: l.component,
	}
}

// WithError logs an error, extracting taxonomy fields when the error
// implements classifiedError (i.e. is an *errtax.Error).
func (l *EnhancedLogger) WithError(err error) *EnhancedLogger {
	if err == nil {
		return l
	}

	if classified, ok := err.(classifiedError); ok {
		l.Error("classified error occurred",
			"error", err.Error(),
			"category", classified.Category(),
			"retryable", classified.Retryable(),
		)
	} else {
		l.Error("error occurred", "error", err.Error())
	}

	return l
}

// LogOperation logs the start and completion of an operation
func (l *EnhancedLogger) LogOperation(operation string, fn func() error) error {
	startTime := time.Now()
	l.Info("starting operation", "operation", operation)

	err := fn()
	duration := time.Since(startTime)

	if err != nil {
		l.Error("operation failed",
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return err
	}

	l.Info("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// LogSlowOperation logs operations that exceed expected duration
func (l *EnhancedLogger) LogSlowOperation(operation string, duration, expected time.Duration) {
	l.Warn("slow operation detected",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"expected_ms", expected.Milliseconds(),
		"slowdown_factor", float64(duration)/float64(expected),
	)
}

// Component logger instances, one per domain package that logs at volume.
var (
	ServerLogger    = NewEnhancedLogger("server")
	MCPLogger       = NewEnhancedLogger("mcp")
	DatabaseLogger  = NewEnhancedLogger("database")
	EmbeddingLogger = NewEnhancedLogger("embedding")
	RerankLogger    = NewEnhancedLogger("rerank")
	RatelimitLogger = NewEnhancedLogger("ratelimit")
	IdentityLogger  = NewEnhancedLogger("identity")
	RetrievalLogger = NewEnhancedLogger("retrieval")
	AuthnLogger     = NewEnhancedLogger("authn")
	ToolsLogger     = NewEnhancedLogger("tools")
	AuditLogger     = NewEnhancedLogger("audit")
	TransportLogger = NewEnhancedLogger("transport")
)

// GetComponentLogger returns an enhanced logger for specific component
func GetComponentLogger(component string) *EnhancedLogger {
	return NewEnhancedLogger(component)
}
