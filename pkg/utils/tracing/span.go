package tracing

import (
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const EnvTracingEnabled = "NIXBUILD_TRACING_ENABLED"

var _ Tracer = &LoggingTracer{}

// LoggingTracer logs the duration of every finished span at info level
type LoggingTracer struct {
	logger logr.Logger
}

func NewLoggingTracer(logger logr.Logger) *LoggingTracer {
	return &LoggingTracer{logger: logger}
}

// FromEnv returns a LoggingTracer if tracing is enabled in the environment, NopTracer otherwise
func FromEnv(logger logr.Logger) Tracer {
	if os.Getenv(EnvTracingEnabled) == "1" {
		return NewLoggingTracer(logger)
	}
	return NopTracer{}
}

func (t *LoggingTracer) StartSpan(operationName string) Span {
	return &loggingSpan{
		logger:        t.logger,
		operationName: operationName,
		baggage:       make(map[string]any),
		start:         time.Now(),
	}
}

type loggingSpan struct {
	logger        logr.Logger
	operationName string
	mu            sync.Mutex
	baggage       map[string]any
	start         time.Time
}

func (s *loggingSpan) Finish() {
	s.mu.Lock()
	vals := baggageToVals(s.baggage)
	s.mu.Unlock()
	s.logger.WithValues(vals...).
		WithValues("operation_name", s.operationName, "time_ms", time.Since(s.start).Seconds()*1e3).
		Info("Trace")
}

func (s *loggingSpan) SetBaggageItem(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baggage[key] = value
}

func baggageToVals(baggage map[string]any) []any {
	result := make([]any, 0, len(baggage)*2)
	for k, v := range baggage {
		result = append(result, k, v)
	}
	return result
}
