package myhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type loggerContextKey struct{}

// Logger returns the request-scoped logger installed by the middleware, or
// slog.Default outside of a request.
func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Router is a ServeMux whose *WithMiddleware registrations are traced,
// profiled, timed and recovered.
type Router struct {
	*http.ServeMux
	logger          *slog.Logger
	requestDuration metric.Int64Histogram
}

func NewServerMux(logger *slog.Logger, requestDuration metric.Int64Histogram) *Router {
	return &Router{
		ServeMux:        http.NewServeMux(),
		logger:          logger,
		requestDuration: requestDuration,
	}
}

func (m *Router) HandleWithMiddleware(pattern string, handler http.Handler) {
	m.ServeMux.Handle(pattern, m.middleware(pattern, handler))
}

func (m *Router) HandleFuncWithMiddleware(pattern string, handler http.HandlerFunc) {
	m.ServeMux.Handle(pattern, m.middleware(pattern, handler))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (m *Router) middleware(pattern string, next http.Handler) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spanContext := trace.SpanFromContext(r.Context()).SpanContext()
		logger := m.logger.With(
			slog.String("traceid", spanContext.TraceID().String()),
			slog.String("spanid", spanContext.SpanID().String()),
		)
		r = r.WithContext(context.WithValue(r.Context(), loggerContextKey{}, logger))
		recorder := &statusRecorder{ResponseWriter: w}

		defer func() {
			if err := recover(); err != nil {
				logger.Error(fmt.Sprint(err), "stack", string(debug.Stack()))
				if recorder.status == 0 {
					http.Error(recorder, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}

			if err := r.Context().Err(); errors.Is(err, context.Canceled) {
				logger.Debug("client closed connection")
			}
		}()

		pyroscope.TagWrapper(r.Context(), pyroscope.Labels("handler", pattern), func(ctx context.Context) {
			start := time.Now()
			defer func() {
				elapsed := time.Since(start)
				m.requestDuration.Record(ctx, elapsed.Microseconds(), metric.WithAttributes(
					attribute.Key("method").String(r.Method),
					attribute.Key("handler").String(pattern),
					attribute.Key("status").Int(recorder.status),
				))
				logger.Debug("handled request", "handler", pattern, "status", recorder.status, "duration", elapsed)
			}()
			next.ServeHTTP(recorder, r.WithContext(ctx))
		})
	})

	return otelhttp.NewHandler(handler, pattern, otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return operation
	}), otelhttp.WithMetricAttributesFn(func(r *http.Request) []attribute.KeyValue {
		return nil
	}))
}
