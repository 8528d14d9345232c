package runnable

import (
	"context"
	"errors"
	"frame-diff/internal/env"
	"frame-diff/internal/myhttp"
	"frame-diff/internal/routes"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

const applicationName = "frame-diff-server"

type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int
	maxFrameBytes          int64
}

func NewServer() *Server {
	return &Server{
		address:                env.OrDefault("ADDRESS", "0.0.0.0:8383"),
		terminationGracePeriod: env.OrDefault("TERMINATION_GRACE_PERIOD", 10*time.Second),
		lameduck:               env.OrDefault("LAMEDUCK", 1*time.Second),
		keepAlive:              env.OrDefault("HTTP_KEEPALIVE", true),
		maxConnections:         env.OrDefault("MAX_CONNECTIONS", 65532),
		// 4K RGBA
		maxFrameBytes: env.OrDefault("MAX_FRAME_BYTES", int64(3840*2160*4)),
	}
}

var Debug = false

func NewLogger() (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	}
	if Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
}

// NewHandler wires the routes without starting any exporter, so it can be
// served by tests.
func (s *Server) NewHandler(logger *slog.Logger, meter metric.Meter) (http.Handler, error) {
	httpRequestsDurationMicroSeconds, err := meter.Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	frameDiffRatio, err := meter.Float64Histogram("frame_diff_ratio",
		metric.WithDescription("Percentage of differing pixels per compared frame pair"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.5, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}

	mux := myhttp.NewServerMux(logger, httpRequestsDurationMicroSeconds)

	mux.HandleFuncWithMiddleware("POST /diff", routes.Diff(s.maxFrameBytes, frameDiffRatio))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})

	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	if Debug {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
	}

	return mux, nil
}

type telemetry struct {
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	profiler      *pyroscope.Profiler
}

func startTelemetry(ctx context.Context) (*telemetry, error) {
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: applicationName,
		ServerAddress:   os.Getenv("PYROSCOPE_ENDPOINT"),
		UploadRate:      60 * time.Second,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create profiler: %w", err)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	resource, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(applicationName)),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create resource: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to create trace exporter: %w", err)
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(traceProvider))

	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, xerrors.Errorf("failed to create exporter: %w", err)
	}
	// NOTE: Gauge(UpDownCounter), Summary or Untyped does not support exemplars
	// https://github.com/prometheus/client_golang/blob/v1.20.4/prometheus/metric.go#L200
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(resource), sdkmetric.WithReader(exporter))

	return &telemetry{
		meter:         meterProvider.Meter(applicationName),
		traceProvider: traceProvider,
		profiler:      profiler,
	}, nil
}

func (t *telemetry) shutdown(ctx context.Context) error {
	if err := t.traceProvider.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown trace provider: %w", err)
	}
	if err := t.profiler.Stop(); err != nil {
		return xerrors.Errorf("failed to shutdown profiler: %w", err)
	}
	return nil
}

// Start serves until SIGTERM or SIGINT, then drains in-flight comparisons.
func (s *Server) Start(ctx context.Context) error {
	logger, err := NewLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	t, err := startTelemetry(ctx)
	if err != nil {
		return err
	}

	handler, err := s.NewHandler(logger, t.meter)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	return s.serve(ctx, logger, listener, handler, t.shutdown)
}

// serve runs until ctx is canceled, SIGTERM or SIGINT arrives, or the listener
// fails. release runs on every exit path once the server stopped accepting.
func (s *Server) serve(ctx context.Context, logger *slog.Logger, listener net.Listener, handler http.Handler, release func(context.Context) error) error {
	server := &http.Server{
		Handler: handler,
	}
	server.SetKeepAlivesEnabled(s.keepAlive)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", listener.Addr().String(), "maxFrameBytes", s.maxFrameBytes)
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failed error
	select {
	case err := <-serveErr:
		failed = xerrors.Errorf("failed to serve HTTP: %w", err)
	case <-signalCtx.Done():
		logger.Info("shutting down", "lameduck", s.lameduck)
		// keep accepting while load balancers notice the endpoint is going away
		time.Sleep(s.lameduck)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.terminationGracePeriod)
	defer cancel()

	if failed == nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			failed = xerrors.Errorf("failed to shutdown server: %w", err)
		}
	}

	if err := release(shutdownCtx); err != nil {
		if failed != nil {
			logger.Error("failed to release telemetry", "error", err)
			return failed
		}
		return err
	}
	return failed
}
