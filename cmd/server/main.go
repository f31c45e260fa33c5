// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/SyedDaiam9101/ids-service/internal/cache"
	"github.com/SyedDaiam9101/ids-service/internal/config"
	"github.com/SyedDaiam9101/ids-service/internal/handler"
	"github.com/SyedDaiam9101/ids-service/internal/inference"
	"github.com/SyedDaiam9101/ids-service/internal/metrics"
	"github.com/SyedDaiam9101/ids-service/internal/middleware"
	"github.com/SyedDaiam9101/ids-service/internal/schema"
)

const serviceName = "ids-service"

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "HTTP server port (default: 5000)")
	modelPath := flag.String("model", "", "Path to ONNX model file (default: ids_pipeline.onnx)")
	schemaPath := flag.String("schema", "", "Path to model metadata file (default: ids_metadata.json)")
	redisAddr := flag.String("redis", "", "Redis address for the prediction cache (default: localhost:6379)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference engine (for testing)")
	flag.Parse()

	// Load configuration from file and environment
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadWithConfigFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Override with flags if provided
	if *port > 0 {
		cfg.Port = *port
	}
	if *modelPath != "" {
		cfg.Model = *modelPath
	}
	if *schemaPath != "" {
		cfg.Schema = *schemaPath
	}
	if *redisAddr != "" {
		cfg.Redis = *redisAddr
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *useMock {
		cfg.UseMockInference = true
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	initLogger(cfg.LogLevel, cfg.LogFormat)

	logrus.Infof("Starting %s...", serviceName)
	logrus.Infof("Configuration: addr=%s:%d, model=%s, schema=%s, redis=%s, metrics=%d, otel=%v",
		cfg.Host, cfg.Port, cfg.Model, cfg.Schema, cfg.Redis, cfg.MetricsPort, cfg.OTELEnabled)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(cfg.OTELEndpoint)
		if err != nil {
			logrus.Warnf("Failed to initialize tracer: %v", err)
		} else {
			logrus.Infof("OpenTelemetry tracing enabled (endpoint: %s)", cfg.OTELEndpoint)
		}
	}

	// Load the model metadata. A missing file only disables request
	// validation; a malformed file is a deployment error and fatal.
	var sch *schema.Schema
	if cfg.Schema != "" {
		sch, err = schema.Load(cfg.Schema)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logrus.Warnf("Schema file %s not found, request validation disabled", cfg.Schema)
				sch = nil
			} else {
				logrus.Fatalf("Failed to load schema: %v", err)
			}
		} else {
			logrus.Infof("Schema loaded: %d features, %d classes", len(sch.Features), sch.NumClasses())
			if sch.Model.Name != "" {
				logrus.Infof("Model metadata: name=%s version=%s framework=%s",
					sch.Model.Name, sch.Model.Version, sch.Model.Framework)
			}
		}
	}

	// Load inference engine
	var infer inference.InferenceEngine
	if cfg.UseMockInference {
		logrus.Info("Using mock inference engine")
		infer = inference.NewMock()
	} else {
		logrus.Infof("Loading ONNX model from %s...", cfg.Model)
		var engine *inference.Inference
		if sch != nil {
			engine, err = inference.NewWithNames(cfg.Model, sch.InputName, sch.LabelOutput, sch.ProbabilitiesOutput)
		} else {
			engine, err = inference.New(cfg.Model)
		}
		if err != nil {
			logrus.Fatalf("Failed to load ONNX model: %v", err)
		}
		if sch != nil && sch.NumClasses() > 0 {
			engine.SetNumClasses(int64(sch.NumClasses()))
		}
		infer = engine
		logrus.Info("ONNX model loaded successfully")
	}
	defer infer.Close()

	// Warm-up inference catches model/schema disagreements before the
	// service starts accepting traffic.
	if sch != nil && !cfg.UseMockInference {
		warm := make([]float32, len(sch.Features))
		if _, err := infer.Predict(warm); err != nil {
			logrus.Fatalf("Warm-up inference failed, model and schema disagree: %v", err)
		}
		logrus.Debug("Warm-up inference succeeded")
	}

	// Initialize Redis prediction cache (optional)
	var cacheClient *cache.Cache
	if cfg.Redis != "" {
		logrus.Infof("Connecting to Redis at %s...", cfg.Redis)
		cacheClient, err = cache.New(cfg.Redis, cfg.CacheTTL)
		if err != nil {
			logrus.Warnf("Failed to connect to Redis: %v (continuing without cache)", err)
			cacheClient = nil
		} else {
			defer cacheClient.Close()
			logrus.Info("Redis connected successfully")
		}
	}

	h := handler.New(infer, sch, cacheClient)

	// Start HTTP server for metrics and health checks
	opsServer := startOpsServer(cfg.MetricsPort, h)

	// Build the API router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging())
	router.Use(middleware.Metrics())
	if cfg.OTELEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	shutdownDone := drainOnSignal(sigChan, h, srv, opsServer, tracerShutdown, 5*time.Second)

	logrus.Infof("HTTP server listening on %s", addr)
	logrus.Infof("%s is ready to accept requests", serviceName)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("Failed to serve: %v", err)
	}

	// ListenAndServe returns as soon as Shutdown is called; the drain is
	// finished only when the channel closes. The deferred engine and cache
	// closes must stay behind the last in-flight request.
	<-shutdownDone

	logrus.Info("Server shutdown complete")
}

// drainOnSignal waits for a termination signal, fails the health probes,
// gives load balancers time to notice, then drains both servers and the
// tracer. The returned channel closes when the drain has finished.
func drainOnSignal(sigChan <-chan os.Signal, h *handler.Handler, srv, opsServer *http.Server, tracerShutdown func(context.Context) error, lbWait time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		sig := <-sigChan
		logrus.Infof("Received signal %v, shutting down gracefully...", sig)

		// Fail health probes so load balancers stop routing here
		h.SetReady(false)
		metrics.SetUnhealthy()

		// Give time for load balancers to detect unhealthy status
		time.Sleep(lbWait)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logrus.Errorf("API server shutdown error: %v", err)
		}
		opsServer.Shutdown(ctx)

		// Shutdown tracer
		if tracerShutdown != nil {
			tracerShutdown(ctx)
		}
	}()

	return done
}

// initLogger configures the global logger from config values, falling back
// to info level on an unparseable level string.
func initLogger(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// startOpsServer serves Prometheus metrics and kubelet-style probes on the
// metrics port, separate from the API listener.
func startOpsServer(port int, h *handler.Handler) *http.Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !h.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service Unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness check (same as healthz for now)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !h.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logrus.Infof("HTTP server listening on %s (metrics, health)", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("HTTP server error: %v", err)
		}
	}()

	return server
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	if endpoint != "" {
		// For now, use stdout exporter as OTLP requires more setup
		// In production, use: otlptrace.New(ctx, otlptracegrpc.NewClient(...))
		logrus.Infof("Note: Using stdout trace exporter (OTLP endpoint: %s)", endpoint)
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
