// Package telemetry configures OpenTelemetry tracing for the proxy.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is used when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "agentgate"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Config holds tracing configuration.
type Config struct {
	// ServiceName is the name of the service (defaults to "agentgate").
	ServiceName string

	// Enabled controls whether tracing is enabled.
	Enabled bool

	// ExporterType specifies the exporter: "otlp", "stdout", or "none".
	ExporterType string

	// OTLPEndpoint is the OTLP endpoint URL. Empty uses the exporter's
	// standard environment-based default.
	OTLPEndpoint string

	// OTLPHeaders are additional headers for OTLP requests.
	OTLPHeaders map[string]string
}

// InitFromEnv initializes tracing from standard OpenTelemetry environment
// variables: OTEL_SERVICE_NAME, OTEL_TRACES_EXPORTER,
// OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_HEADERS.
func InitFromEnv() error {
	return Init(Config{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Enabled:      getEnv("OTEL_TRACES_ENABLED", "true") == "true",
		ExporterType: getEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
}

// Init initializes the tracing system.
func Init(config Config) error {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if !config.Enabled || config.ExporterType == "none" || config.ExporterType == "" {
		tracer = otel.GetTracerProvider().Tracer(config.ServiceName)
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(config.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch config.ExporterType {
	case "otlp":
		var opts []otlptracehttp.Option
		if config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(config.OTLPEndpoint))
		}
		if len(config.OTLPHeaders) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(config.OTLPHeaders))
		}
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Printf("Tracing initialized with OTLP exporter")

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		log.Println("Tracing initialized with stdout exporter")

	default:
		return fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(config.ServiceName)
	return nil
}

// Shutdown flushes and stops the tracer provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

// StartSpan starts a span, falling back to the global (noop) tracer when
// tracing was never initialized.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := tracer
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseHeaders parses "key1=value1,key2=value2" into a map.
func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		headers[k] = v
	}
	return headers
}
