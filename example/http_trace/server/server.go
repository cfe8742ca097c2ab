package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-apm/metrics"
	"github.com/donetkit/contrib-apm/server/webserve"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-apm/utils/com_http"
	"github.com/donetkit/contrib-log/glog"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

const (
	service    = "http-tracer-server1"
	configFile = "apm.yaml"
)

func initTracerProvider() (*sdktrace.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithAgentEndpoint(jaeger.WithAgentHost("127.0.0.1"), jaeger.WithAgentPort(fmt.Sprintf("%d", 6831))))
	if err != nil {
		return nil, err
	}
	// spans vetoed by the sampling pipeline are dropped before export
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(tracer.NewPrioritySampler(nil)),
		sdktrace.WithSpanProcessor(tracer.NewExportPipeline(exp)),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(service))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

func main() {
	logger := glog.New()
	log := logger.WithField("Example", "HttpTrace")
	tp, err := initTracerProvider()
	if err != nil {
		log.Error(err.Error())
		return
	}

	store := config.NewStore(nil, config.WithLogger(logger))
	if _, err := config.WatchFile(context.Background(), configFile, store, logger); err != nil {
		log.Warnf("sampling config file: %s", err.Error())
	}

	timers, err := metrics.NewTimers(metrics.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		log.Error(err.Error())
		return
	}

	tr := tracer.New(
		tracer.WithTracerProvider(tp),
		tracer.WithServiceName(service),
		tracer.WithLogger(logger),
		tracer.WithConfigStore(store),
		tracer.WithTimers(timers),
	)
	client := com_http.NewTracingHTTPClient(&http.Client{Timeout: 5 * time.Second}, tr)

	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tr.Profiler().Trace(ctx, "greeting", func(ctx context.Context) {
			time.Sleep(10 * time.Millisecond)
		})
		if resp, err := client.Do(ctx, http.MethodGet, "http://127.0.0.1:7777/ping", nil); err == nil {
			resp.Body.Close()
		}
		_, _ = io.WriteString(w, "Hello, world!\n")
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})

	webserve.New(
		webserve.WithServiceName(service),
		webserve.WithPort(7777),
		webserve.WithLogger(logger),
		webserve.WithTracer(tr),
		webserve.WithHandler(mux),
	).Run()
}
