package webserve

import (
	"net/http"
	"time"

	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-log/glog"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Server.
type Option func(*Server)

// WithServiceName set serviceName function
func WithServiceName(serviceName string) Option {
	return func(s *Server) {
		s.ServiceName = serviceName
	}
}

// WithHost set host function
func WithHost(host string) Option {
	return func(s *Server) {
		s.Host = host
	}
}

// WithPort set port function
func WithPort(port int) Option {
	return func(s *Server) {
		s.Port = port
	}
}

// WithHandler set handler function
func WithHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.handler = handler
	}
}

// WithTracer traces every request handled by the server.
func WithTracer(tracerServer *tracer.Server) Option {
	return func(s *Server) {
		s.Tracer = tracerServer
	}
}

// WithSpanNameFormatter names request spans, "METHOD /path" by default.
func WithSpanNameFormatter(formatter SpanNameFormatter) Option {
	return func(s *Server) {
		s.spanName = formatter
	}
}

// WithMetrics serves gatherer on path. An empty path disables the endpoint.
func WithMetrics(path string, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metricsPath = path
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

// WithReadTimeout set readTimeout function
func WithReadTimeout(readTimeout time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = readTimeout
	}
}

// WithWriterTimeout set writerTimeout function
func WithWriterTimeout(writerTimeout time.Duration) Option {
	return func(s *Server) {
		s.writerTimeout = writerTimeout
	}
}

// WithMaxHeaderBytes set maxHeaderBytes function
func WithMaxHeaderBytes(maxHeaderBytes int) Option {
	return func(s *Server) {
		s.maxHeaderBytes = maxHeaderBytes
	}
}

// WithLogger set logger function
func WithLogger(logger glog.ILogger) Option {
	return func(s *Server) {
		s.Logger = logger.WithField("WebServe", "WebServe")
	}
}

// WithVersion set version function
func WithVersion(version string) Option {
	return func(s *Server) {
		s.Version = version
	}
}

// WithProtocol set protocol function
func WithProtocol(protocol string) Option {
	return func(s *Server) {
		s.protocol = protocol
	}
}
