package grpcserve

import (
	"time"

	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-log/glog"
	"google.golang.org/grpc"
)

// Option configures the Server.
type Option func(*config)

// WithServiceName set serviceName function
func WithServiceName(serviceName string) Option {
	return func(c *config) {
		c.ServiceName = serviceName
	}
}

// WithHost set host function
func WithHost(host string) Option {
	return func(c *config) {
		c.Host = host
	}
}

// WithPort set port function
func WithPort(port int) Option {
	return func(c *config) {
		c.Port = port
	}
}

// WithLogger set logger function
func WithLogger(logger glog.ILogger) Option {
	return func(c *config) {
		c.Logger = logger.WithField("GrpcServe", "GrpcServe")
	}
}

// WithTracer traces every call with the server interceptors.
func WithTracer(tracerServer *tracer.Server) Option {
	return func(c *config) {
		c.Tracer = tracerServer
	}
}

// WithMaxReceiveMessageSize set maxReceiveMessageSize function
func WithMaxReceiveMessageSize(size int) Option {
	return func(c *config) {
		c.maxReceiveMessageSize = size
	}
}

// WithMaxSendMessageSize set maxSendMessageSize function
func WithMaxSendMessageSize(size int) Option {
	return func(c *config) {
		c.maxSendMessageSize = size
	}
}

// WithConnectionTimeout set connectionTimeout function
func WithConnectionTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.connectionTimeout = timeout
	}
}

// WithGrpcServerOptions appends grpc.ServerOption values.
func WithGrpcServerOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) {
		c.grpcOpts = append(c.grpcOpts, opts...)
	}
}
