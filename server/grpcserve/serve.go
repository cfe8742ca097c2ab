package grpcserve

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/donetkit/contrib-apm/server/systemsignal"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-log/glog"
	"google.golang.org/grpc"
)

const (
	defaultServerMaxReceiveMessageSize = 1024 * 1024 * 4
	defaultServerMaxSendMessageSize    = math.MaxInt32
	// http2IOBufSize specifies the buffer size for sending frames.
	defaultWriteBufSize = 32 * 1024
	defaultReadBufSize  = 32 * 1024
)

type config struct {
	exit        chan struct{}
	Ctx         context.Context
	Tracer      *tracer.Server
	Logger      glog.ILoggerEntry
	ServiceName string
	Host        string
	Port        int
	protocol    string
	pId         int
	GServer     *grpc.Server
	listener    net.Listener

	maxReceiveMessageSize int
	maxSendMessageSize    int
	connectionTimeout     time.Duration
	writeBufferSize       int
	readBufferSize        int

	grpcOpts []grpc.ServerOption
}

type Server struct {
	Options *config
}

// New builds the grpc server. Register services on Options.GServer before Run.
func New(opts ...Option) *Server {
	var cfg = &config{
		exit:        make(chan struct{}),
		Ctx:         context.Background(),
		ServiceName: "demo",
		Host:        "0.0.0.0",
		Port:        80,
		protocol:    "GRPC",
		pId:         os.Getpid(),

		maxReceiveMessageSize: defaultServerMaxReceiveMessageSize,
		maxSendMessageSize:    defaultServerMaxSendMessageSize,

		connectionTimeout: 120 * time.Second,

		writeBufferSize: defaultWriteBufSize,
		readBufferSize:  defaultReadBufSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = glog.New().WithField("GrpcServe", "GrpcServe")
	}

	gOpts := []grpc.ServerOption{
		grpc.WriteBufferSize(cfg.writeBufferSize),
		grpc.ReadBufferSize(cfg.readBufferSize),
		grpc.ConnectionTimeout(cfg.connectionTimeout),
		grpc.MaxRecvMsgSize(cfg.maxReceiveMessageSize),
		grpc.MaxSendMsgSize(cfg.maxSendMessageSize),
	}
	if cfg.Tracer != nil {
		gOpts = append(gOpts,
			grpc.ChainUnaryInterceptor(UnaryServerInterceptor(cfg.Tracer)),
			grpc.ChainStreamInterceptor(StreamServerInterceptor(cfg.Tracer)),
		)
	}
	cfg.grpcOpts = append(gOpts, cfg.grpcOpts...)
	cfg.GServer = grpc.NewServer(cfg.grpcOpts...)
	return &Server{Options: cfg}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Options.Host, s.Options.Port))
	if err != nil {
		return err
	}
	s.Options.listener = lis
	go func() {
		if err := s.Options.GServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			s.Options.Logger.Error(err.Error())
		}
	}()
	return nil
}

func (s *Server) Run() {
	if err := s.Start(); err != nil {
		s.Options.Logger.Error(err.Error())
		os.Exit(1)
	}
	s.Options.Logger.Info(fmt.Sprintf("%s serving %s on %s, pid %s", s.Options.ServiceName,
		s.Options.protocol, s.Options.listener.Addr(), strconv.Itoa(s.Options.pId)))
	systemsignal.HookSignals(s)
	<-s.Options.exit
	os.Exit(0)
}

func (s *Server) StopNotify(sig os.Signal) {
	s.Options.Logger.Info("receive a signal, " + "signal: " + sig.String())
	s.stop()
	if s.Options.Tracer != nil {
		s.Options.Tracer.Stop(s.Options.Ctx)
	}
}

func (s *Server) Shutdown() {
	close(s.Options.exit)
}

func (s *Server) stop() {
	s.Options.Logger.Info("Server is stopping")
	s.Options.GServer.GracefulStop()
	s.Options.Logger.Info("Server is stopped.")
}
