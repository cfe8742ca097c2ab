package webserve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/donetkit/contrib-apm/server/systemsignal"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-apm/utils/gtime"
	"github.com/donetkit/contrib-log/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/host"
)

type Server struct {
	exit           chan struct{}
	Ctx            context.Context
	Tracer         *tracer.Server
	Logger         glog.ILoggerEntry
	ServiceName    string
	Host           string
	Port           int
	handler        http.Handler
	httpServer     *http.Server
	listener       net.Listener
	spanName       SpanNameFormatter
	metricsPath    string
	gatherer       prometheus.Gatherer
	readTimeout    time.Duration
	writerTimeout  time.Duration
	maxHeaderBytes int
	Version        string
	protocol       string
	pId            int
}

func New(opts ...Option) *Server {
	var server = &Server{
		exit:           make(chan struct{}),
		Ctx:            context.Background(),
		ServiceName:    "demo",
		Host:           "0.0.0.0",
		Port:           80,
		Version:        tracer.Version(),
		protocol:       "HTTP API",
		pId:            os.Getpid(),
		metricsPath:    "/metrics",
		gatherer:       prometheus.DefaultGatherer,
		writerTimeout:  time.Second * 120,
		readTimeout:    time.Second * 120,
		maxHeaderBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.Logger == nil {
		server.Logger = glog.New().WithField("WebServe", "WebServe")
	}
	return server
}

func (s *Server) AddTrace(tracer *tracer.Server) *Server {
	s.Tracer = tracer
	return s
}

func (s *Server) AddHandler(handler http.Handler) *Server {
	s.handler = handler
	return s
}

// Handler returns the application handler wrapped in request tracing, with
// the metrics endpoint mounted next to it.
func (s *Server) Handler() http.Handler {
	app := s.handler
	if app == nil {
		app = http.NotFoundHandler()
	}
	if s.Tracer != nil {
		app = Middleware(s.Tracer, app, s.spanName)
	}
	if s.metricsPath == "" {
		return app
	}
	mux := http.NewServeMux()
	mux.Handle(s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", app)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = lis
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.readTimeout,
		WriteTimeout:   s.writerTimeout,
		MaxHeaderBytes: s.maxHeaderBytes,
	}
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.Logger.Error(err.Error())
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Run() {
	if err := s.Start(); err != nil {
		s.Logger.Error(err.Error())
		os.Exit(1)
	}
	s.printLog()
	systemsignal.HookSignals(s)
	<-s.exit
	os.Exit(0)
}

func (s *Server) StopNotify(sig os.Signal) {
	s.Logger.Info("receive a signal, " + "signal: " + sig.String())
	s.stop()
	if s.Tracer != nil {
		s.Tracer.Stop(s.Ctx)
	}
}

func (s *Server) Shutdown() {
	close(s.exit)
}

func (s *Server) stop() {
	s.Logger.Info("Server is stopping")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Logger.Error("shutdown http webserve error", err.Error())
		}
	}
	s.Logger.Info("Server is stopped.")
}

func (s *Server) printLog() {
	s.Logger.Info("======================================================================")
	if info, err := host.Info(); err == nil {
		s.Logger.Info("Loading System Info ...")
		s.Logger.Info(fmt.Sprintf("hostName                 :  %s", info.Hostname))
		s.Logger.Info(fmt.Sprintf("upTime                   :  %s", gtime.ResolveTimeSecond(int(info.Uptime))))
		s.Logger.Info(fmt.Sprintf("bootTime                 :  %s", time.Unix(int64(info.BootTime), 0).Format("2006/01/02 15:04:05")))
		s.Logger.Info(fmt.Sprintf("os                       :  %s", info.OS))
		s.Logger.Info(fmt.Sprintf("platform                 :  %s %s", info.Platform, info.PlatformVersion))
		s.Logger.Info(fmt.Sprintf("kernelVersion            :  %s", info.KernelVersion))
	}
	s.Logger.Info(fmt.Sprintf("Welcome to %s, starting application ...", s.ServiceName))
	s.Logger.Info(fmt.Sprintf("apm version              :  %s", s.Version))
	s.Logger.Info(fmt.Sprintf("serve & protocol         :  %s", s.protocol))
	s.Logger.Info(fmt.Sprintf("listening on             :  %s", s.Addr()))
	s.Logger.Info(fmt.Sprintf("metrics path             :  %s", s.metricsPath))
	s.Logger.Info(fmt.Sprintf("application running pid  :  %s", strconv.Itoa(s.pId)))
	s.Logger.Info("Server is Started.")
	s.Logger.Info("======================================================================")
}
