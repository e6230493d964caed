package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/honeycombio/svcgen/internal/tally"
	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	_ "google.golang.org/grpc/encoding/gzip"
)

// Options defines the command line arguments
type Options struct {
	Port     int           `long:"port" description:"Port number to listen on for grpc" default:"4317"`
	Capacity uint          `long:"capacity" description:"Number of distinct trace and span ids to remember" default:"1000000"`
	Report   time.Duration `long:"report" description:"How often to log the receive rate (0 to disable)" default:"5s"`
}

const (
	// Default values for gRPC configuration
	DefaultMaxSendMsgSize        = 4 * 1024 * 1024  // 4 MB
	DefaultMaxRecvMsgSize        = 15 * 1024 * 1024 // 15 MB
	DefaultMaxConnectionIdle     = 30 * time.Minute
	DefaultMaxConnectionAge      = time.Hour
	DefaultMaxConnectionAgeGrace = 5 * time.Minute
	DefaultKeepAlive             = 2 * time.Minute
	DefaultKeepAliveTimeout      = 20 * time.Second
)

type TraceServer struct {
	tally *tally.Tally
	collectortrace.UnimplementedTraceServiceServer
}

func (t *TraceServer) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	t.tally.AddTraces(req)
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

type LogsServer struct {
	tally *tally.Tally
	collectorlogs.UnimplementedLogsServiceServer
}

func (l *LogsServer) Export(ctx context.Context, req *collectorlogs.ExportLogsServiceRequest) (*collectorlogs.ExportLogsServiceResponse, error) {
	l.tally.AddLogs(req)
	return &collectorlogs.ExportLogsServiceResponse{}, nil
}

// newGRPCServer returns a server with the trace and logs services registered.
func newGRPCServer(tl *tally.Tally) *grpc.Server {
	serverOpts := []grpc.ServerOption{
		grpc.MaxSendMsgSize(DefaultMaxSendMsgSize),
		grpc.MaxRecvMsgSize(DefaultMaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     DefaultMaxConnectionIdle,
			MaxConnectionAge:      DefaultMaxConnectionAge,
			MaxConnectionAgeGrace: DefaultMaxConnectionAgeGrace,
			Time:                  DefaultKeepAlive,
			Timeout:               DefaultKeepAliveTimeout,
		}),
	}
	srv := grpc.NewServer(serverOpts...)
	collectortrace.RegisterTraceServiceServer(srv, &TraceServer{tally: tl})
	collectorlogs.RegisterLogsServiceServer(srv, &LogsServer{tally: tl})
	return srv
}

// initGRPCReceiver starts the receiver on localhost and stops it when ctx
// is done.
func initGRPCReceiver(ctx context.Context, log *zap.SugaredLogger, opts Options, tl *tally.Tally) error {
	addr := fmt.Sprintf("localhost:%d", opts.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := newGRPCServer(tl)
	go func() {
		log.Infof("gRPC server listening on %s", addr)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("Stopping gRPC server...")
		srv.GracefulStop()
	}()
	return nil
}

func reportRates(ctx context.Context, log *zap.SugaredLogger, tl *tally.Tally, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ntraces, nspans, nlogs := tl.Totals()
			log.Infof("items per second: %.2f (1s) | %.2f (10s) | %.2f (60s) | traces: %d spans: %d logs: %d",
				tl.Rate(1), tl.Rate(10), tl.Rate(60), ntraces, nspans, nlogs)
		}
	}
}

func main() {
	var opts Options

	// Parse command line arguments
	parser := flags.NewParser(&opts, flags.Default)
	_, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	z, err := zap.NewDevelopment()
	if err != nil {
		z = zap.NewNop()
	}
	log := z.Sugar()
	defer log.Sync()

	log.Infof("Starting sink server on port %d", opts.Port)

	// Create context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tl := tally.New(opts.Capacity)
	if err := initGRPCReceiver(ctx, log, opts, tl); err != nil {
		log.Fatalf("Failed to start gRPC receiver: %v", err)
	}
	go reportRates(ctx, log, tl, opts.Report)

	// Wait for termination signal
	<-ctx.Done()

	fmt.Printf("\n%s", tl.Summary())
	log.Info("Shutting down gracefully...")
}
