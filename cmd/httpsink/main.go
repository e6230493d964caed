package main

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/svcgen/internal/tally"
	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
)

// Options defines the command line arguments
type Options struct {
	Port     int  `long:"port" description:"Port number to listen on for HTTP" default:"4318"`
	Capacity uint `long:"capacity" description:"Number of distinct trace and span ids to remember" default:"1000000"`
}

// decodeOTLP reads an OTLP/HTTP request body into msg. Protobuf is assumed
// unless the content type says JSON.
func decodeOTLP(r *http.Request, msg proto.Message) (int, error) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, errors.New("method not allowed")
	}

	var reader io.ReadCloser = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("failed to decompress gzip data: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return http.StatusBadRequest, errors.New("error reading request body")
	}

	switch r.Header.Get("Content-Type") {
	case "application/json":
		if err := protojson.Unmarshal(body, msg); err != nil {
			return http.StatusBadRequest, fmt.Errorf("invalid JSON data: %w", err)
		}
	default:
		if err := proto.Unmarshal(body, msg); err != nil {
			return http.StatusBadRequest, fmt.Errorf("invalid protobuf data: %w", err)
		}
	}
	return http.StatusOK, nil
}

// writeOTLP answers in the encoding the request used.
func writeOTLP(w http.ResponseWriter, r *http.Request, resp proto.Message) {
	var body []byte
	var err error
	contentType := r.Header.Get("Content-Type")
	if contentType == "application/json" {
		body, err = protojson.Marshal(resp)
	} else {
		contentType = "application/x-protobuf"
		body, err = proto.Marshal(resp)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func newMux(log *zap.SugaredLogger, tl *tally.Tally) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/traces", func(w http.ResponseWriter, r *http.Request) {
		var req collectortrace.ExportTraceServiceRequest
		if code, err := decodeOTLP(r, &req); err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		n := tl.AddTraces(&req)
		log.Debugf("received %d spans on /v1/traces", n)
		writeOTLP(w, r, &collectortrace.ExportTraceServiceResponse{})
	})

	mux.HandleFunc("/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		var req collectorlogs.ExportLogsServiceRequest
		if code, err := decodeOTLP(r, &req); err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		n := tl.AddLogs(&req)
		log.Debugf("received %d log records on /v1/logs", n)
		writeOTLP(w, r, &collectorlogs.ExportLogsServiceResponse{})
	})

	return mux
}

func initHTTPReceiver(ctx context.Context, log *zap.SugaredLogger, opts Options, tl *tally.Tally) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: newMux(log, tl),
	}

	go func() {
		log.Infof("HTTP server listening on port %d", opts.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error during server shutdown: %v", err)
		}
	}()

	return nil
}

func main() {
	var opts Options

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

	log.Infof("Starting HTTP sink server on port %d", opts.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tl := tally.New(opts.Capacity)
	if err := initHTTPReceiver(ctx, log, opts, tl); err != nil {
		log.Fatalf("Failed to start HTTP receiver: %v", err)
	}

	<-ctx.Done()

	fmt.Printf("\n%s", tl.Summary())
	log.Info("Shutting down gracefully...")
}
