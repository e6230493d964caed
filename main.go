package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goware/urlx"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

var ResourceLibrary = "svcgen"
var ResourceVersion = "dev"

type Options struct {
	Telemetry struct {
		Host     string `long:"host" description:"the url of the host to receive the telemetry (or honeycomb, dogfood, local)" default:"honeycomb"`
		Insecure bool   `long:"insecure" description:"use this for insecure http (not https) connections" yaml:",omitempty"`
		Dataset  string `long:"dataset" description:"dataset for the honeycomb sender, and the default seed" env:"HONEYCOMB_DATASET" default:"svcgen"`
		APIKey   string `long:"apikey" description:"the honeycomb API key(*)" env:"HONEYCOMB_API_KEY" yaml:"-"`
	} `group:"Telemetry Options"`
	Program struct {
		File         string `long:"file" description:"the program to run; may also be given as the first argument"`
		MaxDepth     int    `long:"maxdepth" description:"the deepest call chain allowed before an iteration is abandoned" default:"32"`
		Extra        int    `long:"extra" description:"the number of random fields in a span beyond the standard ones" default:"0" yaml:",omitempty"`
		PrintProgram bool   `long:"printprogram" description:"print the resolved program and quit(*)" yaml:"-"`
	} `group:"Program Options"`
	Quantity struct {
		MaxIterations int64         `long:"maxiterations" description:"the total number of loop iterations to run across all services (0 means no limit)" default:"0" yaml:",omitempty"`
		RunTime       time.Duration `long:"runtime" description:"the maximum time to run (0 means no limit)" default:"0s" yaml:",omitempty"`
		RampTime      time.Duration `long:"ramptime" description:"duration over which the looping services are started" default:"0s" yaml:",omitempty"`
	} `group:"Quantity Options"`
	Output struct {
		Sender             string        `long:"sender" description:"type of sender" choice:"honeycomb" choice:"otel" choice:"print" choice:"dummy" default:"print"`
		Protocol           string        `long:"protocol" description:"for otel only, protocol to use" choice:"grpc" choice:"http" choice:"stdout" default:"grpc"`
		MaxQueueSize       int           `long:"maxqueuesize" description:"for otel only, maximum number of spans or log records to queue before dropping" default:"0"`
		MaxExportBatchSize int           `long:"maxexportbatchsize" description:"for otel only, maximum number of spans or log records to export at once" default:"0"`
		BatchTimeout       time.Duration `long:"batchtimeout" description:"for otel only, maximum time to wait before sending a batch" default:"0s"`
		ExportTimeout      time.Duration `long:"exporttimeout" description:"for otel only, maximum time to wait for a batch to be sent" default:"0s"`
	} `group:"Output Options"`
	Global struct {
		LogLevel  string `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"warn"`
		DebugPort int    `long:"debugport" description:"port to listen on for pprof and /metrics(*)" default:"-1" yaml:"-"`
		Seed      string `long:"seed" description:"string seed for random number generator (defaults to dataset name)" yaml:",omitempty"`
		Config    string `long:"config" description:"name of config file to load(*)" default:"" yaml:"-"`
		WriteCfg  string `long:"writecfg" description:"write effective YAML config to the specified output file and quit(*)" default:"" yaml:"-"`
	} `group:"Global Options"`
	Fields  map[string]string `yaml:"fields,omitempty"`
	apihost *url.URL
}

func newOptions() *Options {
	return &Options{Fields: make(map[string]string)}
}

func (o *Options) CopyStarredFieldsFrom(other *Options) {
	o.Telemetry.APIKey = other.Telemetry.APIKey
	o.Program.PrintProgram = other.Program.PrintProgram
	o.Global.DebugPort = other.Global.DebugPort
	o.Global.Config = other.Global.Config
	o.Global.WriteCfg = other.Global.WriteCfg
}

func (o *Options) DebugLevel() int {
	switch o.Global.LogLevel {
	case "debug":
		return 3
	case "info":
		return 2
	case "warn":
		return 1
	case "error":
		return 0
	default:
		return 0
	}
}

// parseHost expands the host shortcuts and fills in a scheme and port so
// every sender can rely on a complete URL.
func parseHost(host string, insecure bool, protocol string) (*url.URL, error) {
	switch host {
	case "honeycomb":
		host = "https://api.honeycomb.io:443"
	case "dogfood":
		host = "https://api-dogfood.honeycomb.io:443"
	case "local":
		host = "http://localhost:4317"
		if protocol == "http" {
			host = "http://localhost:4318"
		}
	default:
	}

	// if the scheme is not specified, fall back to the value of the insecure flag
	defaultScheme := "https"
	if insecure {
		defaultScheme = "http"
	}
	u, err := urlx.ParseWithDefaultScheme(host, defaultScheme)
	if err != nil {
		return nil, fmt.Errorf("unable to parse host: %w", err)
	}
	if u.Port() == "" {
		port := "4317"
		if protocol == "http" {
			port = "4318"
		}
		u.Host = fmt.Sprintf("%s:%s", u.Host, port)
	}
	return u, nil
}

func ReadConfig(opts *Options, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(opts)
}

func WriteConfig(opts *Options, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	defer enc.Close()
	return enc.Encode(opts)
}

// applyArgs takes FIELD=VALUE pairs into opts.Fields; a single bare argument
// names the program file.
func applyArgs(opts *Options, args []string) error {
	for _, arg := range args {
		s := strings.SplitN(arg, "=", 2)
		if len(s) < 2 {
			if opts.Program.File != "" && opts.Program.File != arg {
				return fmt.Errorf("unexpected argument `%s`: program file is already %s", arg, opts.Program.File)
			}
			opts.Program.File = arg
			continue
		}
		opts.Fields[s[0]] = s[1]
	}
	return nil
}

func newSink(ctx context.Context, log Logger, opts *Options, reg *Registry, out io.Writer) (Sink, error) {
	switch opts.Output.Sender {
	case "dummy":
		return NewSinkDummy(log), nil
	case "print":
		return NewSinkPrint(log, out), nil
	case "honeycomb":
		return NewSinkHoneycomb(opts), nil
	case "otel":
		names := make([]string, 0, len(reg.Services()))
		for _, svc := range reg.Services() {
			names = append(names, svc.Name)
		}
		return NewSinkOTel(ctx, log, opts, names)
	default:
		return nil, fmt.Errorf("unknown sender %s", opts.Output.Sender)
	}
}

// run loads the program and runs it until ctx is done or a configured
// limit is reached.
func run(ctx context.Context, log Logger, opts *Options, out io.Writer) error {
	if opts.Program.File == "" {
		return errors.New("no program file given")
	}
	prog, err := ParseFile(opts.Program.File)
	if err != nil {
		return err
	}
	reg, err := BuildRegistry(prog)
	if err != nil {
		return err
	}
	if opts.Program.PrintProgram {
		return DumpProgram(out, reg)
	}

	opts.apihost, err = parseHost(opts.Telemetry.Host, opts.Telemetry.Insecure, opts.Output.Protocol)
	if err != nil {
		return err
	}
	log.Info("host: %s, dataset: %s, apikey: ...%4.4s\n", opts.apihost.String(), opts.Telemetry.Dataset, opts.Telemetry.APIKey)

	mp, shutdownMetrics, err := newMeterProvider(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownMetrics(context.WithoutCancel(ctx)); err != nil {
			log.Error("error shutting down metrics: %v\n", err)
		}
	}()
	metrics, err := NewMetrics(mp)
	if err != nil {
		return err
	}

	sink, err := newSink(ctx, log, opts, reg, out)
	if err != nil {
		return err
	}
	defer sink.Close()

	if opts.Quantity.RunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Quantity.RunTime)
		defer cancel()
	}

	cfg := SchedulerConfig{
		RampTime:    opts.Quantity.RampTime,
		Seed:        opts.Global.Seed,
		Fields:      opts.Fields,
		ExtraFields: opts.Program.Extra,
	}
	if opts.Quantity.MaxIterations > 0 {
		counterChan := make(chan int64)
		cfg.Counter = counterChan
		go IterationCounter(ctx, log, opts.Quantity.MaxIterations, counterChan)
	}

	interp := NewInterpreter(reg, sink, log, metrics, opts.Program.MaxDepth)
	sched, err := NewScheduler(reg, interp, sink, log, metrics, cfg)
	if err != nil {
		return fmt.Errorf("unable to create fields as specified: %w", err)
	}
	if err := sched.Run(ctx); err != nil {
		return err
	}
	for _, st := range sched.Stats() {
		log.Info("%s: %d iterations, %d failed\n", st.Service, st.Iterations, st.Failures)
	}
	return nil
}

func main() {
	cmdopts := newOptions()

	parser := flags.NewParser(cmdopts, flags.Default)
	parser.Usage = `[OPTIONS] FILE [FIELD=VALUE]...

	svcgen runs a program of simulated services and sends the telemetry they
	produce: a trace per loop iteration, a child span per call between methods,
	and a log record per print statement, correlated with the span that printed it.

	A program looks like this:

		service frontend {
			method login {
				print "user %s logged in" with ["ann", "bob"];
				call features.is_enabled;
			}
			loop {
				call login;
				sleep 500ms;
			}
		}
		service features {
			method is_enabled {
				sleep 20ms;
				stderr "flag lookup slow";
			}
		}

	Every service with a loop runs it over and over, independently of the
	others, until the run is stopped. Services without a loop only run when
	called. print writes an INFO record and stderr an ERROR record.

	It can send OTLP (grpc, http, or stdout) or Honeycomb-formatted telemetry. With
	the otel sender each simulated service appears as its own service.name.

	You can specify fields to be added to each span. Each field should be specified as
	FIELD=VALUE. The value can be a constant (and will be sent as the appropriate type),
	or a generator function starting with /.
	Allowed generators are /i, /ir, /ig, /f, /fr, /fg, /s, /sx, /sw, /b, optionally
	followed by a single number or a comma-separated pair of numbers.
	Example generators:
		- /s -- alphanumeric string of length 16
		- /sx32 -- hex string of 32 characters
		- /sw12 -- pronounceable words with cardinality 12
		- /ir100 -- int in a range of 0 to 100
		- /fg50,30 -- float in a gaussian distribution with mean 50 and stddev 30
		- /b33 -- boolean, true or false -- probability of true is 33% (default 50%)

	Field names can be alphanumeric with underscores. If a field name is prefixed with
	a number and a dot (e.g. 1.foo=bar) the field will only be injected into spans at
	that call depth (where 0 is the root span of a loop iteration).

	Fields can also be specified in the config file as key/value pairs under the "fields" key.

	Options can be set in a config file, or on the command line; to specify them in the
	config file, specify it on the command line with "--config=FILENAME". The config file
	format is YAML.

	Note: If a config file is used, it MUST be used for all options, except for the ones
	marked in the help text with (*) -- these fields CANNOT be set in the config file.
	`

	// read the command line and envvars into cmdargs
	args, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error reading command line: %v\n", err)
		os.Exit(1)
	}

	log := NewLogger(cmdopts.DebugLevel())

	opts := newOptions()
	if cmdopts.Global.Config != "" {
		if err := ReadConfig(opts, cmdopts.Global.Config); err != nil {
			log.Fatal("err %v -- unable to read config file %s", err, cmdopts.Global.Config)
		}
		opts.CopyStarredFieldsFrom(cmdopts)
		log = NewLogger(opts.DebugLevel())
		log.Info("read config from %s\n", cmdopts.Global.Config)
	} else {
		opts = cmdopts // we don't have to read from a file
	}

	if err := applyArgs(opts, args); err != nil {
		log.Fatal("%v\n", err)
	}

	if opts.Global.WriteCfg != "" {
		if err := WriteConfig(opts, opts.Global.WriteCfg); err != nil {
			log.Fatal("unable to write config: %s\n", err)
		}
		log.Info("wrote config to %s\n", opts.Global.WriteCfg)
		os.Exit(0)
	}

	if opts.Global.Seed == "" {
		opts.Global.Seed = opts.Telemetry.Dataset
	}

	if opts.Global.DebugPort > 0 {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(fmt.Sprintf("localhost:%d", opts.Global.DebugPort), nil)
			log.Warn("debug server exited: %v\n", err)
		}()
	}

	// ctrl-c or SIGTERM starts a graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, opts, os.Stdout); err != nil {
		stop()
		log.Fatal("%v\n", err)
	}
	if ctx.Err() != nil {
		log.Warn("stopped by operating system signal\n")
	}
}
