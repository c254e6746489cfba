package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/ajitpratap0/langhost/pkg/environment"
	"github.com/ajitpratap0/langhost/pkg/host"
	"github.com/ajitpratap0/langhost/pkg/httpserver"
	"github.com/ajitpratap0/langhost/pkg/lifecycle"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/modules/todos"
	"github.com/ajitpratap0/langhost/pkg/observability"
	"github.com/ajitpratap0/langhost/pkg/plugin"
)

// telemetry holds the ambient settings read from the environment. The
// language host itself reads no environment variables.
type telemetry struct {
	LogFormat      string            `env:"LANGHOST_LOG_FORMAT" envDefault:"text"`
	OTLPEndpoint   string            `env:"LANGHOST_OTLP_ENDPOINT"`
	OTLPProtocol   string            `env:"LANGHOST_OTLP_PROTOCOL" envDefault:"grpc"`
	OTLPHeaders    map[string]string `env:"LANGHOST_OTLP_HEADERS"`
	TraceAlways    []string          `env:"LANGHOST_TRACE_ALWAYS"`
	TraceNever     []string          `env:"LANGHOST_TRACE_NEVER"`
	TraceRate      float64           `env:"LANGHOST_TRACE_SAMPLE_RATE"`
	TraceAttrs     map[string]string `env:"LANGHOST_TRACE_ATTRIBUTES"`
	MetricsAddr    string            `env:"LANGHOST_METRICS_ADDR"`
	ComposeTimeout time.Duration     `env:"LANGHOST_COMPOSE_TIMEOUT" envDefault:"30s"`
	GracePeriod    time.Duration     `env:"LANGHOST_GRACE_PERIOD" envDefault:"5s"`
	HTTPToken      string            `env:"LANGHOST_HTTP_TOKEN"`
	HTTPRateLimit  float64           `env:"LANGHOST_HTTP_RATE_LIMIT"`
	HTTPBurst      int               `env:"LANGHOST_HTTP_BURST" envDefault:"20"`
}

func loadTelemetry() (telemetry, error) {
	var t telemetry
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	return t, nil
}

type options struct {
	source         string
	hostPID        int
	plugins        []string
	pluginManifest string
	pluginDir      string
	verbose        bool
	logLevel       string

	port  int
	iface string
}

func (o *options) bindShared(fs *pflag.FlagSet) {
	fs.StringVarP(&o.source, "source", "s", ".", "workspace root")
	fs.IntVar(&o.hostPID, "hostPID", -1, "exit when this process exits")
	fs.StringArrayVar(&o.plugins, "plugin", nil, "plugin module identity, repeatable")
	fs.StringVar(&o.pluginManifest, "plugin-manifest", "", "YAML plugin manifest")
	fs.StringVar(&o.pluginDir, "plugin-dir", "", "directory holding shared object plugins")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	fs.StringVar(&o.logLevel, "loglevel", "", "log level (trace, debug, information, warning, error, critical, none)")
}

func (o *options) bindHTTP(fs *pflag.FlagSet) {
	fs.IntVarP(&o.port, "port", "p", httpserver.DefaultPort, "listen port")
	fs.StringVarP(&o.iface, "interface", "i", httpserver.DefaultInterface, "listen interface")
}

// level returns the explicit log level, if one was requested.
func (o *options) level() (environment.LogLevel, bool, error) {
	if o.logLevel != "" {
		l, err := environment.ParseLogLevel(o.logLevel)
		return l, true, err
	}
	if o.verbose {
		return environment.Debug, true, nil
	}
	return environment.Information, false, nil
}

func (o *options) pid() *int {
	if o.hostPID <= 0 {
		return nil
	}
	pid := o.hostPID
	return &pid
}

func (o *options) resolver() plugin.Resolver {
	chain := plugin.ChainResolver{plugin.StaticResolver(o.plugins)}
	if o.pluginManifest != "" {
		chain = append(chain, plugin.ManifestResolver{Path: o.pluginManifest})
	}
	return chain
}

// loader tries modules compiled into the binary first, then shared objects.
func (o *options) loader() plugin.Loader {
	loaders := plugin.MultiLoader{builtinModules()}
	if o.pluginDir != "" {
		loaders = append(loaders, &plugin.SharedObjectLoader{Dir: o.pluginDir})
	}
	return loaders
}

// builtinModules is the catalog of modules linked into this binary. They
// are only composed when named with --plugin or in the manifest.
func builtinModules() *plugin.CatalogLoader {
	catalog := plugin.NewCatalogLoader()
	catalog.AddModule(todos.Module())
	return catalog
}

// exitInterrupted is the status used when a second interrupt cuts the
// shutdown grace period short.
const exitInterrupted = 130

// newSupervisor couples the host to signals and its parent process. A second
// signal during shutdown exits immediately.
func newSupervisor(h *host.Host) *lifecycle.Supervisor {
	sup := lifecycle.NewSupervisor(h.Token(), h.Logger())
	sup.Escalate = func(sig os.Signal) {
		h.Logger().Error("Forced exit", logging.String("signal", sig.String()))
		os.Exit(exitInterrupted)
	}
	return sup
}

// newHost builds the host and its telemetry. Telemetry closers run as part
// of the host shutdown.
func newHost(ctx context.Context, o *options, tel telemetry) (*host.Host, error) {
	formatter, err := logging.NewFormatter(tel.LogFormat)
	if err != nil {
		return nil, err
	}
	// stdout belongs to the protocol
	logger := logging.New(os.Stderr, formatter)
	if level, ok, err := o.level(); err != nil {
		return nil, err
	} else if ok {
		logger.SetLevel(level.LoggingLevel())
	}

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    host.DefaultName,
		ServiceVersion: version,
		ListenAddress:  tel.MetricsAddr,
		IncludeRuntime: true,
	})
	if err != nil {
		return nil, err
	}

	hostOpts := []host.Option{
		host.WithLogger(logger),
		host.WithMetrics(metrics),
		host.WithVersion(version),
		host.WithComposeTimeout(tel.ComposeTimeout),
		host.WithGracePeriod(tel.GracePeriod),
	}

	var tracing *observability.TracingProvider
	if tel.OTLPEndpoint != "" {
		exporter := observability.ExporterTypeOTLPGRPC
		if strings.EqualFold(tel.OTLPProtocol, "http") {
			exporter = observability.ExporterTypeOTLPHTTP
		}
		tracing, err = observability.NewTracingProvider(observability.TracingConfig{
			ServiceName:        host.DefaultName,
			ServiceVersion:     version,
			ExporterType:       exporter,
			Endpoint:           tel.OTLPEndpoint,
			Headers:            tel.OTLPHeaders,
			Insecure:           true,
			SampleRate:         tel.TraceRate,
			AlwaysSample:       tel.TraceAlways,
			NeverSample:        tel.TraceNever,
			ResourceAttributes: tel.TraceAttrs,
			RegisterGlobal:     true,
		})
		if err != nil {
			return nil, err
		}
		hostOpts = append(hostOpts, host.WithTracing(tracing))
	}

	h := host.New(hostOpts...)
	if err := metrics.Start(ctx); err != nil {
		h.Logger().WithError(err).Warn("Metrics listener not started")
	}
	h.OnShutdown("metrics", metrics.Shutdown)
	if tracing != nil {
		h.OnShutdown("tracing", tracing.Shutdown)
	}
	return h, nil
}
