package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string
	InstanceID     string

	// Standalone exposition, used by the stdio host which has no HTTP
	// listener of its own. Empty disables it.
	ListenAddress string
	MetricsPath   string // default: /metrics

	// Metric options
	Namespace        string    // default: langhost
	HistogramBuckets []float64 // latency buckets in milliseconds

	// Collect Go runtime and process metrics as well
	IncludeRuntime bool

	ConstLabels prometheus.Labels
}

// MetricsProvider records host level metrics
type MetricsProvider interface {
	// RecordDispatch records one request handled by a transport
	RecordDispatch(ctx context.Context, transport, method, status string, duration time.Duration)
	// RecordNotification records one inbound notification
	RecordNotification(ctx context.Context, transport, method, status string, duration time.Duration)
	// RecordRejected counts requests refused before dispatch
	RecordRejected(ctx context.Context, transport, method, reason string)

	RecordComposition(ctx context.Context, status string, modules, handlers int, duration time.Duration)
	RecordState(state string)
	RecordShutdown(reason string)

	// Registry exposes the private registry for HTTP exposition
	Registry() *prometheus.Registry
	Handler() http.Handler

	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// States reported by the state gauge. Exactly one is 1 at any time.
var stateLabels = []string{"Uninitialized", "ParamsReceived", "Composing", "Ready", "ShuttingDown", "Stopped"}

// PrometheusMetricsProvider implements MetricsProvider on a private
// Prometheus registry, so several hosts can live in one process.
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server
	mu       sync.Mutex

	dispatchDuration     *prometheus.HistogramVec
	dispatchTotal        *prometheus.CounterVec
	notificationDuration *prometheus.HistogramVec
	notificationTotal    *prometheus.CounterVec
	rejectedTotal        *prometheus.CounterVec

	compositionDuration *prometheus.HistogramVec
	composedHandlers    prometheus.Gauge
	composedModules     prometheus.Gauge

	state         *prometheus.GaugeVec
	shutdownTotal *prometheus.CounterVec
}

// NewMetricsProvider creates a new Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "langhost"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	if config.InstanceID != "" {
		labels["instance_id"] = config.InstanceID
	}
	config.ConstLabels = labels

	p := &PrometheusMetricsProvider{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	p.initializeMetrics()

	if err := p.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return p, nil
}

func (p *PrometheusMetricsProvider) initializeMetrics() {
	ns, cl := p.config.Namespace, p.config.ConstLabels

	p.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "dispatch_duration_milliseconds",
			Help:        "Duration of dispatched requests in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: cl,
		},
		[]string{"transport", "method", "status"},
	)
	p.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "dispatch_total",
			Help:        "Total number of dispatched requests",
			ConstLabels: cl,
		},
		[]string{"transport", "method", "status"},
	)
	p.notificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "notification_duration_milliseconds",
			Help:        "Duration of inbound notifications in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: cl,
		},
		[]string{"transport", "method", "status"},
	)
	p.notificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "notification_total",
			Help:        "Total number of inbound notifications",
			ConstLabels: cl,
		},
		[]string{"transport", "method", "status"},
	)
	p.rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "rejected_total",
			Help:        "Requests refused before reaching a capability",
			ConstLabels: cl,
		},
		[]string{"transport", "method", "reason"},
	)
	p.compositionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "composition_duration_milliseconds",
			Help:        "Duration of capability composition in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: cl,
		},
		[]string{"status"},
	)
	p.composedHandlers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "composed_handlers",
		Help:        "Number of handlers in the capability registry",
		ConstLabels: cl,
	})
	p.composedModules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "composed_modules",
		Help:        "Number of plugin modules loaded",
		ConstLabels: cl,
	})
	p.state = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "handshake_state",
			Help:        "Current handshake state (1 for the active state)",
			ConstLabels: cl,
		},
		[]string{"state"},
	)
	p.shutdownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "shutdown_total",
			Help:        "Shutdown sequences started, by trigger",
			ConstLabels: cl,
		},
		[]string{"reason"},
	)
}

func (p *PrometheusMetricsProvider) registerMetrics() error {
	cs := []prometheus.Collector{
		p.dispatchDuration,
		p.dispatchTotal,
		p.notificationDuration,
		p.notificationTotal,
		p.rejectedTotal,
		p.compositionDuration,
		p.composedHandlers,
		p.composedModules,
		p.state,
		p.shutdownTotal,
	}
	if p.config.IncludeRuntime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (p *PrometheusMetricsProvider) RecordDispatch(ctx context.Context, transport, method, status string, duration time.Duration) {
	p.dispatchDuration.WithLabelValues(transport, method, status).Observe(ms(duration))
	p.dispatchTotal.WithLabelValues(transport, method, status).Inc()
}

func (p *PrometheusMetricsProvider) RecordNotification(ctx context.Context, transport, method, status string, duration time.Duration) {
	p.notificationDuration.WithLabelValues(transport, method, status).Observe(ms(duration))
	p.notificationTotal.WithLabelValues(transport, method, status).Inc()
}

func (p *PrometheusMetricsProvider) RecordRejected(ctx context.Context, transport, method, reason string) {
	p.rejectedTotal.WithLabelValues(transport, method, reason).Inc()
}

func (p *PrometheusMetricsProvider) RecordComposition(ctx context.Context, status string, modules, handlers int, duration time.Duration) {
	p.compositionDuration.WithLabelValues(status).Observe(ms(duration))
	p.composedModules.Set(float64(modules))
	p.composedHandlers.Set(float64(handlers))
}

// RecordState marks state as the active one
func (p *PrometheusMetricsProvider) RecordState(state string) {
	for _, s := range stateLabels {
		p.state.WithLabelValues(s).Set(0)
	}
	p.state.WithLabelValues(state).Set(1)
}

func (p *PrometheusMetricsProvider) RecordShutdown(reason string) {
	p.shutdownTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusMetricsProvider) Registry() *prometheus.Registry { return p.registry }

// Handler serves the private registry in the exposition format
func (p *PrometheusMetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Start serves metrics on ListenAddress, if configured
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	if p.config.ListenAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", p.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler())

	p.mu.Lock()
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := p.server
	p.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
