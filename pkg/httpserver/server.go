// Package httpserver exposes composed capabilities as HTTP endpoints.
//
// Every endpoint in the registry becomes a POST route that takes the
// contract's request as a JSON body and answers with the first non-nil
// handler response.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/langhost/pkg/capability"
	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/host"
	"github.com/ajitpratap0/langhost/pkg/logging"
)

const transportName = "http"

// ErrNotComposed is returned when a server is built before composition.
var ErrNotComposed = errors.New("httpserver: host has no composed registry")

// Server is the HTTP adapter of a composed host.
type Server struct {
	host     *host.Host
	config   Config
	logger   logging.Logger
	registry *capability.Registry
	engine   *gin.Engine
	token    string
	limiter  *rate.Limiter
}

// New builds the router for h. The host must already be composed so that
// no request can reach a handler before the registry exists.
func New(h *host.Host, config Config, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	registry := h.Registry()
	if registry == nil {
		return nil, ErrNotComposed
	}

	s := &Server{
		host:     h,
		config:   config,
		logger:   h.Logger().WithFields(logging.String("component", "httpserver")),
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		otelgin.Middleware(h.Name(),
			otelgin.WithTracerProvider(h.Tracer().TracerProvider()),
			otelgin.WithPropagators(h.Tracer().Propagator())),
		logging.GinMiddleware(s.logger),
	)

	engine.GET("/healthz", s.health)

	routes := engine.Group("/")
	if s.token != "" {
		routes.Use(s.requireToken())
	}
	if s.limiter != nil {
		routes.Use(s.limitRate())
	}
	if m := h.Metrics(); m != nil {
		routes.GET("/metrics", gin.WrapH(m.Handler()))
	}
	routes.GET("/endpoints", s.endpoints)
	for _, endpoint := range registry.Endpoints() {
		contract, _ := registry.ContractForEndpoint(endpoint)
		routes.POST("/"+endpoint, s.dispatch(endpoint, contract))
	}
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no endpoint %s %s", c.Request.Method, c.Request.URL.Path)})
	})

	s.engine = engine
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	if s.host.Token().Fired() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"id":       s.host.ID(),
		"name":     s.host.Name(),
		"version":  s.host.Version(),
		"state":    s.host.State().String(),
		"handlers": s.registry.Len(),
		"inflight": s.host.InFlight(),
	})
}

// endpoints lists every route with its contract and handler count.
func (s *Server) endpoints(c *gin.Context) {
	out := make([]gin.H, 0, len(s.registry.Endpoints()))
	for _, endpoint := range s.registry.Endpoints() {
		contract, _ := s.registry.ContractForEndpoint(endpoint)
		out = append(out, gin.H{
			"endpoint": endpoint,
			"contract": contract.String(),
			"handlers": len(s.registry.Query(contract)),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) dispatch(endpoint string, contract capability.Contract) gin.HandlerFunc {
	return func(c *gin.Context) {
		release, ok := s.host.Track(c.Request.Context())
		if !ok {
			if m := s.host.Metrics(); m != nil {
				m.RecordRejected(c.Request.Context(), transportName, endpoint, "shutting_down")
			}
			writeError(c, http.StatusServiceUnavailable, hosterrors.ShuttingDown(endpoint))
			return
		}
		defer release()

		ptr := reflect.New(contract.Request)
		if c.Request.ContentLength != 0 {
			if err := json.NewDecoder(c.Request.Body).Decode(ptr.Interface()); err != nil {
				writeError(c, http.StatusBadRequest, hosterrors.InvalidParams(endpoint, err))
				return
			}
		}
		request := ptr.Elem().Interface()

		var response any
		err := s.host.Instrumentation().Observe(c.Request.Context(), transportName, endpoint, func(ctx context.Context) error {
			var err error
			response, err = s.first(ctx, contract, request)
			return err
		})
		if err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		if response == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

// first runs the selected handlers in registration order and returns the
// first non-nil response.
func (s *Server) first(ctx context.Context, contract capability.Contract, request any) (any, error) {
	for _, h := range s.registry.QueryFor(contract, request) {
		resp, err := h.Handle(ctx, request)
		if err != nil {
			return nil, hosterrors.HandlerFailed(contract.String(), err)
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

func writeError(c *gin.Context, status int, err error) {
	if he, ok := hosterrors.AsHostError(err); ok {
		c.AbortWithStatusJSON(status, gin.H{"error": he})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": err.Error()}})
}

// Run listens on the configured address and serves until ctx ends or the
// host's shutdown token fires.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return hosterrors.TransportError(transportName, "listen", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln. When the token fires the listener is closed, open
// requests get the host grace period to finish, then the host shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	token := s.host.Token()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", logging.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return hosterrors.TransportError(transportName, "serve", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-token.Done():
		case <-gctx.Done():
			token.Fire(host.ReasonTransportClosed)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.host.GracePeriod())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("HTTP server did not drain")
		}
		return s.host.Shutdown(context.Background(), token.Reason())
	})
	return g.Wait()
}
