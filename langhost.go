package langhost

import (
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/host"
	"github.com/ajitpratap0/langhost/pkg/httpserver"
	"github.com/ajitpratap0/langhost/pkg/languageserver"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

// Version of the host.
const Version = "0.1.0"

// Constructors of the main components.
var (
	NewHost           = host.New
	NewStdioTransport = transport.NewStdioTransport
	NewLanguageServer = languageserver.New
	NewHTTPServer     = httpserver.New

	NewWorkspace = core.NewWorkspace
	CoreSource   = core.Source
)

// Host options
var (
	WithLogger         = host.WithLogger
	WithMetrics        = host.WithMetrics
	WithTracing        = host.WithTracing
	WithComposeTimeout = host.WithComposeTimeout
	WithGracePeriod    = host.WithGracePeriod
)

// Language server options
var (
	WithLaunchArgs = languageserver.WithLaunchArgs
	WithPlugins    = languageserver.WithPlugins
	WithSupervisor = languageserver.WithSupervisor
)
