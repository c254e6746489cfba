// Package environment describes the workspace a host instance serves. A
// Descriptor is built once from handshake inputs or command line flags and is
// never modified afterwards.
package environment

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ajitpratap0/langhost/pkg/logging"
)

// LogLevel is the verbosity requested by the editor or the command line.
type LogLevel int

const (
	Trace LogLevel = iota
	Debug
	Information
	Warning
	Error
	Critical
	None
)

func (l LogLevel) String() string {
	switch l {
	case Trace:
		return "Trace"
	case Debug:
		return "Debug"
	case Information:
		return "Information"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Critical:
		return "Critical"
	case None:
		return "None"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

// ParseLogLevel accepts the level names used on the command line.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "trace":
		return Trace, nil
	case "debug":
		return Debug, nil
	case "information", "info":
		return Information, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	case "critical", "fatal":
		return Critical, nil
	case "none", "off":
		return None, nil
	}
	return Information, fmt.Errorf("unknown log level %q", s)
}

// FromTrace maps the protocol trace setting onto a log level. "off" still
// keeps warnings so that composition failures reach the editor.
func FromTrace(trace string) LogLevel {
	switch trace {
	case "verbose":
		return Trace
	case "off":
		return Warning
	default:
		return Information
	}
}

// LoggingLevel converts the level into the structured logger's scale.
func (l LogLevel) LoggingLevel() logging.Level {
	switch l {
	case Trace:
		return logging.TraceLevel
	case Debug:
		return logging.DebugLevel
	case Information:
		return logging.InfoLevel
	case Warning:
		return logging.WarnLevel
	case Error:
		return logging.ErrorLevel
	case Critical:
		return logging.FatalLevel
	default:
		return logging.OffLevel
	}
}

// Descriptor is an immutable snapshot of the environment.
type Descriptor struct {
	workspaceRoot string
	hostPID       *int
	logLevel      LogLevel
	launchArgs    []string
}

// New builds a Descriptor. root may be a path or a file URI; an empty root
// resolves to the current directory. A negative pid is the editors' "no
// parent" sentinel and is treated as absent.
func New(root string, hostPID *int, level LogLevel, args []string) (*Descriptor, error) {
	path, err := normaliseRoot(root)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		workspaceRoot: path,
		logLevel:      level,
		launchArgs:    append([]string(nil), args...),
	}
	if hostPID != nil && *hostPID >= 0 {
		pid := *hostPID
		d.hostPID = &pid
	}
	return d, nil
}

func normaliseRoot(root string) (string, error) {
	if strings.HasPrefix(root, "file:") {
		root = URIToPath(root)
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root %q: %w", root, err)
	}
	return filepath.Clean(abs), nil
}

// WorkspaceRoot returns the absolute workspace path.
func (d *Descriptor) WorkspaceRoot() string { return d.workspaceRoot }

// HostProcessID returns the parent process id and whether one was given.
func (d *Descriptor) HostProcessID() (int, bool) {
	if d.hostPID == nil {
		return 0, false
	}
	return *d.hostPID, true
}

// HostProcessIDPtr returns a copy of the parent process id, or nil.
func (d *Descriptor) HostProcessIDPtr() *int {
	if d.hostPID == nil {
		return nil
	}
	pid := *d.hostPID
	return &pid
}

func (d *Descriptor) LogLevel() LogLevel { return d.logLevel }

// LaunchArgs returns a copy of the free-form launch arguments.
func (d *Descriptor) LaunchArgs() []string {
	return append([]string(nil), d.launchArgs...)
}

func (d *Descriptor) String() string {
	pid := "none"
	if d.hostPID != nil {
		pid = fmt.Sprint(*d.hostPID)
	}
	return fmt.Sprintf("root=%s hostPID=%s level=%s args=%d", d.workspaceRoot, pid, d.logLevel, len(d.launchArgs))
}

// URIToPath converts a file URI into a native path. Other inputs are
// returned unchanged.
func URIToPath(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}

	path := u.Path
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}

// PathToURI converts a path into a file URI.
func PathToURI(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}
	return (&url.URL{Scheme: "file", Path: path}).String()
}
