package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/langhost/pkg/logging"
)

func intPtr(v int) *int { return &v }

func TestNewFromHandshake(t *testing.T) {
	d, err := New("file:///repo", nil, FromTrace("off"), nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.FromSlash("/repo"), d.WorkspaceRoot())
	_, ok := d.HostProcessID()
	assert.False(t, ok)
	assert.Nil(t, d.HostProcessIDPtr())
	assert.Equal(t, Warning, d.LogLevel())
}

func TestNewEmptyRootUsesWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	d, err := New("", nil, Information, nil)
	require.NoError(t, err)
	assert.Equal(t, wd, d.WorkspaceRoot())
}

func TestNewRelativeRootIsAbsolute(t *testing.T) {
	d, err := New("some/dir/../dir", nil, Information, nil)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(d.WorkspaceRoot()))
	assert.Equal(t, "dir", filepath.Base(d.WorkspaceRoot()))
}

func TestHostProcessID(t *testing.T) {
	tests := []struct {
		name    string
		pid     *int
		want    int
		present bool
	}{
		{"absent", nil, 0, false},
		{"sentinel", intPtr(-1), 0, false},
		{"present", intPtr(4242), 4242, true},
		{"zero", intPtr(0), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New("/repo", tt.pid, Information, nil)
			require.NoError(t, err)
			got, ok := d.HostProcessID()
			assert.Equal(t, tt.present, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescriptorIsImmutable(t *testing.T) {
	pid := 10
	args := []string{"--a", "b"}
	d, err := New("/repo", &pid, Debug, args)
	require.NoError(t, err)

	pid = 11
	args[0] = "changed"
	got := d.LaunchArgs()
	got[1] = "changed too"

	p, _ := d.HostProcessID()
	assert.Equal(t, 10, p)
	assert.Equal(t, []string{"--a", "b"}, d.LaunchArgs())

	*d.HostProcessIDPtr() = 99
	p, _ = d.HostProcessID()
	assert.Equal(t, 10, p)
}

func TestFromTrace(t *testing.T) {
	assert.Equal(t, Trace, FromTrace("verbose"))
	assert.Equal(t, Warning, FromTrace("off"))
	assert.Equal(t, Information, FromTrace("messages"))
	assert.Equal(t, Information, FromTrace(""))
}

func TestParseLogLevel(t *testing.T) {
	for _, name := range []string{"Trace", "Debug", "Information", "Warning", "Error", "Critical", "None"} {
		lvl, err := ParseLogLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, lvl.String())
	}
	_, err := ParseLogLevel("shouty")
	assert.Error(t, err)
}

func TestLoggingLevel(t *testing.T) {
	assert.Equal(t, logging.TraceLevel, Trace.LoggingLevel())
	assert.Equal(t, logging.WarnLevel, Warning.LoggingLevel())
	assert.Equal(t, logging.OffLevel, None.LoggingLevel())
}

func TestURIRoundTrip(t *testing.T) {
	path := filepath.FromSlash("/repo/src/Program.cs")
	uri := PathToURI(path)
	assert.Equal(t, "file:///repo/src/Program.cs", uri)
	assert.Equal(t, path, URIToPath(uri))

	assert.Equal(t, "untitled:Untitled-1", URIToPath("untitled:Untitled-1"))
	assert.Equal(t, "", PathToURI(""))
}
