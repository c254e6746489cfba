// Command langhost runs the language tooling host over stdio or HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/langhost"
)

var version = langhost.Version

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "langhost",
		Short:         "Language tooling host",
		Long:          "langhost composes language capabilities from core modules and plugins and serves them to an editor over stdio or HTTP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bindShared(root.PersistentFlags())

	stdio := &cobra.Command{
		Use:   "stdio [-- launch args]",
		Short: "Serve the Language Server Protocol on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio(cmd.Context(), opts, args)
		},
	}

	httpCmd := &cobra.Command{
		Use:   "http [-- launch args]",
		Short: "Serve capability endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(cmd.Context(), opts, args)
		},
	}
	opts.bindHTTP(httpCmd.Flags())

	root.AddCommand(stdio, httpCmd)
	return root
}

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, "langhost:", exit.err)
		}
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "langhost:", err)
	os.Exit(1)
}
