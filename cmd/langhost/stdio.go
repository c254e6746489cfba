package main

import (
	"context"

	"github.com/ajitpratap0/langhost/pkg/languageserver"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

func runStdio(ctx context.Context, o *options, args []string) error {
	tel, err := loadTelemetry()
	if err != nil {
		return err
	}
	h, err := newHost(ctx, o, tel)
	if err != nil {
		return err
	}

	tr := transport.NewStdioTransport(nil, nil, transport.WithLogger(h.Logger()))
	serverOpts := []languageserver.ServerOption{
		languageserver.WithLaunchArgs(args),
		languageserver.WithPlugins(o.resolver(), o.loader()),
		languageserver.WithSupervisor(newSupervisor(h)),
	}
	if pid := o.pid(); pid != nil {
		serverOpts = append(serverOpts, languageserver.WithHostPID(*pid))
	}
	if level, ok, err := o.level(); err != nil {
		return err
	} else if ok {
		serverOpts = append(serverOpts, languageserver.WithLogLevel(level))
	}

	srv := languageserver.New(tr, h, serverOpts...)
	if err := srv.Run(ctx); err != nil {
		h.Logger().WithError(err).Warn("Language server stopped with errors")
	}
	if code := srv.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
