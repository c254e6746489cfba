package main

import (
	"context"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/environment"
	"github.com/ajitpratap0/langhost/pkg/httpserver"
)

func runHTTP(ctx context.Context, o *options, args []string) error {
	config := httpserver.Config{Interface: o.iface, Port: o.port}
	if err := config.Validate(); err != nil {
		return err
	}
	tel, err := loadTelemetry()
	if err != nil {
		return err
	}
	level, _, err := o.level()
	if err != nil {
		return err
	}
	env, err := environment.New(o.source, o.pid(), level, args)
	if err != nil {
		return err
	}

	h, err := newHost(ctx, o, tel)
	if err != nil {
		return err
	}
	ws := core.NewWorkspace(env.WorkspaceRoot())
	capability.Provide(h.Container(), ws)
	if _, err := h.Compose(ctx, env, o.resolver(), o.loader(), core.Source(ws)); err != nil {
		_ = h.Shutdown(context.Background(), h.Token().Reason())
		return &exitError{code: 1, err: err}
	}

	// as in stdio mode, a parent already gone finds the host Ready
	sup := newSupervisor(h)
	if err := sup.Start(h.Token().Context(), env.HostProcessIDPtr()); err != nil {
		return err
	}
	defer sup.Stop()

	srv, err := httpserver.New(h, config,
		httpserver.WithToken(tel.HTTPToken),
		httpserver.WithRateLimit(tel.HTTPRateLimit, tel.HTTPBurst))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
