// Package langhost is a language tooling host. It composes language
// capabilities from a core assembly and plugin modules into one immutable
// registry, then serves them to an editor.
//
// # Overview
//
// The host is split into several packages:
//
//   - pkg/host: composition, the handshake state machine and shutdown
//   - pkg/capability: contracts, selectors, the composer and the registry
//   - pkg/plugin: plugin manifests, resolvers and module loaders
//   - pkg/environment: the descriptor built from the handshake parameters
//   - pkg/lifecycle: shutdown token, state machine and process supervision
//   - pkg/languageserver: the Language Server Protocol adapter
//   - pkg/httpserver: the HTTP adapter
//   - pkg/core: buffers, go to definition and diagnostics for C#
//   - pkg/transport and pkg/protocol: JSON-RPC over framed streams
//
// # Serving an editor over stdio
//
//	h := langhost.NewHost(langhost.WithLogger(logger))
//	tr := langhost.NewStdioTransport(os.Stdin, os.Stdout)
//	srv := langhost.NewLanguageServer(tr, h)
//	if err := srv.Run(ctx); err != nil {
//	    // Handle error
//	}
//	os.Exit(srv.ExitCode())
//
// The server composes the registry when the client sends initialize.
// Until then every request other than initialize is answered with
// ServerNotInitialized.
//
// # Serving HTTP
//
// The HTTP adapter needs a composed host:
//
//	env, _ := environment.New(root, nil, environment.Information, nil)
//	ws := langhost.NewWorkspace(env.WorkspaceRoot())
//	if _, err := h.Compose(ctx, env, resolver, loader, langhost.CoreSource(ws)); err != nil {
//	    // Handle error
//	}
//	srv, _ := langhost.NewHTTPServer(h, httpserver.DefaultConfig())
//	err := srv.Run(ctx)
//
// # Plugins
//
// A plugin module is any plugin.Module. Modules compiled into the binary
// are registered on a plugin.CatalogLoader; shared objects are loaded by
// plugin.SharedObjectLoader and must export a symbol named Module. See
// examples/todo-plugin.
package langhost
