package cmd

import (
	"context"

	"github.com/mainteno/fieldsync/internal/config"
	"github.com/mainteno/fieldsync/internal/connectivity"
	"github.com/mainteno/fieldsync/internal/engine"
	"github.com/mainteno/fieldsync/internal/queue"
	"github.com/mainteno/fieldsync/internal/reconcile"
	"github.com/mainteno/fieldsync/internal/transport"
)

// openStore opens the durable queue store under the work directory.
func openStore() (*queue.Store, error) {
	return queue.Open(baseDir)
}

// syncStack bundles everything a flush needs.
type syncStack struct {
	store    *queue.Store
	client   *transport.Client
	engine   *engine.Engine
	monitor  *connectivity.Monitor
	registry *reconcile.Registry
	resolver *reconcile.Resolver
}

// buildStack wires the store, transport, detector, resolver, and engine for
// the configured server and tenant.
func buildStack() (*syncStack, error) {
	store, err := queue.Open(baseDir)
	if err != nil {
		return nil, err
	}

	client := transport.New(
		config.ServerURL(baseDir),
		config.TenantID(baseDir),
		config.APIKey(baseDir),
	)

	registry := reconcile.NewRegistry()
	detector := reconcile.NewDetector(store, client.Fetch, registry)
	resolver := reconcile.NewResolver(store, registry)

	monitor := connectivity.New(func(ctx context.Context) bool {
		return client.Ping(ctx)
	})

	eng := engine.New(store, client.Execute, detector, monitor.Online)
	monitor.SetOnOnline(func() {
		eng.Flush(context.Background(), true)
	})

	return &syncStack{
		store:    store,
		client:   client,
		engine:   eng,
		monitor:  monitor,
		registry: registry,
		resolver: resolver,
	}, nil
}

func (s *syncStack) Close() {
	s.store.Close()
}
