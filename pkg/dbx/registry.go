package dbx

import (
	"context"
	"sort"
	"sync"

	"github.com/marcodd23/go-txscope/pkg/errorx"
)

// ClientFactory builds a Client from a connection configuration. The client is not connected yet.
type ClientFactory func(ctx context.Context, conf ConnConfig) (Client, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ClientFactory)
)

// RegisterClientFactory makes a client available under name, usually from a driver package init.
// It panics if name is registered twice or factory is nil.
func RegisterClientFactory(name string, factory ClientFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic("dbx: RegisterClientFactory factory is nil")
	}

	if _, dup := factories[name]; dup {
		panic("dbx: RegisterClientFactory called twice for client " + name)
	}

	factories[name] = factory
}

// RegisteredClients returns the sorted names of the registered client factories.
func RegisteredClients() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// NewClient builds the client registered under name.
func NewClient(ctx context.Context, name string, conf ConnConfig) (Client, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()

	if !ok {
		return nil, errorx.NewConfigurationError("no client registered as %q (forgotten import?), registered: %v", name, RegisteredClients())
	}

	client, err := factory(ctx, conf)
	if err != nil {
		return nil, errorx.NewConfigurationErrorWrapper(err, "unable to create client %q", name)
	}

	return client, nil
}
