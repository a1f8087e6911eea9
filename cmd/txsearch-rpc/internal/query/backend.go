package query

import (
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
)

// Backend bundles everything needed to answer queries for one network: the
// search index, the archive and ledger-metadata stores, and the symbolic
// resolvers. All of them are read-only from this package's perspective.
type Backend struct {
	Index   search.Executor
	Archive db.ArchiveReader
	Ledgers db.LedgerReader

	Accounts db.Resolver
	Assets   db.Resolver
	Pools    db.Resolver
	Memos    db.Resolver
}

// Registry maps configured network names to their backends. Looking up an
// unrecognized network is a validation failure, which is the only network
// validation this service performs.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(network string, backend Backend) {
	r.backends[network] = backend
}

func (r *Registry) Networks() []string {
	networks := make([]string, 0, len(r.backends))
	for name := range r.backends {
		networks = append(networks, name)
	}
	return networks
}

func (r *Registry) Lookup(network string) (Backend, error) {
	backend, ok := r.backends[network]
	if !ok {
		return Backend{}, invalidf("network", "unknown network %q", network)
	}
	return backend, nil
}
