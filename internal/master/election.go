package master

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/store"
)

// Elector campaigns for the single well-known election token at
// cluster.MasterPath. Only one process at a time ever holds a won
// Campaign call; any number of others may be mid-campaign as standbys.
type Elector struct {
	adapter *store.Adapter
	name    string
	logger  *slog.Logger
}

// NewElector builds an Elector that campaigns as node name on adapter's
// etcd client.
func NewElector(adapter *store.Adapter, name string) *Elector {
	return &Elector{
		adapter: adapter,
		name:    name,
		logger:  slog.Default().With("component", "master-election", "node", name),
	}
}

// Term represents one won election: it is active only until Done fires,
// at which point the holder must treat itself as deactivated — it cannot
// know whether the token still names it.
type Term struct {
	session *concurrency.Session
}

// Done returns a channel closed when this term's session ends (TTL
// expiry, explicit close, or the underlying store connection dropping).
func (t *Term) Done() <-chan struct{} {
	return t.session.Done()
}

// Resign gives up leadership voluntarily and releases the session.
func (t *Term) Resign(ctx context.Context) error {
	election := concurrency.NewElection(t.session, cluster.MasterPath)
	if err := election.Resign(ctx); err != nil {
		t.session.Close()
		return fmt.Errorf("resigning election: %w", err)
	}
	return t.session.Close()
}

// Campaign blocks until this process wins the election or ctx is
// cancelled. A process that returns from Campaign holds the token for as
// long as Term.Done stays open; losing the session means re-electing from
// scratch, never resuming the old term.
func (e *Elector) Campaign(ctx context.Context) (*Term, error) {
	session, err := concurrency.NewSession(e.adapter.Client())
	if err != nil {
		return nil, fmt.Errorf("opening election session: %w", err)
	}
	election := concurrency.NewElection(session, cluster.MasterPath)
	token := cluster.MasterToken{Name: e.name}
	data, err := json.Marshal(token)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("marshaling election token: %w", err)
	}
	e.logger.Info("campaigning for master election")
	if err := election.Campaign(ctx, string(data)); err != nil {
		session.Close()
		return nil, fmt.Errorf("campaign: %w", err)
	}
	e.logger.Info("won master election", "lease", session.Lease())
	return &Term{session: session}, nil
}
