package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/errors"
)

// Adapter is a typed facade over etcd implementing the store vocabulary of
// spec.md §4.1: create/read/write/delete/deleteRecursive/exists/children
// plus the three subscribe flavours. One Adapter holds exactly one lease,
// shared by every node created with Ephemeral or EphemeralSequential mode;
// losing that lease is this adapter's session loss.
type Adapter struct {
	client   *clientv3.Client
	leaseTTL int64

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	closed  bool

	sessionMu       sync.RWMutex
	sessionHandlers []func(SessionEvent)

	logger *slog.Logger
}

// New dials etcd and grants the adapter's session lease.
func New(ctx context.Context, cfg config.StoreConfig) (*Adapter, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dialing store: %v", errors.ErrStoreUnavailable, err)
	}
	a := &Adapter{
		client:   cli,
		leaseTTL: int64(cfg.LeaseTTL.Seconds()),
		logger:   slog.Default().With("component", "store-adapter"),
	}
	if a.leaseTTL <= 0 {
		a.leaseTTL = 10
	}
	if err := a.grantLease(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	go a.keepalive()
	return a, nil
}

func (a *Adapter) grantLease(ctx context.Context) error {
	lease, err := a.client.Grant(ctx, a.leaseTTL)
	if err != nil {
		return fmt.Errorf("%w: granting session lease: %v", errors.ErrStoreUnavailable, err)
	}
	a.mu.Lock()
	a.leaseID = lease.ID
	a.mu.Unlock()
	return nil
}

func (a *Adapter) currentLease() clientv3.LeaseID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaseID
}

// keepalive owns the adapter's lease for its whole lifetime. When the
// keepalive channel closes — network partition, etcd restart, explicit
// revoke — it fires Disconnected, then loops granting a fresh lease until
// one succeeds or the adapter is closed, and fires Reconnected. It never
// recreates the ephemeral nodes that rode on the old lease; that is each
// subscriber's job, per spec.md §4.1.
func (a *Adapter) keepalive() {
	for {
		a.mu.Lock()
		closed := a.closed
		leaseID := a.leaseID
		a.mu.Unlock()
		if closed {
			return
		}

		ch, err := a.client.KeepAlive(context.Background(), leaseID)
		if err != nil {
			a.logger.Error("keepalive setup failed", "error", err)
			a.fireSession(SessionEvent{Type: Disconnected})
			a.reconnect()
			a.fireSession(SessionEvent{Type: Reconnected})
			continue
		}
		for range ch {
			// drain keepalive responses; etcd renews the lease on our behalf
		}

		a.mu.Lock()
		closed = a.closed
		a.mu.Unlock()
		if closed {
			return
		}

		a.logger.Warn("store session lost")
		a.fireSession(SessionEvent{Type: Disconnected})
		a.reconnect()
		a.fireSession(SessionEvent{Type: Reconnected})
	}
}

func (a *Adapter) reconnect() {
	for {
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return
		}
		if err := a.grantLease(context.Background()); err == nil {
			a.logger.Info("store session re-established")
			return
		}
	}
}

func (a *Adapter) fireSession(evt SessionEvent) {
	a.sessionMu.RLock()
	handlers := append([]func(SessionEvent){}, a.sessionHandlers...)
	a.sessionMu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}

// SubscribeSessionEvents registers a handler invoked twice per session-loss
// cycle: with Disconnected, then with Reconnected once a fresh lease is
// granted. It never replays past events.
func (a *Adapter) SubscribeSessionEvents(handler func(SessionEvent)) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	a.sessionHandlers = append(a.sessionHandlers, handler)
}

// Create creates a new node at path with the given mode. It fails with
// ErrAlreadyExists if a node already lives at path (EphemeralSequential is
// exempt — it always picks a fresh path). Returns the actual path written,
// which only differs from the requested path for EphemeralSequential.
func (a *Adapter) Create(ctx context.Context, path string, data []byte, mode Mode) (string, error) {
	switch mode {
	case Persistent:
		return path, a.createAt(ctx, path, data, 0)
	case Ephemeral:
		return path, a.createAt(ctx, path, data, a.currentLease())
	case EphemeralSequential:
		resp, err := a.client.Get(ctx, path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
		}
		seq := resp.Header.Revision
		for {
			candidate := path + "-" + strconv.FormatInt(seq, 10)
			err := a.createAt(ctx, candidate, data, a.currentLease())
			if err == nil {
				return candidate, nil
			}
			if !errorsIsConflict(err) {
				return "", err
			}
			seq++
		}
	default:
		return "", fmt.Errorf("%w: unknown create mode %v", errors.ErrInvalidInput, mode)
	}
}

func (a *Adapter) createAt(ctx context.Context, path string, data []byte, lease clientv3.LeaseID) error {
	var put clientv3.Op
	if lease != 0 {
		put = clientv3.OpPut(path, string(data), clientv3.WithLease(lease))
	} else {
		put = clientv3.OpPut(path, string(data))
	}
	resp, err := a.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(path), "=", 0)).
		Then(put).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", errors.ErrStoreUnavailable, path, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", errors.ErrAlreadyExists, path)
	}
	return nil
}

func errorsIsConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

// Read returns the value and mod-revision stored at path.
func (a *Adapter) Read(ctx context.Context, path string) ([]byte, int64, error) {
	resp, err := a.client.Get(ctx, path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading %s: %v", errors.ErrStoreUnavailable, path, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", errors.ErrNotFound, path)
	}
	kv := resp.Kvs[0]
	return kv.Value, kv.ModRevision, nil
}

// Write overwrites an existing node's data. It fails with ErrNotFound if
// path does not already exist; use Create to bring a node into being.
func (a *Adapter) Write(ctx context.Context, path string, data []byte) error {
	resp, err := a.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(path), ">", 0)).
		Then(clientv3.OpPut(path, string(data), clientv3.WithIgnoreLease())).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", errors.ErrStoreUnavailable, path, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", errors.ErrNotFound, path)
	}
	return nil
}

// Delete removes a single node. Deleting an absent node is not an error —
// callers that need idempotent cleanup (Worker release, Master teardown)
// rely on that.
func (a *Adapter) Delete(ctx context.Context, path string) error {
	if _, err := a.client.Delete(ctx, path); err != nil {
		return fmt.Errorf("%w: deleting %s: %v", errors.ErrStoreUnavailable, path, err)
	}
	return nil
}

// DeleteRecursive removes path and every node nested beneath it.
func (a *Adapter) DeleteRecursive(ctx context.Context, path string) error {
	if _, err := a.client.Delete(ctx, path, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("%w: deleting %s recursively: %v", errors.ErrStoreUnavailable, path, err)
	}
	return nil
}

// Exists reports whether path currently has a value.
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := a.client.Get(ctx, path, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("%w: checking %s: %v", errors.ErrStoreUnavailable, path, err)
	}
	return resp.Count > 0, nil
}

// Children returns the immediate child names of path (not full paths, not
// recursive descendants).
func (a *Adapter) Children(ctx context.Context, path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	resp, err := a.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: listing children of %s: %v", errors.ErrStoreUnavailable, path, err)
	}
	seen := make(map[string]struct{})
	var children []string
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		name := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
		}
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		children = append(children, name)
	}
	return children, nil
}

// Client exposes the underlying etcd client for components that need
// primitives the adapter's vocabulary doesn't cover — namely
// internal/master's use of concurrency.Election over a session tied to
// this same client.
func (a *Adapter) Client() *clientv3.Client {
	return a.client
}

// Close revokes the adapter's lease (dropping every ephemeral node it
// owns) and closes the underlying etcd client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	leaseID := a.leaseID
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if leaseID != 0 {
		if _, err := a.client.Revoke(ctx, leaseID); err != nil {
			a.logger.Warn("revoking session lease on close", "error", err)
		}
	}
	return a.client.Close()
}
