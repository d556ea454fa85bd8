package store

import (
	"context"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// SubscribeChildren watches path's immediate children and invokes handler
// with the full, current child list after every change. etcd watches are
// already multi-fire and never close on their own, so — unlike the
// one-shot watches the spec is modeled on — no explicit re-subscribe step
// is needed inside the callback; this loop simply keeps forwarding events
// for as long as ctx is alive.
func (a *Adapter) SubscribeChildren(ctx context.Context, path string, handler func(children []string)) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	go func() {
		if children, err := a.Children(ctx, path); err == nil {
			handler(children)
		}
		watchCh := a.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for resp := range watchCh {
			if resp.Err() != nil {
				a.logger.Warn("children watch error", "path", path, "error", resp.Err())
				continue
			}
			if len(resp.Events) == 0 {
				continue
			}
			children, err := a.Children(ctx, path)
			if err != nil {
				a.logger.Warn("re-listing children after watch event", "path", path, "error", err)
				continue
			}
			handler(children)
		}
	}()
}

// SubscribeData watches a single node's value and invokes handler on every
// change, passing exists=false when the node is deleted.
func (a *Adapter) SubscribeData(ctx context.Context, path string, handler func(data []byte, exists bool)) {
	go func() {
		if data, _, err := a.Read(ctx, path); err == nil {
			handler(data, true)
		} else {
			handler(nil, false)
		}
		watchCh := a.client.Watch(ctx, path)
		for resp := range watchCh {
			if resp.Err() != nil {
				a.logger.Warn("data watch error", "path", path, "error", resp.Err())
				continue
			}
			for _, ev := range resp.Events {
				switch ev.Type {
				case clientv3.EventTypeDelete:
					handler(nil, false)
				default:
					handler(ev.Kv.Value, true)
				}
			}
		}
	}()
}
