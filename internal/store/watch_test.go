package store

import (
	"context"
	"testing"
	"time"
)

func TestAdapter_SubscribeChildren(t *testing.T) {
	a := skipIfNoEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	base := "/test/watch-children"
	t.Cleanup(func() { a.DeleteRecursive(context.Background(), base) })

	updates := make(chan []string, 8)
	a.SubscribeChildren(ctx, base, func(children []string) {
		updates <- children
	})

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial empty snapshot")
	}

	if _, err := a.Create(context.Background(), base+"/x", []byte("1"), Persistent); err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case children := <-updates:
		found := false
		for _, c := range children {
			if c == "x" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected child %q in %v", "x", children)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for children update")
	}
}

func TestAdapter_SubscribeData(t *testing.T) {
	a := skipIfNoEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	path := "/test/watch-data"
	t.Cleanup(func() { a.Delete(context.Background(), path) })

	type update struct {
		data   []byte
		exists bool
	}
	updates := make(chan update, 8)
	a.SubscribeData(ctx, path, func(data []byte, exists bool) {
		updates <- update{data, exists}
	})

	select {
	case u := <-updates:
		if u.exists {
			t.Fatalf("expected no initial value, got %q", u.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial non-existence")
	}

	if _, err := a.Create(context.Background(), path, []byte("v1"), Persistent); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case u := <-updates:
		if !u.exists || string(u.data) != "v1" {
			t.Fatalf("expected v1, got %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for create event")
	}

	if err := a.Delete(context.Background(), path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case u := <-updates:
		if u.exists {
			t.Fatalf("expected deletion event, got %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}
