package store

import (
	"context"
	stderrors "errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/errors"
)

// skipIfNoEtcd skips the test when no etcd cluster is reachable at the
// configured endpoints.
func skipIfNoEtcd(t *testing.T) *Adapter {
	t.Helper()
	cfg := config.StoreConfig{
		Endpoints:   strings.Split(envOrDefault("TEST_ETCD_ENDPOINTS", "localhost:2379"), ","),
		DialTimeout: 2 * time.Second,
		LeaseTTL:    5 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("skipping: etcd unavailable: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestAdapter_CreateReadWriteDelete(t *testing.T) {
	a := skipIfNoEtcd(t)
	ctx := context.Background()
	path := "/test/node-a"
	t.Cleanup(func() { a.Delete(ctx, path) })

	if _, err := a.Create(ctx, path, []byte("v1"), Persistent); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := a.Create(ctx, path, []byte("v1"), Persistent); !stderrors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on duplicate create, got %v", err)
	}

	data, _, err := a.Read(ctx, path)
	if err != nil || string(data) != "v1" {
		t.Fatalf("read: data=%q err=%v", data, err)
	}

	if err := a.Write(ctx, path, []byte("v2")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _, _ = a.Read(ctx, path)
	if string(data) != "v2" {
		t.Fatalf("expected updated value, got %q", data)
	}

	if err := a.Delete(ctx, path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := a.Read(ctx, path); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAdapter_WriteMissingFails(t *testing.T) {
	a := skipIfNoEtcd(t)
	ctx := context.Background()
	if err := a.Write(ctx, "/test/never-created", []byte("x")); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdapter_Children(t *testing.T) {
	a := skipIfNoEtcd(t)
	ctx := context.Background()
	base := "/test/parent"
	t.Cleanup(func() { a.DeleteRecursive(ctx, base) })

	for _, name := range []string{"a", "b", "c"} {
		if _, err := a.Create(ctx, base+"/"+name, []byte("1"), Persistent); err != nil {
			t.Fatalf("create child %s: %v", name, err)
		}
	}
	children, err := a.Children(ctx, base)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %v", children)
	}
}

func TestAdapter_EphemeralDisappearsOnClose(t *testing.T) {
	cfg := config.StoreConfig{
		Endpoints:   strings.Split(envOrDefault("TEST_ETCD_ENDPOINTS", "localhost:2379"), ","),
		DialTimeout: 2 * time.Second,
		LeaseTTL:    1 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	a, err := New(ctx, cfg)
	cancel()
	if err != nil {
		t.Skipf("skipping: etcd unavailable: %v", err)
	}

	path := "/test/ephemeral-node"
	bg := context.Background()
	if _, err := a.Create(bg, path, []byte("alive"), Ephemeral); err != nil {
		t.Fatalf("create ephemeral: %v", err)
	}
	a.Close()

	checker := skipIfNoEtcd(t)
	time.Sleep(3 * time.Second)
	exists, err := checker.Exists(bg, path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("expected ephemeral node to be gone after lease revoke")
	}
}

func TestAdapter_EphemeralSequential(t *testing.T) {
	a := skipIfNoEtcd(t)
	ctx := context.Background()
	base := "/test/seq"
	t.Cleanup(func() { a.DeleteRecursive(ctx, base) })

	first, err := a.Create(ctx, base, []byte("1"), EphemeralSequential)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := a.Create(ctx, base, []byte("2"), EphemeralSequential)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct sequential paths, got %q twice", first)
	}
}
