package commands

import (
	"bytes"
	"context"
	"testing"
)

// mapCache is an in-memory StatusCache for prefix tests.
type mapCache struct {
	entries map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, value []byte) error {
	c.entries[key] = value
	return nil
}

func TestPrefixedCacheSeparatesHosts(t *testing.T) {
	ctx := context.Background()
	shared := &mapCache{entries: make(map[string][]byte)}

	desk := prefixedCache{inner: shared, prefix: "desk/"}
	htpc := prefixedCache{inner: shared, prefix: "htpc/"}

	if err := desk.Put(ctx, "osimage/status", []byte("desk-status")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, _ := htpc.Get(ctx, "osimage/status"); ok {
		t.Fatal("hit for a key written by a different host")
	}

	v, ok, err := desk.Get(ctx, "osimage/status")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, want hit", ok, err)
	}
	if !bytes.Equal(v, []byte("desk-status")) {
		t.Errorf("value = %q, want desk-status", v)
	}

	if _, stored := shared.entries["desk/osimage/status"]; !stored {
		t.Error("underlying key is not host-prefixed")
	}
}
