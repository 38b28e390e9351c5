package blob

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	info, err := m.Put(ctx, "builds/1/out", strings.NewReader("payload"), PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 {
		t.Fatalf("size = %d", info.Size)
	}
	if _, err := m.Put(ctx, "builds/1/out", strings.NewReader("again"), PutOptions{}); err == nil {
		t.Fatal("put must fail on existing key")
	}

	got, rc, err := m.Get(ctx, "builds/1/out")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "payload" || got.ContentType != "application/octet-stream" {
		t.Fatalf("got %q %+v", data, got)
	}

	if _, _, err := m.Get(ctx, "absent"); err == nil {
		t.Fatal("get on absent key must fail")
	}
}

func TestMemoryDeleteAndList(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, key := range []string{"a/2", "a/1", "b/1"} {
		if _, err := m.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := m.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/1" || infos[1].Key != "a/2" {
		t.Fatalf("infos = %+v", infos)
	}

	ok, err := m.Delete(ctx, "a/1")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	ok, err = m.Delete(ctx, "a/1")
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v", ok, err)
	}
}
