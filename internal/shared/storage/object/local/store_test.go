package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"contract-backend/internal/shared/storage/object"
)

func TestSaveOpenDelete(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	blob, err := store.Save(ctx, "acc-1", "Hợp đồng.txt", strings.NewReader("điều khoản thanh toán"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if blob.Size != int64(len("điều khoản thanh toán")) {
		t.Fatalf("unexpected size %d", blob.Size)
	}
	if !strings.HasPrefix(blob.MimeType, "text/plain") {
		t.Fatalf("expected text/plain, got %q", blob.MimeType)
	}
	if !strings.HasSuffix(blob.Key, "_Hợp đồng.txt") {
		t.Fatalf("unexpected key %q", blob.Key)
	}

	data, err := object.ReadAll(ctx, store, blob.Key, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "điều khoản thanh toán" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Delete(ctx, blob.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, blob.Key); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, blob.Key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Open(context.Background(), "../secret"); err == nil {
		t.Fatalf("expected traversal rejection")
	}
}

func TestReadAllEnforcesLimit(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	blob, err := store.Save(ctx, "acc-1", "big.txt", strings.NewReader(strings.Repeat("x", 64)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := object.ReadAll(ctx, store, blob.Key, 10); err == nil {
		t.Fatalf("expected limit error")
	}
}

func TestSaveHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(t.TempDir()).Save(ctx, "acc-1", "a.txt", io.LimitReader(strings.NewReader("x"), 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
