package storage

import (
	"context"
	"errors"
	"testing"
)

func TestFSObjectStore_GetMissingObject(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err = store.Get(context.Background(), "podcasts/u1/1_show.mp3")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestFSObjectStore_PutGetDeletePrefix(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ctx := context.Background()

	keys := []string{"podcasts/u1/1_a.mp3", "podcasts/u1/2_b.mp3", "podcasts/u2/1_c.mp3"}
	for _, key := range keys {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	data, err := store.Get(ctx, "podcasts/u1/1_a.mp3")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(data) != "podcasts/u1/1_a.mp3" {
		t.Errorf("expected object content, got %s", data)
	}

	deleted, err := store.DeletePrefix(ctx, "podcasts/u1/")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted objects, got %d", deleted)
	}
	if _, err := store.Get(ctx, "podcasts/u2/1_c.mp3"); err != nil {
		t.Errorf("expected other owner's object kept, got %v", err)
	}

	deleted, err = store.DeletePrefix(ctx, "podcasts/u1/")
	if err != nil || deleted != 0 {
		t.Errorf("expected idempotent delete, got %d / %v", deleted, err)
	}
}

func TestFSObjectStore_KeysStayInsideRoot(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	p, err := store.resolve("../../etc/passwd")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := store.root; len(p) <= len(want) || p[:len(want)] != want {
		t.Errorf("expected path under %s, got %s", want, p)
	}
}
