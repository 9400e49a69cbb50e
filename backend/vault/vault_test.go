package vault_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hashicorp/vault/api"

	"github.com/jacentio/xmlvault/backend/vault"
	"github.com/jacentio/xmlvault/store"
)

// fakeKV mimics KV v2 check-and-set and soft-delete behavior.
type fakeKV struct {
	current  int
	versions map[int]map[string]interface{}
	deleted  map[int]bool
	casSeen  []interface{}
	failWith error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		versions: make(map[int]map[string]interface{}),
		deleted:  make(map[int]bool),
	}
}

func (f *fakeKV) Get(ctx context.Context, path string) (*api.KVSecret, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.current == 0 {
		return nil, fmt.Errorf("%w: at kv/data/%s", api.ErrSecretNotFound, path)
	}
	meta := &api.KVVersionMetadata{Version: f.current}
	if f.deleted[f.current] {
		return &api.KVSecret{VersionMetadata: meta}, nil
	}
	return &api.KVSecret{Data: f.versions[f.current], VersionMetadata: meta}, nil
}

func (f *fakeKV) Put(ctx context.Context, path string, data map[string]interface{}, opts ...api.KVOption) (*api.KVSecret, error) {
	options := map[string]interface{}{}
	for _, opt := range opts {
		k, v := opt()
		options[k] = v
	}
	if cas, ok := options["cas"]; ok {
		f.casSeen = append(f.casSeen, cas)
		if cas.(int) != f.current {
			return nil, &api.ResponseError{
				StatusCode: http.StatusBadRequest,
				Errors:     []string{"check-and-set parameter did not match the current version"},
			}
		}
	}
	f.current++
	f.versions[f.current] = data
	return &api.KVSecret{VersionMetadata: &api.KVVersionMetadata{Version: f.current}}, nil
}

func (f *fakeKV) DeleteVersions(ctx context.Context, path string, versions []int) error {
	if f.failWith != nil {
		return f.failWith
	}
	for _, v := range versions {
		f.deleted[v] = true
	}
	return nil
}

func (f *fakeKV) Undelete(ctx context.Context, path string, versions []int) error {
	for _, v := range versions {
		delete(f.deleted, v)
	}
	return nil
}

func newBackend(kv *fakeKV) (*vault.Backend, *[]string) {
	var mounts []string
	b := vault.NewWithKV(func(mount string) vault.KV {
		mounts = append(mounts, mount)
		return kv
	})
	return b, &mounts
}

func TestRead_NotFound(t *testing.T) {
	b, _ := newBackend(newFakeKV())
	_, err := b.Read(context.Background(), "keys", "kv")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRead_DeletedLatestVersion(t *testing.T) {
	kv := newFakeKV()
	b, _ := newBackend(kv)
	if _, err := b.Write(context.Background(), "keys", map[string]any{"a": "1"}, nil, "kv"); err != nil {
		t.Fatalf("setup write: %v", err)
	}
	kv.deleted[1] = true

	_, err := b.Read(context.Background(), "keys", "kv")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteThenRead(t *testing.T) {
	kv := newFakeKV()
	b, mounts := newBackend(kv)
	ctx := context.Background()

	v, err := b.Write(ctx, "keys", map[string]any{"key-a": "<key id=\"a\"/>"}, nil, "data-protection")
	if err != nil || v != 1 {
		t.Fatalf("expected version 1, got %d (%v)", v, err)
	}
	if len(kv.casSeen) != 0 {
		t.Errorf("expected no cas option without expected version, got %v", kv.casSeen)
	}

	snap, err := b.Read(ctx, "keys", "data-protection")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 || snap.Data["key-a"] != "<key id=\"a\"/>" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	for _, m := range *mounts {
		if m != "data-protection" {
			t.Errorf("expected mount 'data-protection', got %q", m)
		}
	}
}

func TestWrite_CheckAndSetConflict(t *testing.T) {
	kv := newFakeKV()
	b, _ := newBackend(kv)
	ctx := context.Background()
	if _, err := b.Write(ctx, "keys", map[string]any{}, nil, "kv"); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	stale := 0
	_, err := b.Write(ctx, "keys", map[string]any{}, &stale, "kv")
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	current := 1
	v, err := b.Write(ctx, "keys", map[string]any{}, &current, "kv")
	if err != nil || v != 2 {
		t.Errorf("expected version 2, got %d (%v)", v, err)
	}
}

func TestDeleteAndUndelete(t *testing.T) {
	kv := newFakeKV()
	b, _ := newBackend(kv)
	ctx := context.Background()
	if _, err := b.Write(ctx, "keys", map[string]any{"a": "1"}, nil, "kv"); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	if err := b.DeleteVersions(ctx, "keys", []int{1}, "kv"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Read(ctx, "keys", "kv"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := b.UndeleteVersions(ctx, "keys", []int{1}, "kv"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Read(ctx, "keys", "kv"); err != nil {
		t.Errorf("expected restored secret, got %v", err)
	}
}

func TestErrorsPassThrough(t *testing.T) {
	kv := newFakeKV()
	b, _ := newBackend(kv)
	kv.failWith = &api.ResponseError{StatusCode: http.StatusForbidden, Errors: []string{"permission denied"}}

	_, err := b.Read(context.Background(), "keys", "kv")
	if errors.Is(err, store.ErrNotFound) || err == nil {
		t.Errorf("expected permission error, got %v", err)
	}

	err = b.DeleteVersions(context.Background(), "keys", []int{1}, "kv")
	var respErr *api.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response error, got %v", err)
	}
}

func TestRepositoryOverVault(t *testing.T) {
	b, _ := newBackend(newFakeKV())
	repo := store.New(b, store.DefaultConfig())
	ctx := context.Background()

	elements, err := repo.FetchAll(ctx)
	if err != nil || len(elements) != 0 {
		t.Fatalf("expected empty result, got %d (%v)", len(elements), err)
	}
}
