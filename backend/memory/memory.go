// Package memory provides an in-process store.Backend with key/value
// version semantics: versions start at 1, deleting versions never lowers the
// current version, and reading a bucket whose latest version is deleted
// reports store.ErrNotFound.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/jacentio/xmlvault/store"
)

var _ store.Backend = (*Backend)(nil)

type bucketKey struct {
	mount string
	path  string
}

type version struct {
	data    map[string]any
	deleted bool
}

type bucket struct {
	current  int
	versions map[int]*version
}

// Backend is a concurrency-safe in-memory versioned store.
type Backend struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{buckets: make(map[bucketKey]*bucket)}
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context, path, mount string) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[bucketKey{mount, path}]
	if !ok || bk.current == 0 {
		return nil, store.ErrNotFound
	}
	v := bk.versions[bk.current]
	if v == nil || v.deleted {
		return nil, store.ErrNotFound
	}
	return &store.Snapshot{Version: bk.current, Data: maps.Clone(v.data)}, nil
}

// Write implements store.Backend.
func (b *Backend) Write(ctx context.Context, path string, data map[string]any, expectedVersion *int, mount string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := bucketKey{mount, path}
	bk, ok := b.buckets[key]
	current := 0
	if ok {
		current = bk.current
	}
	if expectedVersion != nil && *expectedVersion != current {
		return 0, store.ErrVersionConflict
	}
	if !ok {
		bk = &bucket{versions: make(map[int]*version)}
		b.buckets[key] = bk
	}

	bk.current++
	bk.versions[bk.current] = &version{data: maps.Clone(data)}
	return bk.current, nil
}

// DeleteVersions implements store.Backend.
func (b *Backend) DeleteVersions(ctx context.Context, path string, versions []int, mount string) error {
	return b.setDeleted(ctx, path, versions, mount, true)
}

// UndeleteVersions implements store.Backend.
func (b *Backend) UndeleteVersions(ctx context.Context, path string, versions []int, mount string) error {
	return b.setDeleted(ctx, path, versions, mount, false)
}

func (b *Backend) setDeleted(ctx context.Context, path string, versions []int, mount string, deleted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[bucketKey{mount, path}]
	if !ok {
		return nil
	}
	for _, n := range versions {
		if v, ok := bk.versions[n]; ok {
			v.deleted = deleted
		}
	}
	return nil
}

// Metadata reports the current version of a bucket and which of its
// versions are deleted, ascending. It reports false if the bucket was never
// written.
func (b *Backend) Metadata(path, mount string) (current int, deleted []int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[bucketKey{mount, path}]
	if !ok {
		return 0, nil, false
	}
	for n, v := range bk.versions {
		if v.deleted {
			deleted = append(deleted, n)
		}
	}
	slices.Sort(deleted)
	return bk.current, deleted, true
}

// Destroy removes a bucket and all of its versions.
func (b *Backend) Destroy(path, mount string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, bucketKey{mount, path})
}
