// Package vault provides a store.Backend over a HashiCorp Vault KV version 2
// secrets engine. Each bucket is one secret; the secret's metadata version
// is the bucket version.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/jacentio/xmlvault/store"
)

var _ store.Backend = (*Backend)(nil)

// KV is the subset of *api.KVv2 used by Backend.
type KV interface {
	Get(ctx context.Context, secretPath string) (*api.KVSecret, error)
	Put(ctx context.Context, secretPath string, data map[string]interface{}, opts ...api.KVOption) (*api.KVSecret, error)
	DeleteVersions(ctx context.Context, secretPath string, versions []int) error
	Undelete(ctx context.Context, secretPath string, versions []int) error
}

// Backend adapts Vault KV v2 mounts to store.Backend.
type Backend struct {
	kv func(mount string) KV
}

// New creates a Backend using client. The mount passed to each operation
// selects the KV v2 engine.
func New(client *api.Client) *Backend {
	return &Backend{
		kv: func(mount string) KV { return client.KVv2(mount) },
	}
}

// NewFromToken creates a Backend for the Vault server at addr using a
// static token.
func NewFromToken(addr, token string) (*Backend, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(token)
	return New(client), nil
}

// NewWithKV creates a Backend that resolves mounts through kv.
func NewWithKV(kv func(mount string) KV) *Backend {
	return &Backend{kv: kv}
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context, path, mount string) (*store.Snapshot, error) {
	secret, err := b.kv(mount).Get(ctx, path)
	if err != nil {
		return nil, mapError(err)
	}
	// A deleted latest version comes back with metadata but no data
	if secret == nil || secret.Data == nil {
		return nil, store.ErrNotFound
	}

	snap := &store.Snapshot{Data: secret.Data}
	if secret.VersionMetadata != nil {
		snap.Version = secret.VersionMetadata.Version
	}
	return snap, nil
}

// Write implements store.Backend. An expected version is sent as the
// check-and-set parameter.
func (b *Backend) Write(ctx context.Context, path string, data map[string]any, expectedVersion *int, mount string) (int, error) {
	var opts []api.KVOption
	if expectedVersion != nil {
		opts = append(opts, api.WithOption("cas", *expectedVersion))
	}

	secret, err := b.kv(mount).Put(ctx, path, data, opts...)
	if err != nil {
		return 0, mapError(err)
	}
	if secret == nil || secret.VersionMetadata == nil {
		return 0, errors.New("vault: write returned no version metadata")
	}
	return secret.VersionMetadata.Version, nil
}

// DeleteVersions implements store.Backend.
func (b *Backend) DeleteVersions(ctx context.Context, path string, versions []int, mount string) error {
	if err := b.kv(mount).DeleteVersions(ctx, path, versions); err != nil {
		return mapError(err)
	}
	return nil
}

// UndeleteVersions implements store.Backend.
func (b *Backend) UndeleteVersions(ctx context.Context, path string, versions []int, mount string) error {
	if err := b.kv(mount).Undelete(ctx, path, versions); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError maps Vault's not-found and check-and-set failures onto store errors.
func mapError(err error) error {
	if errors.Is(err, api.ErrSecretNotFound) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %w", store.ErrNotFound, err)
		case respErr.StatusCode == http.StatusBadRequest && isCheckAndSetFailure(respErr.Errors):
			return fmt.Errorf("%w: %w", store.ErrVersionConflict, err)
		}
	}
	return err
}

func isCheckAndSetFailure(messages []string) bool {
	for _, m := range messages {
		if strings.Contains(m, "check-and-set") {
			return true
		}
	}
	return false
}
