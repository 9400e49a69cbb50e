package store

import "context"

// Snapshot is one version of a bucket as returned by a Backend.
type Snapshot struct {
	// Version is the backend-assigned version of Data. Versions start at 1
	// and increase by one per successful write.
	Version int

	// Data maps entry names to payloads. Payloads are expected to be strings.
	Data map[string]any
}

// Backend is a path-addressed, versioned key/value store. A bucket is read
// and written as a whole; there is no partial update.
type Backend interface {
	// Read returns the latest version of the bucket at path.
	// Returns ErrNotFound if the bucket is absent or its latest version is deleted.
	Read(ctx context.Context, path, mount string) (*Snapshot, error)

	// Write replaces the bucket contents and returns the new version.
	// If expectedVersion is non-nil the write succeeds only when it equals
	// the current version (0 means the bucket must not exist); otherwise
	// ErrVersionConflict is returned.
	Write(ctx context.Context, path string, data map[string]any, expectedVersion *int, mount string) (int, error)

	// DeleteVersions soft-deletes the given versions. Unknown or already
	// deleted versions are ignored.
	DeleteVersions(ctx context.Context, path string, versions []int, mount string) error

	// UndeleteVersions restores soft-deleted versions. Unknown or live
	// versions are ignored.
	UndeleteVersions(ctx context.Context, path string, versions []int, mount string) error
}
