// Package store persists XML elements in a versioned key/value bucket.
//
// All entries live in one bucket that the [Backend] reads and writes as a
// single map. Each successful write produces a new version; writes may be
// conditioned on the version previously read (optimistic locking), which is
// the only coordination between concurrent writers.
//
// # Operations
//
//   - [Repository.FetchAll] reads the latest version and parses every entry.
//   - [Repository.StoreElement] reads, sets one entry, and writes back
//     conditioned on the version read. [Repository.Put] does the same using
//     the conventional entry name.
//   - [Repository.DeleteChosen] offers every entry to a [Selector], removes
//     the chosen ones, deletes all earlier versions, and writes the reduced
//     map. A failed commit restores the deleted versions.
//
// # Entry Names
//
// Entries are named by a fixed 4-character label followed by the element's
// id attribute (see [xmlkey.FriendlyName]). DeleteChosen refuses to act on a
// bucket in which any entry violates this.
//
// # Errors
//
//   - [ErrNotFound] - bucket absent; FetchAll returns nothing, StoreElement creates it
//   - [ErrVersionConflict] - optimistic lock failed
//   - [ErrMalformedPayload] - entry is not a single XML element
//   - [ErrPayloadType] - entry is not text
//   - [ErrConsistencyViolation] - entry id does not match its name
//
// DeleteChosen reports all failures through its boolean result.
package store
