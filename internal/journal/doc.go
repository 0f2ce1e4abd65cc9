// Package journal records freedisk operations that span both the config
// file and the freenetfs mount, so an interrupted command can be spotted
// and reconciled by hand.
//
// Database structure uses two buckets:
//   - meta: format version and creation time
//   - ops: in-flight operations, JSON encoded, keyed by a random UUID
//
// Completed operations are deleted; whatever remains in ops was
// interrupted. The database is opened with an exclusive BBolt file lock,
// which also keeps two freedisk processes from racing on the same config.
package journal
