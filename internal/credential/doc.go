// Package credential manages the shared-secret API keys accepted by the
// command surface.
//
// Keys come from two sources:
//   - a static, comma-separated list in an environment variable
//   - a flat JSON file of named records created at runtime
//
// The file is re-read on every check, so keys added or removed by another
// process take effect without a restart. Nothing is cached.
//
// Every mutation rewrites the whole file through a temp file, fsync and
// rename, so a crash mid-write leaves the previous file intact.
//
// Raw key values are returned exactly once, from Create. Listings only ever
// carry a masked prefix.
package credential
