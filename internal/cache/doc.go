// Package cache defines the disk-backed byte storage that content resolution
// writes into. Callers address entries by the physical path produced by
// pathgen (StoragePath/<physical path>). Writes go through a temp file +
// rename under a per-path lock, so readers never observe a half-written
// artifact; IsWriteLocked exposes the in-flight state for callers that prefer
// to retry rather than wait. WriteHook lets higher layers (the digester) observe
// the byte stream and be notified at write completion without a second read.
package cache
